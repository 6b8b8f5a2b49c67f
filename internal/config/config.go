// Package config provides configuration loading for the bridge.
//
// The configuration file lives at {dataDir}/config.toml. Older installs carry a
// config.yml with dashed keys (backend.websocket-url and friends); that file is
// still read when no TOML file exists. CLI flags always take precedence over
// file values.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	apperrors "github.com/trybeacon/bridge/internal/errors"
)

// Config represents the bridge configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	Backend     BackendConfig     `toml:"backend"`
	Auth        AuthConfig        `toml:"auth"`
	Files       FilesConfig       `toml:"files"`
	Permissions PermissionsConfig `toml:"permissions"`
	Storage     StorageConfig     `toml:"storage"`
	Log         LogConfig         `toml:"log"`
	Console     ConsoleConfig     `toml:"console"`
}

// BackendConfig controls the connection to the control-plane backend and the
// optional embedded backend process.
type BackendConfig struct {
	// WebSocketURL is the backend endpoint.
	// Default: ws://localhost:8080/ws
	WebSocketURL string `toml:"websocket_url"`

	// Port is used when WebSocketURL is empty: the endpoint becomes
	// ws://localhost:{port}/ws. It is also the --port passed to the embedded
	// backend.
	Port int `toml:"port"`

	// PublicURL is the externally reachable panel address used for login links.
	// Default: http://localhost:8080
	PublicURL string `toml:"public_url"`

	// Embedded stages and spawns the bundled backend binary on enable.
	// Default: true
	Embedded bool `toml:"embedded"`

	// BundleDir holds the beacon-backend-{os}-{arch} binaries to stage.
	// Default: {dataDir}/bundle
	BundleDir string `toml:"bundle_dir"`

	// UsePTY attaches the backend to a pseudo-terminal instead of pipes.
	// Unix only. Default: false
	UsePTY bool `toml:"use_pty"`
}

// AuthConfig controls panel login tokens.
type AuthConfig struct {
	// TokenExpirationSeconds is how long a panel token stays valid.
	// Default: 300, minimum 30.
	TokenExpirationSeconds int `toml:"token_expiration_seconds"`
}

// FilesConfig controls the file manager.
type FilesConfig struct {
	// ReadCapBytes is the largest file read_text will load.
	// Default: 8 MiB
	ReadCapBytes int64 `toml:"read_cap_bytes"`
}

// PermissionsConfig controls the built-in permission provider.
type PermissionsConfig struct {
	// PolicyFile is a casbin CSV policy. Empty keeps policies in memory only.
	PolicyFile string `toml:"policy_file"`

	// Roles grant nodes to groups of players, keyed by role name:
	//
	//	[permissions.roles.moderator]
	//	nodes = ["beacon.access.players.*", "beacon.access.console.view"]
	//	members = ["069a79f4-44e9-4726-a5be-fca90e38aaf5", "Alex"]
	Roles map[string]RoleConfig `toml:"roles"`
}

// RoleConfig is one configured role. Members are player UUIDs or names.
type RoleConfig struct {
	Nodes   []string `toml:"nodes"`
	Members []string `toml:"members"`
}

// StorageConfig controls the local SQLite store.
type StorageConfig struct {
	// Path is the SQLite database file.
	// Default: {dataDir}/beacon.db
	Path string `toml:"path"`
}

// LogConfig controls the host logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `toml:"level"`

	// File additionally writes logs to this path when set.
	File string `toml:"file"`
}

// ConsoleConfig controls remote console commands.
type ConsoleConfig struct {
	// CommandsPerSecond limits console_command events. Default: 5
	CommandsPerSecond float64 `toml:"commands_per_second"`

	// Burst is the limiter burst size. Default: 10
	Burst int `toml:"burst"`
}

// legacyConfig mirrors the original config.yml layout.
type legacyConfig struct {
	Backend struct {
		WebSocketURL string `yaml:"websocket-url"`
		PublicURL    string `yaml:"public-url"`
		Port         int    `yaml:"port"`
	} `yaml:"backend"`
	Auth struct {
		TokenExpirationSeconds *int `yaml:"token-expiration-seconds"`
	} `yaml:"auth"`
}

// Default returns a Config populated with every default value.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			WebSocketURL: DefaultWebSocketURL,
			PublicURL:    DefaultPublicURL,
			Embedded:     true,
		},
		Auth: AuthConfig{
			TokenExpirationSeconds: DefaultTokenExpirationSeconds,
		},
		Files: FilesConfig{
			ReadCapBytes: DefaultReadCapBytes,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
		Console: ConsoleConfig{
			CommandsPerSecond: DefaultCommandsPerSecond,
			Burst:             DefaultCommandBurst,
		},
	}
}

// Load reads a config file from the given path.
//
// Behavior:
//   - If path is empty, returns Default().
//   - If path is specified, returns an error if the file doesn't exist.
//   - Files ending in .yml or .yaml are read with the legacy layout; anything
//     else is parsed as TOML.
//   - Keys missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, apperrors.New(apperrors.CodeConfigInvalid, fmt.Sprintf("config file not found: %s", path))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		if err := loadLegacy(path, cfg); err != nil {
			return nil, err
		}
	default:
		// Decoding into a pre-populated struct leaves absent keys untouched.
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeConfigInvalid,
				fmt.Sprintf("failed to parse config file %s", path), err)
		}
	}

	cfg.Normalize()
	return cfg, nil
}

// LoadDir loads the config for a data directory: config.toml if present,
// otherwise a legacy config.yml, otherwise defaults. The returned path is the
// file that was read, or empty when defaults were used.
func LoadDir(dataDir string) (*Config, string, error) {
	for _, name := range []string{FileName, LegacyFileName} {
		path := filepath.Join(dataDir, name)
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	cfg := Default()
	cfg.Normalize()
	return cfg, "", nil
}

func loadLegacy(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeConfigInvalid, fmt.Sprintf("failed to read config file %s", path), err)
	}

	var legacy legacyConfig
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		return apperrors.Wrap(apperrors.CodeConfigInvalid, fmt.Sprintf("failed to parse config file %s", path), err)
	}

	if legacy.Backend.WebSocketURL != "" {
		cfg.Backend.WebSocketURL = legacy.Backend.WebSocketURL
	}
	if legacy.Backend.PublicURL != "" {
		cfg.Backend.PublicURL = legacy.Backend.PublicURL
	}
	if legacy.Backend.Port != 0 {
		cfg.Backend.Port = legacy.Backend.Port
		if legacy.Backend.WebSocketURL == "" {
			cfg.Backend.WebSocketURL = ""
		}
	}
	if legacy.Auth.TokenExpirationSeconds != nil {
		cfg.Auth.TokenExpirationSeconds = *legacy.Auth.TokenExpirationSeconds
	}
	return nil
}

// Normalize fills derived values and clamps out-of-range settings.
// It is safe to call more than once.
func (c *Config) Normalize() {
	// An absent key already holds the default; anything configured below the
	// minimum, zero and negatives included, is raised to it.
	if c.Auth.TokenExpirationSeconds < MinTokenExpirationSeconds {
		c.Auth.TokenExpirationSeconds = MinTokenExpirationSeconds
	}

	// A bare port wins over the default URL, never over an explicit one.
	if c.Backend.Port > 0 && (c.Backend.WebSocketURL == "" || c.Backend.WebSocketURL == DefaultWebSocketURL) {
		c.Backend.WebSocketURL = fmt.Sprintf("ws://localhost:%d/ws", c.Backend.Port)
	}
	if c.Backend.WebSocketURL == "" {
		c.Backend.WebSocketURL = DefaultWebSocketURL
	}
	if c.Backend.PublicURL == "" {
		c.Backend.PublicURL = DefaultPublicURL
	}
	if c.Files.ReadCapBytes <= 0 {
		c.Files.ReadCapBytes = DefaultReadCapBytes
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Console.CommandsPerSecond <= 0 {
		c.Console.CommandsPerSecond = DefaultCommandsPerSecond
	}
	if c.Console.Burst <= 0 {
		c.Console.Burst = DefaultCommandBurst
	}
}

// TokenExpiry returns the panel token lifetime.
func (c *Config) TokenExpiry() time.Duration {
	return time.Duration(c.Auth.TokenExpirationSeconds) * time.Second
}

// ListenPort returns the port the embedded backend should listen on.
// Explicit Port wins; otherwise it is taken from the websocket URL.
func (c *Config) ListenPort() int {
	if c.Backend.Port > 0 {
		return c.Backend.Port
	}
	u, err := url.Parse(c.Backend.WebSocketURL)
	if err == nil {
		if _, portStr, err := net.SplitHostPort(u.Host); err == nil {
			if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
				return port
			}
		}
	}
	return DefaultPort
}

// PanelLink builds the login link for a panel token.
func (c *Config) PanelLink(token string) string {
	base := strings.TrimRight(c.Backend.PublicURL, "/")
	return base + "/auth?token=" + url.QueryEscape(token)
}

// WriteDefault creates a config file with defaults at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# Beacon bridge configuration

[backend]
websocket_url = %q
public_url = %q
embedded = true

[auth]
token_expiration_seconds = %d

[log]
level = %q
`, DefaultWebSocketURL, DefaultPublicURL, DefaultTokenExpirationSeconds, DefaultLogLevel)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
