package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/trybeacon/bridge/internal/bridge"
	"github.com/trybeacon/bridge/internal/config"
	"github.com/trybeacon/bridge/internal/host"
)

// settings are the flags shared by every command that reads the config.
type settings struct {
	configPath string
	serverRoot string
	dataDir    string
	port       int
	wsURL      string
	logLevel   string
}

func (s *settings) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&s.configPath, "config", "", "Config file (default {data-dir}/config.toml)")
	f.StringVar(&s.serverRoot, "server-root", ".", "Server install directory; the file manager root")
	f.StringVar(&s.dataDir, "data-dir", "", "Bridge data directory (default {server-root}/plugins/Beacon)")
	f.IntVar(&s.port, "port", 0, "Backend port; sets the endpoint to ws://localhost:{port}/ws")
	f.StringVar(&s.wsURL, "ws-url", "", "Backend websocket endpoint")
	f.StringVar(&s.logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// layout resolves the install layout from the flags.
func (s *settings) layout() (host.Layout, error) {
	root, err := filepath.Abs(s.serverRoot)
	if err != nil {
		return host.Layout{}, err
	}
	plugins := filepath.Join(root, "plugins")
	data := s.dataDir
	if data == "" {
		data = filepath.Join(plugins, "Beacon")
	} else if data, err = filepath.Abs(data); err != nil {
		return host.Layout{}, err
	}
	return host.Layout{ServerRoot: root, PluginsDir: filepath.Dir(data), DataDir: data}, nil
}

// load reads the config and applies flag overrides. The returned path is the
// file that was read, empty when running on defaults.
func (s *settings) load(layout host.Layout) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if s.configPath != "" {
		cfg, err = config.Load(s.configPath)
		path = s.configPath
	} else {
		cfg, path, err = config.LoadDir(layout.DataDir)
	}
	if err != nil {
		return nil, "", err
	}

	if s.port > 0 {
		cfg.Backend.Port = s.port
		if s.wsURL == "" {
			cfg.Backend.WebSocketURL = ""
		}
	}
	if s.wsURL != "" {
		cfg.Backend.WebSocketURL = s.wsURL
	}
	if s.logLevel != "" {
		cfg.Log.Level = s.logLevel
	}
	cfg.Normalize()
	return cfg, path, nil
}

// storagePath resolves the configured database path against the data
// directory.
func storagePath(configured, dataDir string) string {
	if configured == "" {
		configured = bridge.DatabaseFile
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(dataDir, configured)
}
