package config

// FileName is the config file inside the data directory.
const FileName = "config.toml"

// LegacyFileName is read when FileName is absent.
const LegacyFileName = "config.yml"

// DefaultWebSocketURL is the backend endpoint when nothing is configured.
const DefaultWebSocketURL = "ws://localhost:8080/ws"

// DefaultPublicURL is the panel base URL used in login links.
const DefaultPublicURL = "http://localhost:8080"

// DefaultPort is the embedded backend listen port.
const DefaultPort = 8080

const (
	DefaultTokenExpirationSeconds = 300
	MinTokenExpirationSeconds     = 30
)

// DefaultReadCapBytes bounds read_text.
const DefaultReadCapBytes int64 = 8 << 20

// DefaultLogLevel for the host logger.
const DefaultLogLevel = "info"

const (
	DefaultCommandsPerSecond = 5
	DefaultCommandBurst      = 10
)
