// Package host defines what the bridge needs from the game server it is
// embedded in, and a standalone implementation used by the beacon CLI and
// tests.
//
// Every Host method must be called on the host thread, that is from a closure
// run by the hostloop.Loop driving the server. The bridge never calls a Host
// from its own goroutines.
package host

// Layout is the on-disk install layout of the host.
type Layout struct {
	// DataDir is the bridge's own data directory (config, staged backend,
	// database).
	DataDir string
	// PluginsDir is the directory holding DataDir.
	PluginsDir string
	// ServerRoot is the server install directory and the file manager root.
	ServerRoot string
}

// PlayerInfo describes an online player.
type PlayerInfo struct {
	Name      string
	UUID      string
	Ping      int
	FirstJoin int64 // unix millis
	Playtime  int   // ticks
	World     string
}

// ServerStats is a point-in-time server snapshot.
type ServerStats struct {
	Players          int
	MaxPlayers       int
	TPS              float64
	RAMUsedMB        int64
	RAMMaxMB         int64
	PlayerList       []PlayerInfo
	DefaultGamerules map[string]string
}

// WorldInfo describes a world. Worlds that exist on disk but are not loaded
// report only Name, Environment "UNKNOWN" and "N/A" for difficulty and seed.
type WorldInfo struct {
	Name        string
	Environment string
	Loaded      bool
	Players     int
	Chunks      int
	Entities    int
	Time        int64
	Storming    bool
	Difficulty  string
	Seed        string
	Gamerules   map[string]string
}

// ServerEnv identifies the server software.
type ServerEnv struct {
	Software   string
	Version    string
	OnlineMode bool
}

// WorldAction is a change requested for one world.
type WorldAction struct {
	Action string
	World  string
	Rule   string
	Value  string
}

// Host is the game server capability consumed by the bridge.
type Host interface {
	DispatchCommand(command string) error
	TabComplete(buffer string) []string
	WorldAction(action WorldAction) error
	Stats() ServerStats
	Worlds() []WorldInfo
	Env() ServerEnv
	Player(uuid string) (PlayerInfo, bool)
	// PlayerHas checks a live permission of an online player. online is
	// false when the player is not connected, in which case has is
	// meaningless.
	PlayerHas(uuid, node string) (has, online bool)
	Layout() Layout
}

// Times used by world actions.
const (
	DayTime   = 1000
	NightTime = 13000
)

// Placeholders reported for worlds that are not loaded.
const (
	UnknownEnvironment = "UNKNOWN"
	NotAvailable       = "N/A"
)
