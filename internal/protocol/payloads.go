package protocol

// ConsoleLogPayload is one host log line.
type ConsoleLogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// PlayerPayload describes an online player in ServerStatsPayload.
type PlayerPayload struct {
	Name      string `json:"name"`
	UUID      string `json:"uuid"`
	Ping      int    `json:"ping"`
	FirstJoin int64  `json:"first_join"`
	Playtime  int    `json:"playtime"`
	World     string `json:"world"`
}

// ServerStatsPayload is the periodic server snapshot. TPS is preformatted
// with two decimals; memory figures are MiB.
type ServerStatsPayload struct {
	Players          int               `json:"players"`
	MaxPlayers       int               `json:"max_players"`
	TPS              string            `json:"tps"`
	RAMUsed          int64             `json:"ram_used"`
	RAMMax           int64             `json:"ram_max"`
	PlayerList       []PlayerPayload   `json:"player_list"`
	DefaultGamerules map[string]string `json:"default_gamerules"`
}

// WorldPayload describes one world, loaded or not. Unloaded worlds carry
// only name, loaded, environment, difficulty, seed and an empty gamerule set.
type WorldPayload struct {
	Name        string            `json:"name"`
	Environment string            `json:"environment"`
	Loaded      bool              `json:"loaded"`
	Players     int               `json:"players,omitempty"`
	Chunks      int               `json:"chunks,omitempty"`
	Entities    int               `json:"entities,omitempty"`
	Time        int64             `json:"time,omitempty"`
	Storming    bool              `json:"storming,omitempty"`
	Difficulty  string            `json:"difficulty"`
	Seed        string            `json:"seed"`
	Gamerules   map[string]string `json:"gamerules"`
}

// ServerEnvPayload describes the host process.
type ServerEnvPayload struct {
	Software      string `json:"software"`
	Version       string `json:"version"`
	BridgeVersion string `json:"bridge_version"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	Runtime       string `json:"runtime"`
	CPUs          int    `json:"cpus"`
	ServerRoot    string `json:"server_root"`
	OnlineMode    bool   `json:"online_mode"`
}

// PluginPathsPayload tells the backend where the bridge data directory is.
type PluginPathsPayload struct {
	PluginDataDir string `json:"plugin_data_dir"`
}

// TabCompleteRequest is the payload of console_tab_complete.
type TabCompleteRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Buffer    string `json:"buffer"`
}

// TabCompleteResultPayload answers a tab completion.
type TabCompleteResultPayload struct {
	RequestID   string   `json:"request_id,omitempty"`
	Buffer      string   `json:"buffer"`
	Suggestions []string `json:"suggestions"`
}

// WorldActionRequest is the payload of world_action. Rule and Value are only
// used by set_gamerule.
type WorldActionRequest struct {
	Action string `json:"action"`
	World  string `json:"world"`
	Rule   string `json:"rule,omitempty"`
	Value  string `json:"value,omitempty"`
}

// FileManagerRequest is the payload of file_manager_request.
type FileManagerRequest struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	Path      string `json:"path"`
	Content   string `json:"content,omitempty"`
}

// FileManagerResponsePayload answers a file manager request.
type FileManagerResponsePayload struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// PlayerPermissionsRequest is the payload of player_permissions_request.
type PlayerPermissionsRequest struct {
	RequestID  string `json:"request_id"`
	PlayerUUID string `json:"player_uuid"`
}

// PlayerPermissionsResponsePayload lists the panel permissions a player holds.
type PlayerPermissionsResponsePayload struct {
	RequestID   string   `json:"request_id"`
	PlayerUUID  string   `json:"player_uuid"`
	Online      bool     `json:"online"`
	Permissions []string `json:"permissions"`
	Error       string   `json:"error,omitempty"`
}

// PermissionAdminRequest is the payload of permission_admin_request.
// Snapshot reads PermissionNodes; set writes PermissionNode to Enabled.
type PermissionAdminRequest struct {
	RequestID       string   `json:"request_id"`
	Action          string   `json:"action"`
	PlayerUUID      string   `json:"player_uuid"`
	PlayerName      string   `json:"player_name"`
	PermissionNodes []string `json:"permission_nodes,omitempty"`
	PermissionNode  string   `json:"permission_node,omitempty"`
	Enabled         bool     `json:"enabled"`
}

// PermissionAdminResponsePayload answers a permission admin request.
type PermissionAdminResponsePayload struct {
	RequestID   string          `json:"request_id"`
	Action      string          `json:"action"`
	PlayerUUID  string          `json:"player_uuid"`
	OK          bool            `json:"ok"`
	Error       string          `json:"error,omitempty"`
	Permissions map[string]bool `json:"permissions"`
}

// AuthTokenIssuedPayload hands the backend a panel login token.
type AuthTokenIssuedPayload struct {
	Token         string   `json:"token"`
	PlayerUUID    string   `json:"player_uuid"`
	PlayerName    string   `json:"player_name"`
	ExpiresAtUnix int64    `json:"expires_at_unix"`
	Permissions   []string `json:"permissions"`
}

// NewConsoleLogMessage creates a console_log message.
func NewConsoleLogMessage(level, line string) Message {
	return NewMessage(EventConsoleLog, ConsoleLogPayload{Level: level, Message: line})
}

// NewServerStatsMessage creates a server_stats message.
func NewServerStatsMessage(stats ServerStatsPayload) Message {
	if stats.PlayerList == nil {
		stats.PlayerList = []PlayerPayload{}
	}
	if stats.DefaultGamerules == nil {
		stats.DefaultGamerules = map[string]string{}
	}
	return NewMessage(EventServerStats, stats)
}

// NewWorldStatsMessage creates a world_stats message. The payload is a bare
// array.
func NewWorldStatsMessage(worlds []WorldPayload) Message {
	if worlds == nil {
		worlds = []WorldPayload{}
	}
	for i := range worlds {
		if worlds[i].Gamerules == nil {
			worlds[i].Gamerules = map[string]string{}
		}
	}
	return NewMessage(EventWorldStats, worlds)
}

// NewServerEnvMessage creates a server_env message.
func NewServerEnvMessage(env ServerEnvPayload) Message {
	return NewMessage(EventServerEnv, env)
}

// NewPluginPathsMessage creates a plugin_paths message.
func NewPluginPathsMessage(dataDir string) Message {
	return NewMessage(EventPluginPaths, PluginPathsPayload{PluginDataDir: dataDir})
}

// NewTabCompleteResultMessage answers a tab completion.
func NewTabCompleteResultMessage(requestID, buffer string, suggestions []string) Message {
	if suggestions == nil {
		suggestions = []string{}
	}
	return NewResponse(EventConsoleTabCompleteResult, requestID, TabCompleteResultPayload{
		RequestID:   requestID,
		Buffer:      buffer,
		Suggestions: suggestions,
	})
}

// NewFileManagerResponseMessage answers a file manager request.
func NewFileManagerResponseMessage(p FileManagerResponsePayload) Message {
	return NewResponse(EventFileManagerResponse, p.RequestID, p)
}

// NewPlayerPermissionsResponseMessage answers a player permissions request.
func NewPlayerPermissionsResponseMessage(p PlayerPermissionsResponsePayload) Message {
	if p.Permissions == nil {
		p.Permissions = []string{}
	}
	return NewResponse(EventPlayerPermissionsResponse, p.RequestID, p)
}

// NewPermissionAdminResponseMessage answers a permission admin request.
func NewPermissionAdminResponseMessage(p PermissionAdminResponsePayload) Message {
	if p.Permissions == nil {
		p.Permissions = map[string]bool{}
	}
	return NewResponse(EventPermissionAdminResponse, p.RequestID, p)
}

// NewAuthTokenIssuedMessage creates an auth_token_issued message.
func NewAuthTokenIssuedMessage(p AuthTokenIssuedPayload) Message {
	if p.Permissions == nil {
		p.Permissions = []string{}
	}
	return NewMessage(EventAuthTokenIssued, p)
}
