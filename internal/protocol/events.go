package protocol

// Event names exchanged with the backend. Inbound events arrive from the
// backend, outbound events are produced by the bridge.
const (
	// EventConsoleLog streams one host log line.
	// Payload: ConsoleLogPayload
	EventConsoleLog = "console_log"

	// EventServerStats carries the periodic server snapshot.
	// Payload: ServerStatsPayload
	EventServerStats = "server_stats"

	// EventWorldStats carries the periodic world list.
	// Payload: []WorldPayload
	EventWorldStats = "world_stats"

	// EventServerEnv describes the host once per connection.
	// Payload: ServerEnvPayload
	EventServerEnv = "server_env"

	// EventPluginPaths tells the backend where the bridge keeps its data.
	// Payload: PluginPathsPayload
	EventPluginPaths = "plugin_paths"

	// EventConsoleCommand asks the host to run a console command. The
	// command travels in the envelope's top-level command field.
	EventConsoleCommand = "console_command"

	// EventConsoleTabComplete asks for completions of a partial command.
	// Payload: TabCompleteRequest
	EventConsoleTabComplete = "console_tab_complete"

	// EventConsoleTabCompleteResult answers EventConsoleTabComplete.
	// Payload: TabCompleteResultPayload
	EventConsoleTabCompleteResult = "console_tab_complete_result"

	// EventWorldAction changes a world (time, weather, gamerules, loading).
	// Payload: WorldActionRequest
	EventWorldAction = "world_action"

	// EventFileManagerRequest runs one file manager action.
	// Payload: FileManagerRequest
	EventFileManagerRequest = "file_manager_request"

	// EventFileManagerResponse answers EventFileManagerRequest.
	// Payload: FileManagerResponsePayload
	EventFileManagerResponse = "file_manager_response"

	// EventPlayerPermissionsRequest asks which panel permissions a player holds.
	// Payload: PlayerPermissionsRequest
	EventPlayerPermissionsRequest = "player_permissions_request"

	// EventPlayerPermissionsResponse answers EventPlayerPermissionsRequest.
	// Payload: PlayerPermissionsResponsePayload
	EventPlayerPermissionsResponse = "player_permissions_response"

	// EventPermissionAdminRequest reads or changes a player's permission nodes.
	// Payload: PermissionAdminRequest
	EventPermissionAdminRequest = "permission_admin_request"

	// EventPermissionAdminResponse answers EventPermissionAdminRequest.
	// Payload: PermissionAdminResponsePayload
	EventPermissionAdminResponse = "permission_admin_response"

	// EventAuthTokenIssued hands the backend a freshly issued panel login token.
	// Payload: AuthTokenIssuedPayload
	EventAuthTokenIssued = "auth_token_issued"
)

// World actions accepted in WorldActionRequest.Action.
const (
	WorldActionSetDay        = "set_day"
	WorldActionSetNight      = "set_night"
	WorldActionToggleWeather = "toggle_weather"
	WorldActionSetGamerule   = "set_gamerule"
	WorldActionLoad          = "load"
	WorldActionUnload        = "unload"
	WorldActionReset         = "reset"
)

// Permission admin actions.
const (
	PermissionActionSnapshot = "snapshot"
	PermissionActionSet      = "set"
)
