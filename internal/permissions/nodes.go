package permissions

// Panel permission nodes understood by the backend.
const (
	NodeAccessAll       = "beacon.access.*"
	NodeDashboardView   = "beacon.access.dashboard.view"
	NodeConsoleView     = "beacon.access.console.view"
	NodeConsoleUse      = "beacon.access.console.use"
	NodePlayersView     = "beacon.access.players.view"
	NodePlayersKick     = "beacon.access.players.kick"
	NodePlayersBan      = "beacon.access.players.ban"
	NodeWorldsView      = "beacon.access.worlds.view"
	NodeWorldsManage    = "beacon.access.worlds.manage"
	NodeWorldsReset     = "beacon.access.worlds.reset"
	NodeWorldsGamerules = "beacon.access.worlds.gamerules"
	NodeServerStop      = "beacon.access.stop"
	NodeServerRestart   = "beacon.access.restart"
	NodeServerSaveAll   = "beacon.access.saveall"
	NodeFilesView       = "beacon.access.files.view"
	NodeFilesEdit       = "beacon.access.files.edit"
	NodeFilesDelete     = "beacon.access.files.delete"
	NodeFilesDownload   = "beacon.access.files.download"
	NodeAccessView      = "beacon.access.access"
	NodeAccessManage    = "beacon.access.access.manage"
)

// PanelNodes is every node reported in a player's effective permission list.
var PanelNodes = []string{
	NodeAccessAll,
	NodeDashboardView,
	NodeConsoleView,
	NodeConsoleUse,
	NodePlayersView,
	NodePlayersKick,
	NodePlayersBan,
	NodeWorldsView,
	NodeWorldsManage,
	NodeWorldsReset,
	NodeWorldsGamerules,
	NodeServerStop,
	NodeServerRestart,
	NodeServerSaveAll,
	NodeFilesView,
	NodeFilesEdit,
	NodeFilesDelete,
	NodeFilesDownload,
	NodeAccessView,
	NodeAccessManage,
}
