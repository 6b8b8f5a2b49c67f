package bridge

import (
	"context"
	"strings"

	"golang.org/x/time/rate"

	"github.com/trybeacon/bridge/internal/dispatch"
	apperrors "github.com/trybeacon/bridge/internal/errors"
	"github.com/trybeacon/bridge/internal/files"
	"github.com/trybeacon/bridge/internal/host"
	"github.com/trybeacon/bridge/internal/permissions"
	"github.com/trybeacon/bridge/internal/protocol"
)

// Payload schemas. Only shape is checked here; semantic errors (unknown file
// action, missing world) come back from the handlers themselves.
const (
	tabCompleteSchema = `{
		"type": "object",
		"properties": {"buffer": {"type": "string"}},
		"required": ["buffer"]
	}`

	worldActionSchema = `{
		"type": "object",
		"properties": {
			"action": {"type": "string", "minLength": 1},
			"world": {"type": "string", "minLength": 1},
			"rule": {"type": "string"},
			"value": {"type": "string"}
		},
		"required": ["action", "world"]
	}`

	fileManagerSchema = `{
		"type": "object",
		"properties": {
			"request_id": {"type": "string"},
			"action": {"type": "string", "minLength": 1},
			"path": {"type": "string"},
			"content": {"type": "string"}
		},
		"required": ["action"]
	}`

	playerPermissionsSchema = `{
		"type": "object",
		"properties": {
			"request_id": {"type": "string"},
			"player_uuid": {"type": "string"}
		}
	}`

	permissionAdminSchema = `{
		"type": "object",
		"properties": {
			"request_id": {"type": "string"},
			"action": {"enum": ["snapshot", "set"]},
			"player_uuid": {"type": "string"},
			"player_name": {"type": "string"},
			"permission_nodes": {"type": "array", "items": {"type": "string"}},
			"permission_node": {"type": "string"},
			"enabled": {"type": "boolean"}
		},
		"required": ["action"]
	}`
)

// handlers is the dispatch table. Every inbound event the backend may send is
// listed here and nowhere else.
type handlers struct {
	host    host.Host
	files   *files.Service
	perms   *permissions.Bridge
	limiter *rate.Limiter
}

func (h *handlers) table() []dispatch.Handler {
	return []dispatch.Handler{
		{
			Event:    protocol.EventConsoleCommand,
			Affinity: dispatch.HostThread,
			Handle:   h.consoleCommand,
		},
		{
			Event:         protocol.EventConsoleTabComplete,
			Affinity:      dispatch.HostThread,
			Schema:        tabCompleteSchema,
			ResponseEvent: protocol.EventConsoleTabCompleteResult,
			Handle:        h.tabComplete,
			Fail: func(env protocol.Envelope, _ error) any {
				var req protocol.TabCompleteRequest
				_ = env.DecodePayload(&req)
				return protocol.TabCompleteResultPayload{RequestID: env.RequestID, Buffer: req.Buffer, Suggestions: []string{}}
			},
		},
		{
			Event:    protocol.EventWorldAction,
			Affinity: dispatch.HostThread,
			Schema:   worldActionSchema,
			Handle:   h.worldAction,
		},
		{
			Event:         protocol.EventFileManagerRequest,
			Affinity:      dispatch.WorkerThread,
			Schema:        fileManagerSchema,
			ResponseEvent: protocol.EventFileManagerResponse,
			Handle:        h.fileManager,
			Fail: func(env protocol.Envelope, err error) any {
				code, msg := apperrors.ToCodeAndMessage(err)
				return protocol.FileManagerResponsePayload{RequestID: env.RequestID, OK: false, Error: msg, Code: code}
			},
		},
		{
			Event:         protocol.EventPlayerPermissionsRequest,
			Affinity:      dispatch.HostThread,
			Schema:        playerPermissionsSchema,
			ResponseEvent: protocol.EventPlayerPermissionsResponse,
			Handle:        h.playerPermissions,
			Fail: func(env protocol.Envelope, err error) any {
				var req protocol.PlayerPermissionsRequest
				_ = env.DecodePayload(&req)
				_, msg := apperrors.ToCodeAndMessage(err)
				return protocol.PlayerPermissionsResponsePayload{
					RequestID:   env.RequestID,
					PlayerUUID:  req.PlayerUUID,
					Permissions: []string{},
					Error:       msg,
				}
			},
		},
		{
			Event:         protocol.EventPermissionAdminRequest,
			Affinity:      dispatch.WorkerThread,
			Schema:        permissionAdminSchema,
			ResponseEvent: protocol.EventPermissionAdminResponse,
			Handle:        h.permissionAdmin,
			Fail: func(env protocol.Envelope, err error) any {
				var req protocol.PermissionAdminRequest
				_ = env.DecodePayload(&req)
				_, msg := apperrors.ToCodeAndMessage(err)
				return protocol.PermissionAdminResponsePayload{
					RequestID:   env.RequestID,
					Action:      req.Action,
					PlayerUUID:  req.PlayerUUID,
					OK:          false,
					Error:       msg,
					Permissions: map[string]bool{},
				}
			},
		},
	}
}

// consoleCommand runs a command as the server console. The command sits at
// the envelope level; a payload "command" is accepted as a fallback.
func (h *handlers) consoleCommand(_ context.Context, env protocol.Envelope) (any, error) {
	command := env.Command
	if command == "" {
		var p struct {
			Command string `json:"command"`
		}
		_ = env.DecodePayload(&p)
		command = p.Command
	}
	command = strings.TrimPrefix(strings.TrimSpace(command), "/")
	if command == "" {
		return nil, apperrors.InvalidPayload("console_command without a command")
	}
	if h.limiter != nil && !h.limiter.Allow() {
		return nil, apperrors.New(apperrors.CodeProtocolRateLimited, "console command rate limit exceeded")
	}
	return nil, h.host.DispatchCommand(command)
}

func (h *handlers) tabComplete(_ context.Context, env protocol.Envelope) (any, error) {
	var req protocol.TabCompleteRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, apperrors.InvalidPayload(err.Error())
	}
	suggestions := h.host.TabComplete(req.Buffer)
	if suggestions == nil {
		suggestions = []string{}
	}
	return protocol.TabCompleteResultPayload{RequestID: env.RequestID, Buffer: req.Buffer, Suggestions: suggestions}, nil
}

func (h *handlers) worldAction(_ context.Context, env protocol.Envelope) (any, error) {
	var req protocol.WorldActionRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, apperrors.InvalidPayload(err.Error())
	}
	return nil, h.host.WorldAction(host.WorldAction{
		Action: req.Action,
		World:  req.World,
		Rule:   req.Rule,
		Value:  req.Value,
	})
}

func (h *handlers) fileManager(ctx context.Context, env protocol.Envelope) (any, error) {
	var req protocol.FileManagerRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, apperrors.InvalidPayload(err.Error())
	}
	res := h.files.Perform(ctx, files.Request{
		RequestID: env.RequestID,
		Action:    req.Action,
		Path:      req.Path,
		Content:   req.Content,
	})
	return protocol.FileManagerResponsePayload{
		RequestID: env.RequestID,
		OK:        res.OK,
		Error:     res.Error,
		Code:      res.Code,
		Data:      res.Data,
	}, nil
}

// playerPermissions lists the panel nodes a player holds. It runs on the host
// thread because online players are checked live.
func (h *handlers) playerPermissions(_ context.Context, env protocol.Envelope) (any, error) {
	var req protocol.PlayerPermissionsRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, apperrors.InvalidPayload(err.Error())
	}
	if strings.TrimSpace(req.PlayerUUID) == "" {
		return nil, apperrors.New(apperrors.CodePermissionInvalidRequest, "player_uuid is required")
	}

	id := permissions.Identity{UUID: req.PlayerUUID}
	info, online := h.host.Player(req.PlayerUUID)
	if online {
		id.Name = info.Name
	}
	return protocol.PlayerPermissionsResponsePayload{
		RequestID:   env.RequestID,
		PlayerUUID:  req.PlayerUUID,
		Online:      online,
		Permissions: h.perms.Effective(id),
	}, nil
}

// permissionAdmin reads or writes stored grants. It only touches the
// provider, never live host state, so it runs on a worker.
func (h *handlers) permissionAdmin(_ context.Context, env protocol.Envelope) (any, error) {
	var req protocol.PermissionAdminRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, apperrors.InvalidPayload(err.Error())
	}
	id := permissions.Identity{UUID: strings.TrimSpace(req.PlayerUUID), Name: strings.TrimSpace(req.PlayerName)}
	if id.Subject() == "" {
		return nil, apperrors.New(apperrors.CodePermissionInvalidRequest, "player_uuid or player_name is required")
	}
	if !h.perms.Ready() {
		return nil, apperrors.New(apperrors.CodePermissionUnavailable, "permission provider unavailable")
	}

	resp := protocol.PermissionAdminResponsePayload{
		RequestID:  env.RequestID,
		Action:     req.Action,
		PlayerUUID: req.PlayerUUID,
	}
	switch req.Action {
	case protocol.PermissionActionSnapshot:
		resp.Permissions = h.perms.Snapshot(id, req.PermissionNodes)
		resp.OK = true
	case protocol.PermissionActionSet:
		node := strings.TrimSpace(req.PermissionNode)
		if node == "" {
			return nil, apperrors.New(apperrors.CodePermissionInvalidRequest, "permission_node is required")
		}
		if !h.perms.Set(id, node, req.Enabled) {
			return nil, apperrors.New(apperrors.CodePermissionUnavailable, "permission update failed")
		}
		resp.OK = true
		resp.Permissions = map[string]bool{node: req.Enabled}
	default:
		return nil, apperrors.New(apperrors.CodePermissionInvalidRequest, "unsupported action: "+req.Action)
	}
	return resp, nil
}
