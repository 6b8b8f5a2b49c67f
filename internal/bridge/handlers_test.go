package bridge

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/trybeacon/bridge/internal/dispatch"
	apperrors "github.com/trybeacon/bridge/internal/errors"
	"github.com/trybeacon/bridge/internal/files"
	"github.com/trybeacon/bridge/internal/host"
	"github.com/trybeacon/bridge/internal/hostloop"
	"github.com/trybeacon/bridge/internal/permissions"
	"github.com/trybeacon/bridge/internal/protocol"
)

type nopSender struct{}

func (nopSender) Send(protocol.Message) bool { return true }

func newHandlers(t *testing.T, limiter *rate.Limiter) *handlers {
	t.Helper()
	root := t.TempDir()
	loop := hostloop.New(time.Millisecond, nil)
	return &handlers{
		host:    host.NewStandalone(host.StandaloneOptions{Layout: host.Layout{ServerRoot: root}, Loop: loop}),
		files:   files.NewService(files.StaticRoot(root)),
		perms:   permissions.NewBridge(nil, nil, nil),
		limiter: limiter,
	}
}

func TestHandlerTable_Registers(t *testing.T) {
	h := newHandlers(t, nil)
	d := dispatch.New(hostloop.New(time.Millisecond, nil), nopSender{})
	require.NoError(t, d.RegisterAll(h.table()...))

	events := d.Events()
	sort.Strings(events)
	assert.Equal(t, []string{
		protocol.EventConsoleCommand,
		protocol.EventConsoleTabComplete,
		protocol.EventFileManagerRequest,
		protocol.EventPermissionAdminRequest,
		protocol.EventPlayerPermissionsRequest,
		protocol.EventWorldAction,
	}, events)
}

func TestConsoleCommand_RateLimited(t *testing.T) {
	h := newHandlers(t, rate.NewLimiter(rate.Every(time.Hour), 2))
	ctx := context.Background()
	env := protocol.Envelope{Event: protocol.EventConsoleCommand, Command: "/save-all"}

	_, err := h.consoleCommand(ctx, env)
	require.NoError(t, err)
	_, err = h.consoleCommand(ctx, env)
	require.NoError(t, err)
	_, err = h.consoleCommand(ctx, env)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeProtocolRateLimited))
}

func TestConsoleCommand_PayloadFallbackAndEmpty(t *testing.T) {
	h := newHandlers(t, nil)
	ctx := context.Background()

	_, err := h.consoleCommand(ctx, protocol.Envelope{Payload: []byte(`{"command":"list"}`)})
	assert.NoError(t, err)

	_, err = h.consoleCommand(ctx, protocol.Envelope{Command: "   "})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeProtocolInvalidPayload))

	_, err = h.consoleCommand(ctx, protocol.Envelope{Command: "nope"})
	assert.Error(t, err)
}

func TestPermissionAdmin_NoProvider(t *testing.T) {
	h := newHandlers(t, nil)
	_, err := h.permissionAdmin(context.Background(), protocol.Envelope{
		Payload: []byte(`{"action":"snapshot","player_uuid":"u1","permission_nodes":["a"]}`),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.CodePermissionUnavailable))
}

func TestWorldAction_UnknownWorld(t *testing.T) {
	h := newHandlers(t, nil)
	_, err := h.worldAction(context.Background(), protocol.Envelope{
		Payload: []byte(`{"action":"set_day","world":"missing"}`),
	})
	assert.Error(t, err)
}
