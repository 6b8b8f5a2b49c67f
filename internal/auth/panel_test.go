package auth

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/trybeacon/bridge/internal/errors"
	"github.com/trybeacon/bridge/internal/permissions"
	"github.com/trybeacon/bridge/internal/protocol"
	"github.com/trybeacon/bridge/internal/storage"
)

type fakeSender struct {
	mu   sync.Mutex
	open bool
	fail bool
	sent []protocol.Message
}

func (f *fakeSender) IsOpen() bool { return f.open }

func (f *fakeSender) Send(msg protocol.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false
	}
	f.sent = append(f.sent, msg)
	return true
}

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newIssuer(t *testing.T, sender *fakeSender, perms *permissions.Bridge) (*Issuer, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(storage.MemoryPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewIssuer(Options{
		Ledger:      store,
		Sender:      sender,
		Permissions: perms,
		Expiry:      func() time.Duration { return 2 * time.Minute },
		Link:        func(tok string) string { return "https://panel.example/auth?token=" + tok },
		Now:         func() time.Time { return now },
	}), store
}

func TestIssue_Operator(t *testing.T) {
	sender := &fakeSender{open: true}
	issuer, _ := newIssuer(t, sender, nil)

	g, err := issuer.Issue(context.Background(), Player{UUID: "u-1", Name: "Alex", Operator: true})
	require.NoError(t, err)

	assert.Len(t, g.Token, 2*TokenBytes)
	assert.Equal(t, strings.ToLower(g.Token), g.Token)
	assert.Equal(t, "https://panel.example/auth?token="+g.Token, g.Link)
	assert.Equal(t, now.Add(2*time.Minute), g.ExpiresAt)
	assert.Equal(t, []string{permissions.NodeAccessAll, NodePanel}, g.Permissions)

	require.Len(t, sender.sent, 1)
	raw, err := sender.sent[0].Encode()
	require.NoError(t, err)
	var got struct {
		Event   string                          `json:"event"`
		Payload protocol.AuthTokenIssuedPayload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, protocol.EventAuthTokenIssued, got.Event)
	assert.Equal(t, g.Token, got.Payload.Token)
	assert.Equal(t, "u-1", got.Payload.PlayerUUID)
	assert.Equal(t, "Alex", got.Payload.PlayerName)
	assert.Equal(t, now.Add(2*time.Minute).Unix(), got.Payload.ExpiresAtUnix)
}

func TestIssue_RequiresPanelNode(t *testing.T) {
	provider, err := permissions.NewCasbinProvider("")
	require.NoError(t, err)
	perms := permissions.NewBridge(provider, nil, nil)
	sender := &fakeSender{open: true}
	issuer, _ := newIssuer(t, sender, perms)
	steve := Player{UUID: "u-2", Name: "Steve"}

	_, err = issuer.Issue(context.Background(), steve)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAuthDenied))
	assert.Empty(t, sender.sent)

	id := permissions.Identity{UUID: steve.UUID}
	require.True(t, perms.Set(id, NodePanel, true))
	require.True(t, perms.Set(id, permissions.NodeConsoleView, true))

	g, err := issuer.Issue(context.Background(), steve)
	require.NoError(t, err)
	assert.Equal(t, []string{permissions.NodeConsoleView, NodePanel}, g.Permissions)
}

func TestIssue_BackendUnavailable(t *testing.T) {
	ctx := context.Background()
	op := Player{UUID: "u-1", Name: "Alex", Operator: true}

	issuer, _ := newIssuer(t, &fakeSender{open: false}, nil)
	_, err := issuer.Issue(ctx, op)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAuthBackendOffline))

	issuer, _ = newIssuer(t, &fakeSender{open: true, fail: true}, nil)
	_, err = issuer.Issue(ctx, op)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAuthSendFailed))

	issuer = NewIssuer(Options{})
	_, err = issuer.Issue(ctx, op)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAuthBackendOffline))
}

func TestRedeem_SingleUse(t *testing.T) {
	issuer, store := newIssuer(t, &fakeSender{open: true}, nil)
	ctx := context.Background()

	g, err := issuer.Issue(ctx, Player{UUID: "u-1", Name: "Alex", Operator: true})
	require.NoError(t, err)

	active, err := store.ActivePanelTokens(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.NotContains(t, active[0].TokenHash, g.Token, "plaintext token must not be stored")

	_, err = issuer.Redeem(ctx, "not-the-token")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAuthTokenInvalid))

	tok, err := issuer.Redeem(ctx, g.Token)
	require.NoError(t, err)
	assert.Equal(t, "Alex", tok.PlayerName)

	_, err = issuer.Redeem(ctx, g.Token)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAuthTokenInvalid))
}

func TestRedeem_Expired(t *testing.T) {
	issuer, _ := newIssuer(t, &fakeSender{open: true}, nil)
	ctx := context.Background()

	g, err := issuer.Issue(ctx, Player{UUID: "u-1", Name: "Alex", Operator: true})
	require.NoError(t, err)

	issuer.opts.Now = func() time.Time { return now.Add(3 * time.Minute) }
	_, err = issuer.Redeem(ctx, g.Token)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAuthTokenInvalid))
}
