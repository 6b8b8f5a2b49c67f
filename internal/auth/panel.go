// Package auth issues panel login tokens.
//
// A token is 32 random bytes, hex encoded. The plaintext goes to the backend
// in an auth_token_issued event and into the link shown to the player; only
// its bcrypt hash is kept in the local ledger, so a leaked database cannot be
// replayed.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/trybeacon/bridge/internal/errors"
	"github.com/trybeacon/bridge/internal/permissions"
	"github.com/trybeacon/bridge/internal/protocol"
	"github.com/trybeacon/bridge/internal/storage"
)

// TokenBytes is the amount of entropy in a panel token.
const TokenBytes = 32

// NodePanel lets a non-operator open the panel.
const NodePanel = "beacon.panel"

// Ledger persists issued tokens. *storage.SQLiteStore implements it.
type Ledger interface {
	SavePanelToken(ctx context.Context, tok storage.PanelToken) error
	ActivePanelTokens(ctx context.Context, now time.Time) ([]storage.PanelToken, error)
	DeletePanelToken(ctx context.Context, id string) error
}

// Sender delivers messages to the backend.
type Sender interface {
	IsOpen() bool
	Send(msg protocol.Message) bool
}

// Player is the player asking for a panel link.
type Player struct {
	UUID     string
	Name     string
	Operator bool
}

// Grant is the result of a successful Issue.
type Grant struct {
	Token       string
	Link        string
	ExpiresAt   time.Time
	Permissions []string
}

// Options configures an Issuer.
type Options struct {
	// Ledger is optional. Without one tokens cannot be redeemed locally.
	Ledger Ledger
	Sender Sender
	// Permissions resolves a player's panel nodes.
	Permissions *permissions.Bridge
	// Expiry returns the current token lifetime. It is read per issue so a
	// config reload takes effect immediately.
	Expiry func() time.Duration
	// Link builds the panel URL for a token.
	Link   func(token string) string
	Logger *zap.Logger
	Now    func() time.Time
}

// Issuer hands out panel tokens.
type Issuer struct {
	opts   Options
	logger *zap.Logger
}

// NewIssuer creates an issuer.
func NewIssuer(opts Options) *Issuer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Expiry == nil {
		opts.Expiry = func() time.Duration { return 5 * time.Minute }
	}
	return &Issuer{opts: opts, logger: opts.Logger.Named("auth")}
}

// Issue creates a token for p, hands it to the backend and returns the login
// link. It fails when the player lacks access or the backend is not
// reachable.
func (i *Issuer) Issue(ctx context.Context, p Player) (Grant, error) {
	id := permissions.Identity{UUID: p.UUID, Name: p.Name}
	if !p.Operator && !i.opts.Permissions.Has(id, NodePanel) {
		return Grant{}, apperrors.New(apperrors.CodeAuthDenied, "You do not have permission to use this command.")
	}
	if i.opts.Sender == nil || !i.opts.Sender.IsOpen() {
		return Grant{}, apperrors.BackendOffline()
	}

	token, err := secureTokenHex(TokenBytes)
	if err != nil {
		return Grant{}, apperrors.Internal("generate token", err)
	}
	now := i.opts.Now()
	g := Grant{
		Token:       token,
		ExpiresAt:   now.Add(i.opts.Expiry()),
		Permissions: i.collectPermissions(id, p.Operator),
	}

	// Record before sending so a fast redeem never races the ledger.
	if err := i.record(ctx, token, p, now, g.ExpiresAt); err != nil {
		return Grant{}, err
	}

	msg := protocol.NewAuthTokenIssuedMessage(protocol.AuthTokenIssuedPayload{
		Token:         token,
		PlayerUUID:    p.UUID,
		PlayerName:    p.Name,
		ExpiresAtUnix: g.ExpiresAt.Unix(),
		Permissions:   g.Permissions,
	})
	if !i.opts.Sender.Send(msg) {
		return Grant{}, apperrors.New(apperrors.CodeAuthSendFailed, "Failed to reach Beacon backend. Please try again.")
	}

	if i.opts.Link != nil {
		g.Link = i.opts.Link(token)
	}
	i.logger.Info("panel token issued",
		zap.String("player", p.Name),
		zap.String("player_uuid", p.UUID),
		zap.Time("expires_at", g.ExpiresAt),
		zap.Int("permissions", len(g.Permissions)))
	return g, nil
}

func (i *Issuer) record(ctx context.Context, token string, p Player, now, expires time.Time) error {
	if i.opts.Ledger == nil {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return apperrors.Internal("hash token", err)
	}
	return i.opts.Ledger.SavePanelToken(ctx, storage.PanelToken{
		ID:         uuid.NewString(),
		TokenHash:  string(hash),
		PlayerUUID: p.UUID,
		PlayerName: p.Name,
		IssuedAt:   now,
		ExpiresAt:  expires,
	})
}

// collectPermissions lists the nodes sent with a token. Operators hold
// everything.
func (i *Issuer) collectPermissions(id permissions.Identity, operator bool) []string {
	if operator {
		return []string{permissions.NodeAccessAll, NodePanel}
	}
	nodes := i.opts.Permissions.Effective(id)
	return append(nodes, NodePanel)
}

// Redeem checks token against the ledger and consumes it. Tokens are single
// use.
//
// bcrypt hashes cannot be looked up, so this scans the active tokens. The
// ledger only holds a few minutes of tokens, which keeps the scan short.
func (i *Issuer) Redeem(ctx context.Context, token string) (storage.PanelToken, error) {
	if i.opts.Ledger == nil || token == "" {
		return storage.PanelToken{}, apperrors.New(apperrors.CodeAuthTokenInvalid, "token is not valid")
	}
	active, err := i.opts.Ledger.ActivePanelTokens(ctx, i.opts.Now())
	if err != nil {
		return storage.PanelToken{}, err
	}
	for _, tok := range active {
		if bcrypt.CompareHashAndPassword([]byte(tok.TokenHash), []byte(token)) != nil {
			continue
		}
		if err := i.opts.Ledger.DeletePanelToken(ctx, tok.ID); err != nil {
			return storage.PanelToken{}, err
		}
		i.logger.Info("panel token redeemed", zap.String("player", tok.PlayerName))
		return tok, nil
	}
	return storage.PanelToken{}, apperrors.New(apperrors.CodeAuthTokenInvalid, "token is not valid")
}

func secureTokenHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
