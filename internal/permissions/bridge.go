// Package permissions bridges panel permission checks to a permission
// provider.
//
// The provider is optional. Without one every query answers "not granted"
// and every change reports failure, so the rest of the bridge never has to
// check for it.
package permissions

import (
	"strings"

	"go.uber.org/zap"
)

// Identity names a player. UUID is preferred; Name is used when the UUID is
// unknown.
type Identity struct {
	UUID string
	Name string
}

// Subject is the provider key for the identity.
func (i Identity) Subject() string {
	if i.UUID != "" {
		return "uuid:" + strings.ToLower(i.UUID)
	}
	if i.Name != "" {
		return "name:" + strings.ToLower(i.Name)
	}
	return ""
}

// Provider stores permission grants.
type Provider interface {
	Has(id Identity, node string) (bool, error)
	// Set grants or revokes node. changed is false when nothing was modified.
	Set(id Identity, node string, enabled bool) (changed bool, err error)
}

// OnlineCheck asks the host for a connected player's live permission.
// online is false when the player is not connected.
type OnlineCheck func(uuid, node string) (has, online bool)

// Bridge answers permission queries.
type Bridge struct {
	provider Provider
	online   OnlineCheck
	logger   *zap.Logger
}

// NewBridge creates a bridge over provider, which may be nil.
func NewBridge(provider Provider, online OnlineCheck, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{provider: provider, online: online, logger: logger.Named("permissions")}
}

// Ready reports whether a provider is installed.
func (b *Bridge) Ready() bool {
	return b != nil && b.provider != nil
}

// Has reports whether the player holds node. Connected players are checked
// live through the host; everyone else through the provider. Without a
// provider nothing is granted.
func (b *Bridge) Has(id Identity, node string) bool {
	if !b.Ready() || node == "" {
		return false
	}
	if b.online != nil && id.UUID != "" {
		if has, online := b.online(id.UUID, node); online {
			return has
		}
	}
	return b.stored(id, node)
}

func (b *Bridge) stored(id Identity, node string) bool {
	if !b.Ready() || id.Subject() == "" {
		return false
	}
	has, err := b.provider.Has(id, node)
	if err != nil {
		b.logger.Warn("permission lookup failed", zap.String("subject", id.Subject()), zap.String("node", node), zap.Error(err))
		return false
	}
	return has
}

// Snapshot checks each node against the provider. Duplicate nodes collapse.
// The result is empty without a provider.
func (b *Bridge) Snapshot(id Identity, nodes []string) map[string]bool {
	if !b.Ready() {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n == "" {
			continue
		}
		out[n] = b.stored(id, n)
	}
	return out
}

// Set grants or revokes node. It succeeds when the provider changed the
// grant, or when nothing changed because the grant already matched.
func (b *Bridge) Set(id Identity, node string, enabled bool) bool {
	if !b.Ready() || id.Subject() == "" || node == "" {
		return false
	}
	changed, err := b.provider.Set(id, node, enabled)
	if err != nil {
		b.logger.Warn("permission update failed", zap.String("subject", id.Subject()), zap.String("node", node), zap.Bool("enabled", enabled), zap.Error(err))
		return false
	}
	if changed {
		b.logger.Info("permission updated", zap.String("subject", id.Subject()), zap.String("node", node), zap.Bool("enabled", enabled))
		return true
	}
	return b.stored(id, node) == enabled
}

// Effective lists the panel nodes the player holds, in PanelNodes order.
func (b *Bridge) Effective(id Identity) []string {
	out := []string{}
	for _, n := range PanelNodes {
		if b.Has(id, n) {
			out = append(out, n)
		}
	}
	return out
}
