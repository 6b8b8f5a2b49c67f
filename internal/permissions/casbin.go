package permissions

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/google/uuid"
)

// policyModel grants nodes to subjects directly or through roles. Policy
// objects may end in "*" to grant a whole subtree, e.g. "beacon.access.*".
const policyModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj)
`

// CasbinProvider stores grants in a casbin policy, optionally persisted to a
// CSV policy file.
type CasbinProvider struct {
	enforcer *casbin.SyncedEnforcer
	persist  bool
}

// NewCasbinProvider creates a provider. An empty policyFile keeps the policy
// in memory; otherwise the file is created if missing and saved after every
// change.
func NewCasbinProvider(policyFile string) (*CasbinProvider, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, err
	}
	if policyFile == "" {
		e, err := casbin.NewSyncedEnforcer(m)
		if err != nil {
			return nil, err
		}
		return &CasbinProvider{enforcer: e}, nil
	}

	if err := ensureFile(policyFile); err != nil {
		return nil, err
	}
	e, err := casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(policyFile))
	if err != nil {
		return nil, err
	}
	return &CasbinProvider{enforcer: e, persist: true}, nil
}

func ensureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, nil, 0o644)
}

// Has implements Provider.
func (p *CasbinProvider) Has(id Identity, node string) (bool, error) {
	return p.enforcer.Enforce(id.Subject(), node)
}

// Set implements Provider.
func (p *CasbinProvider) Set(id Identity, node string, enabled bool) (bool, error) {
	var changed bool
	var err error
	if enabled {
		changed, err = p.enforcer.AddPolicy(id.Subject(), node)
	} else {
		changed, err = p.enforcer.RemovePolicy(id.Subject(), node)
	}
	if err != nil || !changed {
		return false, err
	}
	if p.persist {
		if err := p.enforcer.SavePolicy(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// RoleSubject is the policy subject for a named role.
func RoleSubject(name string) string {
	return "role:" + strings.ToLower(name)
}

// MemberIdentity parses a configured role member: a UUID, or else a player
// name.
func MemberIdentity(member string) Identity {
	member = strings.TrimSpace(member)
	if _, err := uuid.Parse(member); err == nil {
		return Identity{UUID: member}
	}
	return Identity{Name: member}
}

// ApplyRole grants nodes to the role and assigns it to members. Entries that
// already exist are left alone; the policy file is saved once if anything
// changed.
func (p *CasbinProvider) ApplyRole(name string, nodes, members []string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("role name is empty")
	}
	role := RoleSubject(name)
	changed := false
	for _, node := range nodes {
		if node == "" {
			continue
		}
		added, err := p.enforcer.AddPolicy(role, node)
		if err != nil {
			return err
		}
		changed = changed || added
	}
	for _, m := range members {
		id := MemberIdentity(m)
		if id.Subject() == "" {
			continue
		}
		added, err := p.enforcer.AddGroupingPolicy(id.Subject(), role)
		if err != nil {
			return err
		}
		changed = changed || added
	}
	if changed && p.persist {
		return p.enforcer.SavePolicy()
	}
	return nil
}

var _ Provider = (*CasbinProvider)(nil)
