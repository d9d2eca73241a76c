package permission

import (
	"errors"
	"sort"
	"sync"
)

// Policy maps roles and admin levels to permission masks.
type Policy struct {
	registry *Registry

	mu          sync.RWMutex
	roles       map[string]Mask64
	adminGrants map[int]Mask64
	bypassLevel int
	frozen      bool
}

// NewPolicy creates an empty Policy over registry. Identities whose admin level is at
// least bypassLevel hold every permission; zero disables the bypass.
func NewPolicy(registry *Registry, bypassLevel int) *Policy {
	return &Policy{
		registry:    registry,
		roles:       make(map[string]Mask64),
		adminGrants: make(map[int]Mask64),
		bypassLevel: bypassLevel,
	}
}

func (p *Policy) mask(perms []string) (Mask64, error) {
	var m Mask64
	for _, name := range perms {
		bit, ok := p.registry.Lookup(name)
		if !ok {
			return 0, errors.New("permission not registered: " + name)
		}
		m.Set(int(bit))
	}
	return m, nil
}

// Grant adds perms to role.
func (p *Policy) Grant(role string, perms ...string) error {
	if role == "" {
		return errors.New("role name empty")
	}
	m, err := p.mask(perms)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return errors.New("policy frozen")
	}
	p.roles[role] = p.roles[role].Union(m)
	return nil
}

// GrantAdmin adds perms to every identity with admin level >= level.
func (p *Policy) GrantAdmin(level int, perms ...string) error {
	if level < 1 {
		return errors.New("admin level must be >= 1")
	}
	m, err := p.mask(perms)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return errors.New("policy frozen")
	}
	p.adminGrants[level] = p.adminGrants[level].Union(m)
	return nil
}

// Freeze prevents further grants.
func (p *Policy) Freeze() {
	p.mu.Lock()
	p.frozen = true
	p.mu.Unlock()
}

// BypassLevel returns the admin level that holds every permission, or 0.
func (p *Policy) BypassLevel() int {
	return p.bypassLevel
}

// Effective returns the combined mask for role at adminLevel.
func (p *Policy) Effective(role string, adminLevel int) Mask64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m := p.roles[role]
	for level, grant := range p.adminGrants {
		if adminLevel >= level {
			m = m.Union(grant)
		}
	}
	return m
}

// Allows reports whether role at adminLevel holds perm.
func (p *Policy) Allows(role string, adminLevel int, perm Permission) bool {
	if perm < 0 {
		return false
	}
	if p.bypassLevel > 0 && adminLevel >= p.bypassLevel {
		return true
	}
	return p.Effective(role, adminLevel).Has(int(perm), p.registry.rootReserved)
}

// Roles lists the roles with grants, sorted.
func (p *Policy) Roles() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.roles))
	for r := range p.roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
