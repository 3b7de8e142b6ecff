// Package rbac grants IPC access by role. A permission is "class:method"
// where either side may be "*"; a bare class name allows every method.
package rbac

import (
	"context"
	"strings"
	"sync"

	"hivecore/pkg/auth"
	"hivecore/pkg/config"
)

type Role struct {
	Name        string   `json:"name" yaml:"name"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

type Authorizer struct {
	roles        map[string]*Role
	processRoles map[string][]string
	mu           sync.RWMutex
}

var _ auth.Authorizer = (*Authorizer)(nil)

func NewAuthorizer() *Authorizer {
	return &Authorizer{
		roles:        make(map[string]*Role),
		processRoles: make(map[string][]string),
	}
}

// FromConfig reads roles from ipc.auth.roles.<role> (list of permissions)
// and static grants from ipc.auth.grants.<process> (list of roles).
func FromConfig(m *config.ConfigManager) (*Authorizer, error) {
	a := NewAuthorizer()
	for _, key := range m.Keys("ipc.auth.roles") {
		perms, err := m.GetStringSlice(key)
		if err != nil {
			return nil, err
		}
		a.AddRole(&Role{Name: strings.TrimPrefix(key, "ipc.auth.roles."), Permissions: perms})
	}
	for _, key := range m.Keys("ipc.auth.grants") {
		roles, err := m.GetStringSlice(key)
		if err != nil {
			return nil, err
		}
		for _, r := range roles {
			a.AssignRole(strings.TrimPrefix(key, "ipc.auth.grants."), r)
		}
	}
	return a, nil
}

func (a *Authorizer) AddRole(role *Role) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.roles[role.Name] = role
}

// AssignRole grants roleName to every peer whose process name is process,
// on top of the roles carried in its token.
func (a *Authorizer) AssignRole(process, roleName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.processRoles[process] = append(a.processRoles[process], roleName)
}

func (a *Authorizer) Authorize(ctx context.Context, peer auth.Identity, className, method string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	roles := append(append([]string(nil), peer.Roles...), a.processRoles[peer.Process]...)
	for _, roleName := range roles {
		role, ok := a.roles[roleName]
		if !ok {
			continue
		}
		for _, perm := range role.Permissions {
			if matchesPermission(perm, className, method) {
				return nil
			}
		}
	}
	return &auth.DeniedError{Peer: peer.String(), ClassName: className, Method: method}
}

// Permissions lists the distinct permissions peer holds.
func (a *Authorizer) Permissions(peer auth.Identity) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []string
	seen := make(map[string]bool)
	roles := append(append([]string(nil), peer.Roles...), a.processRoles[peer.Process]...)
	for _, roleName := range roles {
		role, ok := a.roles[roleName]
		if !ok {
			continue
		}
		for _, perm := range role.Permissions {
			if !seen[perm] {
				seen[perm] = true
				out = append(out, perm)
			}
		}
	}
	return out
}

func matchesPermission(perm, className, method string) bool {
	class, action, ok := parsePermission(perm)
	if !ok {
		return false
	}
	if class != "*" && class != className {
		return false
	}
	return action == "*" || action == method
}

func parsePermission(perm string) (string, string, bool) {
	if perm == "*" {
		return "*", "*", true
	}
	i := strings.LastIndex(perm, ":")
	if i < 0 {
		return perm, "*", true
	}
	if i == 0 || i == len(perm)-1 {
		return "", "", false
	}
	return perm[:i], perm[i+1:], true
}
