package roles

import (
	"strings"

	"github.com/upb/rolegate/claims"
)

// DefaultPrefix is stripped from role values, matched case-insensitively so
// "ROLE_client_user" and "role_client_user" both become client_user.
const DefaultPrefix = "role_"

// DefaultClaimPaths returns the claim locations read when none are configured.
// clientID selects the client-scoped role list used by Keycloak-style providers.
func DefaultClaimPaths(clientID string) []string {
	paths := make([]string, 0, 4)
	if clientID != "" {
		paths = append(paths, "resource_access."+clientID+".roles")
	}
	return append(paths, "realm_access.roles", "roles", "scope")
}

// MapperConfig selects where roles come from and which are recognized.
type MapperConfig struct {
	ClaimPaths []string
	Prefix     string
	// KeepPrefix matches role values as-is, ignoring Prefix.
	KeepPrefix bool
	Known      []Role
}

// Mapper turns a verified claim set into a role set. It is pure: no I/O and
// the same claims always give the same roles.
type Mapper struct {
	paths  []string
	prefix string
	known  Set
}

// NewMapper creates a mapper. Empty fields take the defaults.
func NewMapper(cfg MapperConfig) *Mapper {
	paths := cfg.ClaimPaths
	if len(paths) == 0 {
		paths = DefaultClaimPaths("")
	}
	prefix := cfg.Prefix
	switch {
	case cfg.KeepPrefix:
		prefix = ""
	case prefix == "":
		prefix = DefaultPrefix
	}
	known := cfg.Known
	if len(known) == 0 {
		known = DefaultKnown()
	}

	m := &Mapper{
		paths:  append([]string(nil), paths...),
		prefix: strings.ToLower(prefix),
		known:  make(Set, len(known)),
	}
	for _, r := range known {
		if n, ok := m.normalize(string(r)); ok {
			m.known[n] = struct{}{}
		}
	}
	return m
}

// Map extracts the known roles from cs. Unknown values are dropped and
// duplicates collapse. A nil claim set maps to an empty set.
func (m *Mapper) Map(cs *claims.ClaimSet) Set {
	out := Set{}
	if cs == nil {
		return out
	}
	for _, path := range m.paths {
		for _, value := range cs.Strings(path) {
			for _, field := range splitRoles(value) {
				role, ok := m.normalize(field)
				if !ok || !m.known.Has(role) {
					continue
				}
				out[role] = struct{}{}
			}
		}
	}
	return out
}

func (m *Mapper) normalize(value string) (Role, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.TrimPrefix(v, m.prefix)
	if v == "" {
		return "", false
	}
	return Role(v), true
}

// splitRoles splits space or comma delimited values, e.g. an OAuth scope.
func splitRoles(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
}
