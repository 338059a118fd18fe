// Package roles defines the internal role vocabulary and maps token claims
// onto it.
package roles

import (
	"sort"
	"strings"
)

// Role is a normalized internal role name.
type Role string

// Roles granted by the identity provider's client.
const (
	ClientUser  Role = "client_user"
	ClientAdmin Role = "client_admin"
)

// DefaultKnown lists the roles recognized when no other set is configured.
func DefaultKnown() []Role {
	return []Role{ClientUser, ClientAdmin}
}

// Set is an unordered collection of roles.
type Set map[Role]struct{}

// NewSet builds a set from the given roles.
func NewSet(roles ...Role) Set {
	s := make(Set, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// Has reports whether r is in the set.
func (s Set) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Len returns the number of roles.
func (s Set) Len() int {
	return len(s)
}

// Slice returns the roles in sorted order.
func (s Set) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted role names.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for _, r := range s.Slice() {
		out = append(out, string(r))
	}
	return out
}

func (s Set) String() string {
	return "[" + strings.Join(s.Strings(), " ") + "]"
}

// Equal reports whether both sets hold the same roles.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for r := range s {
		if !other.Has(r) {
			return false
		}
	}
	return true
}
