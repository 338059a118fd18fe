// Package policy decides whether a granted role set satisfies a route's
// requirement. Roles are flat: holding client_admin says nothing about
// client_user.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/upb/rolegate/roles"
)

// ErrInvalidRequirement is returned for requirements that cannot be built
var ErrInvalidRequirement = errors.New("invalid policy requirement")

// Requirement is a predicate over a granted role set. Implementations are
// immutable and safe for concurrent use.
type Requirement interface {
	Evaluate(granted roles.Set) bool
	String() string
}

// Decision is the outcome of Authorize.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// Authorize evaluates req against granted. A nil requirement and an empty
// role set always deny.
func Authorize(req Requirement, granted roles.Set) Decision {
	if req == nil || granted.Len() == 0 {
		return Deny
	}
	if req.Evaluate(granted) {
		return Allow
	}
	return Deny
}

type roleRequirement struct {
	role roles.Role
}

// Role requires a single role.
func Role(r roles.Role) Requirement {
	return roleRequirement{role: r}
}

func (r roleRequirement) Evaluate(granted roles.Set) bool {
	return granted.Has(r.role)
}

func (r roleRequirement) String() string {
	return string(r.role)
}

type allRequirement []Requirement

// All requires every child. An empty All never matches.
func All(reqs ...Requirement) Requirement {
	return allRequirement(reqs)
}

func (a allRequirement) Evaluate(granted roles.Set) bool {
	if len(a) == 0 {
		return false
	}
	for _, req := range a {
		if req == nil || !req.Evaluate(granted) {
			return false
		}
	}
	return true
}

func (a allRequirement) String() string {
	return "all(" + joinRequirements(a) + ")"
}

type anyRequirement []Requirement

// Any requires at least one child.
func Any(reqs ...Requirement) Requirement {
	return anyRequirement(reqs)
}

func (a anyRequirement) Evaluate(granted roles.Set) bool {
	for _, req := range a {
		if req != nil && req.Evaluate(granted) {
			return true
		}
	}
	return false
}

func (a anyRequirement) String() string {
	return "any(" + joinRequirements(a) + ")"
}

type notRequirement struct {
	inner Requirement
}

// Not negates req. Through Authorize an empty role set still denies.
func Not(req Requirement) Requirement {
	return notRequirement{inner: req}
}

func (n notRequirement) Evaluate(granted roles.Set) bool {
	if n.inner == nil {
		return false
	}
	return !n.inner.Evaluate(granted)
}

func (n notRequirement) String() string {
	if n.inner == nil {
		return "not()"
	}
	return "not(" + n.inner.String() + ")"
}

func joinRequirements(reqs []Requirement) string {
	parts := make([]string, 0, len(reqs))
	for _, req := range reqs {
		if req == nil {
			parts = append(parts, "<nil>")
			continue
		}
		parts = append(parts, req.String())
	}
	return strings.Join(parts, ", ")
}

// exprEnv is what an expression sees: Has("role") and the sorted Roles list.
type exprEnv struct {
	Roles   []string
	granted roles.Set
}

func (e exprEnv) Has(role string) bool {
	return e.granted.Has(roles.Role(strings.ToLower(role)))
}

type expressionRequirement struct {
	source  string
	program *vm.Program
}

// Expression compiles a boolean expression such as
// `Has("client_admin") && !Has("suspended")`.
func Expression(source string) (Requirement, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidRequirement)
	}
	program, err := expr.Compile(source, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequirement, err)
	}
	return expressionRequirement{source: source, program: program}, nil
}

// Evaluate runs the program. Runtime errors deny.
func (e expressionRequirement) Evaluate(granted roles.Set) bool {
	out, err := expr.Run(e.program, exprEnv{Roles: granted.Strings(), granted: granted})
	if err != nil {
		return false
	}
	allowed, ok := out.(bool)
	return ok && allowed
}

func (e expressionRequirement) String() string {
	return "expr(" + e.source + ")"
}
