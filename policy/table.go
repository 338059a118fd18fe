package policy

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/upb/rolegate/roles"
	"github.com/upb/rolegate/utils"
)

// ErrNoRequirement is returned when a protected route has no table entry
var ErrNoRequirement = errors.New("no policy requirement for route")

// RuleSpec is the YAML form of a requirement. Exactly one field is set.
type RuleSpec struct {
	Role string     `yaml:"role,omitempty"`
	All  []RuleSpec `yaml:"all,omitempty"`
	Any  []RuleSpec `yaml:"any,omitempty"`
	Not  *RuleSpec  `yaml:"not,omitempty"`
	Expr string     `yaml:"expr,omitempty"`
}

// Build compiles the rule into a Requirement.
func (s RuleSpec) Build() (Requirement, error) {
	set := 0
	for _, present := range []bool{s.Role != "", len(s.All) > 0, len(s.Any) > 0, s.Not != nil, s.Expr != ""} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: exactly one of role, all, any, not, expr must be set", ErrInvalidRequirement)
	}

	switch {
	case s.Role != "":
		return Role(roles.Role(strings.ToLower(strings.TrimSpace(s.Role)))), nil
	case len(s.All) > 0:
		children, err := buildAll(s.All)
		if err != nil {
			return nil, err
		}
		return All(children...), nil
	case len(s.Any) > 0:
		children, err := buildAll(s.Any)
		if err != nil {
			return nil, err
		}
		return Any(children...), nil
	case s.Not != nil:
		inner, err := s.Not.Build()
		if err != nil {
			return nil, err
		}
		return Not(inner), nil
	default:
		return Expression(s.Expr)
	}
}

func buildAll(specs []RuleSpec) ([]Requirement, error) {
	out := make([]Requirement, 0, len(specs))
	for _, spec := range specs {
		req, err := spec.Build()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// RouteSpec binds a requirement to a method and chi route pattern.
type RouteSpec struct {
	Method  string   `yaml:"method" validate:"required,oneof=GET HEAD POST PUT PATCH DELETE OPTIONS"`
	Path    string   `yaml:"path" validate:"required,startswith=/"`
	Require RuleSpec `yaml:"require"`
}

type tableFile struct {
	Routes []RouteSpec `yaml:"routes" validate:"required,min=1,dive"`
}

// Route is one resolved table entry.
type Route struct {
	Method      string
	Pattern     string
	Requirement Requirement
}

type routeKey struct {
	method  string
	pattern string
}

// Table maps (method, pattern) to the requirement guarding it. It is built at
// startup and read-only afterwards.
type Table struct {
	routes map[routeKey]Requirement
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{routes: make(map[routeKey]Requirement)}
}

// Add registers req for the route. Duplicate routes and nil requirements are
// rejected.
func (t *Table) Add(method, pattern string, req Requirement) error {
	if req == nil {
		return fmt.Errorf("%w: %s %s", ErrNoRequirement, method, pattern)
	}
	key := routeKey{method: strings.ToUpper(method), pattern: pattern}
	if _, exists := t.routes[key]; exists {
		return fmt.Errorf("duplicate policy for %s %s", key.method, pattern)
	}
	t.routes[key] = req
	return nil
}

// Require returns the requirement for a protected route, or ErrNoRequirement.
func (t *Table) Require(method, pattern string) (Requirement, error) {
	req, ok := t.routes[routeKey{method: strings.ToUpper(method), pattern: pattern}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNoRequirement, strings.ToUpper(method), pattern)
	}
	return req, nil
}

// Routes lists every entry sorted by pattern then method.
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.routes))
	for key, req := range t.routes {
		out = append(out, Route{Method: key.method, Pattern: key.pattern, Requirement: req})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.routes)
}

// DefaultTable guards the demo endpoints, /me and the decision audit trail.
func DefaultTable() *Table {
	t := NewTable()
	_ = t.Add("GET", "/api/v1/demo", Role(roles.ClientUser))
	_ = t.Add("GET", "/api/v1/demo/hello", Role(roles.ClientAdmin))
	_ = t.Add("GET", "/api/v1/me", Any(Role(roles.ClientUser), Role(roles.ClientAdmin)))
	_ = t.Add("GET", "/api/v1/audit/decisions", Role(roles.ClientAdmin))
	return t
}

// ParseTable decodes a YAML route table.
func ParseTable(data []byte) (*Table, error) {
	var file tableFile
	if err := yaml.UnmarshalWithOptions(data, &file, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("failed to decode policy table: %w", err)
	}
	for i := range file.Routes {
		file.Routes[i].Method = strings.ToUpper(strings.TrimSpace(file.Routes[i].Method))
	}
	if err := utils.ValidateStruct(file); err != nil {
		return nil, fmt.Errorf("invalid policy table: %w", err)
	}

	t := NewTable()
	for _, route := range file.Routes {
		req, err := route.Require.Build()
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", route.Method, route.Path, err)
		}
		if err := t.Add(route.Method, route.Path, req); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// LoadTable reads a YAML route table from disk.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy table: %w", err)
	}
	return ParseTable(data)
}
