package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/rolegate/roles"
)

const tableYAML = `
routes:
  - method: GET
    path: /api/v1/demo
    require:
      role: client_user
  - method: get
    path: /api/v1/demo/hello
    require:
      all:
        - role: CLIENT_ADMIN
        - not:
            role: suspended
  - method: POST
    path: /api/v1/reports
    require:
      expr: 'Has("client_admin") || Has("auditor")'
`

func TestParseTable(t *testing.T) {
	table, err := ParseTable([]byte(tableYAML))
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())

	demo, err := table.Require("GET", "/api/v1/demo")
	require.NoError(t, err)
	assert.Equal(t, Allow, Authorize(demo, roles.NewSet(roles.ClientUser)))

	hello, err := table.Require("get", "/api/v1/demo/hello")
	require.NoError(t, err)
	assert.Equal(t, "all(client_admin, not(suspended))", hello.String())
	assert.Equal(t, Allow, Authorize(hello, roles.NewSet(roles.ClientAdmin)))
	assert.Equal(t, Deny, Authorize(hello, roles.NewSet(roles.ClientAdmin, "suspended")))

	reports, err := table.Require("POST", "/api/v1/reports")
	require.NoError(t, err)
	assert.Equal(t, Allow, Authorize(reports, roles.NewSet("auditor")))

	_, err = table.Require("DELETE", "/api/v1/demo")
	assert.ErrorIs(t, err, ErrNoRequirement)

	routes := table.Routes()
	require.Len(t, routes, 3)
	assert.Equal(t, "/api/v1/demo", routes[0].Pattern)
	assert.Equal(t, "GET", routes[1].Method)
}

func TestParseTable_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "routes: [\n"},
		{"no routes", "routes: []\n"},
		{"unknown field", "routes:\n  - method: GET\n    path: /a\n    require:\n      role: x\n    extra: 1\n"},
		{"bad method", "routes:\n  - method: FETCH\n    path: /a\n    require:\n      role: x\n"},
		{"relative path", "routes:\n  - method: GET\n    path: a\n    require:\n      role: x\n"},
		{"empty rule", "routes:\n  - method: GET\n    path: /a\n    require: {}\n"},
		{"two forms", "routes:\n  - method: GET\n    path: /a\n    require:\n      role: x\n      expr: Has(\"x\")\n"},
		{"bad expression", "routes:\n  - method: GET\n    path: /a\n    require:\n      expr: Has(\n"},
		{"duplicate route", "routes:\n  - method: GET\n    path: /a\n    require:\n      role: x\n  - method: GET\n    path: /a\n    require:\n      role: y\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTable([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tableYAML), 0o600))

	table, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())

	_, err = LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()

	demo, err := table.Require("GET", "/api/v1/demo")
	require.NoError(t, err)
	hello, err := table.Require("GET", "/api/v1/demo/hello")
	require.NoError(t, err)

	assert.Equal(t, Allow, Authorize(demo, roles.NewSet(roles.ClientUser)))
	assert.Equal(t, Deny, Authorize(demo, roles.NewSet(roles.ClientAdmin)))
	assert.Equal(t, Allow, Authorize(hello, roles.NewSet(roles.ClientAdmin)))
	assert.Equal(t, Deny, Authorize(hello, roles.NewSet(roles.ClientUser)))
}

func TestTableAdd(t *testing.T) {
	table := NewTable()
	assert.ErrorIs(t, table.Add("GET", "/x", nil), ErrNoRequirement)
	require.NoError(t, table.Add("GET", "/x", Role(roles.ClientUser)))
	assert.Error(t, table.Add("get", "/x", Role(roles.ClientAdmin)))
}
