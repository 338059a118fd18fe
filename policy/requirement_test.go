package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/rolegate/roles"
)

func TestAuthorize(t *testing.T) {
	userOnly := roles.NewSet(roles.ClientUser)
	adminOnly := roles.NewSet(roles.ClientAdmin)
	both := roles.NewSet(roles.ClientUser, roles.ClientAdmin)
	empty := roles.NewSet()

	suspended := roles.Role("suspended")

	tests := []struct {
		name    string
		req     Requirement
		granted roles.Set
		want    Decision
	}{
		{"role present", Role(roles.ClientUser), userOnly, Allow},
		{"role absent", Role(roles.ClientAdmin), userOnly, Deny},
		{"admin does not imply user", Role(roles.ClientUser), adminOnly, Deny},
		{"empty set denies", Role(roles.ClientUser), empty, Deny},
		{"nil set denies", Role(roles.ClientUser), nil, Deny},
		{"nil requirement denies", nil, both, Deny},
		{"all satisfied", All(Role(roles.ClientUser), Role(roles.ClientAdmin)), both, Allow},
		{"all partially satisfied", All(Role(roles.ClientUser), Role(roles.ClientAdmin)), userOnly, Deny},
		{"empty all denies", All(), both, Deny},
		{"any satisfied", Any(Role(roles.ClientAdmin), Role(roles.ClientUser)), userOnly, Allow},
		{"any unsatisfied", Any(Role(suspended)), userOnly, Deny},
		{"not satisfied", Not(Role(suspended)), userOnly, Allow},
		{"not unsatisfied", Not(Role(roles.ClientUser)), userOnly, Deny},
		{"not with empty set still denies", Not(Role(suspended)), empty, Deny},
		{"nested", All(Role(roles.ClientAdmin), Not(Role(suspended))), adminOnly, Allow},
		{"nested denies", All(Role(roles.ClientAdmin), Not(Role(suspended))), roles.NewSet(roles.ClientAdmin, suspended), Deny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authorize(tt.req, tt.granted))
		})
	}
}

// Single-role requirements allow exactly when the role is granted.
func TestAuthorize_SingleRoleMembership(t *testing.T) {
	all := []roles.Role{roles.ClientUser, roles.ClientAdmin, "auditor"}
	subsets := [][]roles.Role{
		{},
		{roles.ClientUser},
		{roles.ClientAdmin},
		{"auditor"},
		{roles.ClientUser, roles.ClientAdmin},
		{roles.ClientUser, roles.ClientAdmin, "auditor"},
	}

	for _, r := range all {
		for _, subset := range subsets {
			granted := roles.NewSet(subset...)
			want := Deny
			if granted.Has(r) {
				want = Allow
			}
			assert.Equal(t, want, Authorize(Role(r), granted), "role %s, granted %s", r, granted)
		}
	}
}

type countingRequirement struct {
	result bool
	calls  *int
}

func (c countingRequirement) Evaluate(roles.Set) bool {
	*c.calls++
	return c.result
}

func (c countingRequirement) String() string { return "counting" }

func TestShortCircuit(t *testing.T) {
	granted := roles.NewSet(roles.ClientUser)

	calls := 0
	assert.False(t, All(countingRequirement{false, &calls}, countingRequirement{true, &calls}).Evaluate(granted))
	assert.Equal(t, 1, calls)

	calls = 0
	assert.True(t, Any(countingRequirement{true, &calls}, countingRequirement{false, &calls}).Evaluate(granted))
	assert.Equal(t, 1, calls)
}

func TestExpression(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		granted roles.Set
		want    Decision
	}{
		{"has", `Has("client_admin")`, roles.NewSet(roles.ClientAdmin), Allow},
		{"has is case insensitive", `Has("CLIENT_ADMIN")`, roles.NewSet(roles.ClientAdmin), Allow},
		{"and not", `Has("client_admin") && !Has("suspended")`, roles.NewSet(roles.ClientAdmin, "suspended"), Deny},
		{"or", `Has("client_admin") || Has("client_user")`, roles.NewSet(roles.ClientUser), Allow},
		{"roles list", `"client_user" in Roles`, roles.NewSet(roles.ClientUser), Allow},
		{"roles count", `len(Roles) >= 2`, roles.NewSet(roles.ClientUser), Deny},
		{"negation only with empty set", `!Has("suspended")`, roles.NewSet(), Deny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Expression(tt.source)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Authorize(req, tt.granted))
			assert.Equal(t, "expr("+tt.source+")", req.String())
		})
	}

	t.Run("compile errors", func(t *testing.T) {
		for _, src := range []string{"", "   ", `Has(`, `"client_user"`, `Unknown("x")`} {
			_, err := Expression(src)
			assert.ErrorIs(t, err, ErrInvalidRequirement, src)
		}
	})
}

func TestRequirementString(t *testing.T) {
	req := All(Role(roles.ClientAdmin), Any(Role(roles.ClientUser), Not(Role("suspended"))))
	assert.Equal(t, "all(client_admin, any(client_user, not(suspended)))", req.String())
}
