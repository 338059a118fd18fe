package roles

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/rolegate/claims"
)

func claimSet(t *testing.T, extra map[string]any) *claims.ClaimSet {
	t.Helper()
	mc := jwt.MapClaims{
		"sub": "user-1",
		"exp": float64(time.Now().Add(time.Hour).Unix()),
	}
	for k, v := range extra {
		mc[k] = v
	}
	cs, err := claims.FromMapClaims(mc)
	require.NoError(t, err)
	return cs
}

func TestMapper_Map(t *testing.T) {
	mapper := NewMapper(MapperConfig{ClaimPaths: DefaultClaimPaths("rolegate")})

	tests := []struct {
		name   string
		claims map[string]any
		want   []string
	}{
		{
			name:   "no role claims",
			claims: nil,
			want:   []string{},
		},
		{
			name:   "top level list",
			claims: map[string]any{"roles": []any{"client_user"}},
			want:   []string{"client_user"},
		},
		{
			name: "realm and client roles merge",
			claims: map[string]any{
				"realm_access":    map[string]any{"roles": []any{"offline_access", "client_user"}},
				"resource_access": map[string]any{"rolegate": map[string]any{"roles": []any{"client_admin"}}},
			},
			want: []string{"client_admin", "client_user"},
		},
		{
			name:   "spring style prefix is stripped",
			claims: map[string]any{"roles": []any{"ROLE_client_admin", "role_client_user"}},
			want:   []string{"client_admin", "client_user"},
		},
		{
			name:   "case and whitespace normalized",
			claims: map[string]any{"roles": []any{"  Client_User "}},
			want:   []string{"client_user"},
		},
		{
			name:   "space delimited scope",
			claims: map[string]any{"scope": "openid profile client_user"},
			want:   []string{"client_user"},
		},
		{
			name:   "comma delimited string",
			claims: map[string]any{"roles": "client_user,client_admin"},
			want:   []string{"client_admin", "client_user"},
		},
		{
			name:   "duplicates collapse",
			claims: map[string]any{"roles": []any{"client_user", "CLIENT_USER"}, "scope": "client_user"},
			want:   []string{"client_user"},
		},
		{
			name:   "unknown roles dropped",
			claims: map[string]any{"roles": []any{"superuser", "admin", "client_admin"}},
			want:   []string{"client_admin"},
		},
		{
			name:   "non string entries ignored",
			claims: map[string]any{"roles": []any{42, true, "client_user"}},
			want:   []string{"client_user"},
		},
		{
			name:   "wrong shape ignored",
			claims: map[string]any{"roles": map[string]any{"client_user": true}},
			want:   []string{},
		},
		{
			name:   "other client roles not read",
			claims: map[string]any{"resource_access": map[string]any{"other": map[string]any{"roles": []any{"client_admin"}}}},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapper.Map(claimSet(t, tt.claims))
			assert.Equal(t, tt.want, got.Strings())
		})
	}
}

func TestMapper_Idempotent(t *testing.T) {
	mapper := NewMapper(MapperConfig{})
	cs := claimSet(t, map[string]any{"roles": []any{"ROLE_client_admin", "client_user", "x"}})

	first := mapper.Map(cs)
	second := mapper.Map(cs)
	assert.True(t, first.Equal(second))
	assert.Equal(t, []Role{ClientAdmin, ClientUser}, first.Slice())
}

func TestMapper_Config(t *testing.T) {
	t.Run("custom prefix and known roles", func(t *testing.T) {
		mapper := NewMapper(MapperConfig{
			ClaimPaths: []string{"cognito:groups"},
			Prefix:     "grp-",
			Known:      []Role{"auditor", "CLIENT_USER"},
		})
		cs := claimSet(t, map[string]any{"cognito:groups": []any{"GRP-Auditor", "grp-client_user", "grp-client_admin"}})
		assert.Equal(t, []string{"auditor", "client_user"}, mapper.Map(cs).Strings())
	})

	t.Run("keep prefix matches values as-is", func(t *testing.T) {
		mapper := NewMapper(MapperConfig{
			KeepPrefix: true,
			Known:      []Role{"role_admin", ClientUser},
		})
		cs := claimSet(t, map[string]any{"roles": []any{"ROLE_admin", "role_client_user"}})
		assert.Equal(t, []string{"role_admin"}, mapper.Map(cs).Strings())
	})

	t.Run("nil claim set", func(t *testing.T) {
		assert.Equal(t, 0, NewMapper(MapperConfig{}).Map(nil).Len())
	})

	t.Run("default paths without client", func(t *testing.T) {
		assert.Equal(t, []string{"realm_access.roles", "roles", "scope"}, DefaultClaimPaths(""))
	})
}

func TestSet(t *testing.T) {
	s := NewSet(ClientUser, ClientAdmin, ClientUser)
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has(ClientAdmin))
	assert.False(t, s.Has("auditor"))
	assert.Equal(t, "[client_admin client_user]", s.String())
	assert.True(t, s.Equal(NewSet(ClientAdmin, ClientUser)))
	assert.False(t, s.Equal(NewSet(ClientAdmin)))
	assert.False(t, s.Equal(NewSet(ClientAdmin, "auditor")))
}
