// Package claims holds the typed view of a verified token's claims.
package claims

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")

	// ErrInvalidClaimType is returned when a claim has an unexpected type
	ErrInvalidClaimType = errors.New("invalid claim type")
)

// ClaimSet is the read-only result of a successful verification. It is built
// once per request and never mutated afterwards.
type ClaimSet struct {
	Subject   string
	Issuer    string
	Audience  []string
	ID        string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time

	raw map[string]any
}

// FromMapClaims converts decoded token claims into a ClaimSet.
// The exp claim is required; nbf and iat are optional.
func FromMapClaims(mc jwt.MapClaims) (*ClaimSet, error) {
	exp, err := numericDate(mc, "exp")
	if err != nil {
		return nil, err
	}
	if exp.IsZero() {
		return nil, fmt.Errorf("%w: exp", ErrMissingClaim)
	}

	nbf, err := numericDate(mc, "nbf")
	if err != nil {
		return nil, err
	}
	iat, err := numericDate(mc, "iat")
	if err != nil {
		return nil, err
	}
	iss, err := mc.GetIssuer()
	if err != nil {
		return nil, fmt.Errorf("%w: iss: %v", ErrInvalidClaimType, err)
	}
	sub, err := mc.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("%w: sub: %v", ErrInvalidClaimType, err)
	}
	aud, err := mc.GetAudience()
	if err != nil {
		return nil, fmt.Errorf("%w: aud: %v", ErrInvalidClaimType, err)
	}

	cs := &ClaimSet{
		Subject:   sub,
		Issuer:    iss,
		Audience:  []string(aud),
		ExpiresAt: exp,
		NotBefore: nbf,
		IssuedAt:  iat,
		raw:       make(map[string]any, len(mc)),
	}
	if jti, ok := mc["jti"].(string); ok {
		cs.ID = jti
	}
	for k, v := range mc {
		cs.raw[k] = v
	}

	return cs, nil
}

// numericDate reads a NumericDate claim keeping fractional seconds, which
// jwt.MapClaims truncates to jwt.TimePrecision. An absent claim is the zero time.
func numericDate(mc jwt.MapClaims, name string) (time.Time, error) {
	v, ok := mc[name]
	if !ok || v == nil {
		return time.Time{}, nil
	}

	var secs float64
	switch n := v.(type) {
	case float64:
		secs = n
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidClaimType, name, err)
		}
		secs = f
	case int64:
		secs = float64(n)
	case int:
		secs = float64(n)
	default:
		return time.Time{}, fmt.Errorf("%w: %s: %T", ErrInvalidClaimType, name, v)
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, fmt.Errorf("%w: %s: not a finite number", ErrInvalidClaimType, name)
	}

	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)), nil
}

// HasAudience reports whether aud contains the given identifier.
func (c *ClaimSet) HasAudience(aud string) bool {
	for _, a := range c.Audience {
		if a == aud {
			return true
		}
	}
	return false
}

// Get looks up a claim by dotted path, e.g. "realm_access.roles" or
// "resource_access.my-client.roles".
func (c *ClaimSet) Get(path string) (any, bool) {
	if c == nil || path == "" {
		return nil, false
	}
	if v, ok := c.raw[path]; ok {
		return v, true
	}

	var current any = c.raw
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// String returns a string claim, or "" when it is absent or not a string.
func (c *ClaimSet) String(path string) string {
	v, ok := c.Get(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Strings returns a list claim. A plain string claim is returned as a
// single element; non-string list entries are skipped.
func (c *ClaimSet) Strings(path string) []string {
	v, ok := c.Get(path)
	if !ok {
		return nil
	}

	switch val := v.(type) {
	case string:
		return []string{val}
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case []any:
		out := make([]string, 0, len(val))
		for _, entry := range val {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Raw returns a shallow copy of the decoded claims.
func (c *ClaimSet) Raw() map[string]any {
	out := make(map[string]any, len(c.raw))
	for k, v := range c.raw {
		out[k] = v
	}
	return out
}
