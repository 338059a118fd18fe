// Package verifier checks bearer tokens against the current signing material
// and turns them into claim sets.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/upb/rolegate/claims"
	"github.com/upb/rolegate/signing"
)

const resultValid = "valid"

var (
	// ErrInvalidConfig is returned by New for unusable settings
	ErrInvalidConfig = errors.New("invalid verifier config")

	errUnknownKey   = errors.New("no signing key for kid")
	errKeyAlgorithm = errors.New("key does not accept algorithm")
	errMissingKeyID = errors.New("token header has no kid")
)

// Config holds the trust settings.
type Config struct {
	// Issuers is the set of trusted iss values.
	Issuers []string
	// Audience is this service's identifier. Empty disables the check.
	Audience string
	// AllowedAlgorithms is the alg allow-list, e.g. RS256, ES256.
	AllowedAlgorithms []string
	// ClockSkew widens the exp/nbf/iat window on both sides.
	ClockSkew time.Duration
}

// MetricsRecorder counts verification outcomes.
type MetricsRecorder interface {
	RecordVerification(result string)
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithMetrics records every outcome.
func WithMetrics(m MetricsRecorder) Option {
	return func(v *Verifier) { v.metrics = m }
}

// WithUnknownKeyHook is called when a token names a kid that is not in the
// current key set, typically to nudge a key refresh.
func WithUnknownKeyHook(hook func()) Option {
	return func(v *Verifier) { v.onUnknownKey = hook }
}

// Verifier validates tokens. It holds no mutable state and is safe for
// concurrent use.
type Verifier struct {
	store        *signing.Store
	parser       *jwt.Parser
	issuers      map[string]struct{}
	audience     string
	skew         time.Duration
	now          func() time.Time
	metrics      MetricsRecorder
	onUnknownKey func()
}

// New creates a verifier reading keys from store.
func New(cfg Config, store *signing.Store, opts ...Option) (*Verifier, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: key store is required", ErrInvalidConfig)
	}
	if len(cfg.Issuers) == 0 {
		return nil, fmt.Errorf("%w: at least one trusted issuer is required", ErrInvalidConfig)
	}
	if len(cfg.AllowedAlgorithms) == 0 {
		return nil, fmt.Errorf("%w: at least one algorithm is required", ErrInvalidConfig)
	}
	for _, alg := range cfg.AllowedAlgorithms {
		if strings.EqualFold(alg, "none") {
			return nil, fmt.Errorf("%w: alg none cannot be allowed", ErrInvalidConfig)
		}
		if jwt.GetSigningMethod(alg) == nil {
			return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, alg)
		}
	}
	if cfg.ClockSkew < 0 {
		return nil, fmt.Errorf("%w: clock skew must not be negative", ErrInvalidConfig)
	}

	issuers := make(map[string]struct{}, len(cfg.Issuers))
	for _, iss := range cfg.Issuers {
		issuers[iss] = struct{}{}
	}

	v := &Verifier{
		store: store,
		parser: jwt.NewParser(
			jwt.WithValidMethods(cfg.AllowedAlgorithms),
			jwt.WithoutClaimsValidation(),
		),
		issuers:  issuers,
		audience: cfg.Audience,
		skew:     cfg.ClockSkew,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks raw against the store's current key set at the current time.
func (v *Verifier) Verify(_ context.Context, raw string) (*claims.ClaimSet, error) {
	cs, err := v.VerifyWith(raw, v.store.Current(), v.now())
	if err != nil {
		reason := ReasonOf(err)
		v.record(string(reason))
		if reason == ReasonUnknownKey && v.onUnknownKey != nil {
			v.onUnknownKey()
		}
		return nil, err
	}
	v.record(resultValid)
	return cs, nil
}

// VerifyWith checks raw against an explicit key set and instant. It has no
// side effects. Every error is a *Rejection.
func (v *Verifier) VerifyWith(raw string, keys *signing.KeySet, now time.Time) (*claims.ClaimSet, error) {
	if strings.Count(raw, ".") != 2 {
		return nil, reject(ReasonMalformed, jwt.ErrTokenMalformed)
	}

	token, err := v.parser.Parse(raw, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: %w", errUnknownKey, errMissingKeyID)
		}
		// iss is unverified here; it only selects the issuer's key scope and
		// is checked against the trusted issuers after the signature.
		mc, _ := token.Claims.(jwt.MapClaims)
		iss, _ := mc["iss"].(string)
		key, ok := keys.Resolve(kid, iss)
		if !ok {
			return nil, fmt.Errorf("%w: %s", errUnknownKey, kid)
		}
		if !key.Accepts(token.Method.Alg()) {
			return nil, fmt.Errorf("%w: kid %s, alg %s", errKeyAlgorithm, kid, token.Method.Alg())
		}
		return key.Material, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, reject(ReasonMalformed, errors.New("unexpected claims type"))
	}
	cs, err := claims.FromMapClaims(mc)
	if err != nil {
		return nil, reject(ReasonMalformed, err)
	}

	if err := v.checkTimes(cs, now); err != nil {
		return nil, err
	}
	if _, trusted := v.issuers[cs.Issuer]; !trusted {
		return nil, reject(ReasonUntrustedIssuer, fmt.Errorf("issuer %q", cs.Issuer))
	}
	if v.audience != "" && len(cs.Audience) > 0 && !cs.HasAudience(v.audience) {
		return nil, reject(ReasonAudienceMismatch, fmt.Errorf("audience %v", cs.Audience))
	}

	return cs, nil
}

// checkTimes applies an inclusive window: now == exp and now == nbf are valid.
func (v *Verifier) checkTimes(cs *claims.ClaimSet, now time.Time) error {
	if now.After(cs.ExpiresAt.Add(v.skew)) {
		return reject(ReasonExpired, fmt.Errorf("expired at %s", cs.ExpiresAt.UTC().Format(time.RFC3339)))
	}
	if !cs.NotBefore.IsZero() && now.Before(cs.NotBefore.Add(-v.skew)) {
		return reject(ReasonNotYetValid, fmt.Errorf("not valid before %s", cs.NotBefore.UTC().Format(time.RFC3339)))
	}
	if !cs.IssuedAt.IsZero() && now.Before(cs.IssuedAt.Add(-v.skew)) {
		return reject(ReasonNotYetValid, fmt.Errorf("issued in the future at %s", cs.IssuedAt.UTC().Format(time.RFC3339)))
	}
	return nil
}

// classify maps parser errors onto rejection reasons. Anything that is not
// clearly malformed or an unknown key is treated as a signature failure:
// disallowed or unknown algorithms, key/alg mismatches, bad signatures.
func classify(err error) *Rejection {
	switch {
	case errors.Is(err, errUnknownKey):
		return reject(ReasonUnknownKey, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return reject(ReasonMalformed, err)
	default:
		return reject(ReasonBadSignature, err)
	}
}

func (v *Verifier) record(result string) {
	if v.metrics != nil {
		v.metrics.RecordVerification(result)
	}
}
