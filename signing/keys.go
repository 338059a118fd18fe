// Package signing owns the signing material used to verify bearer tokens:
// immutable key sets, the atomically swapped store that serves them, and the
// background refresh that replaces them when the identity provider rotates keys.
package signing

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// ErrEmptyKeyID is returned when a key is registered without a kid
	ErrEmptyKeyID = errors.New("key id is required")

	// ErrDuplicateKeyID is returned when two keys of one set share a kid and issuer
	ErrDuplicateKeyID = errors.New("duplicate key id")

	// ErrUnsupportedKey is returned for key material the verifier cannot use
	ErrUnsupportedKey = errors.New("unsupported key material")

	// ErrNoUsableKeys is returned when a key document yields no keys
	ErrNoUsableKeys = errors.New("no usable keys")
)

// Key is a single verification key.
// Material is one of *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey or
// a []byte shared secret. Algorithm pins the key to one JWS alg when set.
// Issuer, when set, limits the key to tokens carrying that iss.
type Key struct {
	ID        string
	Algorithm string
	Issuer    string
	Material  any
}

func (k Key) ref() keyRef {
	return keyRef{issuer: k.Issuer, id: k.ID}
}

// label is the key's display name: the kid, qualified by its issuer when scoped.
func (k Key) label() string {
	if k.Issuer == "" {
		return k.ID
	}
	return k.ID + "@" + k.Issuer
}

// Accepts reports whether the key may verify a token signed with alg.
func (k Key) Accepts(alg string) bool {
	if k.Algorithm != "" {
		return k.Algorithm == alg
	}

	switch k.Material.(type) {
	case *rsa.PublicKey:
		return strings.HasPrefix(alg, "RS") || strings.HasPrefix(alg, "PS")
	case *ecdsa.PublicKey:
		return strings.HasPrefix(alg, "ES")
	case ed25519.PublicKey:
		return alg == "EdDSA"
	case []byte:
		return strings.HasPrefix(alg, "HS")
	default:
		return false
	}
}

func validateMaterial(material any) error {
	switch m := material.(type) {
	case *rsa.PublicKey:
		if m == nil || m.N == nil {
			return fmt.Errorf("%w: empty rsa key", ErrUnsupportedKey)
		}
	case *ecdsa.PublicKey:
		if m == nil || m.X == nil {
			return fmt.Errorf("%w: empty ecdsa key", ErrUnsupportedKey)
		}
	case ed25519.PublicKey:
		if len(m) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: bad ed25519 key size", ErrUnsupportedKey)
		}
	case []byte:
		if len(m) == 0 {
			return fmt.Errorf("%w: empty shared secret", ErrUnsupportedKey)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedKey, material)
	}
	return nil
}

type keyRef struct {
	issuer string
	id     string
}

// KeySet is an immutable mapping of (issuer, kid) to Key. It is safe for
// concurrent use.
type KeySet struct {
	keys     map[keyRef]Key
	shadowed []string
	loadedAt time.Time
}

// NewKeySet builds a key set. Every key must have a non-empty kid that is
// unique within its issuer scope, and supported material.
func NewKeySet(loadedAt time.Time, keys ...Key) (*KeySet, error) {
	set := &KeySet{
		keys:     make(map[keyRef]Key, len(keys)),
		loadedAt: loadedAt,
	}
	for _, k := range keys {
		if k.ID == "" {
			return nil, ErrEmptyKeyID
		}
		if _, exists := set.keys[k.ref()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKeyID, k.label())
		}
		if err := validateMaterial(k.Material); err != nil {
			return nil, fmt.Errorf("key %s: %w", k.label(), err)
		}
		set.keys[k.ref()] = k
	}
	return set, nil
}

// Lookup returns the unscoped key registered under kid.
func (s *KeySet) Lookup(kid string) (Key, bool) {
	return s.Resolve(kid, "")
}

// Resolve returns the key for kid that may verify a token from issuer. A key
// scoped to issuer wins over an unscoped one; keys scoped to other issuers
// are never returned.
func (s *KeySet) Resolve(kid, issuer string) (Key, bool) {
	if s == nil || kid == "" {
		return Key{}, false
	}
	if issuer != "" {
		if k, ok := s.keys[keyRef{issuer: issuer, id: kid}]; ok {
			return k, true
		}
	}
	k, ok := s.keys[keyRef{id: kid}]
	return k, ok
}

// Len returns the number of keys in the set.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// IDs returns the sorted key labels: the kid, or kid@issuer for scoped keys.
func (s *KeySet) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.keys))
	for _, k := range s.keys {
		ids = append(ids, k.label())
	}
	sort.Strings(ids)
	return ids
}

// Shadowed lists keys that Merge skipped because an earlier set already
// held the same kid in the same issuer scope.
func (s *KeySet) Shadowed() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.shadowed...)
}

// LoadedAt returns when the set was built.
func (s *KeySet) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// WithIssuer returns a copy of the set with every key scoped to issuer.
func (s *KeySet) WithIssuer(issuer string) (*KeySet, error) {
	keys := make([]Key, 0, s.Len())
	if s != nil {
		for _, k := range s.keys {
			k.Issuer = issuer
			keys = append(keys, k)
		}
	}
	return NewKeySet(s.LoadedAt(), keys...)
}

// Merge returns a new set holding the keys of all given sets. When two sets
// carry the same kid in the same issuer scope the earlier one wins and the
// later key is recorded in Shadowed.
func Merge(loadedAt time.Time, sets ...*KeySet) *KeySet {
	merged := &KeySet{
		keys:     make(map[keyRef]Key),
		loadedAt: loadedAt,
	}
	for _, s := range sets {
		if s == nil {
			continue
		}
		refs := make([]keyRef, 0, len(s.keys))
		for ref := range s.keys {
			refs = append(refs, ref)
		}
		sort.Slice(refs, func(i, j int) bool {
			if refs[i].issuer != refs[j].issuer {
				return refs[i].issuer < refs[j].issuer
			}
			return refs[i].id < refs[j].id
		})
		for _, ref := range refs {
			k := s.keys[ref]
			if _, exists := merged.keys[ref]; exists {
				merged.shadowed = append(merged.shadowed, k.label())
				continue
			}
			merged.keys[ref] = k
		}
	}
	return merged
}

// Store serves the current key set. Readers always see a complete set; a
// refresh publishes its replacement with a single atomic swap.
type Store struct {
	current atomic.Pointer[KeySet]
}

// NewStore creates a store holding initial, or an empty set when nil.
func NewStore(initial *KeySet) *Store {
	s := &Store{}
	if initial == nil {
		initial = &KeySet{keys: map[keyRef]Key{}}
	}
	s.current.Store(initial)
	return s
}

// Current returns the last fully loaded key set.
func (s *Store) Current() *KeySet {
	return s.current.Load()
}

// Swap publishes next and returns the previous set. A nil next is ignored.
func (s *Store) Swap(next *KeySet) *KeySet {
	if next == nil {
		return s.current.Load()
	}
	return s.current.Swap(next)
}
