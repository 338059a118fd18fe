package signing

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestKeyAccepts(t *testing.T) {
	rsaKey := generateRSAKey(t)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name string
		key  Key
		alg  string
		want bool
	}{
		{"rsa accepts RS256", Key{ID: "a", Material: &rsaKey.PublicKey}, "RS256", true},
		{"rsa accepts PS384", Key{ID: "a", Material: &rsaKey.PublicKey}, "PS384", true},
		{"rsa rejects HS256", Key{ID: "a", Material: &rsaKey.PublicKey}, "HS256", false},
		{"ecdsa accepts ES256", Key{ID: "b", Material: &ecKey.PublicKey}, "ES256", true},
		{"ecdsa rejects RS256", Key{ID: "b", Material: &ecKey.PublicKey}, "RS256", false},
		{"ed25519 accepts EdDSA", Key{ID: "c", Material: edPub}, "EdDSA", true},
		{"secret accepts HS512", Key{ID: "d", Material: []byte("secret")}, "HS512", true},
		{"secret rejects RS256", Key{ID: "d", Material: []byte("secret")}, "RS256", false},
		{"pinned alg must match", Key{ID: "e", Algorithm: "RS256", Material: &rsaKey.PublicKey}, "RS512", false},
		{"pinned alg matches", Key{ID: "e", Algorithm: "RS256", Material: &rsaKey.PublicKey}, "RS256", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.Accepts(tt.alg))
		})
	}
}

func TestNewKeySet(t *testing.T) {
	rsaKey := generateRSAKey(t)
	loadedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("builds set", func(t *testing.T) {
		set, err := NewKeySet(loadedAt,
			Key{ID: "k2", Material: &rsaKey.PublicKey},
			Key{ID: "k1", Material: []byte("secret")},
		)
		require.NoError(t, err)
		assert.Equal(t, 2, set.Len())
		assert.Equal(t, []string{"k1", "k2"}, set.IDs())
		assert.Equal(t, loadedAt, set.LoadedAt())

		key, ok := set.Lookup("k2")
		require.True(t, ok)
		assert.Same(t, &rsaKey.PublicKey, key.Material)

		_, ok = set.Lookup("missing")
		assert.False(t, ok)
		_, ok = set.Lookup("")
		assert.False(t, ok)
	})

	t.Run("rejects empty kid", func(t *testing.T) {
		_, err := NewKeySet(loadedAt, Key{Material: []byte("secret")})
		assert.ErrorIs(t, err, ErrEmptyKeyID)
	})

	t.Run("rejects duplicate kid", func(t *testing.T) {
		_, err := NewKeySet(loadedAt,
			Key{ID: "k1", Material: []byte("a")},
			Key{ID: "k1", Material: []byte("b")},
		)
		assert.ErrorIs(t, err, ErrDuplicateKeyID)
	})

	t.Run("rejects unsupported material", func(t *testing.T) {
		_, err := NewKeySet(loadedAt, Key{ID: "k1", Material: "not a key"})
		assert.ErrorIs(t, err, ErrUnsupportedKey)

		_, err = NewKeySet(loadedAt, Key{ID: "k1", Material: []byte{}})
		assert.ErrorIs(t, err, ErrUnsupportedKey)
	})
}

func TestMerge(t *testing.T) {
	now := time.Now()
	a, err := NewKeySet(now, Key{ID: "a", Material: []byte("a")})
	require.NoError(t, err)
	b, err := NewKeySet(now, Key{ID: "b", Material: []byte("b")})
	require.NoError(t, err)

	merged := Merge(now, a, nil, b)
	assert.Equal(t, []string{"a", "b"}, merged.IDs())
	assert.Empty(t, merged.Shadowed())
	assert.Equal(t, now, merged.LoadedAt())

	t.Run("earlier set wins on shared kid", func(t *testing.T) {
		other, err := NewKeySet(now, Key{ID: "a", Material: []byte("other")})
		require.NoError(t, err)

		merged := Merge(now, a, other)
		assert.Equal(t, 1, merged.Len())
		assert.Equal(t, []string{"a"}, merged.Shadowed())

		key, ok := merged.Lookup("a")
		require.True(t, ok)
		assert.Equal(t, []byte("a"), key.Material)
	})

	t.Run("same kid under different issuers is kept", func(t *testing.T) {
		idpA, err := a.WithIssuer("https://a.example.com")
		require.NoError(t, err)
		other, err := NewKeySet(now, Key{ID: "a", Material: []byte("other")})
		require.NoError(t, err)
		idpB, err := other.WithIssuer("https://b.example.com")
		require.NoError(t, err)

		merged := Merge(now, idpA, idpB)
		assert.Equal(t, []string{"a@https://a.example.com", "a@https://b.example.com"}, merged.IDs())
		assert.Empty(t, merged.Shadowed())
	})
}

func TestKeySetResolve(t *testing.T) {
	now := time.Now()
	scoped, err := NewKeySet(now,
		Key{ID: "k1", Issuer: "https://a.example.com", Material: []byte("a")},
		Key{ID: "k2", Issuer: "https://a.example.com", Material: []byte("a2")},
		Key{ID: "k1", Material: []byte("shared")},
	)
	require.NoError(t, err)

	tests := []struct {
		name   string
		kid    string
		issuer string
		want   []byte
		found  bool
	}{
		{"scoped key for its issuer", "k1", "https://a.example.com", []byte("a"), true},
		{"unscoped fallback for other issuer", "k1", "https://b.example.com", []byte("shared"), true},
		{"unscoped key without issuer", "k1", "", []byte("shared"), true},
		{"scoped key hidden from other issuer", "k2", "https://b.example.com", nil, false},
		{"scoped key hidden without issuer", "k2", "", nil, false},
		{"unknown kid", "k3", "https://a.example.com", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := scoped.Resolve(tt.kid, tt.issuer)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, key.Material)
			}
		})
	}
}

func TestStore(t *testing.T) {
	store := NewStore(nil)
	require.NotNil(t, store.Current())
	assert.Equal(t, 0, store.Current().Len())

	first, err := NewKeySet(time.Now(), Key{ID: "a", Material: []byte("a")})
	require.NoError(t, err)
	second, err := NewKeySet(time.Now(), Key{ID: "b", Material: []byte("b")})
	require.NoError(t, err)

	store.Swap(first)
	assert.Same(t, first, store.Current())

	prev := store.Swap(second)
	assert.Same(t, first, prev)
	assert.Same(t, second, store.Current())

	store.Swap(nil)
	assert.Same(t, second, store.Current())
}

func TestStore_ConcurrentSwapServesCompleteSets(t *testing.T) {
	sets := make([]*KeySet, 4)
	for i := range sets {
		var err error
		sets[i], err = NewKeySet(time.Now(),
			Key{ID: "current", Material: []byte("current")},
			Key{ID: fmt.Sprintf("gen-%d", i), Material: []byte("gen")},
		)
		require.NoError(t, err)
	}
	store := NewStore(sets[0])

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil; i++ {
			store.Swap(sets[i%len(sets)])
		}
	}()

	var wgReaders sync.WaitGroup
	var incomplete atomic.Int32
	for r := 0; r < 8; r++ {
		wgReaders.Add(1)
		go func() {
			defer wgReaders.Done()
			for i := 0; i < 500; i++ {
				set := store.Current()
				if _, ok := set.Lookup("current"); !ok || set.Len() != 2 {
					incomplete.Add(1)
				}
			}
		}()
	}
	wgReaders.Wait()
	cancel()
	wg.Wait()

	assert.Zero(t, incomplete.Load())
}
