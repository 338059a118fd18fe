package signing

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// ParseJWKS decodes a JSON Web Key Set document into a KeySet.
//
// Keys meant for encryption, keys without a kid and symmetric (oct) keys are
// skipped: shared secrets never come from a published document. Private keys
// are reduced to their public half.
func ParseJWKS(data []byte, loadedAt time.Time) (*KeySet, error) {
	set, err := jwk.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make([]Key, 0, set.Len())
	seen := make(map[string]struct{}, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if key.KeyID() == "" || key.KeyUsage() == string(jwk.ForEncryption) {
			continue
		}
		if key.KeyType() == jwa.OctetSeq {
			continue
		}
		if _, dup := seen[key.KeyID()]; dup {
			continue
		}

		material, err := rawPublicKey(key)
		if err != nil {
			continue
		}
		if validateMaterial(material) != nil {
			continue
		}

		seen[key.KeyID()] = struct{}{}
		keys = append(keys, Key{
			ID:        key.KeyID(),
			Algorithm: key.Algorithm().String(),
			Material:  material,
		})
	}

	if len(keys) == 0 {
		return nil, ErrNoUsableKeys
	}
	return NewKeySet(loadedAt, keys...)
}

func rawPublicKey(key jwk.Key) (any, error) {
	pub, err := key.PublicKey()
	if err != nil {
		return nil, err
	}
	var raw any
	if err := pub.Raw(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}
