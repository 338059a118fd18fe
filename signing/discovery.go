package signing

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// ErrDiscoveryFailed is returned when the issuer metadata cannot be resolved
var ErrDiscoveryFailed = errors.New("oidc discovery failed")

// DiscoverJWKSURL resolves jwks_uri from the issuer's
// /.well-known/openid-configuration document.
func DiscoverJWKSURL(ctx context.Context, issuer string, client *http.Client) (string, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}

	var metadata struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := provider.Claims(&metadata); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}
	if metadata.JWKSURL == "" {
		return "", fmt.Errorf("%w: missing jwks_uri", ErrDiscoveryFailed)
	}
	return metadata.JWKSURL, nil
}
