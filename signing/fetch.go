package signing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const maxJWKSBytes = 1 << 20

// ErrJWKSFetchFailed is returned when JWKS fetching fails
var ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")

// Fetcher loads a complete key set from its source.
type Fetcher interface {
	Fetch(ctx context.Context) (*KeySet, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (*KeySet, error)

// Fetch calls f(ctx).
func (f FetcherFunc) Fetch(ctx context.Context) (*KeySet, error) {
	return f(ctx)
}

// HTTPFetcher downloads a JWKS document from the identity provider.
type HTTPFetcher struct {
	url        string
	httpClient *http.Client
	now        func() time.Time
}

// NewHTTPFetcher creates a fetcher for url. A nil client gets a 10s timeout.
func NewHTTPFetcher(url string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFetcher{
		url:        url,
		httpClient: client,
		now:        time.Now,
	}
}

// URL returns the JWKS location.
func (f *HTTPFetcher) URL() string {
	return f.url
}

// Fetch downloads and decodes the key set.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status code %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	if len(body) > maxJWKSBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrJWKSFetchFailed, maxJWKSBytes)
	}

	return ParseJWKS(body, f.now())
}

// FileFetcher reads a JWKS document from disk.
type FileFetcher struct {
	path string
	now  func() time.Time
}

// NewFileFetcher creates a fetcher for a local JWKS file.
func NewFileFetcher(path string) *FileFetcher {
	return &FileFetcher{path: path, now: time.Now}
}

// Fetch reads and decodes the file.
func (f *FileFetcher) Fetch(ctx context.Context) (*KeySet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS file: %w", err)
	}
	return ParseJWKS(data, f.now())
}

// StaticKeys returns a fetcher that always yields the same keys, e.g. a
// shared secret from configuration.
func StaticKeys(keys ...Key) (Fetcher, error) {
	set, err := NewKeySet(time.Now(), keys...)
	if err != nil {
		return nil, err
	}
	return FetcherFunc(func(context.Context) (*KeySet, error) {
		return set, nil
	}), nil
}

// ForIssuer scopes every key from f to issuer, so a discovered provider's
// keys only verify that provider's tokens.
func ForIssuer(issuer string, f Fetcher) Fetcher {
	return FetcherFunc(func(ctx context.Context) (*KeySet, error) {
		set, err := f.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		return set.WithIssuer(issuer)
	})
}

// MultiFetcher merges the key sets of several sources. Every source must
// succeed, otherwise the refresh keeps the previous set. Sources listed first
// win when two of them publish the same kid in the same scope.
type MultiFetcher []Fetcher

// Fetch loads every source and merges the results.
func (m MultiFetcher) Fetch(ctx context.Context) (*KeySet, error) {
	sets := make([]*KeySet, 0, len(m))
	for _, f := range m {
		set, err := f.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return Merge(time.Now(), sets...), nil
}
