package oidc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/rs/zerolog/log"
)

const jwksFetchTimeout = 5 * time.Second

// snapshot is one fetched key set. It is replaced wholesale on refresh and
// never mutated, so readers can use it without holding the lock.
type snapshot struct {
	fetchedAt time.Time
	keys      map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
}

// KeySetCache holds the signing keys of a single issuer, refreshed when the
// snapshot is older than TTL or when a verification misses a kid.
type KeySetCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu   sync.RWMutex
	snap *snapshot
}

// NewKeySetCache creates a cache for the JWKS document at url.
func NewKeySetCache(url string, ttl time.Duration) *KeySetCache {
	return &KeySetCache{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: jwksFetchTimeout},
	}
}

// JWKSURL derives the conventional JWKS location from an issuer URL.
func JWKSURL(issuer string) string {
	return strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
}

// Key returns the public key for kid from a fresh snapshot, fetching one if
// the cache is empty or stale. A kid absent from a fresh snapshot is NOT
// retried here; the verifier decides whether to force a refresh.
func (c *KeySetCache) Key(ctx context.Context, kid string) (any, bool, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap == nil || time.Since(snap.fetchedAt) > c.ttl {
		var err error
		if snap, err = c.refresh(ctx, time.Now()); err != nil {
			return nil, false, err
		}
	}

	key, ok := snap.keys[kid]
	return key, ok, nil
}

// ForceRefresh discards the current snapshot and fetches a new one. Callers
// that raced another refresh reuse its result instead of fetching again.
func (c *KeySetCache) ForceRefresh(ctx context.Context) (map[string]any, error) {
	snap, err := c.refresh(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	return snap.keys, nil
}

// refresh replaces the snapshot, coalescing concurrent callers: whoever
// enters the critical section first fetches, and anyone who was already
// waiting accepts the snapshot that fetch produced.
func (c *KeySetCache) refresh(ctx context.Context, since time.Time) (*snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap != nil && c.snap.fetchedAt.After(since) {
		return c.snap, nil
	}

	keys, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.snap = &snapshot{fetchedAt: time.Now(), keys: keys}
	log.Debug().Str("url", c.url).Int("keys", len(keys)).Msg("jwks refreshed")
	return c.snap, nil
}

func (c *KeySetCache) fetch(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, jwksFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read jwks body: %w", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}

	keys := make(map[string]any, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, _ := set.Key(i)
		kid := key.KeyID()
		if kid == "" {
			continue
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			log.Warn().Err(err).Str("kid", kid).Msg("skipping unparseable JWK")
			continue
		}
		keys[kid] = raw
	}
	return keys, nil
}
