package jwks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/square/go-jose.v2"
)

// maxResponseSize bounds a key set response body.
const maxResponseSize = 1024 * 1024 // 1MB

// Cache is a URL-keyed cache of JSON Web Key Sets.  It is safe for
// concurrent use: reads never block on a refresh of an unrelated URL, and
// concurrent refreshes of the same URL share one underlying fetch.
type Cache struct {
	client  *http.Client
	ttl     time.Duration
	nowFunc func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry

	group singleflight.Group
}

// Entry is one cached key set.
type Entry struct {
	Keys      *jose.JSONWebKeySet
	FetchedAt time.Time
	SourceURL string
}

// NewCache creates a key set cache.
// Supported options: WithHTTPClient, WithTTL, WithNow
func NewCache(opt ...Option) *Cache {
	opts := getCacheOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Cache{
		client:  client,
		ttl:     opts.withTTL,
		nowFunc: opts.withNowFunc,
		entries: map[string]*Entry{},
	}
}

func (c *Cache) now() time.Time {
	if c.nowFunc != nil {
		return c.nowFunc()
	}
	return time.Now()
}

// Key returns the verification key for kid from the key set published at
// jwksURL.  A stale entry, or a fresh entry missing the kid (key rotation),
// forces one refresh of that entry before the lookup fails with
// ErrKeyNotFound.  An empty kid is allowed when the key set holds exactly
// one key.
func (c *Cache) Key(ctx context.Context, jwksURL, kid string) (*jose.JSONWebKey, error) {
	const op = "jwks.Cache.Key"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwks URL is empty: %w", op, ErrNoVerificationKeys)
	}

	if e := c.lookup(jwksURL); e != nil && c.fresh(e) {
		if k := findKey(e.Keys, kid); k != nil {
			return k, nil
		}
	}

	e, err := c.refresh(ctx, jwksURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if k := findKey(e.Keys, kid); k != nil {
		return k, nil
	}
	return nil, fmt.Errorf("%s: kid %q: %w", op, kid, ErrKeyNotFound)
}

func (c *Cache) lookup(jwksURL string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[jwksURL]
}

func (c *Cache) fresh(e *Entry) bool {
	return c.now().Sub(e.FetchedAt) < c.ttl
}

// refresh fetches the key set at jwksURL and replaces its cache entry.
// Concurrent callers for the same URL observe a single fetch.
func (c *Cache) refresh(ctx context.Context, jwksURL string) (*Entry, error) {
	v, err, _ := c.group.Do(jwksURL, func() (interface{}, error) {
		keys, err := c.fetch(ctx, jwksURL)
		if err != nil {
			return nil, err
		}
		e := &Entry{
			Keys:      keys,
			FetchedAt: c.now(),
			SourceURL: jwksURL,
		}
		c.mu.Lock()
		c.entries[jwksURL] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func (c *Cache) fetch(ctx context.Context, jwksURL string) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create request for %s: %w", jwksURL, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %v: %w", jwksURL, err, ErrFetchFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d: %w", jwksURL, resp.StatusCode, ErrFetchFailed)
	}

	var keys jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&keys); err != nil {
		return nil, fmt.Errorf("GET %s: decoding key set: %v: %w", jwksURL, err, ErrFetchFailed)
	}
	return &keys, nil
}

// findKey locates kid within keys.  When kid is empty the key set must hold
// exactly one key for the lookup to be unambiguous.
func findKey(keys *jose.JSONWebKeySet, kid string) *jose.JSONWebKey {
	if keys == nil {
		return nil
	}
	if kid == "" {
		if len(keys.Keys) == 1 {
			return &keys.Keys[0]
		}
		return nil
	}
	if matches := keys.Key(kid); len(matches) > 0 {
		return &matches[0]
	}
	return nil
}
