package jwks

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
)

func testGenerateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	require := require.New(t)
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)
	return k
}

func testKeySet(kids ...interface{}) *jose.JSONWebKeySet {
	set := &jose.JSONWebKeySet{}
	for i := 0; i < len(kids); i += 2 {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       kids[i+1].(*ecdsa.PrivateKey).Public(),
			KeyID:     kids[i].(string),
			Algorithm: "ES256",
			Use:       "sig",
		})
	}
	return set
}

// testKeyServer serves the given key set and counts requests.  The optional
// delay keeps concurrent fetches overlapping so coalescing is observable.
func testKeyServer(t *testing.T, keys *jose.JSONWebKeySet, delay time.Duration) (*httptest.Server, *int32) {
	t.Helper()
	var count int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keys)
	}))
	t.Cleanup(s.Close)
	return s, &count
}

func TestCache_Key(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	priv := testGenerateKey(t)

	t.Run("fresh-entry-served-from-cache", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, count := testKeyServer(t, testKeySet("kid-1", priv), 0)

		c := NewCache()
		got, err := c.Key(ctx, s.URL, "kid-1")
		require.NoError(err)
		assert.Equal("kid-1", got.KeyID)

		got, err = c.Key(ctx, s.URL, "kid-1")
		require.NoError(err)
		assert.Equal("kid-1", got.KeyID)
		assert.Equal(int32(1), atomic.LoadInt32(count))
	})

	t.Run("stale-entry-refetched", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, count := testKeyServer(t, testKeySet("kid-1", priv), 0)

		now := time.Now()
		c := NewCache(WithTTL(1*time.Minute), WithNow(func() time.Time { return now }))
		_, err := c.Key(ctx, s.URL, "kid-1")
		require.NoError(err)

		now = now.Add(2 * time.Minute)
		_, err = c.Key(ctx, s.URL, "kid-1")
		require.NoError(err)
		assert.Equal(int32(2), atomic.LoadInt32(count))
	})

	t.Run("unknown-kid-forces-one-refresh", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, count := testKeyServer(t, testKeySet("kid-1", priv), 0)

		c := NewCache()
		_, err := c.Key(ctx, s.URL, "kid-1")
		require.NoError(err)

		_, err = c.Key(ctx, s.URL, "rotated-away")
		require.Error(err)
		assert.True(errors.Is(err, ErrKeyNotFound))
		assert.Equal(int32(2), atomic.LoadInt32(count))
	})

	t.Run("empty-kid-single-key", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, _ := testKeyServer(t, testKeySet("kid-1", priv), 0)

		c := NewCache()
		got, err := c.Key(ctx, s.URL, "")
		require.NoError(err)
		assert.Equal("kid-1", got.KeyID)
	})

	t.Run("empty-kid-ambiguous", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		other := testGenerateKey(t)
		s, _ := testKeyServer(t, testKeySet("kid-1", priv, "kid-2", other), 0)

		c := NewCache()
		_, err := c.Key(ctx, s.URL, "")
		require.Error(err)
		assert.True(errors.Is(err, ErrKeyNotFound))
	})

	t.Run("empty-url", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c := NewCache()
		_, err := c.Key(ctx, "", "kid-1")
		require.Error(err)
		assert.True(errors.Is(err, ErrNoVerificationKeys))
	})

	t.Run("fetch-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(s.Close)

		c := NewCache()
		_, err := c.Key(ctx, s.URL, "kid-1")
		require.Error(err)
		assert.True(errors.Is(err, ErrFetchFailed))
	})

	t.Run("malformed-key-set", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("It's not a keyset!"))
		}))
		t.Cleanup(s.Close)

		c := NewCache()
		_, err := c.Key(ctx, s.URL, "kid-1")
		require.Error(err)
		assert.True(errors.Is(err, ErrFetchFailed))
	})
}

func TestCache_ConcurrentRefresh(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	priv := testGenerateKey(t)
	s, count := testKeyServer(t, testKeySet("kid-1", priv), 50*time.Millisecond)

	c := NewCache()

	const workers = 10
	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := c.Key(ctx, s.URL, "kid-1")
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(err)
	}
	assert.Equal(int32(1), atomic.LoadInt32(count), "concurrent misses must share one fetch")
}
