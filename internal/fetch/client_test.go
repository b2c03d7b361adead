package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/couchcryptid/venue-sync/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(filepath.Join(t.TempDir(), "cache.jsonl"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func getRequest(url string) BuildFunc {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func validateObject(body []byte) error {
	var v map[string]json.RawMessage
	return json.Unmarshal(body, &v)
}

func TestClient_Lookup_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient("test", testCache(t), Options{}, observability.NewMetricsForTesting(), discardLogger())

	body, err := c.Lookup(context.Background(), "k", getRequest(srv.URL), validateObject)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"ok"}`, string(body))
}

func TestClient_Lookup_CacheDeterminism(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient("test", testCache(t), Options{}, observability.NewMetricsForTesting(), discardLogger())

	first, err := c.Lookup(context.Background(), "same-key", getRequest(srv.URL), validateObject)
	require.NoError(t, err)
	second, err := c.Lookup(context.Background(), "same-key", getRequest(srv.URL), validateObject)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Equal(t, int64(1), calls.Load(), "identical keys must issue exactly one network call")
}

func TestClient_Lookup_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"result":"recovered"}`))
	}))
	defer srv.Close()

	c := NewClient("test", testCache(t), Options{}, observability.NewMetricsForTesting(), discardLogger())

	body, err := c.Lookup(context.Background(), "k", getRequest(srv.URL), validateObject)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"recovered"}`, string(body))
	assert.Equal(t, int64(3), calls.Load())
}

func TestClient_Lookup_RetriesExhausted(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("test", testCache(t), Options{Attempts: 3}, observability.NewMetricsForTesting(), discardLogger())

	_, err := c.Lookup(context.Background(), "k", getRequest(srv.URL), validateObject)
	require.Error(t, err)

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusTooManyRequests, he.Status)
	assert.Equal(t, int64(3), calls.Load(), "attempt budget is 3")
}

func TestClient_Lookup_FatalStatusFailsImmediately(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("test", testCache(t), Options{}, observability.NewMetricsForTesting(), discardLogger())

	_, err := c.Lookup(context.Background(), "k", getRequest(srv.URL), validateObject)
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load(), "4xx other than 429 must not retry")
}

func TestClient_Lookup_InvalidShapeNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`definitely not json`)) //nolint:errcheck
	}))
	defer srv.Close()

	cache := testCache(t)
	c := NewClient("test", cache, Options{}, observability.NewMetricsForTesting(), discardLogger())

	_, err := c.Lookup(context.Background(), "k", getRequest(srv.URL), validateObject)
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len(), "invalid responses must not be cached")
}

func TestClient_Lookup_IgnoreCacheStillWrites(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"result":"fresh"}`))
	}))
	defer srv.Close()

	cache := testCache(t)
	c := NewClient("test", cache, Options{IgnoreCache: true}, observability.NewMetricsForTesting(), discardLogger())

	_, err := c.Lookup(context.Background(), "k", getRequest(srv.URL), validateObject)
	require.NoError(t, err)
	_, err = c.Lookup(context.Background(), "k", getRequest(srv.URL), validateObject)
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load(), "ignore-cache bypasses reads")
	assert.Equal(t, 1, cache.Len(), "responses are still recorded")
}

func TestClient_Lookup_NetworkErrorWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // refuse connections

	c := NewClient("test", testCache(t), Options{Attempts: 2}, observability.NewMetricsForTesting(), discardLogger())

	_, err := c.Lookup(context.Background(), "k", getRequest(srv.URL), validateObject)
	require.Error(t, err)

	var ne *NetworkError
	assert.True(t, errors.As(err, &ne))
}
