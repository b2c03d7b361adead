package ban

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/couchcryptid/venue-sync/internal/fetch"
	"github.com/couchcryptid/venue-sync/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache, err := fetch.OpenCache(filepath.Join(t.TempDir(), "ban.jsonl"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	fetcher := fetch.NewClient("ban", cache, fetch.Options{}, observability.NewMetricsForTesting(), logger)
	return NewClient(fetcher, baseURL, logger)
}

const featureBody = `{
	"features": [{
		"geometry": {"coordinates": [-1.5536, 47.2184]},
		"properties": {
			"label": "12 Rue de la Paix 44000 Nantes",
			"score": 0.97,
			"city": "Nantes",
			"postcode": "44000"
		}
	}]
}`

func TestSearch_BestMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "12 Rue de la Paix Nantes", r.URL.Query().Get("q"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "44000", r.URL.Query().Get("postcode"))
		w.Write([]byte(featureBody))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)

	cand, err := c.Search(context.Background(), "12 Rue de la Paix", "Nantes", "44000")
	require.NoError(t, err)
	require.NotNil(t, cand)

	assert.Equal(t, "12 Rue de la Paix 44000 Nantes", cand.Label)
	assert.Equal(t, 0.97, cand.Score)
	assert.Equal(t, 47.2184, cand.Lat)
	assert.Equal(t, -1.5536, cand.Lon)
	assert.Equal(t, "Nantes", cand.City)
	assert.Equal(t, "44000", cand.Postcode)
}

func TestSearch_NoCandidateIsNilAndCached(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"features": []}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)

	cand, err := c.Search(context.Background(), "Nowhere Street", "Nantes", "")
	require.NoError(t, err)
	assert.Nil(t, cand)

	// The empty result was cached: no second network call.
	cand, err = c.Search(context.Background(), "Nowhere Street", "Nantes", "")
	require.NoError(t, err)
	assert.Nil(t, cand)
	assert.Equal(t, int64(1), calls.Load())
}

func TestSearch_MissingFeaturesArrayIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"type": "FeatureCollection"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)

	_, err := c.Search(context.Background(), "12 Rue de la Paix", "Nantes", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid response shape")
}

func TestCacheKey_Deterministic(t *testing.T) {
	assert.Equal(t,
		cacheKey("12 Rue de la Paix", "Nantes", "44000"),
		cacheKey("12 Rue de la Paix", "Nantes", "44000"))
	assert.NotEqual(t,
		cacheKey("12 Rue de la Paix", "Nantes", "44000"),
		cacheKey("12 Rue de la Paix", "Nantes", ""))
}
