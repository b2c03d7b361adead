// Package ban queries the BAN (Base Adresse Nationale) geocoder: free-text
// postal address in, at most one best-match candidate out.
package ban

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/couchcryptid/venue-sync/internal/domain"
	"github.com/couchcryptid/venue-sync/internal/fetch"
)

const defaultBaseURL = "https://api-adresse.data.gouv.fr"

// Client resolves addresses through the shared fetch core: cache first, then
// a rate-bounded, retrying HTTP call.
type Client struct {
	fetcher *fetch.Client
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a BAN client on top of a configured fetch client.
func NewClient(fetcher *fetch.Client, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{fetcher: fetcher, baseURL: baseURL, logger: logger}
}

// Search geocodes a free-text address within a city. Returns nil when the
// geocoder has no candidate; that outcome is cached like any other so the
// query is never re-issued.
func (c *Client) Search(ctx context.Context, address, city, postcode string) (*domain.GeocodeCandidate, error) {
	key := cacheKey(address, city, postcode)

	build := func(ctx context.Context) (*http.Request, error) {
		params := url.Values{
			"q":     {address + " " + city},
			"limit": {"1"},
		}
		if postcode != "" {
			params.Set("postcode", postcode)
		}
		u := c.baseURL + "/search/?" + params.Encode()
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	body, err := c.fetcher.Lookup(ctx, key, build, validateShape)
	if err != nil {
		return nil, err
	}

	return parseCandidate(body)
}

// cacheKey is a pure function of the query parameters: identical inputs
// always hit the same cache slot.
func cacheKey(address, city, postcode string) string {
	return fmt.Sprintf("ban|%s|%s|%s", address, city, postcode)
}

// validateShape requires a well-formed feature collection. A body without a
// features array is a failure, not an empty result.
func validateShape(body []byte) error {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return err
	}
	if resp.Features == nil {
		return errors.New("missing features array")
	}
	return nil
}

func parseCandidate(body []byte) (*domain.GeocodeCandidate, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse geocoder response: %w", err)
	}
	if len(resp.Features) == 0 {
		return nil, nil
	}

	f := resp.Features[0]
	cand := &domain.GeocodeCandidate{
		Label:    f.Properties.Label,
		Score:    f.Properties.Score,
		City:     f.Properties.City,
		Postcode: f.Properties.Postcode,
	}
	if len(f.Geometry.Coordinates) == 2 {
		// GeoJSON order is lon, lat.
		cand.Lon = domain.RoundCoord(f.Geometry.Coordinates[0])
		cand.Lat = domain.RoundCoord(f.Geometry.Coordinates[1])
	}
	return cand, nil
}

// BAN GeoJSON response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Geometry   geometry   `json:"geometry"`
	Properties properties `json:"properties"`
}

type geometry struct {
	Coordinates []float64 `json:"coordinates"` // [lon, lat]
}

type properties struct {
	Label    string  `json:"label"`
	Score    float64 `json:"score"`
	City     string  `json:"city"`
	Postcode string  `json:"postcode"`
}
