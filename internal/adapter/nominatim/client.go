// Package nominatim queries a Nominatim endpoint as the alternate geocoder
// used by the offline homogenization helper. It follows the same cache and
// retry discipline as the primary geocoder.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/couchcryptid/venue-sync/internal/domain"
	"github.com/couchcryptid/venue-sync/internal/fetch"
)

const defaultBaseURL = "https://nominatim.openstreetmap.org"

// Result is one Nominatim place: address components, category tags, and a
// free-text display name.
type Result struct {
	DisplayName string
	Lat         float64
	Lon         float64
	Category    string
	Type        string
	City        string
	Postcode    string
	Street      string
	HouseNumber string
}

// Client issues free-text Nominatim searches.
type Client struct {
	fetcher *fetch.Client
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a Nominatim client on top of a configured fetch client.
func NewClient(fetcher *fetch.Client, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{fetcher: fetcher, baseURL: baseURL, logger: logger}
}

// Lookup returns the best match for a free-text query, or nil when Nominatim
// has none. "No result" is cached like a hit so the query is not re-issued.
func (c *Client) Lookup(ctx context.Context, query string) (*Result, error) {
	key := "nominatim|" + query

	build := func(ctx context.Context) (*http.Request, error) {
		params := url.Values{
			"q":              {query},
			"format":         {"jsonv2"},
			"addressdetails": {"1"},
			"limit":          {"1"},
		}
		u := c.baseURL + "/search?" + params.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "venue-sync/1.0")
		return req, nil
	}

	body, err := c.fetcher.Lookup(ctx, key, build, validateShape)
	if err != nil {
		return nil, err
	}

	var places []place
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, fmt.Errorf("parse nominatim response: %w", err)
	}
	if len(places) == 0 {
		return nil, nil
	}

	p := places[0]
	return &Result{
		DisplayName: p.DisplayName,
		Lat:         domain.RoundCoord(floatOrZero(p.Lat)),
		Lon:         domain.RoundCoord(floatOrZero(p.Lon)),
		Category:    p.Category,
		Type:        p.Type,
		City:        firstNonEmpty(p.Address.City, p.Address.Town, p.Address.Village),
		Postcode:    p.Address.Postcode,
		Street:      p.Address.Road,
		HouseNumber: p.Address.HouseNumber,
	}, nil
}

// validateShape requires a JSON array; Nominatim returns [] for no results.
func validateShape(body []byte) error {
	var places []place
	return json.Unmarshal(body, &places)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func floatOrZero(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// Nominatim response types. Coordinates arrive as strings.

type place struct {
	DisplayName string  `json:"display_name"`
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	Category    string  `json:"category"`
	Type        string  `json:"type"`
	Address     address `json:"address"`
}

type address struct {
	Road        string `json:"road"`
	HouseNumber string `json:"house_number"`
	Postcode    string `json:"postcode"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
}
