// Package overpass queries an Overpass API endpoint for administrative
// boundaries and amenity-tagged elements. Both query shapes go through the
// shared fetch core, so responses are cached and retried like every other
// external source.
package overpass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/couchcryptid/venue-sync/internal/domain"
	"github.com/couchcryptid/venue-sync/internal/fetch"
)

const defaultBaseURL = "https://overpass-api.de/api/interpreter"

// relationAreaOffset converts an OSM relation id into the Overpass area id
// derived from it.
const relationAreaOffset = 3600000000

// Client issues Overpass QL queries.
type Client struct {
	fetcher *fetch.Client
	baseURL string
	logger  *slog.Logger
}

// NewClient creates an Overpass client on top of a configured fetch client.
func NewClient(fetcher *fetch.Client, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{fetcher: fetcher, baseURL: baseURL, logger: logger}
}

// QueryBoundaries returns every administrative boundary relation matching the
// given name and admin level, optionally scoped to a country code.
func (c *Client) QueryBoundaries(ctx context.Context, name string, adminLevel int, countryCode string) ([]domain.AreaCandidate, error) {
	var b strings.Builder
	b.WriteString("[out:json][timeout:60];\n")
	if countryCode != "" {
		fmt.Fprintf(&b, "area[\"ISO3166-1\"=%q]->.country;\n", countryCode)
		fmt.Fprintf(&b, "relation(area.country)[\"boundary\"=\"administrative\"][\"admin_level\"=%q][\"name\"=%q];\n",
			strconv.Itoa(adminLevel), name)
	} else {
		fmt.Fprintf(&b, "relation[\"boundary\"=\"administrative\"][\"admin_level\"=%q][\"name\"=%q];\n",
			strconv.Itoa(adminLevel), name)
	}
	b.WriteString("out tags;\n")
	query := b.String()

	body, err := c.run(ctx, query)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse boundary response: %w", err)
	}

	areas := make([]domain.AreaCandidate, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		if el.Type != "relation" {
			continue
		}
		areas = append(areas, domain.AreaCandidate{
			BoundaryID: el.ID,
			Name:       el.Tags["name"],
			AdminLevel: atoiOrZero(el.Tags["admin_level"]),
			Population: parsePopulation(el.Tags["population"]),
		})
	}
	return areas, nil
}

// QueryAmenities returns the named amenity elements inside the boundary
// identified by boundaryID (a relation id). Ways and relations without point
// geometry use their center point. Unnamed elements are skipped: they cannot
// be matched against the store.
func (c *Client) QueryAmenities(ctx context.Context, boundaryID int64, amenities []string) ([]domain.OsmVenueCandidate, error) {
	// Sorted for a deterministic query text, hence a deterministic cache key.
	sorted := append([]string(nil), amenities...)
	sort.Strings(sorted)
	pattern := "^(" + strings.Join(sorted, "|") + ")$"

	var b strings.Builder
	b.WriteString("[out:json][timeout:180];\n")
	fmt.Fprintf(&b, "area(%d)->.scope;\n", boundaryID+relationAreaOffset)
	b.WriteString("(\n")
	for _, kind := range []string{"node", "way", "relation"} {
		fmt.Fprintf(&b, "  %s[\"amenity\"~%q](area.scope);\n", kind, pattern)
	}
	b.WriteString(");\nout center tags;\n")
	query := b.String()

	body, err := c.run(ctx, query)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse amenity response: %w", err)
	}

	venues := make([]domain.OsmVenueCandidate, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		v, ok := toVenue(el)
		if !ok {
			continue
		}
		venues = append(venues, v)
	}
	return venues, nil
}

// run executes one Overpass QL query through the fetch core. The cache key is
// the query text itself: identical parameters build identical queries.
func (c *Client) run(ctx context.Context, query string) (json.RawMessage, error) {
	build := func(ctx context.Context) (*http.Request, error) {
		form := url.Values{"data": {query}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL,
			strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	return c.fetcher.Lookup(ctx, "overpass|"+query, build, validateShape)
}

// validateShape requires a well-formed element collection.
func validateShape(body []byte) error {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return err
	}
	if resp.Elements == nil {
		return errors.New("missing elements array")
	}
	return nil
}

func toVenue(el element) (domain.OsmVenueCandidate, bool) {
	name := el.Tags["name"]
	if name == "" {
		return domain.OsmVenueCandidate{}, false
	}

	kind := domain.OsmElementKind(el.Type)
	switch kind {
	case domain.OsmNode, domain.OsmWay, domain.OsmRelation:
	default:
		return domain.OsmVenueCandidate{}, false
	}

	lat, lon := el.Lat, el.Lon
	if lat == 0 && lon == 0 && el.Center != nil {
		lat, lon = el.Center.Lat, el.Center.Lon
	}

	return domain.OsmVenueCandidate{
		Identity:  domain.OsmIdentity{Kind: kind, ID: el.ID},
		Name:      name,
		Lat:       domain.RoundCoord(lat),
		Lon:       domain.RoundCoord(lon),
		VenueType: deriveVenueType(el.Tags),
		Address: domain.OsmAddress{
			HouseNumber: el.Tags["addr:housenumber"],
			Street:      el.Tags["addr:street"],
			Postcode:    el.Tags["addr:postcode"],
			City:        el.Tags["addr:city"],
		},
		Contact: domain.OsmContact{
			Phone:   firstTag(el.Tags, "contact:phone", "phone"),
			Website: firstTag(el.Tags, "contact:website", "website"),
		},
		ImageURL: el.Tags["image"],
		Tags:     el.Tags,
	}, true
}

// deriveVenueType picks the most specific classification tag available.
func deriveVenueType(tags map[string]string) string {
	if cuisine := tags["cuisine"]; cuisine != "" {
		return cuisine
	}
	if amenity := tags["amenity"]; amenity != "" {
		return amenity
	}
	return tags["shop"]
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := tags[k]; v != "" {
			return v
		}
	}
	return ""
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// parsePopulation tolerates the thousand separators that appear in OSM
// population tags ("1 200 000", "1,200,000").
func parsePopulation(s string) int64 {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return 0
	}
	n, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Overpass response types.

type response struct {
	Elements []element `json:"elements"`
}

type element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat,omitempty"`
	Lon    float64           `json:"lon,omitempty"`
	Center *center           `json:"center,omitempty"`
	Tags   map[string]string `json:"tags"`
}

type center struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
