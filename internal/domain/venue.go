package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InputRecord is one row of the operator-supplied venue CSV. Immutable after
// parsing.
type InputRecord struct {
	Name     string
	Address  string
	City     string
	Postcode string // optional
}

// Validate reports the mandatory fields missing from the record. A record
// failing validation is recorded immediately and never triggers a network
// lookup.
func (r InputRecord) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(r.Address) == "" {
		missing = append(missing, "address")
	}
	if strings.TrimSpace(r.City) == "" {
		missing = append(missing, "city")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// GeocodeCandidate is the best match returned by the geocoder for one input
// record. A nil candidate means the geocoder found nothing.
type GeocodeCandidate struct {
	Label    string  // full formatted address as returned by the geocoder
	Score    float64 // provider confidence in [0,1]
	Lat      float64
	Lon      float64
	City     string // city resolved by the geocoder
	Postcode string
}

// OsmElementKind discriminates the three OpenStreetMap element types.
type OsmElementKind string

// OSM element kinds.
const (
	OsmNode     OsmElementKind = "node"
	OsmWay      OsmElementKind = "way"
	OsmRelation OsmElementKind = "relation"
)

// OsmIdentity is the (kind, id) pair that uniquely identifies an element
// across OpenStreetMap.
type OsmIdentity struct {
	Kind OsmElementKind
	ID   int64
}

// String renders the identity as "node/123456".
func (id OsmIdentity) String() string {
	return fmt.Sprintf("%s/%d", id.Kind, id.ID)
}

// Zero reports whether the identity is unset.
func (id OsmIdentity) Zero() bool {
	return id.Kind == "" && id.ID == 0
}

// OsmAddress holds the structured addr:* tags of an element.
type OsmAddress struct {
	HouseNumber string
	Street      string
	Postcode    string
	City        string
}

// String joins house number and street into a single address line.
func (a OsmAddress) String() string {
	if a.HouseNumber == "" {
		return a.Street
	}
	return a.HouseNumber + " " + a.Street
}

// OsmContact holds the contact tags of an element.
type OsmContact struct {
	Phone   string
	Website string
}

// OsmVenueCandidate is an amenity element fetched from Overpass.
type OsmVenueCandidate struct {
	Identity  OsmIdentity
	Name      string
	Lat       float64
	Lon       float64
	VenueType string // derived from amenity/shop/cuisine tags
	Address   OsmAddress
	Contact   OsmContact
	ImageURL  string
	Tags      map[string]string // raw tag map, kept for audit
}

// AreaCandidate is one administrative boundary returned by the boundary query
// service. Used only to pick the search scope for amenity queries.
type AreaCandidate struct {
	BoundaryID int64
	Name       string
	AdminLevel int
	Population int64 // 0 when the boundary carries no population estimate
}

// VenueRecord is a row of the persisted venue store. Mutated only through the
// store's insert and update operations.
type VenueRecord struct {
	ID          uuid.UUID
	Name        string
	Address     string
	City        string
	Lat         float64
	Lon         float64
	Osm         OsmIdentity // zero when the row has no OSM identity
	VenueType   string
	Phone       string
	Website     string
	ImageURL    string
	Categorized bool
	Tags        []string
	SyncedAt    time.Time
}

// VenuePatch is a partial update. Nil fields are omitted from the payload
// rather than sent as explicit nulls.
type VenuePatch struct {
	Name        *string
	Address     *string
	City        *string
	Lat         *float64
	Lon         *float64
	Osm         *OsmIdentity
	VenueType   *string
	Phone       *string
	Website     *string
	ImageURL    *string
	Categorized *bool
	Tags        []string // nil leaves the stored list untouched
	SyncedAt    *time.Time
}

// Empty reports whether the patch would change nothing.
func (p VenuePatch) Empty() bool {
	return p.Name == nil && p.Address == nil && p.City == nil &&
		p.Lat == nil && p.Lon == nil && p.Osm == nil &&
		p.VenueType == nil && p.Phone == nil && p.Website == nil &&
		p.ImageURL == nil && p.Categorized == nil && p.Tags == nil &&
		p.SyncedAt == nil
}
