package homogenize

import (
	"github.com/couchcryptid/venue-sync/internal/domain"
)

// buildPatch proposes a patch filling only the store row's empty fields from
// the candidate. A populated store field is never overwritten. Coordinates
// are patched as a pair, and only when the stored pair is zero or NaN. The
// sync timestamp is stamped only when the patch carries at least one field.
func buildPatch(s domain.VenueRecord, c Candidate) domain.VenuePatch {
	var p domain.VenuePatch

	fill := func(stored string, offered string) *string {
		if stored != "" || offered == "" {
			return nil
		}
		v := offered
		return &v
	}

	p.Address = fill(s.Address, c.Address)
	p.City = fill(s.City, c.City)
	p.VenueType = fill(s.VenueType, c.VenueType)
	p.Phone = fill(s.Phone, c.Phone)
	p.Website = fill(s.Website, c.Website)
	p.ImageURL = fill(s.ImageURL, c.ImageURL)

	if !hasCoords(s.Lat, s.Lon) && hasCoords(c.Lat, c.Lon) {
		lat := domain.RoundCoord(c.Lat)
		lon := domain.RoundCoord(c.Lon)
		p.Lat = &lat
		p.Lon = &lon
	}

	if len(s.Tags) == 0 && len(c.Tags) > 0 {
		p.Tags = append([]string(nil), c.Tags...)
	}

	if !p.Empty() {
		now := domain.Now()
		p.SyncedAt = &now
	}
	return p
}
