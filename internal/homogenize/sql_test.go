package homogenize

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/venue-sync/internal/domain"
)

func TestWriteStatements(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	address := "12 Rue de l'Arche Sèche"
	lat, lon := 47.2184, -1.5536
	synced := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	matches := []Match{
		{
			Store: domain.VenueRecord{ID: id, Name: "L'Atelier"},
			Patch: domain.VenuePatch{
				Address:  &address,
				Lat:      &lat,
				Lon:      &lon,
				Tags:     []string{"bar", "l'annexe"},
				SyncedAt: &synced,
			},
		},
		{
			// Empty patch: no statement emitted.
			Store: domain.VenueRecord{ID: uuid.New(), Name: "La Cigale"},
			Patch: domain.VenuePatch{},
		},
	}

	var b strings.Builder
	require.NoError(t, WriteStatements(&b, matches))

	out := strings.TrimSpace(b.String())
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 1, "empty patches produce no statement")

	stmt := lines[0]
	assert.True(t, strings.HasPrefix(stmt, "UPDATE venues SET "))
	assert.Contains(t, stmt, "address = '12 Rue de l''Arche Sèche'", "single quotes doubled")
	assert.Contains(t, stmt, "lat = 47.2184")
	assert.Contains(t, stmt, "tags = ARRAY['bar', 'l''annexe']")
	assert.Contains(t, stmt, "synced_at = '2026-03-01T12:00:00Z'")
	assert.True(t, strings.HasSuffix(stmt, "WHERE id = '6ba7b810-9dad-11d1-80b4-00c04fd430c8';"))
}
