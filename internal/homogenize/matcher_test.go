package homogenize

import (
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/venue-sync/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func storeRow(name, address, city string, lat, lon float64) domain.VenueRecord {
	return domain.VenueRecord{
		ID:      uuid.New(),
		Name:    name,
		Address: address,
		City:    city,
		Lat:     lat,
		Lon:     lon,
	}
}

func TestMatch_OneToOneConfirmed(t *testing.T) {
	m := NewMatcher(0, discardLogger())

	res := m.Match(
		[]domain.VenueRecord{storeRow("Le Central", "", "Nantes", 47.2184, -1.5536)},
		[]Candidate{{
			Name:    "Central",
			Address: "12 Rue de la Paix",
			City:    "Nantes",
			Lat:     47.21841,
			Lon:     -1.55361,
			Phone:   "+33 2 40 00 00 00",
		}},
	)

	require.Len(t, res.Matches, 1)
	assert.Empty(t, res.Ambiguities)
	match := res.Matches[0]
	assert.Less(t, match.Distance, 5.0)

	require.NotNil(t, match.Patch.Address)
	assert.Equal(t, "12 Rue de la Paix", *match.Patch.Address)
	require.NotNil(t, match.Patch.Phone)
	assert.Nil(t, match.Patch.City, "populated city is never overwritten")
	assert.Nil(t, match.Patch.Lat, "populated coordinates are never overwritten")
	assert.NotNil(t, match.Patch.SyncedAt)
}

func TestMatch_StoreSideMultiplicity(t *testing.T) {
	m := NewMatcher(0, discardLogger())

	res := m.Match(
		[]domain.VenueRecord{
			storeRow("Le Central", "12 Rue de la Paix", "Nantes", 47.2184, -1.5536),
			storeRow("Central", "99 Boulevard Victor Hugo", "Nantes", 47.2100, -1.5600),
		},
		[]Candidate{{Name: "Le Central", Lat: 47.2184, Lon: -1.5536}},
	)

	assert.Empty(t, res.Matches)
	require.Len(t, res.Ambiguities, 1)
	a := res.Ambiguities[0]
	assert.Equal(t, AmbiguityStoreSide, a.Kind)
	assert.Len(t, a.StoreNames, 2)
	assert.Greater(t, a.Score, 0.9, "identical normalized names score high")
}

func TestMatch_CandidateSideAndBothSides(t *testing.T) {
	m := NewMatcher(0, discardLogger())

	res := m.Match(
		[]domain.VenueRecord{
			storeRow("La Cigale", "4 Place Graslin", "Nantes", 47.2128, -1.5625),
			storeRow("Le Lieu Unique", "Quai Ferdinand Favre", "Nantes", 47.2155, -1.5458),
			storeRow("Lieu Unique", "Quai Ferdinand Favre", "Nantes", 47.2155, -1.5458),
		},
		[]Candidate{
			{Name: "Cigale", Lat: 47.2128, Lon: -1.5625},
			{Name: "La Cigale", Lat: 47.2128, Lon: -1.5625},
			{Name: "Lieu Unique", Lat: 47.2155, Lon: -1.5458},
			{Name: "Le Lieu Unique", Lat: 47.2155, Lon: -1.5458},
		},
	)

	require.Len(t, res.Ambiguities, 2)
	kinds := map[string]string{}
	for _, a := range res.Ambiguities {
		kinds[a.Bucket] = a.Kind
	}
	assert.Equal(t, AmbiguityCandidateSide, kinds["cigale"])
	assert.Equal(t, AmbiguityBothSides, kinds["lieu unique"])
}

func TestMatch_DistanceGateDemotesToAmbiguous(t *testing.T) {
	m := NewMatcher(500, discardLogger())

	res := m.Match(
		[]domain.VenueRecord{storeRow("Le Central", "12 Rue de la Paix", "Nantes", 47.2184, -1.5536)},
		[]Candidate{{Name: "Le Central", Lat: 47.2264, Lon: -1.5536}},
	)

	assert.Empty(t, res.Matches)
	require.Len(t, res.Ambiguities, 1)
	a := res.Ambiguities[0]
	assert.Equal(t, AmbiguityDistance, a.Kind)
	assert.InDelta(t, 890, a.Distance, 150)
}

func TestMatch_MissingCoordinatesNeverBlock(t *testing.T) {
	m := NewMatcher(500, discardLogger())

	res := m.Match(
		[]domain.VenueRecord{storeRow("Le Central", "12 Rue de la Paix", "Nantes", 0, 0)},
		[]Candidate{{Name: "Le Central", Lat: 47.2184, Lon: -1.5536}},
	)

	require.Len(t, res.Matches, 1)
	assert.True(t, math.IsNaN(res.Matches[0].Distance))
	require.NotNil(t, res.Matches[0].Patch.Lat, "zero coordinates are patched from the candidate")
	assert.InDelta(t, 47.2184, *res.Matches[0].Patch.Lat, 1e-9)
}

func TestMatch_SoloSides(t *testing.T) {
	m := NewMatcher(0, discardLogger())

	res := m.Match(
		[]domain.VenueRecord{storeRow("Le Central", "12 Rue de la Paix", "Nantes", 47.2184, -1.5536)},
		[]Candidate{{Name: "La Cigale", Lat: 47.2128, Lon: -1.5625}},
	)

	assert.Empty(t, res.Matches)
	assert.Empty(t, res.Ambiguities)
	require.Len(t, res.SoloStore, 1)
	require.Len(t, res.SoloCandidates, 1)
	assert.Equal(t, "Le Central", res.SoloStore[0].Name)
	assert.Equal(t, "La Cigale", res.SoloCandidates[0].Name)
}

func TestMatch_ScoreFallbackPairsNearNames(t *testing.T) {
	m := NewMatcher(0, discardLogger())

	// Different normalized forms ("marcel traiteur" vs "marcel traiteurs"),
	// so the bucket pass leaves both solo; the scored pass pairs them.
	res := m.Match(
		[]domain.VenueRecord{storeRow("Chez Marcel Traiteur", "", "Nantes", 47.2184, -1.5536)},
		[]Candidate{{
			Name:    "Marcel Traiteurs",
			Address: "3 Rue Kervegan",
			Lat:     47.2185,
			Lon:     -1.5537,
		}},
	)

	require.Len(t, res.Matches, 1)
	assert.Empty(t, res.Ambiguities)
	assert.Empty(t, res.SoloStore)
	assert.Empty(t, res.SoloCandidates)
	require.NotNil(t, res.Matches[0].Patch.Address)
	assert.Equal(t, "3 Rue Kervegan", *res.Matches[0].Patch.Address)
}

func TestMatch_ScoreFallbackNearTieIsAmbiguous(t *testing.T) {
	m := NewMatcher(0, discardLogger())

	res := m.Match(
		[]domain.VenueRecord{storeRow("Chez Marcel", "", "Nantes", 47.2184, -1.5536)},
		[]Candidate{
			{Name: "Marcell", Lat: 47.2184, Lon: -1.5536},
			{Name: "Marcels", Lat: 47.2184, Lon: -1.5536},
		},
	)

	assert.Empty(t, res.Matches)
	require.Len(t, res.Ambiguities, 1)
	a := res.Ambiguities[0]
	assert.Equal(t, AmbiguityScore, a.Kind)
	assert.Equal(t, []string{"Chez Marcel"}, a.StoreNames)
	assert.Len(t, a.CandidateNames, 2, "both near-tied contenders are reported")
	assert.GreaterOrEqual(t, a.Score, domain.MatchScoreFloor)
}

func TestBuildPatch_Minimality(t *testing.T) {
	s := domain.VenueRecord{
		Name:    "Le Central",
		Address: "12 Rue de la Paix",
		City:    "Nantes",
		Lat:     47.2184,
		Lon:     -1.5536,
		Phone:   "",
		Tags:    []string{"bar"},
	}
	c := Candidate{
		Name:    "Le Central",
		Address: "12 bis Rue de la Paix",
		City:    "Nantes",
		Lat:     47.9,
		Lon:     -1.9,
		Phone:   "+33 2 40 00 00 00",
		Website: "https://le-central.example",
		Tags:    []string{"restaurant"},
	}

	p := buildPatch(s, c)

	// Only fields empty on the store side may appear.
	assert.Nil(t, p.Address)
	assert.Nil(t, p.City)
	assert.Nil(t, p.Lat)
	assert.Nil(t, p.Lon)
	assert.Nil(t, p.Tags)
	require.NotNil(t, p.Phone)
	assert.Equal(t, "+33 2 40 00 00 00", *p.Phone)
	require.NotNil(t, p.Website)
	assert.NotNil(t, p.SyncedAt)
}

func TestBuildPatch_EmptyWhenNothingToFill(t *testing.T) {
	s := domain.VenueRecord{
		Name: "Le Central", Address: "12 Rue de la Paix", City: "Nantes",
		Lat: 47.2184, Lon: -1.5536,
		Phone: "+33 2 40 00 00 00", Website: "w", ImageURL: "i", VenueType: "bar",
		Tags: []string{"bar"},
	}
	c := Candidate{Name: "Le Central", Address: "other", Phone: "other"}

	p := buildPatch(s, c)
	assert.True(t, p.Empty())
	assert.Nil(t, p.SyncedAt, "timestamp only stamps non-empty patches")
}

func TestBuildPatch_NaNCoordinatesArePatchable(t *testing.T) {
	s := domain.VenueRecord{Name: "Le Central", Lat: math.NaN(), Lon: math.NaN()}
	c := Candidate{Name: "Le Central", Lat: 47.2184, Lon: -1.5536}

	p := buildPatch(s, c)
	require.NotNil(t, p.Lat)
	require.NotNil(t, p.Lon)
	assert.InDelta(t, -1.5536, *p.Lon, 1e-9)
}

func TestBuildPatch_StampsFrozenClock(t *testing.T) {
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(frozen))
	t.Cleanup(func() { domain.SetClock(nil) })

	p := buildPatch(domain.VenueRecord{Name: "X"}, Candidate{Name: "X", Address: "1 Rue A"})
	require.NotNil(t, p.SyncedAt)
	assert.True(t, p.SyncedAt.Equal(frozen))
}

func TestWriteAmbiguities(t *testing.T) {
	var b strings.Builder
	err := WriteAmbiguities(&b, []Ambiguity{
		{
			Bucket:         "central",
			Kind:           AmbiguityStoreSide,
			StoreNames:     []string{"Le Central", "Central"},
			CandidateNames: []string{"Le Central"},
			Distance:       math.NaN(),
			Score:          0.981,
		},
		{
			Bucket:         "cigale",
			Kind:           AmbiguityDistance,
			StoreNames:     []string{"La Cigale"},
			CandidateNames: []string{"La Cigale"},
			Distance:       742.3,
			Score:          1,
		},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "bucket,kind,store_names,candidate_names,distance_m,score", lines[0])
	assert.Contains(t, lines[1], "central,store_side,Le Central; Central,Le Central,,0.981")
	assert.Contains(t, lines[2], "742.3")
}

func TestWriteSolos(t *testing.T) {
	var b strings.Builder
	res := &Result{
		SoloStore:      []domain.VenueRecord{{Name: "Le Central", Address: "12 Rue de la Paix", City: "Nantes"}},
		SoloCandidates: []Candidate{{Name: "La Cigale", City: "Nantes"}},
	}
	require.NoError(t, WriteSolos(&b, res))

	out := b.String()
	assert.Contains(t, out, "store,Le Central,12 Rue de la Paix,Nantes")
	assert.Contains(t, out, "candidate,La Cigale,,Nantes")
}
