// Package area resolves a city name to exactly one administrative boundary,
// the scope for amenity queries.
package area

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/couchcryptid/venue-sync/internal/domain"
)

// ErrNoBoundary is returned when the boundary query yields zero candidates.
// Terminal for the OSM flow: the run reports it and stops, it never crashes.
var ErrNoBoundary = errors.New("no administrative boundary found")

// BoundaryQuerier fetches boundary candidates by name and admin level.
type BoundaryQuerier interface {
	QueryBoundaries(ctx context.Context, name string, adminLevel int, countryCode string) ([]domain.AreaCandidate, error)
}

// Resolution is the outcome of resolving one city.
type Resolution struct {
	Winner domain.AreaCandidate

	// Ambiguous is set when more than one candidate survived the exact-name
	// filter and the population estimates could not single one out. A
	// decisive population winner is not ambiguous.
	Ambiguous bool

	// Alternates lists every pool member considered, winner included, for
	// the review report.
	Alternates []domain.AreaCandidate
}

// Resolver picks a unique boundary for a city.
type Resolver struct {
	boundaries BoundaryQuerier
	overrides  Overrides
	logger     *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(boundaries BoundaryQuerier, overrides Overrides, logger *slog.Logger) *Resolver {
	if overrides == nil {
		overrides = Overrides{}
	}
	return &Resolver{boundaries: boundaries, overrides: overrides, logger: logger}
}

// Resolve returns the boundary for city at the given admin level, optionally
// scoped to a country. Candidates whose name equals the target
// case-insensitively take precedence; among those the highest population
// estimate wins, with missing populations counting as zero.
func (r *Resolver) Resolve(ctx context.Context, city, countryCode string, adminLevel int) (Resolution, error) {
	queryName := city
	queryLevel := adminLevel

	if ov, ok := r.overrides.Lookup(city); ok {
		if ov.BoundaryID != 0 {
			r.logger.Info("using boundary override", "city", city, "boundary_id", ov.BoundaryID)
			return Resolution{
				Winner:     domain.AreaCandidate{BoundaryID: ov.BoundaryID, Name: city, AdminLevel: adminLevel},
				Alternates: nil,
			}, nil
		}
		if ov.Name != "" {
			queryName = ov.Name
		}
		if ov.AdminLevel != 0 {
			queryLevel = ov.AdminLevel
		}
		r.logger.Info("using scope override", "city", city, "query_name", queryName, "admin_level", queryLevel)
	}

	candidates, err := r.boundaries.QueryBoundaries(ctx, queryName, queryLevel, countryCode)
	if err != nil {
		return Resolution{}, err
	}
	if len(candidates) == 0 {
		return Resolution{}, ErrNoBoundary
	}

	pool := exactNameMatches(candidates, queryName)
	if len(pool) == 0 {
		pool = candidates
	}

	winner := pool[0]
	for _, c := range pool[1:] {
		if c.Population > winner.Population {
			winner = c
		}
	}

	ambiguous := false
	if len(pool) > 1 {
		topTies := 0
		for _, c := range pool {
			if c.Population == winner.Population {
				topTies++
			}
		}
		ambiguous = topTies > 1
	}

	res := Resolution{
		Winner:     winner,
		Ambiguous:  ambiguous,
		Alternates: pool,
	}
	if res.Ambiguous {
		r.logger.Warn("ambiguous boundary resolution",
			"city", city,
			"candidates", len(pool),
			"winner_id", winner.BoundaryID,
			"winner_population", winner.Population,
		)
	}
	return res, nil
}

func exactNameMatches(candidates []domain.AreaCandidate, name string) []domain.AreaCandidate {
	var out []domain.AreaCandidate
	for _, c := range candidates {
		if strings.EqualFold(c.Name, name) {
			out = append(out, c)
		}
	}
	return out
}
