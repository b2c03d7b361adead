// Package reconcile decides, per incoming candidate, whether the venue store
// gets an insert, an update, a conflict flag, or a duplicate flag. Every
// record terminates in exactly one decision; failures are recorded, never
// fatal for the batch.
package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/venue-sync/internal/domain"
	"github.com/couchcryptid/venue-sync/internal/observability"
)

// Store is the venue persistence surface the engine mutates.
type Store interface {
	FindByExactName(ctx context.Context, name string) ([]domain.VenueRecord, error)
	FindByCity(ctx context.Context, city string) ([]domain.VenueRecord, error)
	FindByOsmIdentity(ctx context.Context, id domain.OsmIdentity) (*domain.VenueRecord, error)
	Insert(ctx context.Context, v domain.VenueRecord) error
	Update(ctx context.Context, id uuid.UUID, patch domain.VenuePatch) error
}

// Geocoder resolves one input record to at most one candidate.
type Geocoder interface {
	Search(ctx context.Context, address, city, postcode string) (*domain.GeocodeCandidate, error)
}

// Options tune one reconciliation run.
type Options struct {
	// DryRun suppresses store mutations. Decisions, audit records, and
	// counters are produced exactly as in a live run.
	DryRun bool

	// AddressDistanceMax widens or narrows the address similarity gate.
	// Zero means domain.AddressDistanceDefault.
	AddressDistanceMax int

	// ProximityMeters is the coordinate gate for OSM name matches. Zero
	// means domain.ProximityGateLive.
	ProximityMeters float64

	// Concurrency bounds in-flight record processing. Zero means 8.
	Concurrency int

	// PlaceholderImage is stamped on OSM inserts that supply no image.
	PlaceholderImage string
}

func (o Options) addressDistance() int {
	if o.AddressDistanceMax > 0 {
		return o.AddressDistanceMax
	}
	return domain.AddressDistanceDefault
}

func (o Options) proximity() float64 {
	if o.ProximityMeters > 0 {
		return o.ProximityMeters
	}
	return domain.ProximityGateLive
}

func (o Options) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return 8
}

// Engine applies the decision state machine for both ingestion flows.
type Engine struct {
	store   Store
	opts    Options
	metrics *observability.Metrics
	logger  *slog.Logger

	// mu serializes the lookup-decide-write section so records sharing a
	// city observe each other's decisions within one run. Fetches stay
	// concurrent; only the decision step is serialized.
	mu      sync.Mutex
	cache   *runCache
	current *Report
	running bool
}

// New creates an Engine for one run.
func New(store Store, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
		cache:   newRunCache(store),
	}
}

// Status is a point-in-time view of the engine's run, served over HTTP so
// operators can watch long batches without tailing logs.
type Status struct {
	Flow     string   `json:"flow"`
	Running  bool     `json:"running"`
	DryRun   bool     `json:"dry_run"`
	Counters Counters `json:"counters"`
}

// Status snapshots the current (or most recent) run.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{Running: e.running, DryRun: e.opts.DryRun}
	if e.current != nil {
		s.Flow = e.current.Flow
		s.Counters = e.current.Counters
	}
	return s
}

// beginRun and endRun bracket a reconciliation pass for status reporting.
func (e *Engine) beginRun(report *Report) {
	e.mu.Lock()
	e.current = report
	e.running = true
	e.mu.Unlock()
}

func (e *Engine) endRun() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// Report aggregates one run's audit outputs.
type Report struct {
	Flow       string
	Decisions  []domain.Decision // action ledger, one entry per processed record
	Conflicts  []domain.Decision
	Duplicates []domain.Decision // geocoded flow only
	Counters   Counters
	Elapsed    time.Duration
	Fatal      string // set when the run aborted before processing any record
}

// Counters are the aggregate tallies of one run.
type Counters struct {
	Processed  int `json:"processed"`
	Inserted   int `json:"inserted"`
	Updated    int `json:"updated"`
	Conflicts  int `json:"conflicts"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// record files a decision into the ledger and counters. Callers hold e.mu.
func (r *Report) record(d domain.Decision) {
	r.Decisions = append(r.Decisions, d)
	r.Counters.Processed++

	switch d.Action {
	case domain.ActionInsert:
		r.Counters.Inserted++
	case domain.ActionUpdate:
		r.Counters.Updated++
	case domain.ActionConflict:
		r.Counters.Conflicts++
		r.Conflicts = append(r.Conflicts, d)
	case domain.ActionDuplicate:
		r.Counters.Duplicates++
		r.Duplicates = append(r.Duplicates, d)
	case domain.ActionError:
		r.Counters.Errors++
	}
}

// runCache is the per-run read-through cache of store rows. Rows inserted or
// updated during the run are reflected here immediately, so later records in
// the same batch see prior decisions regardless of dry-run mode.
type runCache struct {
	store  Store
	cities map[string][]*domain.VenueRecord // key: normalized city
	byID   map[uuid.UUID]*domain.VenueRecord
}

func newRunCache(store Store) *runCache {
	return &runCache{
		store:  store,
		cities: make(map[string][]*domain.VenueRecord),
		byID:   make(map[uuid.UUID]*domain.VenueRecord),
	}
}

func cityKey(city string) string {
	return domain.NormalizeAddress(city)
}

// cityRows returns the rows for a city, fetching them from the store on
// first access.
func (c *runCache) cityRows(ctx context.Context, city string) ([]*domain.VenueRecord, error) {
	key := cityKey(city)
	if rows, ok := c.cities[key]; ok {
		return rows, nil
	}

	fetched, err := c.store.FindByCity(ctx, city)
	if err != nil {
		return nil, err
	}

	rows := make([]*domain.VenueRecord, 0, len(fetched))
	for i := range fetched {
		rows = append(rows, c.adopt(&fetched[i]))
	}
	c.cities[key] = rows
	return rows, nil
}

// findByName returns rows matching name case-insensitively: the store's
// matches merged with rows created or mutated earlier in this run.
func (c *runCache) findByName(ctx context.Context, name string) ([]*domain.VenueRecord, error) {
	fetched, err := c.store.FindByExactName(ctx, name)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool)
	var out []*domain.VenueRecord
	for i := range fetched {
		row := c.adopt(&fetched[i])
		out = append(out, row)
		seen[row.ID] = true
	}
	for _, row := range c.byID {
		if !seen[row.ID] && equalFoldName(row.Name, name) {
			out = append(out, row)
		}
	}
	return out, nil
}

// findByIdentity returns the row carrying the OSM identity, preferring the
// run's own view over the store.
func (c *runCache) findByIdentity(ctx context.Context, id domain.OsmIdentity) (*domain.VenueRecord, error) {
	for _, row := range c.byID {
		if row.Osm == id {
			return row, nil
		}
	}

	fetched, err := c.store.FindByOsmIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	if fetched == nil {
		return nil, nil
	}
	return c.adopt(fetched), nil
}

// addInserted registers a freshly inserted row with the cache.
func (c *runCache) addInserted(v *domain.VenueRecord) {
	c.byID[v.ID] = v
	key := cityKey(v.City)
	if rows, ok := c.cities[key]; ok {
		c.cities[key] = append(rows, v)
	}
}

// adopt deduplicates a fetched row against the run's view: if the row was
// already seen (and possibly mutated) this run, the cached pointer wins.
func (c *runCache) adopt(v *domain.VenueRecord) *domain.VenueRecord {
	if cached, ok := c.byID[v.ID]; ok {
		return cached
	}
	c.byID[v.ID] = v
	return v
}

func equalFoldName(a, b string) bool {
	return strings.EqualFold(a, b)
}
