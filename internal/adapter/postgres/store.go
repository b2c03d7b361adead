// Package postgres persists venue records. All lookups and mutations are
// single-row statements; the reconciliation engine relies on no transactional
// guarantee beyond that.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/venue-sync/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const venueColumns = `id, name, address, city, lat, lon, osm_kind, osm_id,
	venue_type, phone, website, image_url, categorized, tags, synced_at`

// StoreError wraps a persistence-layer failure with the operation that
// produced it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store is the venue store backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool against the given DSN and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// CheckReadiness reports whether the database answers a ping.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the venues table and its indexes if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return &StoreError{Op: "ensure schema", Err: err}
	}
	return nil
}

// FindByExactName returns every row whose name equals name
// case-insensitively.
func (s *Store) FindByExactName(ctx context.Context, name string) ([]domain.VenueRecord, error) {
	return s.query(ctx, "find by name",
		`SELECT `+venueColumns+` FROM venues WHERE lower(name) = lower($1)`, name)
}

// FindByCity returns every row in the given city, matched
// case-insensitively.
func (s *Store) FindByCity(ctx context.Context, city string) ([]domain.VenueRecord, error) {
	return s.query(ctx, "find by city",
		`SELECT `+venueColumns+` FROM venues WHERE lower(city) = lower($1)`, city)
}

// FindByOsmIdentity returns the row carrying the given external identity, or
// nil when none does.
func (s *Store) FindByOsmIdentity(ctx context.Context, id domain.OsmIdentity) (*domain.VenueRecord, error) {
	rows, err := s.query(ctx, "find by osm identity",
		`SELECT `+venueColumns+` FROM venues WHERE osm_kind = $1 AND osm_id = $2`,
		string(id.Kind), id.ID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FindWithoutOsmIdentity returns the rows lacking external identity, the
// input set of the homogenization matcher.
func (s *Store) FindWithoutOsmIdentity(ctx context.Context) ([]domain.VenueRecord, error) {
	return s.query(ctx, "find without osm identity",
		`SELECT `+venueColumns+` FROM venues WHERE osm_kind IS NULL OR osm_kind = ''`)
}

// Insert writes a new venue row.
func (s *Store) Insert(ctx context.Context, v domain.VenueRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO venues (`+venueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, v.ID, v.Name, v.Address, v.City, v.Lat, v.Lon,
		nullIfEmpty(string(v.Osm.Kind)), nullIfZero(v.Osm.ID),
		v.VenueType, v.Phone, v.Website, v.ImageURL, v.Categorized, v.Tags,
		nullIfZeroTime(v.SyncedAt))
	if err != nil {
		return &StoreError{Op: "insert", Err: err}
	}
	return nil
}

// Update applies a partial update: only the patch's non-nil fields appear in
// the statement, so unknown values are omitted rather than written as nulls.
func (s *Store) Update(ctx context.Context, id uuid.UUID, patch domain.VenuePatch) error {
	if patch.Empty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Address != nil {
		add("address", *patch.Address)
	}
	if patch.City != nil {
		add("city", *patch.City)
	}
	if patch.Lat != nil {
		add("lat", *patch.Lat)
	}
	if patch.Lon != nil {
		add("lon", *patch.Lon)
	}
	if patch.Osm != nil {
		add("osm_kind", string(patch.Osm.Kind))
		add("osm_id", patch.Osm.ID)
	}
	if patch.VenueType != nil {
		add("venue_type", *patch.VenueType)
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.Website != nil {
		add("website", *patch.Website)
	}
	if patch.ImageURL != nil {
		add("image_url", *patch.ImageURL)
	}
	if patch.Categorized != nil {
		add("categorized", *patch.Categorized)
	}
	if patch.Tags != nil {
		add("tags", patch.Tags)
	}
	if patch.SyncedAt != nil {
		add("synced_at", *patch.SyncedAt)
	}

	args = append(args, id)
	sql := fmt.Sprintf("UPDATE venues SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))

	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return &StoreError{Op: "update", Err: err}
	}
	return nil
}

func (s *Store) query(ctx context.Context, op, sql string, args ...any) ([]domain.VenueRecord, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, &StoreError{Op: op, Err: err}
	}
	defer rows.Close()

	var out []domain.VenueRecord
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			return nil, &StoreError{Op: op, Err: err}
		}
		out = append(out, v)
	}
	if rows.Err() != nil {
		return nil, &StoreError{Op: op, Err: rows.Err()}
	}
	return out, nil
}

func scanVenue(row pgx.Row) (domain.VenueRecord, error) {
	var (
		v        domain.VenueRecord
		osmKind  *string
		osmID    *int64
		venueTyp *string
		phone    *string
		website  *string
		imageURL *string
		syncedAt *time.Time
	)
	err := row.Scan(&v.ID, &v.Name, &v.Address, &v.City, &v.Lat, &v.Lon,
		&osmKind, &osmID, &venueTyp, &phone, &website, &imageURL,
		&v.Categorized, &v.Tags, &syncedAt)
	if err != nil {
		return domain.VenueRecord{}, err
	}

	if osmKind != nil && osmID != nil {
		v.Osm = domain.OsmIdentity{Kind: domain.OsmElementKind(*osmKind), ID: *osmID}
	}
	v.VenueType = deref(venueTyp)
	v.Phone = deref(phone)
	v.Website = deref(website)
	v.ImageURL = deref(imageURL)
	if syncedAt != nil {
		v.SyncedAt = *syncedAt
	}
	return v, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(n int64) *int64 {
	if n == 0 {
		return nil
	}
	return &n
}

func nullIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
