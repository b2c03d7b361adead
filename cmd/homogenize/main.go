// Command homogenize joins an external candidate CSV against store rows that
// lack an OSM identity and emits proposed UPDATE statements plus review
// reports. It never writes to the database.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/couchcryptid/venue-sync/internal/adapter/nominatim"
	"github.com/couchcryptid/venue-sync/internal/adapter/postgres"
	"github.com/couchcryptid/venue-sync/internal/config"
	"github.com/couchcryptid/venue-sync/internal/domain"
	"github.com/couchcryptid/venue-sync/internal/fetch"
	"github.com/couchcryptid/venue-sync/internal/homogenize"
	"github.com/couchcryptid/venue-sync/internal/observability"
)

func main() {
	input := flag.String("candidates", "", "candidate CSV (name,address,city,lat,lon[,venue_type,phone,website,image_url])")
	outDir := flag.String("out", "", "output directory (defaults to AUDIT_DIR)")
	geocodeMissing := flag.Bool("geocode-missing", false, "resolve missing candidate coordinates through Nominatim")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: homogenize -candidates venues.csv [-out dir] [-geocode-missing]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *outDir == "" {
		*outDir = cfg.AuditDir
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	candidates, err := readCandidates(*input)
	if err != nil {
		logger.Error("failed to read candidates", "path", *input, "error", err)
		os.Exit(1)
	}
	logger.Info("candidates loaded", "path", *input, "count", len(candidates))

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	rows, err := store.FindWithoutOsmIdentity(ctx)
	if err != nil {
		logger.Error("failed to load store rows", "error", err)
		os.Exit(1)
	}
	logger.Info("store rows without identity loaded", "count", len(rows))

	if *geocodeMissing {
		if err := fillCoordinates(ctx, cfg, metrics, logger, candidates); err != nil {
			logger.Error("failed to geocode candidates", "error", err)
			os.Exit(1)
		}
	}

	matcher := homogenize.NewMatcher(cfg.HomogenizeMeters, logger)
	res := matcher.Match(rows, candidates)

	if err := writeOutputs(*outDir, res); err != nil {
		logger.Error("failed to write outputs", "error", err)
		os.Exit(1)
	}
	logger.Info("outputs written", "dir", *outDir,
		"matches", len(res.Matches), "ambiguous", len(res.Ambiguities))
}

// fillCoordinates resolves candidates lacking coordinates through Nominatim,
// reusing the fetch cache so repeated runs stay cheap.
func fillCoordinates(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger, candidates []homogenize.Candidate) error {
	cache, err := fetch.OpenCache(filepath.Join(cfg.CacheDir, "nominatim.jsonl"), logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	fetcher := fetch.NewClient("nominatim", cache, fetch.Options{
		Concurrency: cfg.NominatimConcurrency,
		Attempts:    cfg.FetchAttempts,
		Timeout:     cfg.RequestTimeout,
		IgnoreCache: cfg.IgnoreCache,
	}, metrics, logger)
	client := nominatim.NewClient(fetcher, cfg.NominatimURL, logger)

	for i := range candidates {
		c := &candidates[i]
		if c.Lat != 0 || c.Lon != 0 {
			continue
		}
		query := c.Name + " " + c.Address + " " + c.City
		result, err := client.Lookup(ctx, query)
		if err != nil {
			logger.Warn("nominatim lookup failed", "name", c.Name, "error", err)
			continue
		}
		if result == nil {
			continue
		}
		c.Lat = domain.RoundCoord(result.Lat)
		c.Lon = domain.RoundCoord(result.Lon)
		if c.City == "" {
			c.City = result.City
		}
	}
	return nil
}

func writeOutputs(dir string, res *homogenize.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	write := func(name string, fn func(io.Writer) error) error {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		defer f.Close()
		if err := fn(f); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}

	if err := write("homogenize_patches.sql", func(w io.Writer) error {
		return homogenize.WriteStatements(w, res.Matches)
	}); err != nil {
		return err
	}
	if err := write("homogenize_ambiguities.csv", func(w io.Writer) error {
		return homogenize.WriteAmbiguities(w, res.Ambiguities)
	}); err != nil {
		return err
	}
	return write("homogenize_solos.csv", func(w io.Writer) error {
		return homogenize.WriteSolos(w, res)
	})
}

// readCandidates parses the candidate CSV. A header row is detected and
// skipped; columns past city are optional.
func readCandidates(path string) ([]homogenize.Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candidates: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []homogenize.Candidate
	for line := 0; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse candidates: %w", err)
		}
		if line == 0 && len(row) > 0 && row[0] == "name" {
			continue
		}
		if len(row) < 3 {
			return nil, fmt.Errorf("parse candidates: line %d: expected at least 3 columns, got %d", line+1, len(row))
		}
		if len(row) == 4 {
			return nil, fmt.Errorf("parse candidates: line %d: latitude without longitude, coordinates take both columns", line+1)
		}

		c := homogenize.Candidate{Name: row[0], Address: row[1], City: row[2]}
		if len(row) > 4 {
			c.Lat = parseCoord(row[3])
			c.Lon = parseCoord(row[4])
		}
		if len(row) > 5 {
			c.VenueType = row[5]
		}
		if len(row) > 6 {
			c.Phone = row[6]
		}
		if len(row) > 7 {
			c.Website = row[7]
		}
		if len(row) > 8 {
			c.ImageURL = row[8]
		}
		out = append(out, c)
	}
	return out, nil
}

func parseCoord(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
