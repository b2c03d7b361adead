// Command osm-sync resolves a city to its administrative boundary, fetches
// amenity-tagged elements inside it from Overpass, and reconciles them
// against the store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	httpadapter "github.com/couchcryptid/venue-sync/internal/adapter/http"
	"github.com/couchcryptid/venue-sync/internal/adapter/overpass"
	"github.com/couchcryptid/venue-sync/internal/adapter/postgres"
	"github.com/couchcryptid/venue-sync/internal/area"
	"github.com/couchcryptid/venue-sync/internal/config"
	"github.com/couchcryptid/venue-sync/internal/fetch"
	"github.com/couchcryptid/venue-sync/internal/observability"
	"github.com/couchcryptid/venue-sync/internal/reconcile"
)

const defaultAmenities = "bar,cafe,fast_food,nightclub,pub,restaurant"

func main() {
	city := flag.String("city", "", "city to sync")
	country := flag.String("country", "FR", "ISO3166-1 country scope for the boundary query")
	adminLevel := flag.Int("admin-level", 8, "administrative level of the boundary")
	amenityList := flag.String("amenities", defaultAmenities, "comma-separated amenity values to fetch")
	dryRun := flag.Bool("dry-run", false, "compute decisions without writing to the store")
	flag.Parse()

	if *city == "" {
		fmt.Fprintln(os.Stderr, "usage: osm-sync -city Nantes [-country FR] [-admin-level 8] [-amenities bar,restaurant] [-dry-run]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	cache, err := fetch.OpenCache(filepath.Join(cfg.CacheDir, "overpass.jsonl"), logger)
	if err != nil {
		logger.Error("failed to open cache", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	fetcher := fetch.NewClient("overpass", cache, fetch.Options{
		Concurrency: cfg.OverpassConcurrency,
		Attempts:    cfg.FetchAttempts,
		Timeout:     cfg.RequestTimeout,
		IgnoreCache: cfg.IgnoreCache,
	}, metrics, logger)
	client := overpass.NewClient(fetcher, cfg.OverpassURL, logger)

	overrides, err := area.LoadOverrides(cfg.OverridesPath)
	if err != nil {
		logger.Error("failed to load area overrides", "error", err)
		os.Exit(1)
	}
	resolver := area.NewResolver(client, overrides, logger)

	res, err := resolver.Resolve(ctx, *city, *country, *adminLevel)
	if err != nil {
		reason := fmt.Sprintf("boundary resolution failed for %s: %v", *city, err)
		if errors.Is(err, area.ErrNoBoundary) {
			reason = fmt.Sprintf("no boundary found for %s", *city)
			logger.Error("no boundary found for city", "city", *city, "country", *country, "admin_level", *adminLevel)
		} else {
			logger.Error("boundary resolution failed", "city", *city, "error", err)
		}
		saveFatal(logger, cfg.AuditDir, reason)
		os.Exit(1)
	}
	logger.Info("boundary resolved",
		"city", *city,
		"boundary_id", res.Winner.BoundaryID,
		"population", res.Winner.Population,
		"ambiguous", res.Ambiguous,
	)

	amenities := splitAmenities(*amenityList)
	venues, err := client.QueryAmenities(ctx, res.Winner.BoundaryID, amenities)
	if err != nil {
		logger.Error("amenity query failed", "boundary_id", res.Winner.BoundaryID, "error", err)
		os.Exit(1)
	}
	logger.Info("amenities fetched", "count", len(venues))

	engine := reconcile.New(store, reconcile.Options{
		DryRun:             cfg.DryRun || *dryRun,
		AddressDistanceMax: cfg.AddressDistanceMax,
		ProximityMeters:    cfg.ProximityMeters,
		Concurrency:        cfg.BatchConcurrency,
		PlaceholderImage:   cfg.PlaceholderImage,
	}, metrics, logger)

	srv := httpadapter.NewServer(cfg.HTTPAddr, store, engine, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	report := engine.ReconcileOsm(ctx, venues)
	if err := report.Save(cfg.AuditDir); err != nil {
		logger.Error("failed to write audit files", "error", err)
		os.Exit(1)
	}
	logger.Info("audit files written", "dir", cfg.AuditDir)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}

// saveFatal writes the audit file set for a run that aborted before
// processing any record, so even fatal runs leave a report behind.
func saveFatal(logger *slog.Logger, dir, reason string) {
	if err := reconcile.NewFatalReport(reconcile.FlowOsm, reason).Save(dir); err != nil {
		logger.Error("failed to write audit files", "error", err)
	}
}

func splitAmenities(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
