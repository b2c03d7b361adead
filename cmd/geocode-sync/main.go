// Command geocode-sync reconciles an operator-supplied venue CSV against the
// store, geocoding each row through the BAN address API.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/couchcryptid/venue-sync/internal/adapter/ban"
	httpadapter "github.com/couchcryptid/venue-sync/internal/adapter/http"
	"github.com/couchcryptid/venue-sync/internal/adapter/postgres"
	"github.com/couchcryptid/venue-sync/internal/config"
	"github.com/couchcryptid/venue-sync/internal/domain"
	"github.com/couchcryptid/venue-sync/internal/fetch"
	"github.com/couchcryptid/venue-sync/internal/observability"
	"github.com/couchcryptid/venue-sync/internal/reconcile"
)

func main() {
	input := flag.String("input", "", "venue CSV to reconcile (name,address,city[,postcode])")
	dryRun := flag.Bool("dry-run", false, "compute decisions without writing to the store")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: geocode-sync -input venues.csv [-dry-run]")
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

	records, err := readRecords(*input)
	if err != nil {
		logger.Error("failed to read input", "path", *input, "error", err)
		saveFatal(logger, cfg.AuditDir, fmt.Sprintf("unreadable input %s: %v", *input, err))
		os.Exit(1)
	}
	logger.Info("input loaded", "path", *input, "records", len(records))

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

	cache, err := fetch.OpenCache(filepath.Join(cfg.CacheDir, "ban.jsonl"), logger)
	if err != nil {
		logger.Error("failed to open cache", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	fetcher := fetch.NewClient("ban", cache, fetch.Options{
		Concurrency: cfg.BanConcurrency,
		Attempts:    cfg.FetchAttempts,
		Timeout:     cfg.RequestTimeout,
		IgnoreCache: cfg.IgnoreCache,
	}, metrics, logger)
	geocoder := ban.NewClient(fetcher, cfg.BanURL, logger)

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

	report := engine.ReconcileGeocoded(ctx, geocoder, records)
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
	if err := reconcile.NewFatalReport(reconcile.FlowGeocoded, reason).Save(dir); err != nil {
		logger.Error("failed to write audit files", "error", err)
	}
}

// readRecords parses the input CSV. A header row is detected and skipped;
// the postcode column is optional.
func readRecords(path string) ([]domain.InputRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []domain.InputRecord
	for line := 0; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
		if line == 0 && looksLikeHeader(row) {
			continue
		}
		if len(row) < 3 {
			return nil, fmt.Errorf("parse input: line %d: expected at least 3 columns, got %d", line+1, len(row))
		}

		rec := domain.InputRecord{Name: row[0], Address: row[1], City: row[2]}
		if len(row) > 3 {
			rec.Postcode = row[3]
		}
		out = append(out, rec)
	}
	return out, nil
}

func looksLikeHeader(row []string) bool {
	return len(row) > 0 && row[0] == "name"
}
