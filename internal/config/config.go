// Package config loads runtime settings from environment variables, with a
// .env file honored when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/venue-sync/internal/domain"
)

// Config holds all runtime settings, populated from environment variables.
type Config struct {
	DatabaseURL string
	HTTPAddr    string
	LogLevel    string
	LogFormat   string

	// Fetch clients.
	BanURL               string
	OverpassURL          string
	NominatimURL         string
	BanConcurrency       int
	OverpassConcurrency  int
	NominatimConcurrency int
	RequestTimeout       time.Duration
	FetchAttempts        int
	CacheDir             string
	IgnoreCache          bool

	// Reconciliation.
	DryRun             bool
	AddressDistanceMax int
	ProximityMeters    float64
	HomogenizeMeters   float64
	BatchConcurrency   int
	PlaceholderImage   string
	AuditDir           string
	OverridesPath      string
}

// Load reads configuration from the environment, applying defaults where
// unset. A .env file in the working directory is loaded first; a missing
// file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	timeout, err := parseDuration("REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		HTTPAddr:    envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		LogFormat:   envOrDefault("LOG_FORMAT", "json"),

		BanURL:               envOrDefault("BAN_URL", "https://api-adresse.data.gouv.fr"),
		OverpassURL:          envOrDefault("OVERPASS_URL", "https://overpass-api.de/api/interpreter"),
		NominatimURL:         envOrDefault("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		BanConcurrency:       parsePositiveInt("BAN_CONCURRENCY", 5),
		OverpassConcurrency:  parsePositiveInt("OVERPASS_CONCURRENCY", 1),
		NominatimConcurrency: parsePositiveInt("NOMINATIM_CONCURRENCY", 1),
		RequestTimeout:       timeout,
		FetchAttempts:        parsePositiveInt("FETCH_ATTEMPTS", 3),
		CacheDir:             envOrDefault("CACHE_DIR", "cache"),
		IgnoreCache:          parseBool("IGNORE_CACHE"),

		DryRun:             parseBool("DRY_RUN"),
		AddressDistanceMax: parsePositiveInt("ADDRESS_DISTANCE_MAX", domain.AddressDistanceDefault),
		ProximityMeters:    parseFloat("PROXIMITY_METERS", domain.ProximityGateLive),
		HomogenizeMeters:   parseFloat("HOMOGENIZE_METERS", domain.ProximityGateHomogenize),
		BatchConcurrency:   parsePositiveInt("BATCH_CONCURRENCY", 8),
		PlaceholderImage:   envOrDefault("PLACEHOLDER_IMAGE", "https://static.venue-sync.example/placeholder.jpg"),
		AuditDir:           envOrDefault("AUDIT_DIR", "audit"),
		OverridesPath:      os.Getenv("AREA_OVERRIDES_PATH"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.ProximityMeters <= 0 {
		return nil, errors.New("invalid PROXIMITY_METERS")
	}
	if cfg.HomogenizeMeters <= 0 {
		return nil, errors.New("invalid HOMOGENIZE_METERS")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parsePositiveInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func parseFloat(key string, def float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return def
}

func parseBool(key string) bool {
	return os.Getenv(key) == "true"
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}
