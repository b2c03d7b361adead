package area

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/couchcryptid/venue-sync/internal/domain"
)

// Override substitutes the boundary scope for one city: either a direct
// boundary id, or replacement query parameters (a different boundary name
// and/or admin level, e.g. a metropolitan perimeter instead of the
// historical city boundary).
type Override struct {
	BoundaryID int64  `yaml:"boundary_id"`
	Name       string `yaml:"name"`
	AdminLevel int    `yaml:"admin_level"`
}

// Overrides is the lookup table keyed by normalized city name. Scope
// exceptions live here, never as conditionals in the resolution algorithm.
type Overrides map[string]Override

type overridesFile struct {
	Overrides map[string]Override `yaml:"overrides"`
}

// LoadOverrides reads the YAML override table. An empty path yields an empty
// table.
func LoadOverrides(path string) (Overrides, error) {
	if path == "" {
		return Overrides{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides file: %w", err)
	}

	var f overridesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse overrides file: %w", err)
	}

	// Keys are normalized so lookups match regardless of accents or case.
	out := make(Overrides, len(f.Overrides))
	for city, ov := range f.Overrides {
		key, _ := domain.NormalizeName(city)
		out[key] = ov
	}
	return out, nil
}

// Lookup returns the override for a city, if one exists.
func (o Overrides) Lookup(city string) (Override, bool) {
	key, _ := domain.NormalizeName(city)
	ov, ok := o[key]
	return ov, ok
}
