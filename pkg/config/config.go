// Package config provides calibration profile loading for mikerovision.
// Profiles are keyed by acquisition condition (a magnification label) and
// loaded once from a YAML file; the resulting table is immutable.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CalibrationProfile bundles the per-acquisition-condition parameters the
// pipeline needs. A profile is selected once per image at the boundary and
// passed through the whole chain unchanged.
type CalibrationProfile struct {
	// ScalingFactor converts pixel lengths to physical units
	// (units per pixel).
	ScalingFactor float64 `yaml:"scalingFactor"`

	// SmoothingSigma is the Gaussian sigma used both for intensity
	// denoising and for smoothing the distance field.
	SmoothingSigma float64 `yaml:"smoothingSigma"`

	// MarkerMinSeparation is the [width, height] of the window within
	// which no two watershed markers may coexist. Larger particles at low
	// magnification need a larger window or single particles split into
	// false markers.
	MarkerMinSeparation [2]int `yaml:"markerMinSeparation"`
}

// Table maps calibration keys to their profiles.
type Table struct {
	Profiles map[string]CalibrationProfile `yaml:"profiles"`
}

// DefaultTable returns a table with example entries for common SEM
// magnifications. Used when generating a starter config file.
func DefaultTable() *Table {
	return &Table{
		Profiles: map[string]CalibrationProfile{
			"5000x": {
				ScalingFactor:       0.0254,
				SmoothingSigma:      2.0,
				MarkerMinSeparation: [2]int{25, 25},
			},
			"10000x": {
				ScalingFactor:       0.0127,
				SmoothingSigma:      2.0,
				MarkerMinSeparation: [2]int{45, 45},
			},
		},
	}
}

// LoadTable loads a calibration table from a YAML file and validates every
// profile. A missing or empty table is an error: the batch cannot run
// without calibration.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading calibration file: %w", err)
	}

	table := &Table{}
	if err := yaml.Unmarshal(data, table); err != nil {
		return nil, fmt.Errorf("error parsing calibration file: %w", err)
	}

	if len(table.Profiles) == 0 {
		return nil, fmt.Errorf("calibration file %s defines no profiles", path)
	}

	for key, profile := range table.Profiles {
		if err := profile.Validate(); err != nil {
			return nil, fmt.Errorf("calibration profile %q: %w", key, err)
		}
	}

	return table, nil
}

// SaveTable writes the table to a YAML file, creating the directory if
// needed.
func SaveTable(table *Table, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(table)
	if err != nil {
		return fmt.Errorf("error marshaling calibration table: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing calibration file: %w", err)
	}

	return nil
}

// Get looks up a profile by key.
func (t *Table) Get(key string) (CalibrationProfile, bool) {
	p, ok := t.Profiles[key]
	return p, ok
}

// Validate checks that a profile's parameters are usable.
func (p CalibrationProfile) Validate() error {
	if p.ScalingFactor <= 0 {
		return fmt.Errorf("scalingFactor must be positive, got %g", p.ScalingFactor)
	}
	if p.SmoothingSigma < 0 {
		return fmt.Errorf("smoothingSigma must be non-negative, got %g", p.SmoothingSigma)
	}
	for _, s := range p.MarkerMinSeparation {
		if s < 1 {
			return fmt.Errorf("markerMinSeparation entries must be at least 1, got %v", p.MarkerMinSeparation)
		}
	}
	return nil
}
