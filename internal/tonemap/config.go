// Package tonemap converts raw 16-bit infrared intensities to display-ready
// grayscale bytes.
//
// A [Config] describes the mapping, [Generate] turns it into a 64K-entry
// [LUT], and a [Manager] keeps the current config in sync with a file on
// disk, rebuilding the table only when the mapping actually changes.
package tonemap

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Tolerance is the per-field difference below which two configs are
// considered equal.
const Tolerance = 1e-6

// Config is a validated tone-map configuration.
type Config struct {
	// OutputMin is the output level assigned to a zero sample, in [0, 1].
	OutputMin float64 `yaml:"output_min" json:"output_min"`

	// OutputMax caps the output level, in [0, 1]; must exceed OutputMin.
	OutputMax float64 `yaml:"output_max" json:"output_max"`

	// SourceScale multiplies the normalised sample before offsetting; > 0.
	SourceScale float64 `yaml:"source_scale" json:"source_scale"`
}

// Default returns the built-in configuration used until a valid file is loaded.
func Default() Config {
	return Config{OutputMin: 0.25, OutputMax: 1.0, SourceScale: 3.0}
}

// Validate checks the field ranges and returns a joined error listing every
// violation.
func (c Config) Validate() error {
	var errs []error
	if !finite(c.OutputMin) || c.OutputMin < 0 || c.OutputMin > 1 {
		errs = append(errs, fmt.Errorf("output_min %v is out of range [0, 1]", c.OutputMin))
	}
	if !finite(c.OutputMax) || c.OutputMax < 0 || c.OutputMax > 1 {
		errs = append(errs, fmt.Errorf("output_max %v is out of range [0, 1]", c.OutputMax))
	}
	if finite(c.OutputMin) && finite(c.OutputMax) && c.OutputMin >= c.OutputMax {
		errs = append(errs, fmt.Errorf("output_min %v must be less than output_max %v", c.OutputMin, c.OutputMax))
	}
	if !finite(c.SourceScale) || c.SourceScale <= 0 {
		errs = append(errs, fmt.Errorf("source_scale %v must be greater than 0", c.SourceScale))
	}
	return errors.Join(errs...)
}

// ApproxEqual reports whether every field of a and b differs by less than
// [Tolerance].
func ApproxEqual(a, b Config) bool {
	return math.Abs(a.OutputMin-b.OutputMin) < Tolerance &&
		math.Abs(a.OutputMax-b.OutputMax) < Tolerance &&
		math.Abs(a.SourceScale-b.SourceScale) < Tolerance
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// document mirrors Config with pointer fields so that missing keys are
// reported rather than silently zeroed.
type document struct {
	OutputMin   *float64 `yaml:"output_min"`
	OutputMax   *float64 `yaml:"output_max"`
	SourceScale *float64 `yaml:"source_scale"`
}

// Parse decodes a tone-map document from r. YAML and JSON are both accepted.
// All three fields are required and unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Config{}, errors.New("tonemap: empty document")
		}
		return Config{}, fmt.Errorf("tonemap: decode: %w", err)
	}

	var missing []error
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"output_min", doc.OutputMin},
		{"output_max", doc.OutputMax},
		{"source_scale", doc.SourceScale},
	} {
		if f.v == nil {
			missing = append(missing, fmt.Errorf("%s is required", f.name))
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("tonemap: %w", errors.Join(missing...))
	}

	cfg := Config{OutputMin: *doc.OutputMin, OutputMax: *doc.OutputMax, SourceScale: *doc.SourceScale}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("tonemap: invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads and validates the tone-map file at path.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("tonemap: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("%w (file %q)", err, path)
	}
	return cfg, nil
}
