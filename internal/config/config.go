// Package config loads and validates run configuration.
// Files are YAML, checked against an embedded JSON Schema for shape and then
// by Validate for meaning. Defaults reproduce the reference model's constants.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/entropy"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "contagion.schema.json"

// ErrInvalid is wrapped by every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

// FieldError describes one rejected setting. It always matches ErrInvalid;
// Err, when set, is the underlying error (e.g. an *engine.ParamError).
type FieldError struct {
	Field  string
	Reason string
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalid}
	}
	return []error{ErrInvalid, e.Err}
}

// Output drivers.
const (
	DriverFS     = "fs"
	DriverS3     = "s3"
	DriverMemory = "memory"
)

// Config is the complete run configuration.
type Config struct {
	Population        int   `yaml:"population"`
	GridSize          int   `yaml:"grid_size"`
	Days              int   `yaml:"days"`
	InitialInfectious int   `yaml:"initial_infectious"`
	ContactRadius     int   `yaml:"contact_radius"`
	Replications      int   `yaml:"replications"`
	BaseSeed          int64 `yaml:"base_seed"` // 0 = pick one at startup; at most entropy.MaxSeed
	Workers           int   `yaml:"workers"`   // 0 = GOMAXPROCS

	RNG               string `yaml:"rng"`                // mt19937 | pcg
	InfectionPressure string `yaml:"infection_pressure"` // snapshot | live
	ProgressEvery     int    `yaml:"progress_every"`     // days between progress log lines

	Disease Disease `yaml:"disease"`
	Output  Output  `yaml:"output"`

	HTTPAddr string `yaml:"http_addr"` // empty disables the observation API
}

// Disease holds the transition rule constants.
type Disease struct {
	LatencyMean      float64 `yaml:"latency_mean"`
	InfectiousMean   float64 `yaml:"infectious_mean"`
	ImmunityMean     float64 `yaml:"immunity_mean"`
	ForceOfInfection float64 `yaml:"force_of_infection"`
}

// Output controls where replication results go.
type Output struct {
	Driver     string `yaml:"driver"`
	Dir        string `yaml:"dir"`
	Compress   bool   `yaml:"compress"`    // zstd-compress the tables
	Charts     bool   `yaml:"charts"`      // render an epidemic curve per replication
	SQLitePath string `yaml:"sqlite_path"` // empty disables the results database
	S3         S3     `yaml:"s3"`
}

// S3 locates the bucket used by the s3 output driver.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// Default returns the reference configuration.
func Default() Config {
	p := engine.DefaultParams()
	return Config{
		Population:        p.Population,
		GridSize:          p.GridSize,
		Days:              p.Days,
		InitialInfectious: p.InitialInfectious,
		ContactRadius:     p.ContactRadius,
		Replications:      4,
		BaseSeed:          1000,
		RNG:               p.RNG.String(),
		InfectionPressure: p.Pressure.String(),
		ProgressEvery:     100,
		Disease: Disease{
			LatencyMean:      p.LatencyMean,
			InfectiousMean:   p.InfectiousMean,
			ImmunityMean:     p.ImmunityMean,
			ForceOfInfection: p.ForceOfInfection,
		},
		Output: Output{
			Driver: DriverFS,
			Dir:    "results_go",
		},
	}
}

// Load reads and validates a YAML configuration file. Keys missing from the
// file keep their defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, checks it against the schema and
// validates the result.
func Parse(raw []byte) (Config, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("config yaml: %w", err)
	}
	if doc != nil {
		if err := checkSchema(doc); err != nil {
			return Config{}, err
		}
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

// checkSchema validates a decoded YAML document. The document is round
// tripped through JSON so the validator sees JSON types.
func checkSchema(doc any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: config must be a mapping with string keys: %v", ErrInvalid, err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("config json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Params converts the configuration to simulation parameters.
func (c Config) Params() (engine.Params, error) {
	alg, err := entropy.ParseAlgorithm(c.RNG)
	if err != nil {
		return engine.Params{}, &FieldError{Field: "rng", Reason: err.Error()}
	}
	mode, err := engine.ParsePressureMode(c.InfectionPressure)
	if err != nil {
		return engine.Params{}, &FieldError{Field: "infection_pressure", Reason: err.Error()}
	}
	return engine.Params{
		Population:        c.Population,
		GridSize:          c.GridSize,
		Days:              c.Days,
		InitialInfectious: c.InitialInfectious,
		ContactRadius:     c.ContactRadius,
		LatencyMean:       c.Disease.LatencyMean,
		InfectiousMean:    c.Disease.InfectiousMean,
		ImmunityMean:      c.Disease.ImmunityMean,
		ForceOfInfection:  c.Disease.ForceOfInfection,
		Pressure:          mode,
		RNG:               alg,
	}, nil
}

// Validate checks every setting and reports all problems at once.
func (c Config) Validate() error {
	var errs []error
	reject := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if p, err := c.Params(); err != nil {
		errs = append(errs, err)
	} else if err := p.Validate(); err != nil {
		errs = append(errs, fieldErrors(err)...)
	}

	if c.Replications <= 0 {
		reject("replications", "must be positive, got %d", c.Replications)
	}
	last := c.BaseSeed + int64(c.Replications) - 1
	if c.BaseSeed < 0 || c.BaseSeed > entropy.MaxSeed || (c.Replications > 0 && last > entropy.MaxSeed) {
		reject("base_seed", "seeds %d..%d must lie in [0, %d]", c.BaseSeed, last, int64(entropy.MaxSeed))
	}
	if c.Workers < 0 {
		reject("workers", "must not be negative, got %d", c.Workers)
	}
	if c.ProgressEvery < 0 {
		reject("progress_every", "must not be negative, got %d", c.ProgressEvery)
	}

	switch strings.ToLower(c.Output.Driver) {
	case DriverFS:
		if c.Output.Dir == "" {
			reject("output.dir", "required for the fs driver")
		}
	case DriverS3:
		if c.Output.S3.Bucket == "" {
			reject("output.s3.bucket", "required for the s3 driver")
		}
	case DriverMemory:
	default:
		reject("output.driver", "unknown driver %q (want fs, s3 or memory)", c.Output.Driver)
	}
	return errors.Join(errs...)
}

// fieldErrors converts joined engine parameter errors to FieldErrors so the
// whole report matches ErrInvalid.
func fieldErrors(err error) []error {
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}
	out := make([]error, 0, len(errs))
	for _, e := range errs {
		var pe *engine.ParamError
		if errors.As(e, &pe) {
			out = append(out, &FieldError{Field: pe.Field, Reason: pe.Reason, Err: pe})
			continue
		}
		out = append(out, &FieldError{Field: "params", Reason: e.Error(), Err: e})
	}
	return out
}
