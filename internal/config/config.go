// Package config loads simulation settings. Values are layered as
// defaults -> YAML file -> TENNESSEN_* environment -> command-line flags;
// the CLI applies the last layer itself.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"tennessen/internal/blob"
	"tennessen/internal/demography"
	"tennessen/internal/fitness"
	"tennessen/internal/sampler"
	"tennessen/internal/storage"
)

// ErrMissingValue marks a required setting that was never supplied.
var ErrMissingValue = errors.New("missing required value")

// ConfigurationError reports an unusable setting before any simulation work
// starts. Field names the flag or config key at fault.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	default:
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Invalid builds a ConfigurationError for field.
func Invalid(field, reason string, err error) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason, Err: err}
}

type Config struct {
	Simulation SimulationConfig  `yaml:"simulation" json:"simulation"`
	Demography demography.Params `yaml:"demography" json:"demography"`
	Output     OutputConfig      `yaml:"output" json:"output"`
	Overflow   OverflowConfig    `yaml:"overflow" json:"overflow"`
	Engine     EngineConfig      `yaml:"engine" json:"engine"`
	Logging    LoggingConfig     `yaml:"logging" json:"logging"`
	Metrics    MetricsConfig     `yaml:"metrics" json:"metrics"`
}

type SimulationConfig struct {
	// MutationRate is the causal mutation rate per gamete per generation.
	MutationRate float64 `yaml:"mutation_rate" json:"mutation_rate"`
	// NeutralMutationRate adds unselected variants; zero disables them.
	NeutralMutationRate float64 `yaml:"neutral_mutation_rate" json:"neutral_mutation_rate"`
	// MeanEffect is the mean causal effect size and has no default.
	MeanEffect        float64 `yaml:"mean_effect" json:"mean_effect"`
	RecombinationRate float64 `yaml:"recombination_rate" json:"recombination_rate"`
	Dominance         float64 `yaml:"dominance" json:"dominance"`
	EnvironmentalSD   float64 `yaml:"sigma_e" json:"sigma_e"`
	SampleInterval    int     `yaml:"tsample" json:"tsample"`
	Model             string  `yaml:"model" json:"model"`
	Sampler           string  `yaml:"sampler" json:"sampler"`
	Cores             int     `yaml:"cores" json:"cores"`
	Batches           int     `yaml:"batches" json:"batches"`
	Seed              uint64  `yaml:"seed" json:"seed"`
	// CoalesceGrowth runs both growth phases as one scheduling epoch.
	CoalesceGrowth bool `yaml:"coalesce_growth" json:"coalesce_growth"`
}

type OutputConfig struct {
	// Path is the result file for the sqlite store.
	Path  string `yaml:"path" json:"path"`
	Store string `yaml:"store" json:"store"`
	// DSN overrides Path as the connection string for server-backed stores.
	DSN    string `yaml:"dsn" json:"-"`
	Append bool   `yaml:"append" json:"append"`
}

// Target is the location handed to storage.NewStore.
func (o OutputConfig) Target() string {
	if o.DSN != "" {
		return o.DSN
	}
	return o.Path
}

type OverflowConfig struct {
	// Stub prefixes every genotype-matrix file written by the VA sampler.
	Stub string      `yaml:"stub" json:"stub"`
	Sink blob.Config `yaml:"sink" json:"sink"`
}

type EngineConfig struct {
	Workers int `yaml:"workers" json:"workers"`
}

type LoggingConfig struct {
	// Level is "info", "debug" or "trace".
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `yaml:"addr" json:"addr"`
}

func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			MutationRate:      1.25e-4,
			RecombinationRate: 1.25e-3,
			Dominance:         1.0,
			EnvironmentalSD:   0.075,
			SampleInterval:    50,
			Model:             "gbr",
			Cores:             64,
			Batches:           1,
			Seed:              0,
			CoalesceGrowth:    true,
		},
		Demography: demography.TennessenParams(),
		Output: OutputConfig{
			Store: storage.KindSQLite,
		},
		Overflow: OverflowConfig{
			Sink: blob.Config{Driver: blob.DriverFilesystem, Root: "."},
		},
		Engine: EngineConfig{
			Workers: runtime.NumCPU(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile reads a YAML file over the defaults. Unknown keys are errors.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first unusable setting as a *ConfigurationError.
func (c *Config) Validate() error {
	s := c.Simulation
	switch {
	case s.MeanEffect == 0:
		return Invalid("lambda", "mean effect size must be defined", ErrMissingValue)
	case s.MutationRate <= 0:
		return Invalid("mutrate", fmt.Sprintf("must be > 0, got %g", s.MutationRate), nil)
	case s.NeutralMutationRate < 0:
		return Invalid("neutral_mutation_rate", fmt.Sprintf("must be >= 0, got %g", s.NeutralMutationRate), nil)
	case s.RecombinationRate <= 0:
		return Invalid("recrate", fmt.Sprintf("must be > 0, got %g", s.RecombinationRate), nil)
	case s.EnvironmentalSD < 0:
		return Invalid("sigma-e", fmt.Sprintf("must be >= 0, got %g", s.EnvironmentalSD), nil)
	case s.SampleInterval < 1:
		return Invalid("tsample", fmt.Sprintf("must be >= 1, got %d", s.SampleInterval), nil)
	case s.Cores < 1:
		return Invalid("cores", fmt.Sprintf("must be >= 1, got %d", s.Cores), nil)
	case s.Batches < 1:
		return Invalid("batches", fmt.Sprintf("must be >= 1, got %d", s.Batches), nil)
	}
	if _, err := fitness.Resolve(s.Model, s.Dominance); err != nil {
		return Invalid("model", "", err)
	}
	if s.Sampler == "" {
		return Invalid("sampler", "one of "+strings.Join(sampler.Names(), ", "), ErrMissingValue)
	}
	if err := sampler.Validate(s.Sampler); err != nil {
		return Invalid("sampler", "", err)
	}
	if s.Sampler == sampler.NameVA && c.Overflow.Stub == "" {
		return Invalid("bigstub", "required when sampler is VA", ErrMissingValue)
	}
	if err := c.Demography.Validate(); err != nil {
		return Invalid("demography", "", err)
	}

	switch c.Output.Store {
	case "", storage.KindSQLite:
		if c.Output.Path == "" {
			return Invalid("output", "result file must be defined", ErrMissingValue)
		}
	case storage.KindPostgres:
		if c.Output.Target() == "" {
			return Invalid("dsn", "postgres store needs a connection string", ErrMissingValue)
		}
	case storage.KindMemory:
	default:
		return Invalid("store", fmt.Sprintf("unsupported store %q", c.Output.Store), nil)
	}

	switch c.Overflow.Sink.Driver {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if s.Sampler == sampler.NameVA && c.Overflow.Sink.S3.Bucket == "" {
			return Invalid("overflow.sink.s3.bucket", "s3 overflow needs a bucket", ErrMissingValue)
		}
	default:
		return Invalid("overflow-driver", fmt.Sprintf("unsupported driver %q", c.Overflow.Sink.Driver), nil)
	}

	if c.Engine.Workers < 1 {
		return Invalid("workers", fmt.Sprintf("must be >= 1, got %d", c.Engine.Workers), nil)
	}
	switch c.Logging.Level {
	case "", "info", "debug", "trace":
	default:
		return Invalid("log-level", fmt.Sprintf("%q (valid: info, debug, trace)", c.Logging.Level), nil)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return Invalid("logging.format", fmt.Sprintf("%q (valid: text, json)", c.Logging.Format), nil)
	}
	return nil
}
