package config

import (
	"os"

	"github.com/spf13/cast"

	"tennessen/internal/blob"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "TENNESSEN_"

type envBinding struct {
	name  string
	apply func(cfg *Config, raw string) error
}

func floatVar(target func(*Config) *float64) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		v, err := cast.ToFloat64E(raw)
		if err != nil {
			return err
		}
		*target(cfg) = v
		return nil
	}
}

func intVar(target func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		v, err := cast.ToIntE(raw)
		if err != nil {
			return err
		}
		*target(cfg) = v
		return nil
	}
}

func uintVar(target func(*Config) *uint32) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		v, err := cast.ToUint32E(raw)
		if err != nil {
			return err
		}
		*target(cfg) = v
		return nil
	}
}

func boolVar(target func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		v, err := cast.ToBoolE(raw)
		if err != nil {
			return err
		}
		*target(cfg) = v
		return nil
	}
}

func stringVar(target func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		*target(cfg) = raw
		return nil
	}
}

var envBindings = []envBinding{
	{"MUTATION_RATE", floatVar(func(c *Config) *float64 { return &c.Simulation.MutationRate })},
	{"NEUTRAL_MUTATION_RATE", floatVar(func(c *Config) *float64 { return &c.Simulation.NeutralMutationRate })},
	{"MEAN_EFFECT", floatVar(func(c *Config) *float64 { return &c.Simulation.MeanEffect })},
	{"RECOMBINATION_RATE", floatVar(func(c *Config) *float64 { return &c.Simulation.RecombinationRate })},
	{"DOMINANCE", floatVar(func(c *Config) *float64 { return &c.Simulation.Dominance })},
	{"SIGMA_E", floatVar(func(c *Config) *float64 { return &c.Simulation.EnvironmentalSD })},
	{"TSAMPLE", intVar(func(c *Config) *int { return &c.Simulation.SampleInterval })},
	{"MODEL", stringVar(func(c *Config) *string { return &c.Simulation.Model })},
	{"SAMPLER", stringVar(func(c *Config) *string { return &c.Simulation.Sampler })},
	{"CORES", intVar(func(c *Config) *int { return &c.Simulation.Cores })},
	{"BATCHES", intVar(func(c *Config) *int { return &c.Simulation.Batches })},
	{"SEED", func(cfg *Config, raw string) error {
		v, err := cast.ToUint64E(raw)
		if err != nil {
			return err
		}
		cfg.Simulation.Seed = v
		return nil
	}},
	{"COALESCE_GROWTH", boolVar(func(c *Config) *bool { return &c.Simulation.CoalesceGrowth })},
	{"FINAL_SIZE", uintVar(func(c *Config) *uint32 { return &c.Demography.FinalSize })},
	{"OUTPUT", stringVar(func(c *Config) *string { return &c.Output.Path })},
	{"STORE", stringVar(func(c *Config) *string { return &c.Output.Store })},
	{"DSN", stringVar(func(c *Config) *string { return &c.Output.DSN })},
	{"APPEND", boolVar(func(c *Config) *bool { return &c.Output.Append })},
	{"BIGSTUB", stringVar(func(c *Config) *string { return &c.Overflow.Stub })},
	{"OVERFLOW_DRIVER", func(cfg *Config, raw string) error {
		cfg.Overflow.Sink.Driver = blob.Driver(raw)
		return nil
	}},
	{"OVERFLOW_ROOT", stringVar(func(c *Config) *string { return &c.Overflow.Sink.Root })},
	{"S3_BUCKET", stringVar(func(c *Config) *string { return &c.Overflow.Sink.S3.Bucket })},
	{"S3_REGION", stringVar(func(c *Config) *string { return &c.Overflow.Sink.S3.Region })},
	{"S3_ENDPOINT", stringVar(func(c *Config) *string { return &c.Overflow.Sink.S3.Endpoint })},
	{"S3_PATH_STYLE", boolVar(func(c *Config) *bool { return &c.Overflow.Sink.S3.PathStyle })},
	{"WORKERS", intVar(func(c *Config) *int { return &c.Engine.Workers })},
	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Logging.Format })},
	{"METRICS_ADDR", stringVar(func(c *Config) *string { return &c.Metrics.Addr })},
}

// EnvNames lists every recognised override variable.
func EnvNames() []string {
	names := make([]string, len(envBindings))
	for i, b := range envBindings {
		names[i] = EnvPrefix + b.name
	}
	return names
}

// ApplyEnv overrides cfg from TENNESSEN_* variables found by lookup. A nil
// lookup reads the process environment. Empty values are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, b := range envBindings {
		name := EnvPrefix + b.name
		raw, ok := lookup(name)
		if !ok || raw == "" {
			continue
		}
		if err := b.apply(cfg, raw); err != nil {
			return Invalid(name, "cannot parse "+raw, err)
		}
	}
	return nil
}
