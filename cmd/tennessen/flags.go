package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"tennessen/internal/blob"
	"tennessen/internal/config"
)

// loadConfig layers defaults, the --config file, TENNESSEN_* variables and
// any flag the user set explicitly.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, config.Invalid("config", "", err)
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(cfg, a.lookupEnv); err != nil {
		return nil, err
	}
	applyFlags(cmd.Flags(), cfg)
	return cfg, nil
}

// applyFlags copies changed flags into cfg. Flags the command does not
// define are skipped.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) {
	sim := &cfg.Simulation
	floats := map[string]*float64{
		"mutrate":   &sim.MutationRate,
		"lambda":    &sim.MeanEffect,
		"recrate":   &sim.RecombinationRate,
		"dominance": &sim.Dominance,
		"sigma-e":   &sim.EnvironmentalSD,
	}
	ints := map[string]*int{
		"tsample": &sim.SampleInterval,
		"cores":   &sim.Cores,
		"batches": &sim.Batches,
		"workers": &cfg.Engine.Workers,
	}
	strs := map[string]*string{
		"model":         &sim.Model,
		"sampler":       &sim.Sampler,
		"bigstub":       &cfg.Overflow.Stub,
		"output":        &cfg.Output.Path,
		"store":         &cfg.Output.Store,
		"dsn":           &cfg.Output.DSN,
		"overflow-root": &cfg.Overflow.Sink.Root,
		"log-level":     &cfg.Logging.Level,
		"metrics-addr":  &cfg.Metrics.Addr,
	}

	fs.Visit(func(f *pflag.Flag) {
		name := f.Name
		switch {
		case floats[name] != nil:
			*floats[name], _ = fs.GetFloat64(name)
		case ints[name] != nil:
			*ints[name], _ = fs.GetInt(name)
		case strs[name] != nil:
			*strs[name], _ = fs.GetString(name)
		case name == "seed":
			sim.Seed, _ = fs.GetUint64(name)
		case name == "append":
			cfg.Output.Append, _ = fs.GetBool(name)
		case name == "final-size":
			cfg.Demography.FinalSize, _ = fs.GetUint32(name)
		case name == "overflow-driver":
			driver, _ := fs.GetString(name)
			cfg.Overflow.Sink.Driver = blob.Driver(driver)
		}
	})
}
