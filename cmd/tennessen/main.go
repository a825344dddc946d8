package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tennessen/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run executes the command line and reports any failure on stderr.
// Configuration problems are followed by the usage text.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr, lookupEnv: os.LookupEnv}
	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	var uerr *usageError
	if errors.As(err, &uerr) {
		fmt.Fprintln(stderr)
		fmt.Fprint(stderr, uerr.cmd.UsageString())
	}
	return err
}

type app struct {
	stdout    io.Writer
	stderr    io.Writer
	lookupEnv func(string) (string, bool)
}

// usageError marks failures the user fixes by changing the command line.
type usageError struct {
	cmd *cobra.Command
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func withUsage(cmd *cobra.Command, err error) error {
	if err == nil {
		return nil
	}
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		return &usageError{cmd: cmd, err: err}
	}
	return err
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tennessen",
		Short: "Batch forward simulations under the Tennessen European demography",
		Long: `tennessen evolves batches of replicate populations through the Tennessen et al.
(2012) European demographic history and records per-replicate summaries.

  ancestral        7,310 for 10N generations (burn-in)
  ancient growth   14,474 from 5,920 to 2,040 generations ago
  ooa bottleneck   1,861 from 2,040 to 920 generations ago
  growth           1,032 -> 9,300 -> 512,000 from 920 generations ago to present`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          a.runSimulation,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{cmd: cmd, err: err}
	})

	defaults := config.Default()
	pf := root.PersistentFlags()
	pf.String("config", "", "YAML configuration file")
	pf.StringP("output", "o", "", "result file (sqlite store)")
	pf.String("store", defaults.Output.Store, "result store: sqlite, postgres or memory")
	pf.String("dsn", "", "connection string for the postgres store")
	pf.String("log-level", defaults.Logging.Level, "log level: info, debug or trace")

	f := root.Flags()
	sim := defaults.Simulation
	f.Float64P("mutrate", "m", sim.MutationRate, "causal mutation rate per gamete per generation")
	f.Float64P("lambda", "l", 0, "mean effect size of a causal mutation (required)")
	f.Float64P("recrate", "r", sim.RecombinationRate, "recombination rate per gamete per generation")
	f.Float64P("dominance", "d", sim.Dominance, "dominance of causal mutations")
	f.Float64P("sigma-e", "s", sim.EnvironmentalSD, "standard deviation of environmental noise")
	f.IntP("tsample", "t", sim.SampleInterval, "generations between samples")
	f.String("model", sim.Model, "genetic architecture: gbr, additive or multi")
	f.String("sampler", "", "sampler: VA, stats or load (required)")
	f.String("bigstub", "", "overflow file prefix (required with --sampler VA)")
	f.Int("cores", sim.Cores, "replicates simulated per batch")
	f.Int("batches", sim.Batches, "number of batches")
	f.Uint64("seed", sim.Seed, "random seed")
	f.Bool("append", false, "keep existing results instead of truncating the store")
	f.Int("workers", defaults.Engine.Workers, "replicates evolved concurrently")
	f.String("overflow-driver", string(defaults.Overflow.Sink.Driver), "overflow sink: fs, s3 or memory")
	f.String("overflow-root", defaults.Overflow.Sink.Root, "directory for the fs overflow sink")
	f.Uint32("final-size", defaults.Demography.FinalSize, "present-day population size")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.Bool("usage", false, "print usage and exit")

	root.AddCommand(a.newTrajectoryCmd(), a.newInspectCmd(), a.newExportCmd())
	return root
}
