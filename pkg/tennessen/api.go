// Package tennessen runs batch forward simulations under the Tennessen et al.
// European demography and exposes the stored results.
package tennessen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"tennessen/internal/aggregate"
	"tennessen/internal/blob"
	"tennessen/internal/config"
	"tennessen/internal/demography"
	"tennessen/internal/engine"
	"tennessen/internal/export"
	"tennessen/internal/fitness"
	"tennessen/internal/logging"
	"tennessen/internal/model"
	"tennessen/internal/orchestrator"
	"tennessen/internal/sampler"
	"tennessen/internal/storage"
)

const defaultExportsDir = "exports"

var ErrRunNotFound = errors.New("run not found")

type Options struct {
	Config *config.Config
	Logger *slog.Logger
	// Registerer receives the run metrics; nil keeps them private.
	Registerer prometheus.Registerer
	// Engine replaces the built-in Wright-Fisher engine.
	Engine orchestrator.Engine
}

type Client struct {
	cfg     *config.Config
	store   storage.Store
	logger  *slog.Logger
	metrics *orchestrator.Metrics
	engine  orchestrator.Engine
}

type RunSummary struct {
	RunID          string
	FirstReplicate int
	Replicates     int
	Batches        int
	Flushes        int
	ForcedSamples  int
	OverflowFiles  []string
	Rows           map[string]int
	Elapsed        time.Duration
}

// New validates the configuration before creating the store, so a bad
// setting never leaves an empty result file behind.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	store, err := storage.NewStore(cfg.Output.Store, cfg.Output.Target())
	if err != nil {
		return nil, err
	}
	eng := opts.Engine
	if eng == nil {
		eng = engine.NewWrightFisher(cfg.Simulation.Seed, cfg.Engine.Workers)
	}
	return &Client{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		metrics: orchestrator.NewMetrics(opts.Registerer),
		engine:  eng,
	}, nil
}

// Open connects to an existing result store without a simulation config.
func Open(ctx context.Context, kind, target string) (*Client, error) {
	store, err := storage.NewStore(kind, target)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}
	return &Client{store: store, logger: logging.Discard()}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// BuildTrajectory expands the configured demography into per-generation sizes.
func BuildTrajectory(cfg *config.Config) (demography.Trajectory, error) {
	return demography.Build(cfg.Demography, demography.BuildOptions{
		CoalesceGrowth: cfg.Simulation.CoalesceGrowth,
	})
}

// Run simulates every batch and records a manifest for the run. The store is
// emptied first unless the output is configured to append.
func (c *Client) Run(ctx context.Context) (RunSummary, error) {
	if c.cfg == nil {
		return RunSummary{}, fmt.Errorf("client has no simulation config")
	}
	sim := c.cfg.Simulation

	traj, err := BuildTrajectory(c.cfg)
	if err != nil {
		return RunSummary{}, config.Invalid("demography", "", err)
	}
	fm, err := fitness.Resolve(sim.Model, sim.Dominance)
	if err != nil {
		return RunSummary{}, config.Invalid("model", "", err)
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(c.logger),
		orchestrator.WithMetrics(c.metrics),
	}
	if sim.Sampler == sampler.NameVA {
		sink, err := blob.Open(ctx, c.cfg.Overflow.Sink)
		if err != nil {
			return RunSummary{}, fmt.Errorf("open overflow sink: %w", err)
		}
		opts = append(opts, orchestrator.WithOverflowSink(sink))
	}
	if err := c.store.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	first := 0
	if c.cfg.Output.Append {
		if first, err = c.nextReplicate(ctx); err != nil {
			return RunSummary{}, err
		}
	}

	orch, err := orchestrator.New(c.engine, c.store, orchestrator.Config{
		Trajectory:          traj,
		Fitness:             fm,
		Sampler:             sim.Sampler,
		Cores:               sim.Cores,
		Batches:             sim.Batches,
		SampleInterval:      sim.SampleInterval,
		FirstReplicate:      first,
		BigStub:             c.cfg.Overflow.Stub,
		MutationRate:        sim.MutationRate,
		NeutralMutationRate: sim.NeutralMutationRate,
		RecombinationRate:   sim.RecombinationRate,
		MeanEffect:          sim.MeanEffect,
		EnvironmentalSD:     sim.EnvironmentalSD,
	}, opts...)
	if err != nil {
		return RunSummary{}, err
	}
	if !c.cfg.Output.Append {
		if err := c.store.Truncate(ctx); err != nil {
			return RunSummary{}, fmt.Errorf("truncate output: %w", err)
		}
	}

	manifest := model.RunManifest{
		RunID:          uuid.NewString(),
		Model:          sim.Model,
		Sampler:        sim.Sampler,
		Seed:           sim.Seed,
		Cores:          sim.Cores,
		Batches:        sim.Batches,
		FirstReplicate: first,
		Config:         c.manifestConfig(len(traj.Sizes)),
		StartedAt:      time.Now().UTC(),
	}
	c.logger.Info("run started",
		"run_id", manifest.RunID,
		"model", sim.Model,
		"sampler", sim.Sampler,
		"first_replicate", first,
		"replicates", sim.Cores*sim.Batches,
		"generations", len(traj.Sizes))

	sum, runErr := orch.Run(ctx)
	manifest.Replicates = sum.NextReplicate - first
	manifest.Tables = sum.Rows
	manifest.FinishedAt = time.Now().UTC()
	if err := c.store.SaveRun(ctx, manifest); err != nil && runErr == nil {
		runErr = fmt.Errorf("save run manifest: %w", err)
	}

	out := RunSummary{
		RunID:          manifest.RunID,
		FirstReplicate: first,
		Replicates:     manifest.Replicates,
		Batches:        sum.Batches,
		Flushes:        sum.Flushes,
		ForcedSamples:  sum.ForcedSamples,
		OverflowFiles:  sum.OverflowFiles,
		Rows:           sum.Rows,
		Elapsed:        sum.Elapsed,
	}
	if runErr != nil {
		return out, runErr
	}
	c.logger.Info("run finished", "run_id", manifest.RunID, "replicates", out.Replicates, "elapsed", out.Elapsed.Round(time.Millisecond).String())
	return out, nil
}

// nextReplicate continues the id sequence of the runs already in the store.
func (c *Client) nextReplicate(ctx context.Context) (int, error) {
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return 0, err
	}
	next := 0
	for _, run := range runs {
		next = max(next, run.NextReplicate())
	}
	return next, nil
}

func (c *Client) manifestConfig(generations int) map[string]any {
	sim := c.cfg.Simulation
	return map[string]any{
		"mutation_rate":         sim.MutationRate,
		"neutral_mutation_rate": sim.NeutralMutationRate,
		"mean_effect":           sim.MeanEffect,
		"recombination_rate":    sim.RecombinationRate,
		"dominance":             sim.Dominance,
		"sigma_e":               sim.EnvironmentalSD,
		"tsample":               sim.SampleInterval,
		"final_size":            c.cfg.Demography.FinalSize,
		"generations":           generations,
		"bigstub":               c.cfg.Overflow.Stub,
	}
}

func (c *Client) Tables(ctx context.Context) ([]storage.TableInfo, error) {
	return c.store.Tables(ctx)
}

func (c *Client) Rows(ctx context.Context, table string) (model.RecordSet, error) {
	rows, ok, err := c.store.Rows(ctx, table)
	if err != nil {
		return model.RecordSet{}, err
	}
	if !ok {
		return model.RecordSet{}, fmt.Errorf("%w: %s", storage.ErrTableNotFound, table)
	}
	return rows, nil
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
	Tables    []string
}

// Export writes a run manifest and the tables it recorded as CSV files under
// OutDir/<run id>. Only rows of the run's own replicates are written.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = defaultExportsDir
	}
	run, err := c.resolveRun(ctx, req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}

	names := make([]string, 0, len(run.Tables))
	for name := range run.Tables {
		names = append(names, name)
	}
	if len(names) == 0 {
		infos, err := c.store.Tables(ctx)
		if err != nil {
			return ExportSummary{}, err
		}
		for _, info := range infos {
			names = append(names, info.Name)
		}
	}
	sort.Strings(names)

	tables := make(map[string]model.RecordSet, len(names))
	for _, name := range names {
		rows, err := c.Rows(ctx, name)
		if err != nil {
			return ExportSummary{}, err
		}
		tables[name] = runRows(run, rows)
	}
	dir, err := export.WriteRun(req.OutDir, run, tables)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: run.RunID, Directory: dir, Tables: names}, nil
}

func runRows(run model.RunManifest, rows model.RecordSet) model.RecordSet {
	idx := slices.Index(rows.Columns, aggregate.RepColumn)
	if idx < 0 {
		return rows
	}
	out := model.NewRecordSet(rows.Columns...)
	for _, row := range rows.Rows {
		if run.Owns(int(row[idx])) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

func (c *Client) resolveRun(ctx context.Context, runID string, latest bool) (model.RunManifest, error) {
	if runID != "" {
		run, ok, err := c.store.GetRun(ctx, runID)
		if err != nil {
			return model.RunManifest{}, err
		}
		if !ok {
			return model.RunManifest{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return run, nil
	}
	if !latest {
		return model.RunManifest{}, errors.New("run id is required unless latest is set")
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return model.RunManifest{}, err
	}
	if len(runs) == 0 {
		return model.RunManifest{}, ErrRunNotFound
	}
	return runs[len(runs)-1], nil
}

// Runs lists recorded runs, oldest first.
func (c *Client) Runs(ctx context.Context) ([]model.RunManifest, error) {
	return c.store.ListRuns(ctx)
}
