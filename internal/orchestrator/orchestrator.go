// Package orchestrator drives batches of replicate simulations through a
// demographic trajectory, applies samplers and flushes their output.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"tennessen/internal/aggregate"
	"tennessen/internal/blob"
	"tennessen/internal/config"
	"tennessen/internal/demography"
	"tennessen/internal/engine"
	"tennessen/internal/fitness"
	"tennessen/internal/logging"
	"tennessen/internal/model"
	"tennessen/internal/sampler"
)

var ErrMissingOverflowStub = errors.New("VA sampling needs an overflow stub and sink")

// Engine is the forward simulator the orchestrator drives.
type Engine interface {
	NewPopulations(n int, size uint32) []*model.Population
	Evolve(ctx context.Context, req engine.Request) error
	ApplySampler(ctx context.Context, pops []*model.Population, s sampler.Sampler) error
}

type Config struct {
	Trajectory demography.Trajectory
	Fitness    fitness.Model
	// Sampler is one of sampler.Names().
	Sampler        string
	Cores          int
	Batches        int
	SampleInterval int
	// FirstReplicate is the id of the run's first replicate. Runs appended
	// to an existing store continue its id sequence.
	FirstReplicate int
	// BigStub prefixes overflow files; VA runs require it.
	BigStub             string
	MutationRate        float64
	NeutralMutationRate float64
	RecombinationRate   float64
	MeanEffect          float64
	EnvironmentalSD     float64
}

// Summary describes a completed run.
type Summary struct {
	Batches        int
	FirstReplicate int
	Replicates     int
	NextReplicate  int
	// Samples counts cadence observations per replicate.
	Samples       int
	ForcedSamples int
	Flushes       int
	OverflowFiles []string
	Rows          map[string]int
	Elapsed       time.Duration
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithOverflowSink sets where VA runs write genotype matrices.
func WithOverflowSink(sink blob.Store) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

type Orchestrator struct {
	cfg     Config
	engine  Engine
	store   aggregate.Appender
	sink    blob.Store
	logger  *slog.Logger
	metrics *Metrics
}

// New checks cfg once. Nothing reaches the engine or the store until Run.
func New(eng Engine, store aggregate.Appender, cfg Config, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:     cfg,
		engine:  eng,
		store:   store,
		logger:  logging.Discard(),
		metrics: NewMetrics(nil),
	}
	for _, opt := range opts {
		opt(o)
	}
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if store == nil {
		return nil, errors.New("result store is required")
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) validate() error {
	c := o.cfg
	switch {
	case c.Fitness == nil:
		return config.Invalid("model", "fitness model is required", config.ErrMissingValue)
	case c.Cores < 1:
		return config.Invalid("cores", fmt.Sprintf("must be >= 1, got %d", c.Cores), nil)
	case c.Batches < 1:
		return config.Invalid("batches", fmt.Sprintf("must be >= 1, got %d", c.Batches), nil)
	case c.SampleInterval < 1:
		return config.Invalid("tsample", fmt.Sprintf("must be >= 1, got %d", c.SampleInterval), nil)
	case c.FirstReplicate < 0:
		return config.Invalid("first-replicate", fmt.Sprintf("must be >= 0, got %d", c.FirstReplicate), nil)
	case c.MutationRate <= 0:
		return config.Invalid("mutrate", fmt.Sprintf("must be > 0, got %g", c.MutationRate), nil)
	case c.NeutralMutationRate < 0:
		return config.Invalid("neutral_mutation_rate", fmt.Sprintf("must be >= 0, got %g", c.NeutralMutationRate), nil)
	case c.RecombinationRate <= 0:
		return config.Invalid("recrate", fmt.Sprintf("must be > 0, got %g", c.RecombinationRate), nil)
	case c.MeanEffect == 0:
		return config.Invalid("lambda", "mean effect size must be defined", config.ErrMissingValue)
	case c.EnvironmentalSD < 0:
		return config.Invalid("sigma-e", fmt.Sprintf("must be >= 0, got %g", c.EnvironmentalSD), nil)
	}
	if _, err := sampler.Resolve(c.Sampler, 1, c.Fitness); err != nil {
		return config.Invalid("sampler", "", err)
	}
	if c.Sampler == sampler.NameVA && (c.BigStub == "" || o.sink == nil) {
		return config.Invalid("bigstub", "", ErrMissingOverflowStub)
	}

	sizes := c.Trajectory.Sizes
	if len(sizes) == 0 {
		return config.Invalid("demography", "trajectory is empty", config.ErrMissingValue)
	}
	for i, n := range sizes {
		if n == 0 {
			return config.Invalid("demography", fmt.Sprintf("size at generation %d is zero", i), nil)
		}
	}
	if c.Sampler != sampler.NameVA && c.Trajectory.BurnIn() > len(sizes) {
		return config.Invalid("demography", fmt.Sprintf("trajectory of %d generations is shorter than the %d generation burn-in",
			len(sizes), c.Trajectory.BurnIn()), nil)
	}
	return nil
}

// Run simulates every batch in order. An engine or store error aborts the run
// and is returned with the batch it happened in.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	sum := Summary{FirstReplicate: o.cfg.FirstReplicate, Rows: make(map[string]int)}
	next := o.cfg.FirstReplicate
	for batch := 0; batch < o.cfg.Batches; batch++ {
		if err := ctx.Err(); err != nil {
			sum.NextReplicate = next
			sum.Replicates = next - o.cfg.FirstReplicate
			return sum, err
		}
		runtime.GC()
		batchStarted := time.Now()
		o.logger.Info("batch started",
			"batch", batch+1,
			"of", o.cfg.Batches,
			"first_replicate", next,
			"replicates", o.cfg.Cores)

		var err error
		if o.cfg.Sampler == sampler.NameVA {
			next, err = o.runEpochs(ctx, next, &sum)
		} else {
			next, err = o.runContinuous(ctx, next, &sum)
		}
		if err != nil {
			sum.NextReplicate = next
			sum.Replicates = next - o.cfg.FirstReplicate
			sum.Elapsed = time.Since(started)
			return sum, fmt.Errorf("batch %d: %w", batch, err)
		}

		elapsed := time.Since(batchStarted)
		sum.Batches++
		o.metrics.Batches.Inc()
		o.metrics.BatchDuration.Observe(elapsed.Seconds())
		o.logger.Info("batch finished",
			"batch", batch+1,
			"next_replicate", next,
			"elapsed", elapsed.Round(time.Millisecond).String())
	}
	sum.NextReplicate = next
	sum.Replicates = next - o.cfg.FirstReplicate
	sum.Elapsed = time.Since(started)
	return sum, nil
}

// runContinuous burns in without sampling, then samples every SampleInterval
// generations to the present. A final pass catches the last generation when
// the cadence does not land on it.
func (o *Orchestrator) runContinuous(ctx context.Context, next int, sum *Summary) (int, error) {
	traj := o.cfg.Trajectory
	pops := o.engine.NewPopulations(o.cfg.Cores, traj.Sizes[0])
	burnIn := traj.BurnIn()

	o.logger.Debug("burn-in", "generations", humanize.Comma(int64(burnIn)), "size", traj.Sizes[0])
	if err := o.evolve(ctx, pops, sampler.NewNull(), traj.Sizes[:burnIn]); err != nil {
		return next, err
	}

	live, err := sampler.Resolve(o.cfg.Sampler, o.cfg.Cores, o.cfg.Fitness)
	if err != nil {
		return next, err
	}
	rest := traj.Sizes[burnIn:]
	o.logger.Debug("sampling", "sampler", live.Kind().String(),
		"generations", humanize.Comma(int64(len(rest))), "every", o.cfg.SampleInterval)
	if err := o.evolve(ctx, pops, live, rest); err != nil {
		return next, err
	}
	sum.Samples += engine.Observations(len(rest), o.cfg.SampleInterval)

	if needsFinalSample(len(rest), o.cfg.SampleInterval) {
		if err := o.engine.ApplySampler(ctx, pops, live); err != nil {
			return next, err
		}
		sum.ForcedSamples++
		o.metrics.SamplerApplications.WithLabelValues(ApplicationForced).Inc()
	}
	return o.flush(ctx, live, next, sum)
}

// needsFinalSample reports whether the cadence missed the last of m sampled
// generations. The engine observes after offsets 0, cadence, 2*cadence and so
// on, so the last generation is covered only when (m-1) is a multiple of the
// cadence.
func needsFinalSample(m, cadence int) bool {
	return m == 0 || (m-1)%cadence != 0
}

// runEpochs records the additive variance at both ends of every scheduled
// epoch after the first and writes raw genotypes for the last one. Every
// snapshot in a batch uses the batch's first replicate id as offset.
func (o *Orchestrator) runEpochs(ctx context.Context, offset int, sum *Summary) (int, error) {
	traj := o.cfg.Trajectory
	pops := o.engine.NewPopulations(o.cfg.Cores, traj.Sizes[0])

	terminal := -1
	for i, e := range traj.Schedule {
		if e.Length > 0 {
			terminal = i
		}
	}

	for i, epoch := range traj.Schedule {
		if epoch.Length == 0 {
			continue
		}
		sizes := traj.Slice(epoch)
		o.logger.Debug("epoch", "label", epoch.Label,
			"generations", humanize.Comma(int64(epoch.Length)),
			"from", sizes[0], "to", sizes[len(sizes)-1])

		if i == 0 {
			if err := o.evolve(ctx, pops, sampler.NewNull(), sizes); err != nil {
				return offset, err
			}
			continue
		}

		if err := o.evolve(ctx, pops, sampler.NewNull(), sizes[:1]); err != nil {
			return offset, err
		}
		if err := o.snapshot(ctx, pops, offset, sum); err != nil {
			return offset, err
		}
		if len(sizes) > 1 {
			if err := o.evolve(ctx, pops, sampler.NewNull(), sizes[1:]); err != nil {
				return offset, err
			}
		}
		if i != terminal {
			if err := o.snapshot(ctx, pops, offset, sum); err != nil {
				return offset, err
			}
			continue
		}
		if err := o.overflow(ctx, pops, offset, sum); err != nil {
			return offset, err
		}
	}
	return offset + o.cfg.Cores, nil
}

func (o *Orchestrator) snapshot(ctx context.Context, pops []*model.Population, offset int, sum *Summary) error {
	va := sampler.NewVA(len(pops))
	if err := o.engine.ApplySampler(ctx, pops, va); err != nil {
		return err
	}
	o.metrics.SamplerApplications.WithLabelValues(ApplicationSnapshot).Inc()
	_, err := o.flush(ctx, va, offset, sum)
	return err
}

func (o *Orchestrator) overflow(ctx context.Context, pops []*model.Population, offset int, sum *Summary) error {
	big := sampler.NewGenotypeMatrixOverflow(o.sink, o.cfg.BigStub, offset)
	defer big.Release()
	if err := o.engine.ApplySampler(ctx, pops, big); err != nil {
		return err
	}
	written := big.Written()
	sum.OverflowFiles = append(sum.OverflowFiles, written...)
	o.metrics.SamplerApplications.WithLabelValues(ApplicationOverflow).Inc()
	o.metrics.OverflowFiles.Add(float64(len(written)))
	o.logger.Info("genotype matrices written",
		"files", len(written),
		"driver", string(o.sink.Driver()),
		"stub", o.cfg.BigStub)
	return nil
}

func (o *Orchestrator) evolve(ctx context.Context, pops []*model.Population, s sampler.Sampler, sizes []uint32) error {
	if len(sizes) == 0 {
		return nil
	}
	req := engine.Request{
		Populations:          pops,
		Sampler:              s,
		Fitness:              o.cfg.Fitness,
		Sizes:                sizes,
		NeutralMutationRate:  o.cfg.NeutralMutationRate,
		CausalMutationRate:   o.cfg.MutationRate,
		RecombinationRate:    o.cfg.RecombinationRate,
		CausalRegions:        []engine.EffectRegion{{Region: engine.UnitRegion, MeanEffect: o.cfg.MeanEffect}},
		RecombinationRegions: []engine.Region{engine.UnitRegion},
		Cadence:              o.cfg.SampleInterval,
		EnvironmentalSD:      o.cfg.EnvironmentalSD,
	}
	if o.cfg.NeutralMutationRate > 0 {
		req.NeutralRegions = []engine.Region{engine.UnitRegion}
	}
	if err := o.engine.Evolve(ctx, req); err != nil {
		return err
	}
	o.metrics.Generations.Add(float64(len(sizes)))
	return nil
}

func (o *Orchestrator) flush(ctx context.Context, s sampler.Sampler, next int, sum *Summary) (int, error) {
	counted := &countingAppender{next: o.store, rows: sum.Rows, metrics: o.metrics}
	advanced, err := aggregate.Flush(ctx, s, counted, next)
	if err != nil {
		return next, err
	}
	sum.Flushes++
	o.logger.Debug("flushed", "sampler", s.Kind().String(),
		"rows", humanize.Comma(int64(counted.appended)),
		"replicates", fmt.Sprintf("%d-%d", next, advanced-1))
	return advanced, nil
}

type countingAppender struct {
	next     aggregate.Appender
	rows     map[string]int
	metrics  *Metrics
	appended int
}

func (c *countingAppender) Append(ctx context.Context, table string, rows model.RecordSet) error {
	if err := c.next.Append(ctx, table, rows); err != nil {
		return err
	}
	c.appended += rows.Len()
	c.rows[table] += rows.Len()
	c.metrics.RowsFlushed.WithLabelValues(table).Add(float64(rows.Len()))
	return nil
}
