package tennessen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tennessen/internal/blob"
	"tennessen/internal/config"
	"tennessen/internal/demography"
	"tennessen/internal/export"
	"tennessen/internal/sampler"
	"tennessen/internal/storage"
)

// smallConfig runs 140 generations with a burn-in of 81, so 59 generations are
// sampled: six on cadence plus one forced pass per replicate.
func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Demography = demography.Params{
		AncestralSize:           10,
		BurnInFactor:            10,
		AncientSize:             20,
		AncientGenerations:      20,
		BottleneckSize:          8,
		BottleneckGenerations:   10,
		GrowthStart:             8,
		GrowthMid:               16,
		FirstGrowthGenerations:  6,
		FinalSize:               40,
		SecondGrowthGenerations: 4,
	}
	cfg.Simulation.MeanEffect = 0.1
	cfg.Simulation.MutationRate = 0.01
	cfg.Simulation.RecombinationRate = 0.01
	cfg.Simulation.Sampler = sampler.NameStats
	cfg.Simulation.Model = "additive"
	cfg.Simulation.Cores = 3
	cfg.Simulation.Batches = 2
	cfg.Simulation.SampleInterval = 10
	cfg.Output.Path = filepath.Join(t.TempDir(), "results.db")
	cfg.Engine.Workers = 2
	return cfg
}

func newClient(t *testing.T, cfg *config.Config) *Client {
	t.Helper()
	client, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestRunStoresStatsAndManifest(t *testing.T) {
	ctx := context.Background()
	cfg := smallConfig(t)
	client := newClient(t, cfg)

	sum, err := client.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Replicates != 6 || sum.Batches != 2 || sum.ForcedSamples != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	rows, err := client.Rows(ctx, sampler.TablePopStats)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if rows.Len() != 6*7 {
		t.Fatalf("expected 42 popstats rows, got %d", rows.Len())
	}
	reps, _ := rows.Column("rep")
	seen := map[float64]int{}
	for _, rep := range reps {
		seen[rep]++
	}
	for rep := 0; rep < 6; rep++ {
		if seen[float64(rep)] != 7 {
			t.Fatalf("replicate %d has %d rows", rep, seen[float64(rep)])
		}
	}

	runs, err := client.Runs(ctx)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != sum.RunID || runs[0].Replicates != 6 || runs[0].Tables[sampler.TablePopStats] != 42 {
		t.Fatalf("unexpected manifests: %+v", runs)
	}

	reopened, err := Open(ctx, storage.KindSQLite, cfg.Output.Path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer reopened.Close()
	tables, err := reopened.Tables(ctx)
	if err != nil || len(tables) != 1 || tables[0].Rows != 42 {
		t.Fatalf("unexpected tables after reopen: %+v err=%v", tables, err)
	}
}

func TestExportLatestRun(t *testing.T) {
	ctx := context.Background()
	cfg := smallConfig(t)
	cfg.Simulation.Batches = 1
	cfg.Output.Store = storage.KindMemory
	client := newClient(t, cfg)

	if _, err := client.Export(ctx, ExportRequest{Latest: true, OutDir: t.TempDir()}); err == nil {
		t.Fatal("expected an error before any run")
	}
	sum, err := client.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	out, err := client.Export(ctx, ExportRequest{Latest: true, OutDir: t.TempDir()})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if out.RunID != sum.RunID || len(out.Tables) != 1 || out.Tables[0] != sampler.TablePopStats {
		t.Fatalf("unexpected export: %+v", out)
	}
	rows, err := export.ReadTable(filepath.Join(out.Directory, "popstats.csv"))
	if err != nil || rows.Len() != 21 {
		t.Fatalf("exported %d rows, err=%v", rows.Len(), err)
	}

	if _, err := client.Export(ctx, ExportRequest{RunID: "missing", OutDir: t.TempDir()}); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestExportKeepsAppendedRunsApart(t *testing.T) {
	ctx := context.Background()
	cfg := smallConfig(t)
	cfg.Simulation.Batches = 1
	cfg.Output.Store = storage.KindMemory
	client := newClient(t, cfg)

	first, err := client.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	cfg.Output.Append = true
	second, err := client.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.FirstReplicate != 0 || second.FirstReplicate != 3 || second.Replicates != 3 {
		t.Fatalf("appended run must continue the id sequence: first=%+v second=%+v", first, second)
	}

	for _, tc := range []struct {
		id   string
		reps [2]float64
	}{
		{first.RunID, [2]float64{0, 3}},
		{second.RunID, [2]float64{3, 6}},
	} {
		out, err := client.Export(ctx, ExportRequest{RunID: tc.id, OutDir: t.TempDir()})
		if err != nil {
			t.Fatalf("export %s: %v", tc.id, err)
		}
		rows, err := export.ReadTable(filepath.Join(out.Directory, "popstats.csv"))
		if err != nil || rows.Len() != 21 {
			t.Fatalf("run %s exported %d rows, err=%v", tc.id, rows.Len(), err)
		}
		reps, _ := rows.Column("rep")
		for _, rep := range reps {
			if rep < tc.reps[0] || rep >= tc.reps[1] {
				t.Fatalf("run %s exported replicate %v outside %v", tc.id, rep, tc.reps)
			}
		}
	}
}

func TestRunTruncatesUnlessAppending(t *testing.T) {
	ctx := context.Background()
	cfg := smallConfig(t)
	cfg.Simulation.Batches = 1
	cfg.Output.Store = storage.KindMemory
	client := newClient(t, cfg)

	for i := 0; i < 2; i++ {
		if _, err := client.Run(ctx); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	rows, err := client.Rows(ctx, sampler.TablePopStats)
	if err != nil || rows.Len() != 21 {
		t.Fatalf("expected a fresh table of 21 rows, got %d err=%v", rows.Len(), err)
	}

	cfg.Output.Append = true
	if _, err := client.Run(ctx); err != nil {
		t.Fatalf("append run: %v", err)
	}
	rows, err = client.Rows(ctx, sampler.TablePopStats)
	if err != nil || rows.Len() != 42 {
		t.Fatalf("expected appended rows, got %d err=%v", rows.Len(), err)
	}
	runs, err := client.Runs(ctx)
	if err != nil || len(runs) != 2 {
		t.Fatalf("expected two manifests, got %d err=%v", len(runs), err)
	}
}

func TestRunVAWritesOverflow(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Simulation.Sampler = sampler.NameVA
	cfg.Simulation.Cores = 2
	cfg.Simulation.Batches = 1
	cfg.Overflow.Stub = "genotypes"
	cfg.Overflow.Sink = blob.Config{Driver: blob.DriverFilesystem, Root: t.TempDir()}
	client := newClient(t, cfg)

	sum, err := client.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Flushes != 5 || len(sum.OverflowFiles) != 2 {
		t.Fatalf("unexpected VA summary: %+v", sum)
	}
	for _, key := range []string{"genotypes.0.arrow", "genotypes.1.arrow"} {
		if _, err := os.Stat(filepath.Join(cfg.Overflow.Sink.Root, key)); err != nil {
			t.Fatalf("missing overflow file %s: %v", key, err)
		}
	}
	if sum.Rows[sampler.TableCumVA] < 2*5 {
		t.Fatalf("expected at least one cumVA row per replicate per snapshot: %v", sum.Rows)
	}
}

func TestNewRejectsBadConfigBeforeCreatingStore(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Simulation.MeanEffect = 0

	_, err := New(Options{Config: cfg})
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "lambda" {
		t.Fatalf("expected lambda configuration error, got %v", err)
	}
	if _, statErr := os.Stat(cfg.Output.Path); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("store should not exist, stat err=%v", statErr)
	}
}

func TestBuildTrajectoryHonoursConfig(t *testing.T) {
	cfg := config.Default()
	traj, err := BuildTrajectory(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := traj.Sizes[len(traj.Sizes)-1]; got != 512000 {
		t.Fatalf("final size %d", got)
	}
	cfg.Demography.FinalSize = demography.TennessenLegacyFinalSize
	cfg.Simulation.CoalesceGrowth = false
	traj, err = BuildTrajectory(cfg)
	if err != nil {
		t.Fatalf("build legacy: %v", err)
	}
	if got := traj.Sizes[len(traj.Sizes)-1]; got != demography.TennessenLegacyFinalSize || len(traj.Schedule) != 5 {
		t.Fatalf("legacy trajectory: final=%d epochs=%d", got, len(traj.Schedule))
	}
}
