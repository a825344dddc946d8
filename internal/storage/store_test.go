package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tennessen/internal/model"
)

func popstats(reps ...float64) model.RecordSet {
	set := model.NewRecordSet("generation", "mean_g", "rep")
	for _, rep := range reps {
		set.Append(100, 0.25*rep, rep)
	}
	return set
}

// exerciseStore runs the behaviour every backend must share against an
// initialised, empty store.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if err := store.Append(ctx, "popstats", popstats(0, 1)); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := store.Append(ctx, "popstats", popstats(2, 3)); err != nil {
		t.Fatalf("second append: %v", err)
	}
	if err := store.Append(ctx, "cumVA", model.NewRecordSet("generation", "cum_va", "rep")); err != nil {
		t.Fatalf("empty append: %v", err)
	}

	rows, ok, err := store.Rows(ctx, "popstats")
	if err != nil || !ok {
		t.Fatalf("rows: ok=%t err=%v", ok, err)
	}
	reps, _ := rows.Column("rep")
	if len(reps) != 4 || reps[0] != 0 || reps[1] != 1 || reps[2] != 2 || reps[3] != 3 {
		t.Fatalf("appends must preserve order and never rewrite rows: %v", reps)
	}
	if means, _ := rows.Column("mean_g"); means[3] != 0.75 {
		t.Fatalf("unexpected values: %v", rows.Rows)
	}

	if _, ok, err := store.Rows(ctx, "gbrLoad"); err != nil || ok {
		t.Fatalf("missing table: ok=%t err=%v", ok, err)
	}

	err = store.Append(ctx, "popstats", model.RecordSet{Columns: []string{"generation", "rep"}, Rows: [][]float64{{1, 0}}})
	if !errors.Is(err, ErrColumnMismatch) {
		t.Fatalf("expected ErrColumnMismatch, got %v", err)
	}
	err = store.Append(ctx, "popstats", model.RecordSet{Columns: []string{"generation", "mean_g", "rep"}, Rows: [][]float64{{1}}})
	if !errors.Is(err, ErrColumnMismatch) {
		t.Fatalf("expected ErrColumnMismatch for short row, got %v", err)
	}
	for _, table := range []string{"", "pop stats", "1st", `x";DROP`} {
		if err := store.Append(ctx, table, popstats(9)); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("table %q: expected ErrInvalidName, got %v", table, err)
		}
	}
	if err := store.Append(ctx, "runs", popstats(9)); !errors.Is(err, ErrReservedTable) {
		t.Fatalf("expected ErrReservedTable, got %v", err)
	}
	if err := store.Append(ctx, "other", model.NewRecordSet("seq")); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected reserved column rejection, got %v", err)
	}

	after, _, err := store.Rows(ctx, "popstats")
	if err != nil || after.Len() != 4 {
		t.Fatalf("failed appends must not write rows: len=%d err=%v", after.Len(), err)
	}

	tables, err := store.Tables(ctx)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if len(tables) != 2 || tables[0].Name != "cumVA" || tables[1].Name != "popstats" {
		t.Fatalf("unexpected tables: %+v", tables)
	}
	if tables[0].Rows != 0 || tables[1].Rows != 4 || len(tables[1].Columns) != 3 {
		t.Fatalf("unexpected table info: %+v", tables)
	}

	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := model.RunManifest{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion},
		RunID:           "run-b",
		Model:           "additive",
		Sampler:         "stats",
		Cores:           4,
		Batches:         2,
		Replicates:      8,
		Tables:          map[string]int{"popstats": 4},
		StartedAt:       started,
		FinishedAt:      started.Add(time.Minute),
	}
	second := first
	second.RunID = "run-a"
	second.StartedAt = started.Add(time.Hour)
	for _, run := range []model.RunManifest{second, first} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run: %v", err)
		}
	}
	loaded, ok, err := store.GetRun(ctx, "run-b")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if loaded.Model != "additive" || loaded.Replicates != 8 || loaded.Tables["popstats"] != 4 || !loaded.StartedAt.Equal(started) {
		t.Fatalf("unexpected run: %+v", loaded)
	}
	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing run: ok=%t err=%v", ok, err)
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-b" || runs[1].RunID != "run-a" {
		t.Fatalf("runs must be ordered by start time: %+v", runs)
	}

	if err := store.Truncate(ctx); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	tables, err = store.Tables(ctx)
	if err != nil || len(tables) != 0 {
		t.Fatalf("truncate must drop tables: %+v err=%v", tables, err)
	}
	if runs, err := store.ListRuns(ctx); err != nil || len(runs) != 0 {
		t.Fatalf("truncate must drop runs: %+v err=%v", runs, err)
	}
	if err := store.Append(ctx, "popstats", model.NewRecordSet("other", "rep")); err != nil {
		t.Fatalf("append after truncate may use a new header: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Append(context.Background(), "popstats", popstats(0)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	exerciseStore(t, store)
}

func TestMemoryStoreCopiesRows(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	input := popstats(0)
	if err := store.Append(ctx, "popstats", input); err != nil {
		t.Fatalf("append: %v", err)
	}
	input.Rows[0][0] = -1
	out, _, _ := store.Rows(ctx, "popstats")
	out.Rows[0][1] = -1
	again, _, _ := store.Rows(ctx, "popstats")
	if again.Rows[0][0] != 100 || again.Rows[0][1] != 0 {
		t.Fatalf("store must not alias caller slices: %v", again.Rows)
	}
}

func TestNewStore(t *testing.T) {
	cases := map[string]string{
		"memory":   "*storage.MemoryStore",
		"sqlite":   "*storage.SQLiteStore",
		"":         "*storage.SQLiteStore",
		"postgres": "*storage.PostgresStore",
	}
	for kind, want := range cases {
		store, err := NewStore(kind, "")
		if err != nil {
			t.Fatalf("new %q store: %v", kind, err)
		}
		if got := fmt.Sprintf("%T", store); got != want {
			t.Fatalf("%q: got %s want %s", kind, got, want)
		}
	}
	if _, err := NewStore("hdf5", ""); err == nil {
		t.Fatal("expected unsupported store error")
	}
}

func TestCloseIfSupported(t *testing.T) {
	if err := CloseIfSupported(NewMemoryStore()); err != nil {
		t.Fatalf("memory close: %v", err)
	}
	if err := CloseIfSupported(NewSQLiteStore("unused.db")); err != nil {
		t.Fatalf("closing an unopened sqlite store: %v", err)
	}
}
