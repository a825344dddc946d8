package export

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"tennessen/internal/model"
	"tennessen/internal/storage"
)

func TestWriteRunRoundTrip(t *testing.T) {
	base := t.TempDir()
	run := model.RunManifest{
		RunID:      "run-1",
		Model:      "gbr",
		Sampler:    "stats",
		Cores:      2,
		Batches:    1,
		Replicates: 2,
		Tables:     map[string]int{"popstats": 2},
		StartedAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	popstats := model.RecordSet{
		Columns: []string{"generation", "mean_g", "rep"},
		Rows:    [][]float64{{58491, 0.125, 0}, {58491, -1e-9, 1}},
	}

	dir, err := WriteRun(base, run, map[string]model.RecordSet{"popstats": popstats})
	if err != nil {
		t.Fatalf("write run: %v", err)
	}
	if dir != filepath.Join(base, "run-1") {
		t.Fatalf("unexpected run dir %s", dir)
	}

	got, err := ReadTable(filepath.Join(dir, "popstats.csv"))
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	if !reflect.DeepEqual(got, popstats) {
		t.Fatalf("table changed on round trip: %+v", got)
	}

	manifest, ok, err := ReadManifest(dir)
	if err != nil || !ok {
		t.Fatalf("read manifest: ok=%t err=%v", ok, err)
	}
	if manifest.RunID != "run-1" || manifest.SchemaVersion != storage.CurrentSchemaVersion || manifest.Tables["popstats"] != 2 {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
}

func TestWriteRunRequiresID(t *testing.T) {
	if _, err := WriteRun(t.TempDir(), model.RunManifest{}, nil); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestReadManifestMissing(t *testing.T) {
	_, ok, err := ReadManifest(t.TempDir())
	if err != nil || ok {
		t.Fatalf("expected missing manifest, ok=%t err=%v", ok, err)
	}
}

func TestReadTableErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadTable(empty); !errors.Is(err, ErrEmptyHeader) {
		t.Fatalf("expected ErrEmptyHeader, got %v", err)
	}

	bad := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(bad, []byte("generation,rep\n1,x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadTable(bad); err == nil {
		t.Fatal("expected parse error")
	}
}
