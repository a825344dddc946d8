package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RecordSet is one replicate's worth of sampler output: a column header plus
// equally sized numeric rows.
type RecordSet struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

func NewRecordSet(columns ...string) RecordSet {
	return RecordSet{Columns: append([]string(nil), columns...)}
}

func (r *RecordSet) Append(values ...float64) {
	r.Rows = append(r.Rows, append([]float64(nil), values...))
}

func (r RecordSet) Len() int {
	return len(r.Rows)
}

// Column returns the values of a named column, or false when it is absent.
func (r RecordSet) Column(name string) ([]float64, bool) {
	idx := -1
	for i, column := range r.Columns {
		if column == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// SameShape reports whether both sets carry identical column headers.
func (r RecordSet) SameShape(other RecordSet) bool {
	if len(r.Columns) != len(other.Columns) {
		return false
	}
	for i := range r.Columns {
		if r.Columns[i] != other.Columns[i] {
			return false
		}
	}
	return true
}

// RunManifest records one run. Its rows are the ones whose rep lies in
// [FirstReplicate, FirstReplicate+Replicates).
type RunManifest struct {
	VersionedRecord
	RunID          string         `json:"run_id"`
	Model          string         `json:"model"`
	Sampler        string         `json:"sampler"`
	Seed           uint64         `json:"seed"`
	Cores          int            `json:"cores"`
	Batches        int            `json:"batches"`
	FirstReplicate int            `json:"first_replicate"`
	Replicates     int            `json:"replicates"`
	Tables         map[string]int `json:"tables,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// NextReplicate is the id the run after this one starts from.
func (m RunManifest) NextReplicate() int {
	return m.FirstReplicate + m.Replicates
}

// Owns reports whether replicate id rep belongs to the run.
func (m RunManifest) Owns(rep int) bool {
	return rep >= m.FirstReplicate && rep < m.NextReplicate()
}
