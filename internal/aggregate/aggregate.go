// Package aggregate moves accumulated sampler output into the output store.
package aggregate

import (
	"context"
	"errors"
	"fmt"

	"tennessen/internal/model"
	"tennessen/internal/sampler"
)

// RepColumn is appended to every flushed row.
const RepColumn = "rep"

var (
	ErrUnrecognizedSamplerKind = errors.New("sampler kind has no output table")
	ErrShapeMismatch           = errors.New("replicate record sets differ in shape")
)

// Appender is the write side of the output store.
type Appender interface {
	Append(ctx context.Context, table string, rows model.RecordSet) error
}

// Collect drains s and stamps every row with its replicate id. Replicates are
// numbered from next in the order the sampler yields them; a replicate with no
// rows still consumes an id. It returns the destination table, the stamped rows
// and the first unused id.
func Collect(s sampler.Sampler, next int) (string, model.RecordSet, int, error) {
	table, ok := s.Kind().Table()
	if !ok {
		return "", model.RecordSet{}, next, fmt.Errorf("%w: %s", ErrUnrecognizedSamplerKind, s.Kind())
	}

	var (
		combined model.RecordSet
		header   model.RecordSet
		seen     bool
		rep      = next
	)
	for _, set := range s.Results() {
		if !seen {
			header = model.RecordSet{Columns: set.Columns}
			combined = model.NewRecordSet(append(append([]string(nil), set.Columns...), RepColumn)...)
			seen = true
		} else if !header.SameShape(set) {
			return "", model.RecordSet{}, next, fmt.Errorf("%w: replicate %d has %v, expected %v", ErrShapeMismatch, rep, set.Columns, header.Columns)
		}
		for _, row := range set.Rows {
			stamped := make([]float64, 0, len(row)+1)
			stamped = append(stamped, row...)
			combined.Rows = append(combined.Rows, append(stamped, float64(rep)))
		}
		rep++
	}
	return table, combined, rep, nil
}

// Flush collects s and appends the result to its table in a single write. It
// returns the advanced replicate counter; on error the counter is unchanged.
func Flush(ctx context.Context, s sampler.Sampler, store Appender, next int) (int, error) {
	table, rows, advanced, err := Collect(s, next)
	if err != nil {
		return next, err
	}
	if rows.Len() == 0 {
		return advanced, nil
	}
	if err := store.Append(ctx, table, rows); err != nil {
		return next, fmt.Errorf("append %s: %w", table, err)
	}
	return advanced, nil
}
