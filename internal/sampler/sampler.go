// Package sampler holds the observers applied to replicate populations while
// they evolve. Every sampler is sized for a fixed number of replicates and keeps
// one record set per replicate so the engine can observe replicates from
// separate goroutines without locking.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"tennessen/internal/model"
)

// Kind is the closed set of sampler variants. Each kind carries its output
// table, so routing results never depends on inspecting concrete types.
type Kind int

const (
	KindNull Kind = iota
	KindStats
	KindVA
	KindGBRLoad
	KindAdditiveLoad
	KindMultiplicativeLoad
	KindOverflow
)

const (
	TableCumVA              = "cumVA"
	TablePopStats           = "popstats"
	TableGBRLoad            = "gbrLoad"
	TableAdditiveLoad       = "additiveLoad"
	TableMultiplicativeLoad = "multiplicativeLoad"
)

var kindTables = map[Kind]string{
	KindStats:              TablePopStats,
	KindVA:                 TableCumVA,
	KindGBRLoad:            TableGBRLoad,
	KindAdditiveLoad:       TableAdditiveLoad,
	KindMultiplicativeLoad: TableMultiplicativeLoad,
}

// Table returns the output table for k. Null and overflow samplers have none.
func (k Kind) Table() (string, bool) {
	table, ok := kindTables[k]
	return table, ok
}

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindStats:
		return "stats"
	case KindVA:
		return "VA"
	case KindOverflow:
		return "overflow"
	}
	if table, ok := k.Table(); ok {
		return table
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var ErrReplicateOutOfRange = errors.New("replicate index out of range")

// Sampler observes populations and later yields one record set per replicate.
// Results is single-use: once drained, iterating again yields nothing until
// Reset is called.
type Sampler interface {
	Kind() Kind
	Observe(ctx context.Context, replicate int, pop *model.Population) error
	Results() iter.Seq2[int, model.RecordSet]
	Reset()
}

// slots is the per-replicate accumulator shared by the tabular samplers.
type slots struct {
	columns []string
	sets    []model.RecordSet
	drained bool
}

func newSlots(n int, columns ...string) slots {
	s := slots{columns: columns, sets: make([]model.RecordSet, n)}
	s.reset()
	return s
}

func (s *slots) record(replicate int, values ...float64) error {
	if replicate < 0 || replicate >= len(s.sets) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrReplicateOutOfRange, replicate, len(s.sets))
	}
	s.sets[replicate].Append(values...)
	return nil
}

func (s *slots) check(replicate int) error {
	if replicate < 0 || replicate >= len(s.sets) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrReplicateOutOfRange, replicate, len(s.sets))
	}
	return nil
}

func (s *slots) results() iter.Seq2[int, model.RecordSet] {
	return func(yield func(int, model.RecordSet) bool) {
		if s.drained {
			return
		}
		s.drained = true
		for i, set := range s.sets {
			if !yield(i, set) {
				return
			}
		}
	}
}

func (s *slots) reset() {
	for i := range s.sets {
		s.sets[i] = model.NewRecordSet(s.columns...)
	}
	s.drained = false
}

// Null observes nothing.
type Null struct{}

func NewNull() Null { return Null{} }

func (Null) Kind() Kind { return KindNull }

func (Null) Observe(context.Context, int, *model.Population) error { return nil }

func (Null) Results() iter.Seq2[int, model.RecordSet] {
	return func(func(int, model.RecordSet) bool) {}
}

func (Null) Reset() {}
