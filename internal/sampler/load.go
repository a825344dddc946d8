package sampler

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tennessen/internal/fitness"
	"tennessen/internal/model"
)

// LoadColumns is the header shared by the three load tables.
var LoadColumns = []string{"generation", "total_load", "relative_load", "wbar", "wmax"}

var (
	ErrModelRequired    = errors.New("load sampler requires a fitness model")
	ErrUnsupportedModel = errors.New("no load sampler for fitness model")
)

// Load measures genetic load under one trait architecture: trait values are
// recomputed from genotypes with the model the sampler was built for, and
// mapped through Gaussian stabilising selection. Environmental noise is
// excluded.
type Load struct {
	kind  Kind
	model fitness.Model
	slots slots
}

func newLoad(n int, kind Kind, m fitness.Model) *Load {
	return &Load{kind: kind, model: m, slots: newSlots(n, LoadColumns...)}
}

func NewGBRLoad(n int, m fitness.GBR) *Load {
	return newLoad(n, KindGBRLoad, m)
}

func NewAdditiveLoad(n int, m fitness.Additive) *Load {
	return newLoad(n, KindAdditiveLoad, m)
}

func NewMultiplicativeLoad(n int, m fitness.Multiplicative) *Load {
	return newLoad(n, KindMultiplicativeLoad, m)
}

// NewLoad picks the load variant matching the concrete architecture of m.
func NewLoad(n int, m fitness.Model) (*Load, error) {
	switch v := m.(type) {
	case nil:
		return nil, ErrModelRequired
	case fitness.GBR:
		return NewGBRLoad(n, v), nil
	case fitness.Additive:
		return NewAdditiveLoad(n, v), nil
	case fitness.Multiplicative:
		return NewMultiplicativeLoad(n, v), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, m.Name())
	}
}

func (s *Load) Kind() Kind { return s.kind }

func (s *Load) Model() fitness.Model { return s.model }

func (s *Load) Observe(_ context.Context, replicate int, pop *model.Population) error {
	if err := s.slots.check(replicate); err != nil {
		return err
	}
	gen := float64(pop.Generation)
	if pop.N() == 0 {
		return s.slots.record(replicate, gen, 0, 0, 0, 0)
	}
	w := make([]float64, pop.N())
	for i := range w {
		trait := s.model.TraitValue(pop.Genotype(i))
		w[i] = fitness.Gaussian(trait, fitness.Optimum, fitness.SelectionVariance)
	}
	wbar := stat.Mean(w, nil)
	wmax := floats.Max(w)
	relative := 0.0
	if wmax > 0 {
		relative = 1 - wbar/wmax
	}
	return s.slots.record(replicate, gen, 1-wbar, relative, wbar, wmax)
}

func (s *Load) Results() iter.Seq2[int, model.RecordSet] { return s.slots.results() }

func (s *Load) Reset() { s.slots.reset() }
