package sampler

import (
	"context"
	"iter"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tennessen/internal/model"
)

// StatsColumns is the popstats header.
var StatsColumns = []string{"generation", "N", "mean_g", "var_g", "mean_p", "var_p", "wbar", "dist_opt", "segsites"}

// Stats records summary statistics of the genetic value, phenotype and fitness
// distributions relative to a fixed phenotypic optimum.
type Stats struct {
	optimum float64
	slots   slots
}

func NewStats(n int, optimum float64) *Stats {
	return &Stats{optimum: optimum, slots: newSlots(n, StatsColumns...)}
}

func (s *Stats) Kind() Kind { return KindStats }

func (s *Stats) Observe(_ context.Context, replicate int, pop *model.Population) error {
	if err := s.slots.check(replicate); err != nil {
		return err
	}
	phenotype := make([]float64, pop.N())
	floats.AddTo(phenotype, pop.G, pop.E)

	meanG, varG := meanVariance(pop.G)
	meanP, varP := meanVariance(phenotype)
	wbar, _ := meanVariance(pop.W)
	return s.slots.record(replicate,
		float64(pop.Generation),
		float64(pop.N()),
		meanG, varG,
		meanP, varP,
		wbar,
		math.Abs(meanP-s.optimum),
		float64(len(pop.SegregatingCausal())),
	)
}

func (s *Stats) Results() iter.Seq2[int, model.RecordSet] { return s.slots.results() }

func (s *Stats) Reset() { s.slots.reset() }

// meanVariance is stat.MeanVariance with the degenerate sizes pinned to zero.
func meanVariance(x []float64) (float64, float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	}
	return stat.MeanVariance(x, nil)
}
