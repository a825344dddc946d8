package sampler

import (
	"context"
	"iter"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tennessen/internal/model"
)

// VAColumns is the cumVA header.
var VAColumns = []string{"generation", "rank", "freq", "effect", "cum_va", "vg"}

// collinearTolerance is the residual norm below which a site adds no new
// direction to the regression.
const collinearTolerance = 1e-10

// VA decomposes the genetic variance of a replicate over its segregating
// causal sites. Sites are ranked by ascending minor allele frequency and each
// row reports the fraction of V_G explained by regressing genetic values on
// the genotypes of the first rank sites.
type VA struct {
	slots slots
}

func NewVA(n int) *VA {
	return &VA{slots: newSlots(n, VAColumns...)}
}

func (s *VA) Kind() Kind { return KindVA }

func (s *VA) Observe(ctx context.Context, replicate int, pop *model.Population) error {
	if err := s.slots.check(replicate); err != nil {
		return err
	}
	gen := float64(pop.Generation)
	n := pop.N()
	vg := 0.0
	if n > 1 {
		vg = stat.Variance(pop.G, nil)
	}

	sites := pop.SegregatingCausal()
	if len(sites) == 0 || n == 0 {
		return s.slots.record(replicate, gen, 0, 0, 0, 0, vg)
	}

	gametes := float64(2 * n)
	freq := func(site int) float64 { return float64(pop.Mutations[site].Count) / gametes }
	sort.SliceStable(sites, func(i, j int) bool {
		return minor(freq(sites[i])) < minor(freq(sites[j]))
	})

	y := make([]float64, n)
	copy(y, pop.G)
	floats.AddConst(-stat.Mean(y, nil), y)
	total := floats.Dot(y, y)

	matrix := pop.GenotypeMatrix(sites)
	basis := make([][]float64, 0, len(sites))
	explained := 0.0
	for rank, site := range sites {
		if err := ctx.Err(); err != nil {
			return err
		}
		v := make([]float64, n)
		for i := range matrix {
			v[i] = float64(matrix[i][rank])
		}
		floats.AddConst(-stat.Mean(v, nil), v)
		for _, q := range basis {
			floats.AddScaled(v, -floats.Dot(q, v), q)
		}
		if norm := floats.Norm(v, 2); norm > collinearTolerance {
			floats.Scale(1/norm, v)
			basis = append(basis, v)
			proj := floats.Dot(v, y)
			explained += proj * proj
		}
		cum := 0.0
		if total > 0 {
			cum = math.Min(explained/total, 1)
		}
		m := pop.Mutations[site]
		if err := s.slots.record(replicate, gen, float64(rank+1), freq(site), m.Effect, cum, vg); err != nil {
			return err
		}
	}
	return nil
}

func (s *VA) Results() iter.Seq2[int, model.RecordSet] { return s.slots.results() }

func (s *VA) Reset() { s.slots.reset() }

func minor(p float64) float64 {
	return math.Min(p, 1-p)
}
