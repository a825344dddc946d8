package engine

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"tennessen/internal/fitness"
	"tennessen/internal/model"
	"tennessen/internal/sampler"
)

// WrightFisher evolves each replicate on its own goroutine, bounded by
// Workers. Every (replicate, generation) pair draws from its own PCG stream
// keyed by the run seed, so results do not depend on scheduling.
type WrightFisher struct {
	seed    uint64
	workers int

	mu         sync.Mutex
	nextStream uint64
}

func NewWrightFisher(seed uint64, workers int) *WrightFisher {
	if workers <= 0 {
		workers = 1
	}
	return &WrightFisher{seed: seed, workers: workers}
}

func (wf *WrightFisher) Workers() int { return wf.workers }

// NewPopulations creates n monomorphic populations of the given size. Streams
// are handed out in creation order across the life of the engine.
func (wf *WrightFisher) NewPopulations(n int, size uint32) []*model.Population {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	pops := make([]*model.Population, n)
	for i := range pops {
		pops[i] = model.NewPopulation(int(size))
		pops[i].Stream = wf.nextStream
		wf.nextStream++
	}
	return pops
}

func (wf *WrightFisher) Evolve(ctx context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}
	if req.Sampler == nil {
		req.Sampler = sampler.NewNull()
	}
	_, sampleless := req.Sampler.(sampler.Null)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(wf.workers)
	for replicate, pop := range req.Populations {
		g.Go(func() error {
			for k, size := range req.Sizes {
				if err := ctx.Err(); err != nil {
					return err
				}
				wf.step(pop, int(size), &req)
				if !sampleless && req.Cadence > 0 && k%req.Cadence == 0 {
					if err := req.Sampler.Observe(ctx, replicate, pop); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// ApplySampler observes every population once at its current generation.
func (wf *WrightFisher) ApplySampler(ctx context.Context, pops []*model.Population, s sampler.Sampler) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(wf.workers)
	for replicate, pop := range pops {
		g.Go(func() error {
			return s.Observe(ctx, replicate, pop)
		})
	}
	return g.Wait()
}

// draws bundles the random sources for one replicate generation.
type draws struct {
	rng *rand.Rand
	src rand.Source
}

func (wf *WrightFisher) drawsFor(pop *model.Population) draws {
	src := rand.NewPCG(wf.seed^pop.Stream*0x9e3779b97f4a7c15, uint64(pop.Generation))
	return draws{rng: rand.New(src), src: src}
}

func (d draws) poisson(mean float64) int {
	if mean <= 0 {
		return 0
	}
	return int(distuv.Poisson{Lambda: mean, Src: d.src}.Rand())
}

func (d draws) effect(mean float64) float64 {
	if mean == 0 {
		return 0
	}
	e := distuv.Exponential{Rate: 1 / math.Abs(mean), Src: d.src}.Rand()
	return math.Copysign(e, mean)
}

func (d draws) noise(sd float64) float64 {
	if sd == 0 {
		return 0
	}
	return distuv.Normal{Mu: 0, Sigma: sd, Src: d.src}.Rand()
}

func (d draws) position(regions []Region) float64 {
	r := pickRegion(d.rng, regions)
	return r.Start + d.rng.Float64()*(r.End-r.Start)
}

func pickRegion(rng *rand.Rand, regions []Region) Region {
	switch len(regions) {
	case 0:
		return UnitRegion
	case 1:
		return regions[0]
	}
	total := 0.0
	for _, r := range regions {
		total += r.Weight
	}
	x := rng.Float64() * total
	for _, r := range regions {
		if x < r.Weight {
			return r
		}
		x -= r.Weight
	}
	return regions[len(regions)-1]
}

// step advances pop by one generation to the given size.
func (wf *WrightFisher) step(pop *model.Population, size int, req *Request) {
	d := wf.drawsFor(pop)
	parents := newParentPicker(pop.W)
	next := make([]model.Diploid, size)
	generation := pop.Generation + 1
	for i := range next {
		mother := pop.Diploids[parents.pick(d.rng)]
		father := pop.Diploids[parents.pick(d.rng)]
		next[i] = model.Diploid{
			First:  gamete(d, pop, mother, req, generation),
			Second: gamete(d, pop, father, req, generation),
		}
	}
	pop.Diploids = next
	pop.Generation = generation
	prune(pop)
	assignPhenotypes(d, pop, req)
}

type parentPicker struct {
	cumulative []float64
}

func newParentPicker(w []float64) parentPicker {
	cumulative := make([]float64, len(w))
	total := 0.0
	for i, v := range w {
		total += math.Max(v, 0)
		cumulative[i] = total
	}
	if total == 0 {
		for i := range cumulative {
			cumulative[i] = float64(i + 1)
		}
	}
	return parentPicker{cumulative: cumulative}
}

func (p parentPicker) pick(rng *rand.Rand) int {
	x := rng.Float64() * p.cumulative[len(p.cumulative)-1]
	i := sort.SearchFloat64s(p.cumulative, x)
	if i < len(p.cumulative) && p.cumulative[i] == x {
		i++
	}
	return min(i, len(p.cumulative)-1)
}

func gamete(d draws, pop *model.Population, parent model.Diploid, req *Request, generation int) model.Haplotype {
	first, second := parent.First, parent.Second
	if d.rng.IntN(2) == 1 {
		first, second = second, first
	}

	var out model.Haplotype
	if k := d.poisson(req.RecombinationRate); k == 0 {
		out = append(model.Haplotype(nil), first...)
	} else {
		breaks := make([]float64, k)
		for i := range breaks {
			breaks[i] = d.position(req.RecombinationRegions)
		}
		sort.Float64s(breaks)
		out = recombine(pop, first, second, breaks)
	}

	for range d.poisson(req.NeutralMutationRate) {
		out = insertMutation(pop, out, model.Mutation{
			Position: d.position(req.NeutralRegions),
			Neutral:  true,
			Origin:   generation,
		})
	}
	for range d.poisson(req.CausalMutationRate) {
		region := pickEffectRegion(d.rng, req.CausalRegions)
		out = insertMutation(pop, out, model.Mutation{
			Position: region.Start + d.rng.Float64()*(region.End-region.Start),
			Effect:   d.effect(region.MeanEffect),
			Origin:   generation,
		})
	}
	return out
}

func pickEffectRegion(rng *rand.Rand, regions []EffectRegion) EffectRegion {
	plain := make([]Region, len(regions))
	for i, r := range regions {
		plain[i] = r.Region
	}
	chosen := pickRegion(rng, plain)
	for _, r := range regions {
		if r.Region == chosen {
			return r
		}
	}
	return regions[0]
}

// recombine copies mutations from alternating haplotypes, switching source at
// every breakpoint.
func recombine(pop *model.Population, first, second model.Haplotype, breaks []float64) model.Haplotype {
	sources := [2]model.Haplotype{first, second}
	cursor := [2]int{}
	out := make(model.Haplotype, 0, max(len(first), len(second)))
	current := 0
	lower := math.Inf(-1)
	for i := 0; i <= len(breaks); i++ {
		upper := math.Inf(1)
		if i < len(breaks) {
			upper = breaks[i]
		}
		h := sources[current]
		c := cursor[current]
		for c < len(h) && pop.Mutations[h[c]].Position < lower {
			c++
		}
		for c < len(h) && pop.Mutations[h[c]].Position < upper {
			out = append(out, h[c])
			c++
		}
		cursor[current] = c
		lower = upper
		current ^= 1
	}
	return out
}

func insertMutation(pop *model.Population, h model.Haplotype, m model.Mutation) model.Haplotype {
	key := uint32(len(pop.Mutations))
	pop.Mutations = append(pop.Mutations, m)
	at := sort.Search(len(h), func(i int) bool {
		return pop.Mutations[h[i]].Position > m.Position
	})
	h = append(h, 0)
	copy(h[at+1:], h[at:])
	h[at] = key
	return h
}

// prune recounts mutations, drops lost ones, moves fixed ones to Fixations
// and compacts the mutation table.
func prune(pop *model.Population) {
	counts := make([]uint32, len(pop.Mutations))
	for _, d := range pop.Diploids {
		for _, key := range d.First {
			counts[key]++
		}
		for _, key := range d.Second {
			counts[key]++
		}
	}
	gametes := uint32(2 * pop.N())
	remap := make([]int64, len(pop.Mutations))
	kept := pop.Mutations[:0:0]
	for i, m := range pop.Mutations {
		switch c := counts[i]; {
		case c == 0:
			remap[i] = -1
		case c >= gametes:
			remap[i] = -1
			pop.Fixations = append(pop.Fixations, model.Fixation{
				Position: m.Position,
				Effect:   m.Effect,
				Neutral:  m.Neutral,
				Origin:   m.Origin,
				FixedAt:  pop.Generation,
			})
		default:
			m.Count = c
			remap[i] = int64(len(kept))
			kept = append(kept, m)
		}
	}
	pop.Mutations = kept

	rewrite := func(h model.Haplotype) model.Haplotype {
		out := h[:0]
		for _, key := range h {
			if to := remap[key]; to >= 0 {
				out = append(out, uint32(to))
			}
		}
		return out
	}
	for i := range pop.Diploids {
		pop.Diploids[i].First = rewrite(pop.Diploids[i].First)
		pop.Diploids[i].Second = rewrite(pop.Diploids[i].Second)
	}
}

func assignPhenotypes(d draws, pop *model.Population, req *Request) {
	n := pop.N()
	pop.G = resize(pop.G, n)
	pop.E = resize(pop.E, n)
	pop.W = resize(pop.W, n)
	for i := 0; i < n; i++ {
		pop.G[i] = req.Fitness.TraitValue(pop.Genotype(i))
		pop.E[i] = d.noise(req.EnvironmentalSD)
		pop.W[i] = fitness.Gaussian(pop.G[i]+pop.E[i], fitness.Optimum, fitness.SelectionVariance)
	}
}

func resize(x []float64, n int) []float64 {
	if cap(x) >= n {
		return x[:n]
	}
	return make([]float64, n)
}
