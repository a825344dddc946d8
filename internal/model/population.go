package model

// Mutation is one entry of a population's mutation table. Count is the number
// of gametes carrying it in the current generation.
type Mutation struct {
	Position float64
	Effect   float64
	Neutral  bool
	Origin   int
	Count    uint32
}

// Haplotype holds indices into Population.Mutations ordered by position.
type Haplotype []uint32

type Diploid struct {
	First  Haplotype
	Second Haplotype
}

type Fixation struct {
	Position float64
	Effect   float64
	Neutral  bool
	Origin   int
	FixedAt  int
}

// Population is the state of one replicate. The engine owns mutation of it;
// samplers only read. G, E and W are the genetic value, environmental noise and
// fitness of each diploid as of Generation.
type Population struct {
	// Stream identifies the replicate's random stream; the engine assigns it.
	Stream     uint64
	Generation int
	Mutations  []Mutation
	Diploids   []Diploid
	Fixations  []Fixation
	G          []float64
	E          []float64
	W          []float64
}

// NewPopulation returns a monomorphic population of size diploids with unit fitness.
func NewPopulation(size int) *Population {
	p := &Population{
		Diploids: make([]Diploid, size),
		G:        make([]float64, size),
		E:        make([]float64, size),
		W:        make([]float64, size),
	}
	for i := range p.W {
		p.W[i] = 1
	}
	return p
}

func (p *Population) N() int {
	return len(p.Diploids)
}

// Genotype summarises the causal mutations carried by diploid i.
type Genotype struct {
	FirstSum     float64
	SecondSum    float64
	Heterozygous []float64
	Homozygous   []float64
}

func (p *Population) Genotype(i int) Genotype {
	d := p.Diploids[i]
	var g Genotype
	a, b := 0, 0
	for a < len(d.First) || b < len(d.Second) {
		switch {
		case b >= len(d.Second) || (a < len(d.First) && p.less(d.First[a], d.Second[b])):
			m := p.Mutations[d.First[a]]
			if !m.Neutral {
				g.FirstSum += m.Effect
				g.Heterozygous = append(g.Heterozygous, m.Effect)
			}
			a++
		case a >= len(d.First) || p.less(d.Second[b], d.First[a]):
			m := p.Mutations[d.Second[b]]
			if !m.Neutral {
				g.SecondSum += m.Effect
				g.Heterozygous = append(g.Heterozygous, m.Effect)
			}
			b++
		default:
			m := p.Mutations[d.First[a]]
			if !m.Neutral {
				g.FirstSum += m.Effect
				g.SecondSum += m.Effect
				g.Homozygous = append(g.Homozygous, m.Effect)
			}
			a++
			b++
		}
	}
	return g
}

func (p *Population) less(i, j uint32) bool {
	pi, pj := p.Mutations[i].Position, p.Mutations[j].Position
	if pi != pj {
		return pi < pj
	}
	return i < j
}

// SegregatingCausal returns the indices of causal mutations that are neither
// lost nor fixed, in mutation-table order.
func (p *Population) SegregatingCausal() []int {
	total := uint32(2 * p.N())
	out := make([]int, 0, len(p.Mutations))
	for i, m := range p.Mutations {
		if m.Neutral || m.Count == 0 || m.Count >= total {
			continue
		}
		out = append(out, i)
	}
	return out
}

// GenotypeMatrix returns an N x len(sites) matrix of per-diploid copy counts
// (0, 1 or 2) for the requested mutation indices.
func (p *Population) GenotypeMatrix(sites []int) [][]int8 {
	column := make(map[uint32]int, len(sites))
	for c, site := range sites {
		column[uint32(site)] = c
	}
	matrix := make([][]int8, p.N())
	for i, d := range p.Diploids {
		row := make([]int8, len(sites))
		for _, key := range d.First {
			if c, ok := column[key]; ok {
				row[c]++
			}
		}
		for _, key := range d.Second {
			if c, ok := column[key]; ok {
				row[c]++
			}
		}
		matrix[i] = row
	}
	return matrix
}
