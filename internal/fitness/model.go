package fitness

import (
	"fmt"
	"math"

	"tennessen/internal/model"
)

// Kind identifies a trait-value architecture.
type Kind int

const (
	KindGBR Kind = iota + 1
	KindAdditive
	KindMultiplicative
)

func (k Kind) String() string {
	switch k {
	case KindGBR:
		return NameGBR
	case KindAdditive:
		return NameAdditive
	case KindMultiplicative:
		return NameMultiplicative
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Model maps a diploid genotype to a genetic trait value.
type Model interface {
	Kind() Kind
	Name() string
	Dominance() float64
	TraitValue(g model.Genotype) float64
}

// GBR is the gene-based recessive model: the geometric mean of the summed
// effects on each haplotype. It carries a dominance value only so that every
// architecture resolves from the same inputs; it is never consulted.
type GBR struct {
	dominance float64
}

func NewGBR(dominance float64) GBR {
	return GBR{dominance: dominance}
}

func (GBR) Kind() Kind           { return KindGBR }
func (GBR) Name() string         { return NameGBR }
func (m GBR) Dominance() float64 { return m.dominance }

func (GBR) TraitValue(g model.Genotype) float64 {
	product := g.FirstSum * g.SecondSum
	if product <= 0 {
		return 0
	}
	return math.Copysign(math.Sqrt(product), g.FirstSum)
}

// Additive sums h*s over heterozygous sites and 2s over homozygous sites.
type Additive struct {
	dominance float64
}

func NewAdditive(dominance float64) Additive {
	return Additive{dominance: dominance}
}

func (Additive) Kind() Kind           { return KindAdditive }
func (Additive) Name() string         { return NameAdditive }
func (m Additive) Dominance() float64 { return m.dominance }

func (m Additive) TraitValue(g model.Genotype) float64 {
	value := 0.0
	for _, s := range g.Heterozygous {
		value += m.dominance * s
	}
	for _, s := range g.Homozygous {
		value += 2 * s
	}
	return value
}

// Multiplicative takes the product of (1+h*s) and (1+2s) terms, less one.
type Multiplicative struct {
	dominance float64
}

func NewMultiplicative(dominance float64) Multiplicative {
	return Multiplicative{dominance: dominance}
}

func (Multiplicative) Kind() Kind           { return KindMultiplicative }
func (Multiplicative) Name() string         { return NameMultiplicative }
func (m Multiplicative) Dominance() float64 { return m.dominance }

func (m Multiplicative) TraitValue(g model.Genotype) float64 {
	value := 1.0
	for _, s := range g.Heterozygous {
		value *= 1 + m.dominance*s
	}
	for _, s := range g.Homozygous {
		value *= 1 + 2*s
	}
	return value - 1
}

const (
	// Optimum is the phenotypic optimum of the stabilising-selection model.
	Optimum = 0.0
	// SelectionVariance is V_S of the Gaussian fitness function.
	SelectionVariance = 1.0
)

// Gaussian returns exp(-(p-optimum)^2 / (2 vs)).
func Gaussian(p, optimum, vs float64) float64 {
	d := p - optimum
	return math.Exp(-(d * d) / (2 * vs))
}
