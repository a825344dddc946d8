// Package demography builds the generation-by-generation population-size
// trajectory of the Tennessen et al. (2012) European demographic model and the
// epoch list the orchestrator schedules sampling against.
package demography

import (
	"errors"
	"fmt"
	"math"
)

// BurnInMultiplier is the number of ancestral population sizes evolved under a
// no-op sampler before periodic sampling starts.
const BurnInMultiplier = 8

const (
	LabelAncestral  = "ancestral"
	LabelAncient    = "ancient_growth"
	LabelBottleneck = "ooa_bottleneck"
	LabelGrowth1    = "growth_1"
	LabelGrowth2    = "growth_2"
	LabelGrowth     = "growth"
)

var ErrInvalidParams = errors.New("invalid demographic parameters")

type LawKind int

const (
	LawConstant LawKind = iota
	LawExponential
)

func (k LawKind) String() string {
	switch k {
	case LawConstant:
		return "constant"
	case LawExponential:
		return "exponential"
	default:
		return fmt.Sprintf("law(%d)", int(k))
	}
}

// SizeLaw describes how N evolves within an epoch. For LawConstant only From is
// meaningful.
type SizeLaw struct {
	Kind LawKind
	From uint32
	To   uint32
}

func Constant(n uint32) SizeLaw {
	return SizeLaw{Kind: LawConstant, From: n, To: n}
}

func ExponentialGrowth(from, to uint32) SizeLaw {
	return SizeLaw{Kind: LawExponential, From: from, To: to}
}

func (l SizeLaw) sizes(length int) []uint32 {
	if l.Kind == LawExponential {
		return ExponentialSizeChange(l.From, l.To, length)
	}
	out := make([]uint32, length)
	for i := range out {
		out[i] = l.From
	}
	return out
}

type Epoch struct {
	Label  string
	Start  int
	Length int
	Law    SizeLaw
}

func (e Epoch) End() int {
	return e.Start + e.Length
}

// Trajectory is immutable after Build: Sizes[g] is N at generation g, oldest
// first. Epochs are the underlying demographic epochs, Schedule the epochs the
// orchestrator iterates.
type Trajectory struct {
	Sizes    []uint32
	Epochs   []Epoch
	Schedule []Epoch
}

func (t Trajectory) Len() int {
	return len(t.Sizes)
}

// Slice returns the sizes of an epoch without copying.
func (t Trajectory) Slice(e Epoch) []uint32 {
	return t.Sizes[e.Start:e.End()]
}

// BurnIn is the length of the non-sampled equilibrium prefix.
func (t Trajectory) BurnIn() int {
	if len(t.Sizes) == 0 {
		return 0
	}
	return BurnInGenerations(t.Sizes[0])
}

func BurnInGenerations(ancestral uint32) int {
	return BurnInMultiplier*int(ancestral) + 1
}

type BuildOptions struct {
	// CoalesceGrowth merges the two growth phases into one scheduling epoch.
	CoalesceGrowth bool
}

func Build(p Params, opts BuildOptions) (Trajectory, error) {
	if err := p.Validate(); err != nil {
		return Trajectory{}, err
	}

	specs := []struct {
		label  string
		length int
		law    SizeLaw
	}{
		{LabelAncestral, p.BurnInFactor * int(p.AncestralSize), Constant(p.AncestralSize)},
		{LabelAncient, p.AncientGenerations, Constant(p.AncientSize)},
		{LabelBottleneck, p.BottleneckGenerations, Constant(p.BottleneckSize)},
		{LabelGrowth1, p.FirstGrowthGenerations, ExponentialGrowth(p.GrowthStart, p.GrowthMid)},
		{LabelGrowth2, p.SecondGrowthGenerations, ExponentialGrowth(p.GrowthMid, p.FinalSize)},
	}

	total := 0
	for _, spec := range specs {
		total += spec.length
	}

	traj := Trajectory{
		Sizes:  make([]uint32, 0, total),
		Epochs: make([]Epoch, 0, len(specs)),
	}
	for _, spec := range specs {
		traj.Epochs = append(traj.Epochs, Epoch{
			Label:  spec.label,
			Start:  len(traj.Sizes),
			Length: spec.length,
			Law:    spec.law,
		})
		traj.Sizes = append(traj.Sizes, spec.law.sizes(spec.length)...)
	}
	traj.Schedule = schedule(traj.Epochs, opts.CoalesceGrowth)
	return traj, nil
}

func schedule(epochs []Epoch, coalesce bool) []Epoch {
	out := make([]Epoch, 0, len(epochs))
	for _, e := range epochs {
		if coalesce && e.Label == LabelGrowth2 && len(out) > 0 && out[len(out)-1].Label == LabelGrowth {
			last := &out[len(out)-1]
			last.Length += e.Length
			last.Law = ExponentialGrowth(last.Law.From, e.Law.To)
			continue
		}
		if coalesce && e.Label == LabelGrowth1 {
			e.Label = LabelGrowth
		}
		out = append(out, e)
	}
	return out
}

// ExponentialSizeChange interpolates geometrically from na to nb over t
// generations. The first value is na and the last is nb up to rounding.
func ExponentialSizeChange(na, nb uint32, t int) []uint32 {
	if t <= 0 {
		return []uint32{}
	}
	out := make([]uint32, t)
	out[0] = na
	if t == 1 {
		return out
	}
	ratio := float64(nb) / float64(na)
	steps := float64(t - 1)
	for i := 1; i < t; i++ {
		n := math.Round(float64(na) * math.Pow(ratio, float64(i)/steps))
		if n < 1 {
			n = 1
		}
		out[i] = uint32(n)
	}
	out[t-1] = nb
	return out
}

// GrowthRate returns the per-generation rate r of ExponentialSizeChange(na,
// nb, t). The sequence starts at na and ends at nb, so it grows over t-1
// steps: nb = na*(1+r)^(t-1).
func GrowthRate(na, nb uint32, t int) float64 {
	if t <= 1 || na == 0 {
		return 0
	}
	return math.Pow(float64(nb)/float64(na), 1/float64(t-1)) - 1
}

// Concat joins independently built segments.
func Concat(segments ...[]uint32) []uint32 {
	total := 0
	for _, s := range segments {
		total += len(s)
	}
	out := make([]uint32, 0, total)
	for _, s := range segments {
		out = append(out, s...)
	}
	return out
}
