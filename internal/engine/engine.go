// Package engine evolves replicate populations forward in time. WrightFisher
// is a small reference implementation of the contract the orchestrator drives:
// discrete non-overlapping generations, fitness-proportional parent choice,
// Poisson mutation and crossover, and a quantitative trait under Gaussian
// stabilising selection.
package engine

import (
	"errors"
	"fmt"

	"tennessen/internal/fitness"
	"tennessen/internal/model"
	"tennessen/internal/sampler"
)

var ErrInvalidRequest = errors.New("invalid evolve request")

// Region is a half-open interval [Start, End) of the simulated locus. Weight
// sets how often it is chosen relative to its siblings.
type Region struct {
	Start  float64
	End    float64
	Weight float64
}

// EffectRegion is a causal region whose new mutations draw exponential effect
// sizes with mean MeanEffect. A negative mean yields negative effects.
type EffectRegion struct {
	Region
	MeanEffect float64
}

// UnitRegion covers the whole locus.
var UnitRegion = Region{Start: 0, End: 1, Weight: 1}

// Request asks the engine to evolve every population through Sizes, one
// generation per entry. The sampler observes after generation k (counting from
// zero within this request) whenever k is a multiple of Cadence, so a request
// of M generations observes ceil(M/Cadence) times. Cadence <= 0 never observes.
type Request struct {
	Populations          []*model.Population
	Sampler              sampler.Sampler
	Fitness              fitness.Model
	Sizes                []uint32
	NeutralMutationRate  float64
	CausalMutationRate   float64
	RecombinationRate    float64
	NeutralRegions       []Region
	CausalRegions        []EffectRegion
	RecombinationRegions []Region
	Cadence              int
	EnvironmentalSD      float64
}

// Observations returns how many times a sampler fires over m generations at
// the given cadence.
func Observations(m, cadence int) int {
	if m <= 0 || cadence <= 0 {
		return 0
	}
	return (m + cadence - 1) / cadence
}

func (r Request) validate() error {
	if r.Fitness == nil {
		return fmt.Errorf("%w: fitness model is required", ErrInvalidRequest)
	}
	if r.NeutralMutationRate < 0 || r.CausalMutationRate < 0 || r.RecombinationRate < 0 {
		return fmt.Errorf("%w: rates must be >= 0", ErrInvalidRequest)
	}
	if r.EnvironmentalSD < 0 {
		return fmt.Errorf("%w: environmental sd must be >= 0", ErrInvalidRequest)
	}
	if r.CausalMutationRate > 0 && len(r.CausalRegions) == 0 {
		return fmt.Errorf("%w: causal mutations need at least one causal region", ErrInvalidRequest)
	}
	for i, n := range r.Sizes {
		if n == 0 {
			return fmt.Errorf("%w: size at generation %d is zero", ErrInvalidRequest, i)
		}
	}
	for i, pop := range r.Populations {
		if pop == nil {
			return fmt.Errorf("%w: population %d is nil", ErrInvalidRequest, i)
		}
	}
	return nil
}
