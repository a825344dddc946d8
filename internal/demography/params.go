package demography

import "fmt"

// TennessenLegacyFinalSize is the terminal size used by an earlier release of
// the pipeline; TennessenParams uses 512,000.
const TennessenLegacyFinalSize = 51200

type Params struct {
	AncestralSize           uint32 `yaml:"ancestral_size" json:"ancestral_size"`
	BurnInFactor            int    `yaml:"burn_in_factor" json:"burn_in_factor"`
	AncientSize             uint32 `yaml:"ancient_size" json:"ancient_size"`
	AncientGenerations      int    `yaml:"ancient_generations" json:"ancient_generations"`
	BottleneckSize          uint32 `yaml:"bottleneck_size" json:"bottleneck_size"`
	BottleneckGenerations   int    `yaml:"bottleneck_generations" json:"bottleneck_generations"`
	GrowthStart             uint32 `yaml:"growth_start" json:"growth_start"`
	GrowthMid               uint32 `yaml:"growth_mid" json:"growth_mid"`
	FirstGrowthGenerations  int    `yaml:"first_growth_generations" json:"first_growth_generations"`
	FinalSize               uint32 `yaml:"final_size" json:"final_size"`
	SecondGrowthGenerations int    `yaml:"second_growth_generations" json:"second_growth_generations"`
}

// TennessenParams returns the published epoch constants, times measured in
// generations before present:
//
//	E1 7,310 until 5,920 (run for 10N to reach equilibrium)
//	E2 14,474 from 5,920 to 2,040
//	E3 1,861 from 2,040 to 920 (out-of-Africa bottleneck)
//	E4 1,032 -> 9,300 from 920 to 205
//	E5 9,300 -> 512,000 from 205 to present
func TennessenParams() Params {
	return Params{
		AncestralSize:           7310,
		BurnInFactor:            10,
		AncientSize:             14474,
		AncientGenerations:      5920 - 2040,
		BottleneckSize:          1861,
		BottleneckGenerations:   2040 - 920,
		GrowthStart:             1032,
		GrowthMid:               9300,
		FirstGrowthGenerations:  920 - 205,
		FinalSize:               512000,
		SecondGrowthGenerations: 205,
	}
}

func (p Params) Validate() error {
	sizes := map[string]uint32{
		"ancestral_size":  p.AncestralSize,
		"ancient_size":    p.AncientSize,
		"bottleneck_size": p.BottleneckSize,
		"growth_start":    p.GrowthStart,
		"growth_mid":      p.GrowthMid,
		"final_size":      p.FinalSize,
	}
	for name, n := range sizes {
		if n == 0 {
			return fmt.Errorf("%w: %s must be > 0", ErrInvalidParams, name)
		}
	}
	durations := map[string]int{
		"ancient_generations":       p.AncientGenerations,
		"bottleneck_generations":    p.BottleneckGenerations,
		"first_growth_generations":  p.FirstGrowthGenerations,
		"second_growth_generations": p.SecondGrowthGenerations,
	}
	for name, t := range durations {
		if t < 0 {
			return fmt.Errorf("%w: %s must be >= 0", ErrInvalidParams, name)
		}
	}
	if p.BurnInFactor*int(p.AncestralSize) < BurnInGenerations(p.AncestralSize) {
		return fmt.Errorf("%w: burn_in_factor must cover %dN+1 generations", ErrInvalidParams, BurnInMultiplier)
	}
	return nil
}
