package sampler

import (
	"errors"
	"fmt"

	"tennessen/internal/fitness"
)

const (
	NameVA    = "VA"
	NameStats = "stats"
	NameLoad  = "load"
)

var ErrUnknownSampler = errors.New("unknown sampler")

// Names lists the samplers selectable by name.
func Names() []string {
	return []string{NameVA, NameStats, NameLoad}
}

// Validate reports whether name selects a known sampler.
func Validate(name string) error {
	switch name {
	case NameVA, NameStats, NameLoad:
		return nil
	}
	return fmt.Errorf("%w: %q (must be one of %v)", ErrUnknownSampler, name, Names())
}

// Resolve builds the named sampler for n replicates. The load sampler follows
// the architecture of m; the other samplers ignore it.
func Resolve(name string, n int, m fitness.Model) (Sampler, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}
	switch name {
	case NameVA:
		return NewVA(n), nil
	case NameStats:
		return NewStats(n, fitness.Optimum), nil
	default:
		load, err := NewLoad(n, m)
		if err != nil {
			return nil, err
		}
		return load, nil
	}
}
