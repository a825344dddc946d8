package fitness

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const (
	NameGBR            = "gbr"
	NameAdditive       = "additive"
	NameMultiplicative = "multi"
)

var (
	ErrUnknownModel = errors.New("unknown fitness model")
	ErrModelExists  = errors.New("fitness model already registered")
)

// Constructor builds a model from the dominance of causal mutations.
type Constructor func(dominance float64) Model

var modelRegistry = struct {
	mu sync.RWMutex
	m  map[string]Constructor
}{
	m: defaultModels(),
}

func defaultModels() map[string]Constructor {
	return map[string]Constructor{
		NameGBR:            func(h float64) Model { return NewGBR(h) },
		NameAdditive:       func(h float64) Model { return NewAdditive(h) },
		NameMultiplicative: func(h float64) Model { return NewMultiplicative(h) },
	}
}

// Register adds a named architecture.
func Register(name string, ctor Constructor) error {
	if name == "" {
		return errors.New("fitness model name is required")
	}
	if ctor == nil {
		return errors.New("fitness model constructor is required")
	}

	modelRegistry.mu.Lock()
	defer modelRegistry.mu.Unlock()

	if _, exists := modelRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrModelExists, name)
	}
	modelRegistry.m[name] = ctor
	return nil
}

// Resolve returns the named architecture with the given dominance.
func Resolve(name string, dominance float64) (Model, error) {
	modelRegistry.mu.RLock()
	ctor, ok := modelRegistry.m[name]
	modelRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (must be one of %v)", ErrUnknownModel, name, Names())
	}
	return ctor(dominance), nil
}

func Names() []string {
	modelRegistry.mu.RLock()
	defer modelRegistry.mu.RUnlock()

	names := make([]string, 0, len(modelRegistry.m))
	for name := range modelRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetModelRegistryForTests() {
	modelRegistry.mu.Lock()
	defer modelRegistry.mu.Unlock()
	modelRegistry.m = defaultModels()
}
