package fitness

import (
	"errors"
	"math"
	"testing"

	"tennessen/internal/model"
)

func TestResolveKnownModels(t *testing.T) {
	cases := map[string]Kind{
		"gbr":      KindGBR,
		"additive": KindAdditive,
		"multi":    KindMultiplicative,
	}
	for name, kind := range cases {
		m, err := Resolve(name, 0.25)
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		if m.Kind() != kind || m.Name() != name {
			t.Fatalf("resolve %s: got kind=%s name=%s", name, m.Kind(), m.Name())
		}
		if m.Dominance() != 0.25 {
			t.Fatalf("resolve %s: dominance not stored: %v", name, m.Dominance())
		}
	}
}

func TestResolveUnknownModel(t *testing.T) {
	for _, name := range []string{"", "GBR", "mult", "dominance"} {
		if _, err := Resolve(name, 1); !errors.Is(err, ErrUnknownModel) {
			t.Fatalf("resolve %q: expected ErrUnknownModel, got %v", name, err)
		}
	}
}

func TestRegisterDuplicateAndCustom(t *testing.T) {
	resetModelRegistryForTests()
	t.Cleanup(resetModelRegistryForTests)

	if err := Register(NameGBR, func(h float64) Model { return NewGBR(h) }); !errors.Is(err, ErrModelExists) {
		t.Fatalf("expected ErrModelExists, got %v", err)
	}
	if err := Register("", nil); err == nil {
		t.Fatal("expected validation error")
	}
	if err := Register("additive-half", func(float64) Model { return NewAdditive(0.5) }); err != nil {
		t.Fatalf("register: %v", err)
	}
	m, err := Resolve("additive-half", 1)
	if err != nil {
		t.Fatalf("resolve custom: %v", err)
	}
	if m.Dominance() != 0.5 {
		t.Fatalf("unexpected custom dominance: %v", m.Dominance())
	}

	names := Names()
	if len(names) != 4 || names[0] != "additive" || names[1] != "additive-half" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestTraitValues(t *testing.T) {
	g := model.Genotype{
		FirstSum:     0.3,
		SecondSum:    0.2,
		Heterozygous: []float64{0.1, 0.2},
		Homozygous:   []float64{0.1},
	}

	gbr := NewGBR(0.5)
	if got, want := gbr.TraitValue(g), math.Sqrt(0.3*0.2); math.Abs(got-want) > 1e-12 {
		t.Fatalf("gbr: got=%v want=%v", got, want)
	}
	if NewGBR(0).TraitValue(g) != NewGBR(1).TraitValue(g) {
		t.Fatal("gbr must ignore dominance")
	}
	if got := gbr.TraitValue(model.Genotype{FirstSum: 0.4}); got != 0 {
		t.Fatalf("gbr with one empty haplotype: got=%v", got)
	}

	additive := NewAdditive(0.5)
	if got, want := additive.TraitValue(g), 0.5*0.1+0.5*0.2+2*0.1; math.Abs(got-want) > 1e-12 {
		t.Fatalf("additive: got=%v want=%v", got, want)
	}

	multi := NewMultiplicative(0.5)
	want := (1+0.5*0.1)*(1+0.5*0.2)*(1+2*0.1) - 1
	if got := multi.TraitValue(g); math.Abs(got-want) > 1e-12 {
		t.Fatalf("multi: got=%v want=%v", got, want)
	}
	if got := multi.TraitValue(model.Genotype{}); got != 0 {
		t.Fatalf("multi on empty genotype: got=%v", got)
	}
}

func TestGaussian(t *testing.T) {
	if Gaussian(0, Optimum, SelectionVariance) != 1 {
		t.Fatal("fitness at optimum must be 1")
	}
	if got, want := Gaussian(1, 0, 1), math.Exp(-0.5); math.Abs(got-want) > 1e-12 {
		t.Fatalf("got=%v want=%v", got, want)
	}
}
