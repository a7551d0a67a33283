package voice

import (
	"errors"
	"math"
	"testing"
)

func testRegistry() *Registry {
	r := NewRegistry()
	r.entries["a"] = Entry{ID: "a"}
	r.entries["b"] = Entry{ID: "b"}
	return r
}

func TestResolveSingleVoice(t *testing.T) {
	p, err := Resolve("a", testRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Single() {
		t.Fatalf("expected single-voice profile, got %v", p)
	}
	if p.Components[0].ID != "a" || p.Components[0].Weight != 1.0 {
		t.Fatalf("expected {a: 1.0}, got %+v", p.Components[0])
	}
}

func TestResolveEvenBlend(t *testing.T) {
	p, err := Resolve("a*0.5+b*0.5", testRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertProfile(t, p, map[string]float64{"a": 0.5, "b": 0.5})
}

func TestResolveNormalizesOversizedWeights(t *testing.T) {
	p, err := Resolve("a*2+b*2", testRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertProfile(t, p, map[string]float64{"a": 0.5, "b": 0.5})
}

func TestResolveSumsDuplicates(t *testing.T) {
	p, err := Resolve("a*1+b*1+a*2", testRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertProfile(t, p, map[string]float64{"a": 0.75, "b": 0.25})
	if p.Components[0].ID != "a" {
		t.Fatalf("expected first-seen order, got %v", p.Components)
	}
}

func TestResolveBareTermWeightOne(t *testing.T) {
	p, err := Resolve("a+b*3", testRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertProfile(t, p, map[string]float64{"a": 0.25, "b": 0.75})
}

func TestResolveErrors(t *testing.T) {
	cases := []string{
		"a*0+b*0",       // zero total
		"unknown_voice", // not in registry
		"a*",            // missing weight
		"a*-1",          // negative weight
		"+a",            // empty leading term
		"a+",            // empty trailing term
		"a*x",           // non-numeric weight
		"",              // empty expression
	}
	for _, expr := range cases {
		if _, err := Resolve(expr, testRegistry()); !errors.Is(err, ErrInvalidExpression) {
			t.Fatalf("expression %q: expected ErrInvalidExpression, got %v", expr, err)
		}
	}
}

func TestResolveWeightsSumToOne(t *testing.T) {
	exprs := []string{"a*0.3+b*0.9", "a*7", "a*0.1+b*0.1+a*0.1", "bm_lewis*0.5+af_heart*0.5"}
	reg := testRegistry()
	for _, expr := range exprs {
		p, err := Resolve(expr, reg)
		if err != nil {
			t.Fatalf("expression %q: unexpected error: %v", expr, err)
		}
		sum := 0.0
		for _, c := range p.Components {
			sum += c.Weight
			if !reg.Has(c.ID) {
				t.Fatalf("expression %q: component %q not in registry", expr, c.ID)
			}
		}
		if math.Abs(sum-1.0) > 1e-9 {
			t.Fatalf("expression %q: weights sum to %g", expr, sum)
		}
	}
}

func TestRegistryKnownSorted(t *testing.T) {
	reg := NewRegistry()
	ids := reg.Known()
	if len(ids) == 0 {
		t.Fatal("expected built-in voices")
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("ids not sorted: %v", ids)
		}
	}
	if !reg.Has("bm_lewis") {
		t.Fatal("expected built-in bm_lewis")
	}
}

func assertProfile(t *testing.T, p Profile, want map[string]float64) {
	t.Helper()
	if len(p.Components) != len(want) {
		t.Fatalf("expected %d components, got %v", len(want), p.Components)
	}
	for _, c := range p.Components {
		w, ok := want[c.ID]
		if !ok {
			t.Fatalf("unexpected component %q", c.ID)
		}
		if math.Abs(c.Weight-w) > 1e-9 {
			t.Fatalf("component %q: weight %g, want %g", c.ID, c.Weight, w)
		}
	}
}
