package voice

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidExpression indicates a voice expression that does not match the
// blend grammar, references an unknown voice, or has no positive weight.
// It is fatal: the pipeline produces no output.
var ErrInvalidExpression = errors.New("invalid voice expression")

// Component is one weighted base voice in a profile.
type Component struct {
	ID     string
	Weight float64
}

// Profile is a normalized weighted mixture of base voices. Weights sum to
// 1.0 and every ID exists in the registry the profile was resolved against.
type Profile struct {
	Components []Component
}

// Single reports whether the profile is a plain single voice.
func (p Profile) Single() bool { return len(p.Components) == 1 }

// String renders the profile in canonical blend form, e.g.
// "af_heart*0.500+bm_lewis*0.500". Used for logging and cache keys.
func (p Profile) String() string {
	parts := make([]string, len(p.Components))
	for i, c := range p.Components {
		parts[i] = fmt.Sprintf("%s*%.3f", c.ID, c.Weight)
	}
	return strings.Join(parts, "+")
}

// Resolve parses a voice expression against the registry and returns a
// normalized profile.
//
// Grammar:
//
//	expr   := term ('+' term)*
//	term   := voice_id ['*' weight]
//
// A bare voice_id implies weight 1. Duplicate voice_ids accumulate. Weights
// are divided by their total so the result sums to 1.0.
func Resolve(expr string, reg *Registry) (Profile, error) {
	p := &parser{input: expr}
	terms, err := p.parse()
	if err != nil {
		return Profile{}, err
	}

	// Accumulate duplicates in first-seen order.
	order := make([]string, 0, len(terms))
	weights := make(map[string]float64, len(terms))
	total := 0.0
	for _, t := range terms {
		if !reg.Has(t.id) {
			return Profile{}, fmt.Errorf("%w: unknown voice %q", ErrInvalidExpression, t.id)
		}
		if _, seen := weights[t.id]; !seen {
			order = append(order, t.id)
		}
		weights[t.id] += t.weight
		total += t.weight
	}
	if total <= 0 {
		return Profile{}, fmt.Errorf("%w: weights sum to %g", ErrInvalidExpression, total)
	}

	profile := Profile{Components: make([]Component, 0, len(order))}
	sum := 0.0
	for _, id := range order {
		w := weights[id] / total
		sum += w
		profile.Components = append(profile.Components, Component{ID: id, Weight: w})
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return Profile{}, fmt.Errorf("%w: normalization drift %g", ErrInvalidExpression, sum-1.0)
	}
	return profile, nil
}

type term struct {
	id     string
	weight float64
}

// parser is a small recursive-descent parser over the blend grammar. Voice
// identifiers may contain any characters except the '+' and '*' operators,
// which keeps multi-word XTTS speaker names expressible.
type parser struct {
	input string
	pos   int
}

func (p *parser) parse() ([]term, error) {
	var terms []term
	for {
		t, err := p.term()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
		if !p.accept('+') {
			break
		}
	}
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrInvalidExpression, p.input[p.pos:], p.pos)
	}
	return terms, nil
}

func (p *parser) term() (term, error) {
	id := strings.TrimSpace(p.scanUntilOperator())
	if id == "" {
		return term{}, fmt.Errorf("%w: empty voice name at offset %d", ErrInvalidExpression, p.pos)
	}
	t := term{id: id, weight: 1.0}
	if p.accept('*') {
		lit := strings.TrimSpace(p.scanUntilOperator())
		w, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return term{}, fmt.Errorf("%w: bad weight %q", ErrInvalidExpression, lit)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return term{}, fmt.Errorf("%w: weight %q must be a non-negative decimal", ErrInvalidExpression, lit)
		}
		t.weight = w
	}
	return t, nil
}

func (p *parser) scanUntilOperator() string {
	start := p.pos
	for p.pos < len(p.input) && p.input[p.pos] != '+' && p.input[p.pos] != '*' {
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *parser) accept(op byte) bool {
	if p.pos < len(p.input) && p.input[p.pos] == op {
		p.pos++
		return true
	}
	return false
}
