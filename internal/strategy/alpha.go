package strategy

import (
	"context"
	"maps"
	"time"
)

// EqualWeight gives every asset of the universe the same weight.
type EqualWeight struct{}

func (EqualWeight) Name() string { return "equal-weight" }

func (EqualWeight) Weights(_ context.Context, _ time.Time, universe []string) (map[string]float64, error) {
	out := make(map[string]float64, len(universe))
	for _, a := range universe {
		out[a] = 1
	}
	return out, nil
}

// Fixed returns a constant set of weights.
type Fixed struct {
	weights map[string]float64
}

// NewFixed copies weights into a Fixed model.
func NewFixed(weights map[string]float64) *Fixed {
	return &Fixed{weights: maps.Clone(weights)}
}

func (f *Fixed) Name() string { return "fixed" }

// Weights returns the configured weight of each universe asset.
func (f *Fixed) Weights(_ context.Context, _ time.Time, universe []string) (map[string]float64, error) {
	out := make(map[string]float64, len(universe))
	for _, a := range universe {
		out[a] = f.weights[a]
	}
	return out, nil
}
