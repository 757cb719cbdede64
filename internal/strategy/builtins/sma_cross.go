// Package builtins provides the alpha models that ship with quantsim.
package builtins

import (
	"context"
	"fmt"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.AlphaModel    = (*SMACross)(nil)
	_ strategy.SignalUpdater = (*SMACross)(nil)
)

// ClosePrices supplies the closing price of an asset at a market_close
// timestamp.
type ClosePrices interface {
	Bid(ts time.Time, asset string) (float64, bool)
}

// SMACross implements a simple moving average crossover model. An asset is
// weighted 1 while its short-period SMA is above its long-period SMA and 0
// otherwise, including before enough closes have been seen.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	prices      ClosePrices
	universe    []string
	closes      map[string][]float64
}

// NewSMACross creates a new SMACross model with the specified short and
// long moving average periods, tracking universe.
func NewSMACross(short, long int, prices ClosePrices, universe []string) (*SMACross, error) {
	if short <= 0 || long <= short {
		return nil, fmt.Errorf("%w: sma-cross needs 0 < short < long, got %d/%d", domain.ErrInvalidConfig, short, long)
	}
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		prices:      prices,
		universe:    universe,
		closes:      make(map[string][]float64, len(universe)),
	}, nil
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// UpdateSignals appends the close at ts of every tracked asset, keeping at
// most longPeriod closes per asset.
func (s *SMACross) UpdateSignals(_ context.Context, ts time.Time) error {
	for _, a := range s.universe {
		px, ok := s.prices.Bid(ts, a)
		if !ok {
			continue
		}
		window := append(s.closes[a], px)
		if len(window) > s.longPeriod {
			window = window[len(window)-s.longPeriod:]
		}
		s.closes[a] = window
	}
	return nil
}

// Weights reports the crossover state of each asset.
func (s *SMACross) Weights(_ context.Context, _ time.Time, universe []string) (map[string]float64, error) {
	out := make(map[string]float64, len(universe))
	for _, a := range universe {
		window := s.closes[a]
		if len(window) < s.longPeriod {
			out[a] = 0
			continue
		}
		if mean(window[len(window)-s.shortPeriod:]) > mean(window) {
			out[a] = 1
		} else {
			out[a] = 0
		}
	}
	return out, nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
