package builtins

import (
	"context"
	"fmt"
	"math"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/strategy"
)

var _ strategy.AlphaModel = (*Momentum)(nil)

// History returns a table of closing prices.
type History interface {
	HistoricalCloses(ctx context.Context, start, end time.Time, assets []string) (*domain.CloseTable, error)
}

// Momentum weights each asset by its positive total return over the last
// lookback calendar days. Assets with a non-positive or unknown return get
// zero weight.
type Momentum struct {
	lookback time.Duration
	history  History
}

// NewMomentum returns a Momentum model over lookbackDays calendar days.
func NewMomentum(lookbackDays int, history History) (*Momentum, error) {
	if lookbackDays <= 0 {
		return nil, fmt.Errorf("%w: momentum lookback must be positive, got %d", domain.ErrInvalidConfig, lookbackDays)
	}
	return &Momentum{lookback: time.Duration(lookbackDays) * 24 * time.Hour, history: history}, nil
}

// Name returns "momentum".
func (m *Momentum) Name() string { return "momentum" }

// Weights computes lookback returns from the historical close table. A
// failing history pull is returned to the caller.
func (m *Momentum) Weights(ctx context.Context, ts time.Time, universe []string) (map[string]float64, error) {
	tbl, err := m.history.HistoricalCloses(ctx, ts.Add(-m.lookback), ts, universe)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(universe))
	for _, a := range universe {
		first, last := firstLast(tbl.Column(a))
		if math.IsNaN(first) || first <= 0 {
			out[a] = 0
			continue
		}
		out[a] = math.Max(last/first-1, 0)
	}
	return out, nil
}

// firstLast returns the first and last defined values of col.
func firstLast(col []float64) (float64, float64) {
	first, last := math.NaN(), math.NaN()
	for _, v := range col {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(first) {
			first = v
		}
		last = v
	}
	return first, last
}
