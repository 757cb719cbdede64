package builtins

import (
	"quantsim/internal/strategy"
)

// Params are the dependencies and settings of the built-in alpha models.
type Params struct {
	Universe     []string
	Weights      map[string]float64 // fixed
	SMAShort     int                // sma-cross
	SMALong      int                // sma-cross
	LookbackDays int                // momentum
	Prices       ClosePrices
	History      History
}

// NewRegistry registers every built-in model that can be built from p.
// Models whose parameters are unset or invalid are left out.
func NewRegistry(p Params) *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register(strategy.EqualWeight{})
	r.Register(strategy.NewFixed(p.Weights))
	if p.Prices != nil {
		if sma, err := NewSMACross(p.SMAShort, p.SMALong, p.Prices, p.Universe); err == nil {
			r.Register(sma)
		}
	}
	if p.History != nil {
		if mom, err := NewMomentum(p.LookbackDays, p.History); err == nil {
			r.Register(mom)
		}
	}
	return r
}
