// Package strategy defines the trading system invoked at each rebalance and
// the alpha models that drive it, plus a Registry for looking alpha models
// up by name.
package strategy

import (
	"context"
	"sort"
	"time"

	"quantsim/internal/dividend"
	"quantsim/internal/domain"
	"quantsim/internal/stats"
)

// System is called once for every scheduled rebalance timestamp.
type System interface {
	Invoke(ctx context.Context, evt domain.SimulationEvent, st *stats.Stats) error
}

// Gated is implemented by systems whose latest target allocation gates
// dividend reinvestment.
type Gated interface {
	LatestTarget() *dividend.TargetGate
}

// SignalUpdater refreshes indicator state. The backtest calls it on every
// market_close event, burn-in included.
type SignalUpdater interface {
	UpdateSignals(ctx context.Context, ts time.Time) error
}

// AlphaModel is the interface that all alpha models must implement.
type AlphaModel interface {
	// Name returns the unique identifier for this model.
	Name() string

	// Weights returns the raw signal weight of each asset in universe at ts.
	// Assets missing from the result are weighted zero.
	Weights(ctx context.Context, ts time.Time, universe []string) (map[string]float64, error)
}

// Registry holds a named collection of alpha models for lookup and
// enumeration.
type Registry struct {
	models map[string]AlphaModel
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]AlphaModel),
	}
}

// Register adds a model to the registry, keyed by its Name().
func (r *Registry) Register(m AlphaModel) {
	r.models[m.Name()] = m
}

// Get retrieves a model by name. The second return value indicates whether
// the model was found.
func (r *Registry) Get(name string) (AlphaModel, bool) {
	m, ok := r.models[name]
	return m, ok
}

// List returns a sorted slice of all registered model names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
