package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"time"

	"quantsim/internal/dividend"
	"quantsim/internal/domain"
	"quantsim/internal/stats"
	"quantsim/internal/util"
)

// Account reads the state of the traded portfolio.
type Account interface {
	Portfolio(portfolioID string) ([]domain.Holding, error)
	CashBalance(portfolioID string) (float64, error)
}

// OrderSubmitter submits a batch of market orders.
type OrderSubmitter interface {
	Submit(ctx context.Context, ts time.Time, orders []domain.Order) error
}

// Quotes prices target quantities.
type Quotes interface {
	Ask(ts time.Time, asset string) (float64, bool)
}

// SystemOptions configures a QuantTradingSystem. Long-only systems need
// CashBuffer; long/short systems need GrossLeverage.
type SystemOptions struct {
	PortfolioID   string
	Universe      []string
	LongOnly      bool
	CashBuffer    *float64 // fraction of equity held back as cash, in [0, 1)
	GrossLeverage *float64 // sum of absolute target weights, > 0
	Logger        *slog.Logger
}

// QuantTradingSystem turns alpha weights into target positions and trades
// the current portfolio towards them.
type QuantTradingSystem struct {
	alpha    AlphaModel
	account  Account
	executor OrderSubmitter
	quotes   Quotes
	opts     SystemOptions
	latest   *dividend.TargetGate
	log      *slog.Logger
}

// Compile-time interface checks.
var (
	_ System = (*QuantTradingSystem)(nil)
	_ Gated  = (*QuantTradingSystem)(nil)
)

// NewQuantTradingSystem validates opts and returns the system.
func NewQuantTradingSystem(alpha AlphaModel, account Account, executor OrderSubmitter, quotes Quotes, opts SystemOptions) (*QuantTradingSystem, error) {
	if alpha == nil {
		return nil, fmt.Errorf("%w: no alpha model", domain.ErrInvalidConfig)
	}
	if len(opts.Universe) == 0 {
		return nil, fmt.Errorf("%w: empty universe", domain.ErrInvalidConfig)
	}
	if opts.LongOnly {
		if opts.CashBuffer == nil {
			return nil, fmt.Errorf("%w: long-only trading system selected but no cash buffer percentage provided", domain.ErrInvalidConfig)
		}
		if cb := *opts.CashBuffer; cb < 0 || cb >= 1 {
			return nil, fmt.Errorf("%w: cash buffer percentage %v outside [0, 1)", domain.ErrInvalidConfig, cb)
		}
	} else {
		if opts.GrossLeverage == nil {
			return nil, fmt.Errorf("%w: long/short trading system selected but no gross leverage provided", domain.ErrInvalidConfig)
		}
		if gl := *opts.GrossLeverage; gl <= 0 {
			return nil, fmt.Errorf("%w: gross leverage %v must be positive", domain.ErrInvalidConfig, gl)
		}
	}
	return &QuantTradingSystem{
		alpha:    alpha,
		account:  account,
		executor: executor,
		quotes:   quotes,
		opts:     opts,
		log:      util.LoggerOr(opts.Logger).With("component", "system", "alpha", alpha.Name()),
	}, nil
}

// LatestTarget returns the target quantities of the last rebalance, or nil
// before the first one.
func (s *QuantTradingSystem) LatestTarget() *dividend.TargetGate {
	if s.latest == nil {
		return nil
	}
	return &dividend.TargetGate{Timestamp: s.latest.Timestamp, Quantities: maps.Clone(s.latest.Quantities)}
}

// Invoke computes weights and target quantities at evt and submits the
// orders that move the portfolio there, sells first.
func (s *QuantTradingSystem) Invoke(ctx context.Context, evt domain.SimulationEvent, st *stats.Stats) error {
	ts := evt.Timestamp

	alpha, err := s.alpha.Weights(ctx, ts, s.opts.Universe)
	if err != nil {
		return fmt.Errorf("alpha %s at %s: %w", s.alpha.Name(), ts.Format(time.RFC3339), err)
	}
	st.RecordAlphaWeights(stats.WeightsEntry{Date: ts, Phase: evt.Phase, Weights: alpha})

	weights := s.targetWeights(alpha)
	st.RecordTargetWeights(stats.WeightsEntry{Date: ts, Phase: evt.Phase, Weights: weights})

	holdings, err := s.account.Portfolio(s.opts.PortfolioID)
	if err != nil {
		return err
	}
	cash, err := s.account.CashBalance(s.opts.PortfolioID)
	if err != nil {
		return err
	}
	current := make(map[string]int64, len(holdings))
	equity := cash
	for _, h := range holdings {
		current[h.Asset] = h.Quantity
		equity += h.MarketValue
	}

	target := s.targetQuantities(ts, weights, equity, current)
	st.RecordTargetPortfolio(stats.PortfolioEntry{Date: ts, Phase: evt.Phase, Quantities: target})
	st.RecordCurrentPortfolio(stats.PortfolioEntry{Date: ts, Phase: evt.Phase, Quantities: current})

	orders := rebalanceOrders(ts, target, current)
	st.RecordRebalanceOrders(stats.OrdersEntry{Date: ts, Phase: evt.Phase, Orders: orders})
	s.latest = &dividend.TargetGate{Timestamp: ts, Quantities: target}

	s.log.Info("rebalance", "ts", ts, "equity", equity, "orders", len(orders))
	if len(orders) == 0 {
		return nil
	}
	return s.executor.Submit(ctx, ts, orders)
}

// targetWeights scales alpha weights. Long-only drops negative weights and
// normalises the rest to 1 - cash buffer; long/short normalises the
// absolute weights to the gross leverage.
func (s *QuantTradingSystem) targetWeights(alpha map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(s.opts.Universe))
	var gross float64
	for _, a := range s.opts.Universe {
		w := alpha[a]
		if math.IsNaN(w) || (s.opts.LongOnly && w < 0) {
			w = 0
		}
		out[a] = w
		gross += math.Abs(w)
	}
	if gross == 0 {
		return out
	}

	var scale float64
	if s.opts.LongOnly {
		scale = 1 - *s.opts.CashBuffer
	} else {
		scale = *s.opts.GrossLeverage
	}
	for a, w := range out {
		out[a] = w / gross * scale
	}
	return out
}

// targetQuantities converts weights into whole units at the current ask.
// Assets without a usable price keep their current quantity.
func (s *QuantTradingSystem) targetQuantities(ts time.Time, weights map[string]float64, equity float64, current map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(weights))
	for a, w := range weights {
		if w == 0 {
			out[a] = 0
			continue
		}
		ask, ok := s.quotes.Ask(ts, a)
		if !ok || ask <= 0 {
			s.log.Warn("no price for target, holding position", "asset", a, "ts", ts)
			out[a] = current[a]
			continue
		}
		units := w * equity / ask
		if s.opts.LongOnly {
			out[a] = int64(math.Floor(units))
		} else {
			out[a] = int64(units)
		}
	}
	return out
}

// rebalanceOrders diffs target against current. Sells come before buys and
// each group is ordered by asset.
func rebalanceOrders(ts time.Time, target, current map[string]int64) []domain.Order {
	assets := slices.Sorted(maps.Keys(target))
	for a := range current {
		if _, ok := target[a]; !ok {
			assets = append(assets, a)
		}
	}
	slices.Sort(assets)

	var sells, buys []domain.Order
	for _, a := range assets {
		diff := target[a] - current[a]
		switch {
		case diff < 0:
			sells = append(sells, domain.Order{Timestamp: ts, Asset: a, Quantity: diff})
		case diff > 0:
			buys = append(buys, domain.Order{Timestamp: ts, Asset: a, Quantity: diff})
		}
	}
	return append(sells, buys...)
}
