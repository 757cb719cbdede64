// Package dividend settles the cash dividends of a portfolio and reinvests
// them through the order executor.
package dividend

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
	"quantsim/internal/stats"
	"quantsim/internal/util"
)

// Prices resolves dividends and reinvestment prices.
type Prices interface {
	Dividend(ts time.Time, asset string) float64
	Ask(ts time.Time, asset string) (float64, bool)
}

// Ledger exposes the positions and cash of a portfolio.
type Ledger interface {
	Portfolio(portfolioID string) ([]domain.Holding, error)
	AdjustCash(portfolioID string, amount decimal.Decimal) error
}

// Executor submits a batch of market orders.
type Executor interface {
	Submit(ctx context.Context, ts time.Time, orders []domain.Order) error
}

// TargetGate is the target allocation of the most recent rebalance. It
// applies only to the event whose timestamp equals Timestamp.
type TargetGate struct {
	Timestamp  time.Time
	Quantities map[string]int64
}

// allows reports whether reinvesting into asset is permitted at ts.
func (g *TargetGate) allows(ts time.Time, asset string) bool {
	if g == nil || !g.Timestamp.Equal(ts) {
		return true
	}
	q, ok := g.Quantities[asset]
	return ok && q != 0
}

// Settlement applies dividends for one portfolio.
type Settlement struct {
	prices      Prices
	ledger      Ledger
	executor    Executor
	portfolioID string
	process     bool
	reinvest    bool
	log         *slog.Logger
}

// Options toggles dividend processing and reinvestment.
type Options struct {
	Process  bool
	Reinvest bool
}

// NewSettlement returns a Settlement for portfolioID.
func NewSettlement(prices Prices, ledger Ledger, executor Executor, portfolioID string, opts Options, log *slog.Logger) *Settlement {
	return &Settlement{
		prices:      prices,
		ledger:      ledger,
		executor:    executor,
		portfolioID: portfolioID,
		process:     opts.Process,
		reinvest:    opts.Reinvest,
		log:         util.LoggerOr(log).With("component", "dividend"),
	}
}

// Enabled reports whether Settle does anything.
func (s *Settlement) Enabled() bool { return s.process }

// Settle collects the dividends paid at evt on every held position, applies
// their net total to cash once (short positions pay), records a DividendRecord into st (also when
// nothing was paid) and submits any reinvestment orders as one batch.
// gate may be nil.
func (s *Settlement) Settle(ctx context.Context, evt domain.SimulationEvent, gate *TargetGate, st *stats.Stats) (domain.DividendRecord, error) {
	if !s.process {
		return domain.DividendRecord{}, nil
	}
	ts := evt.Timestamp

	holdings, err := s.ledger.Portfolio(s.portfolioID)
	if err != nil {
		return domain.DividendRecord{}, fmt.Errorf("reading portfolio %s: %w", s.portfolioID, err)
	}

	rec := domain.DividendRecord{Date: ts, Phase: evt.Phase}
	total := decimal.Zero
	var orders []domain.Order

	for _, h := range holdings {
		if h.Quantity == 0 {
			continue
		}
		div := s.prices.Dividend(ts, h.Asset)
		if math.IsNaN(div) || div <= 0 {
			continue
		}

		cash := decimal.NewFromFloat(div).Mul(decimal.NewFromInt(h.Quantity))
		total = total.Add(cash)

		entry := domain.DividendEntry{
			Asset:         h.Asset,
			Dividend:      div,
			Quantity:      h.Quantity,
			CashDividend:  cash.InexactFloat64(),
			ReinvestPrice: math.NaN(),
		}

		if s.reinvest && gate.allows(ts, h.Asset) {
			if ask, ok := s.prices.Ask(ts, h.Asset); ok {
				entry.ReinvestPrice = ask
				if ask > 0 {
					qty := cash.Div(decimal.NewFromFloat(ask)).Floor().IntPart()
					if qty > 0 {
						entry.ReinvestedQuantity = qty
						orders = append(orders, domain.Order{Timestamp: ts, Asset: h.Asset, Quantity: qty})
					}
				}
			}
		}

		rec.TotalReinvestedQuantity += entry.ReinvestedQuantity
		rec.Entries = append(rec.Entries, entry)
	}

	// Short positions owe the dividend, so the net total may be negative.
	if !total.IsZero() {
		if err := s.ledger.AdjustCash(s.portfolioID, total); err != nil {
			return domain.DividendRecord{}, fmt.Errorf("applying dividends to %s: %w", s.portfolioID, err)
		}
		s.log.Info("dividends applied", "ts", ts, "cash", total.StringFixed(2), "assets", len(rec.Entries))
	}
	rec.TotalCashDividend = total.InexactFloat64()
	if st != nil {
		st.RecordDividend(rec)
	}

	if len(orders) > 0 {
		if err := s.executor.Submit(ctx, ts, orders); err != nil {
			return rec, fmt.Errorf("submitting dividend reinvestment: %w", err)
		}
	}
	return rec, nil
}
