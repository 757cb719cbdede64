// Package engine routes strategy and dividend orders to the broker under a
// market-order policy with pre-trade risk checks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quantsim/internal/broker"
	"quantsim/internal/domain"
	"quantsim/internal/util"
)

// Quotes supplies the expected fill price used by the risk check.
type Quotes interface {
	Ask(ts time.Time, asset string) (float64, bool)
}

// Executor submits batches of market orders for a single portfolio.
type Executor struct {
	broker      broker.Broker
	portfolioID string
	quotes      Quotes
	riskChecker *RiskManager
	log         *slog.Logger
}

// NewExecutor creates an Executor wired with the given dependencies. quotes
// and riskChecker may be nil, which disables the risk check.
func NewExecutor(b broker.Broker, portfolioID string, quotes Quotes, riskChecker *RiskManager, log *slog.Logger) *Executor {
	return &Executor{
		broker:      b,
		portfolioID: portfolioID,
		quotes:      quotes,
		riskChecker: riskChecker,
		log:         util.LoggerOr(log).With("component", "executor"),
	}
}


// Submit stamps every order with ts and forwards it to the broker as a
// market order. Orders refused by the risk check are logged and skipped;
// broker errors are collected and returned together after the whole batch
// has been attempted.
func (e *Executor) Submit(ctx context.Context, ts time.Time, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	positions, err := e.positions()
	if err != nil {
		return err
	}

	var errs []error
	for _, o := range orders {
		o.Timestamp = ts
		if err := e.check(ctx, ts, o, positions); err != nil {
			e.log.Warn("order skipped", "asset", o.Asset, "qty", o.Quantity, "error", err)
			continue
		}
		if _, err := e.broker.SubmitOrder(ctx, e.portfolioID, o); err != nil {
			errs = append(errs, fmt.Errorf("submitting %s x%d: %w", o.Asset, o.Quantity, err))
			continue
		}
		positions[o.Asset] += o.Quantity
	}
	e.log.Debug("orders submitted", "ts", ts, "count", len(orders), "failed", len(errs))
	return errors.Join(errs...)
}

func (e *Executor) positions() (map[string]int64, error) {
	holdings, err := e.broker.Portfolio(e.portfolioID)
	if err != nil {
		return nil, fmt.Errorf("reading portfolio %s: %w", e.portfolioID, err)
	}
	out := make(map[string]int64, len(holdings))
	for _, h := range holdings {
		out[h.Asset] = h.Quantity
	}
	return out, nil
}

func (e *Executor) check(ctx context.Context, ts time.Time, o domain.Order, positions map[string]int64) error {
	if e.riskChecker == nil {
		return nil
	}
	acct := AccountState{Position: positions[o.Asset]}
	for _, eq := range e.broker.TotalEquity() {
		acct.Equity += eq
	}
	if cash, err := e.broker.CashBalance(e.portfolioID); err == nil {
		acct.Cash = cash
	}
	if e.quotes != nil {
		if px, ok := e.quotes.Ask(ts, o.Asset); ok {
			acct.Price = px
		}
	}
	return e.riskChecker.CheckOrder(ctx, o, acct)
}
