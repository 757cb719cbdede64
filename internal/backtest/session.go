// Package backtest drives a simulation: it walks the clock, keeps the broker
// in step, invokes the trading system on its rebalance schedule, settles
// dividends and records the run statistics.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"quantsim/internal/broker"
	"quantsim/internal/datasource"
	"quantsim/internal/dividend"
	"quantsim/internal/domain"
	"quantsim/internal/rebalance"
	"quantsim/internal/simulation"
	"quantsim/internal/stats"
	"quantsim/internal/strategy"
	"quantsim/internal/util"
)

// Config holds the timing parameters of a session.
type Config struct {
	Start       time.Time
	End         time.Time
	BurnIn      time.Time // zero means no burn-in
	PortfolioID string

	Policy             rebalance.Policy
	RebalancePreMarket bool // stamp rebalances at 09:30 instead of 16:00
	PreMarket          bool // emit pre_market events
	PostMarket         bool // emit post_market events
}

// Deps are the collaborators of a session. Router, Broker and Config.Policy
// are required; the rest are optional.
type Deps struct {
	Router    *datasource.Router
	Broker    broker.Broker
	System    strategy.System
	Signals   strategy.SignalUpdater
	Dividends *dividend.Settlement
	Logger    *slog.Logger
}

// Allocation is the target portfolio in force on an equity-curve date.
// Quantities is nil before the first rebalance.
type Allocation struct {
	Date       time.Time
	Quantities map[string]int64
}

// Session runs one backtest configuration. Each Run starts from a fresh
// statistics accumulator; the broker is not reset between runs.
//
// A Session is not safe for concurrent use.
type Session struct {
	cfg      Config
	deps     Deps
	clock    *simulation.Clock
	schedule *rebalance.Schedule
	log      *slog.Logger

	stats       *stats.Stats
	allocations []Allocation
}

// NewSession validates cfg and builds the clock and rebalance schedule from
// the router's reference calendar.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	if deps.Router == nil || deps.Broker == nil {
		return nil, fmt.Errorf("%w: session needs a router and a broker", domain.ErrInvalidConfig)
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("%w: no rebalance policy", domain.ErrInvalidConfig)
	}
	cal := deps.Router.Calendar()
	clock, err := simulation.NewClock(cfg.Start, cfg.End, cal, cfg.PreMarket, cfg.PostMarket)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:      cfg,
		deps:     deps,
		clock:    clock,
		schedule: cfg.Policy.Generate(cfg.Start, cfg.End, cal, cfg.RebalancePreMarket),
		log:      util.LoggerOr(deps.Logger).With("component", "backtest"),
	}
	return s, nil
}

// Schedule returns the rebalance timestamps of the session.
func (s *Session) Schedule() *rebalance.Schedule { return s.schedule }

// Stats returns the statistics of the last run, or nil before the first.
func (s *Session) Stats() *stats.Stats { return s.stats }

// Run replays every clock event. It stops early with ctx's error when ctx is
// cancelled, returning the statistics gathered so far.
func (s *Session) Run(ctx context.Context) (*stats.Stats, error) {
	st := stats.New()
	s.stats = st
	s.allocations = nil

	s.log.Info("beginning backtest simulation",
		"start", s.cfg.Start, "end", s.cfg.End, "policy", s.cfg.Policy.Name(), "rebalances", s.schedule.Len())

	for evt := range s.clock.Events() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if err := s.step(ctx, evt, st); err != nil {
			return st, fmt.Errorf("%s at %s: %w", evt.Phase, evt.Timestamp.Format(time.RFC3339), err)
		}
	}

	s.allocations = targetAllocations(st, s.cfg.BurnIn)
	s.log.Info("ending backtest simulation", "events", len(st.Events()), "equity_points", len(st.EquityCurve()))
	return st, nil
}

func (s *Session) step(ctx context.Context, evt domain.SimulationEvent, st *stats.Stats) error {
	ts := evt.Timestamp
	s.log.Debug("event", "ts", ts, "phase", evt.Phase)

	st.RecordEvent(evt)

	b := s.deps.Broker
	b.Update(ts)
	if fills := b.ExecutedOrders(); len(fills) > 0 {
		st.RecordExecutedOrders(fills...)
		b.ClearExecutedOrders()
	}

	snap, err := s.snapshot(ts)
	if err != nil {
		return err
	}
	st.RecordSnapshot(snap)

	closing := evt.Phase == domain.PhaseMarketClose
	if closing && s.deps.Signals != nil {
		if err := s.deps.Signals.UpdateSignals(ctx, ts); err != nil {
			return fmt.Errorf("updating signals: %w", err)
		}
	}

	if !s.pastBurnIn(ts) {
		return nil
	}

	if s.deps.System != nil && s.schedule.Contains(ts) {
		s.log.Info("trading logic and rebalance", "ts", ts)
		if err := s.deps.System.Invoke(ctx, evt, st); err != nil {
			return err
		}
	}

	if closing {
		if d := s.deps.Dividends; d != nil && d.Enabled() {
			if _, err := d.Settle(ctx, evt, s.gate(), st); err != nil {
				return err
			}
		}
		st.RecordEquity(ts, totalEquity(b))
	}
	return nil
}

func (s *Session) pastBurnIn(ts time.Time) bool {
	return s.cfg.BurnIn.IsZero() || !ts.Before(s.cfg.BurnIn)
}

func (s *Session) gate() *dividend.TargetGate {
	if g, ok := s.deps.System.(strategy.Gated); ok {
		return g.LatestTarget()
	}
	return nil
}

// snapshot copies the portfolio state at ts, pricing each asset at mid.
func (s *Session) snapshot(ts time.Time) (domain.PortfolioSnapshot, error) {
	holdings, err := s.deps.Broker.Portfolio(s.cfg.PortfolioID)
	if err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	cash, err := s.deps.Broker.CashBalance(s.cfg.PortfolioID)
	if err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	snap := domain.PortfolioSnapshot{Timestamp: ts, Cash: cash, Assets: make([]domain.AssetSnapshot, 0, len(holdings))}
	for _, h := range holdings {
		price, ok := s.deps.Router.Mid(ts, h.Asset)
		if !ok {
			price = math.NaN()
		}
		snap.Assets = append(snap.Assets, domain.AssetSnapshot{
			Asset:       h.Asset,
			Quantity:    h.Quantity,
			MarketValue: h.MarketValue,
			Price:       price,
		})
	}
	return snap, nil
}

func totalEquity(b broker.Broker) float64 {
	var total float64
	for _, eq := range b.TotalEquity() {
		total += eq
	}
	return total
}

// TargetAllocations returns the target portfolio of the last run
// forward-filled onto the equity-curve dates, from the burn-in date on.
func (s *Session) TargetAllocations() []Allocation {
	out := make([]Allocation, len(s.allocations))
	copy(out, s.allocations)
	return out
}

func targetAllocations(st *stats.Stats, burnIn time.Time) []Allocation {
	targets := st.TargetPortfolio()
	curve := st.EquityCurve()

	var first time.Time
	if !burnIn.IsZero() {
		first = util.DayOf(burnIn)
	}

	out := make([]Allocation, 0, len(curve))
	next := 0
	var current map[string]int64
	for _, pt := range curve {
		day := util.DayOf(pt.Date)
		for next < len(targets) && !util.DayOf(targets[next].Date).After(day) {
			current = targets[next].Quantities
			next++
		}
		if !first.IsZero() && day.Before(first) {
			continue
		}
		out = append(out, Allocation{Date: day, Quantities: current})
	}
	return out
}
