// Package stats is the append-only record of a single backtest run.
//
// A Stats value is created by the session at the start of a run and handed
// by pointer to the dividend settlement and the strategy, which may only add
// to it. Accessors return copies. Stats is not safe for concurrent use.
package stats

import (
	"maps"
	"slices"
	"time"

	"quantsim/internal/domain"
)

// WeightsEntry holds asset weights produced at one timestamp.
type WeightsEntry struct {
	Date    time.Time
	Phase   domain.Phase
	Weights map[string]float64
}

// PortfolioEntry holds asset quantities at one timestamp.
type PortfolioEntry struct {
	Date       time.Time
	Phase      domain.Phase
	Quantities map[string]int64
}

// OrdersEntry holds the orders generated at one timestamp.
type OrdersEntry struct {
	Date   time.Time
	Phase  domain.Phase
	Orders []domain.Order
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Date   time.Time
	Equity float64
}

// Stats accumulates the named sequences of one run.
type Stats struct {
	events           []domain.SimulationEvent
	alphaWeights     []WeightsEntry
	targetWeights    []WeightsEntry
	targetPortfolio  []PortfolioEntry
	currentPortfolio []PortfolioEntry
	rebalanceOrders  []OrdersEntry
	executedOrders   []domain.ExecutedOrder
	equityCurve      []EquityPoint
	snapshots        []domain.PortfolioSnapshot
	dividends        []domain.DividendRecord
}

// New returns an empty accumulator.
func New() *Stats { return &Stats{} }

// RecordEvent appends the timestamp and phase of a processed event.
func (s *Stats) RecordEvent(evt domain.SimulationEvent) {
	s.events = append(s.events, evt)
}

// RecordAlphaWeights appends raw alpha weights.
func (s *Stats) RecordAlphaWeights(e WeightsEntry) {
	e.Weights = maps.Clone(e.Weights)
	s.alphaWeights = append(s.alphaWeights, e)
}

// RecordTargetWeights appends weights after portfolio construction.
func (s *Stats) RecordTargetWeights(e WeightsEntry) {
	e.Weights = maps.Clone(e.Weights)
	s.targetWeights = append(s.targetWeights, e)
}

// RecordTargetPortfolio appends a target allocation.
func (s *Stats) RecordTargetPortfolio(e PortfolioEntry) {
	e.Quantities = maps.Clone(e.Quantities)
	s.targetPortfolio = append(s.targetPortfolio, e)
}

// RecordCurrentPortfolio appends the holdings seen before a rebalance.
func (s *Stats) RecordCurrentPortfolio(e PortfolioEntry) {
	e.Quantities = maps.Clone(e.Quantities)
	s.currentPortfolio = append(s.currentPortfolio, e)
}

// RecordRebalanceOrders appends the orders of one rebalance.
func (s *Stats) RecordRebalanceOrders(e OrdersEntry) {
	e.Orders = slices.Clone(e.Orders)
	s.rebalanceOrders = append(s.rebalanceOrders, e)
}

// RecordExecutedOrders appends broker fills.
func (s *Stats) RecordExecutedOrders(orders ...domain.ExecutedOrder) {
	s.executedOrders = append(s.executedOrders, orders...)
}

// RecordEquity appends an equity-curve sample.
func (s *Stats) RecordEquity(ts time.Time, equity float64) {
	s.equityCurve = append(s.equityCurve, EquityPoint{Date: ts, Equity: equity})
}

// RecordSnapshot appends an independent copy of snap.
func (s *Stats) RecordSnapshot(snap domain.PortfolioSnapshot) {
	s.snapshots = append(s.snapshots, snap.Clone())
}

// RecordDividend appends a dividend settlement record.
func (s *Stats) RecordDividend(rec domain.DividendRecord) {
	rec.Entries = slices.Clone(rec.Entries)
	s.dividends = append(s.dividends, rec)
}

// Dates returns the timestamps of all processed events.
func (s *Stats) Dates() []time.Time {
	out := make([]time.Time, len(s.events))
	for i, e := range s.events {
		out[i] = e.Timestamp
	}
	return out
}

// Events returns the phases of all processed events.
func (s *Stats) Events() []domain.Phase {
	out := make([]domain.Phase, len(s.events))
	for i, e := range s.events {
		out[i] = e.Phase
	}
	return out
}

// CountPhase returns how many processed events had phase p.
func (s *Stats) CountPhase(p domain.Phase) int {
	n := 0
	for _, e := range s.events {
		if e.Phase == p {
			n++
		}
	}
	return n
}

func (s *Stats) AlphaWeights() []WeightsEntry {
	return cloneWeights(s.alphaWeights)
}

func (s *Stats) TargetWeights() []WeightsEntry {
	return cloneWeights(s.targetWeights)
}

func (s *Stats) TargetPortfolio() []PortfolioEntry {
	return clonePortfolios(s.targetPortfolio)
}

func (s *Stats) CurrentPortfolio() []PortfolioEntry {
	return clonePortfolios(s.currentPortfolio)
}

func (s *Stats) ExecutedOrders() []domain.ExecutedOrder {
	return slices.Clone(s.executedOrders)
}

func (s *Stats) EquityCurve() []EquityPoint {
	return slices.Clone(s.equityCurve)
}

// RebalanceOrders returns the recorded rebalance batches.
func (s *Stats) RebalanceOrders() []OrdersEntry {
	out := make([]OrdersEntry, len(s.rebalanceOrders))
	for i, e := range s.rebalanceOrders {
		e.Orders = slices.Clone(e.Orders)
		out[i] = e
	}
	return out
}

// Snapshots returns copies of the recorded portfolio snapshots.
func (s *Stats) Snapshots() []domain.PortfolioSnapshot {
	out := make([]domain.PortfolioSnapshot, len(s.snapshots))
	for i, snap := range s.snapshots {
		out[i] = snap.Clone()
	}
	return out
}

// Dividends returns the recorded dividend settlements.
func (s *Stats) Dividends() []domain.DividendRecord {
	out := make([]domain.DividendRecord, len(s.dividends))
	for i, rec := range s.dividends {
		rec.Entries = slices.Clone(rec.Entries)
		out[i] = rec
	}
	return out
}

func cloneWeights(in []WeightsEntry) []WeightsEntry {
	out := make([]WeightsEntry, len(in))
	for i, e := range in {
		e.Weights = maps.Clone(e.Weights)
		out[i] = e
	}
	return out
}

func clonePortfolios(in []PortfolioEntry) []PortfolioEntry {
	out := make([]PortfolioEntry, len(in))
	for i, e := range in {
		e.Quantities = maps.Clone(e.Quantities)
		out[i] = e
	}
	return out
}
