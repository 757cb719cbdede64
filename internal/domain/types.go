// Package domain holds the value types shared by the simulation engine, its
// collaborators and the storage layer.
package domain

import (
	"errors"
	"time"
)

// ErrInvalidConfig marks a configuration error. Every error raised while
// constructing clocks, schedules, strategies or sessions wraps it.
var ErrInvalidConfig = errors.New("invalid configuration")

// Market identifies the exchange region a bar belongs to.
type Market string

const (
	MarketUS Market = "us"
)

// Phase is one of the four named points inside a trading day.
type Phase string

const (
	PhasePreMarket   Phase = "pre_market"
	PhaseMarketOpen  Phase = "market_open"
	PhaseMarketClose Phase = "market_close"
	PhasePostMarket  Phase = "post_market"
)

// SimulationEvent is a single (timestamp, phase) tick of the simulation clock.
type SimulationEvent struct {
	Timestamp time.Time
	Phase     Phase
}

// Bar is a daily OHLCV bar. Dividend is the cash dividend per share paid on
// the bar's date (zero when none).
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
	Dividend   float64
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Order is a signed market order: positive quantity buys, negative sells.
type Order struct {
	ID        string
	Timestamp time.Time
	Asset     string
	Quantity  int64
}

// Side reports the direction implied by the order's quantity sign.
func (o Order) Side() OrderSide {
	if o.Quantity < 0 {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExecutedOrder is a fill reported by the broker.
type ExecutedOrder struct {
	OrderID     string
	PortfolioID string
	Timestamp   time.Time
	Asset       string
	Quantity    int64
	Price       float64
	Commission  float64
}

// Holding is a single position of a portfolio as reported by the broker.
type Holding struct {
	Asset       string
	Quantity    int64
	MarketValue float64
}

// AssetSnapshot is the per-asset part of a PortfolioSnapshot.
type AssetSnapshot struct {
	Asset       string
	Quantity    int64
	MarketValue float64
	Price       float64 // NaN when no price was available
}

// PortfolioSnapshot is an independent copy of the portfolio state at one
// event. Assets are sorted by asset id.
type PortfolioSnapshot struct {
	Timestamp time.Time
	Cash      float64
	Assets    []AssetSnapshot
}

// Clone returns a copy that shares no memory with s.
func (s PortfolioSnapshot) Clone() PortfolioSnapshot {
	out := s
	out.Assets = append([]AssetSnapshot(nil), s.Assets...)
	return out
}

// DividendEntry is the per-asset detail of a DividendRecord.
type DividendEntry struct {
	Asset              string
	Dividend           float64
	Quantity           int64
	CashDividend       float64
	ReinvestPrice      float64 // NaN when no reinvestment price was fetched
	ReinvestedQuantity int64
}

// DividendRecord summarises the dividend settlement of one event. It is
// recorded even when no asset paid a dividend.
type DividendRecord struct {
	Date                    time.Time
	Phase                   Phase
	Entries                 []DividendEntry
	TotalCashDividend       float64
	TotalReinvestedQuantity int64
}

// CloseTable is a date-indexed table of closing prices. Each column in Closes
// has len(Dates) values; missing observations are NaN.
type CloseTable struct {
	Dates  []time.Time
	Closes map[string][]float64
}

// Column returns the closes of asset, or nil when the table lacks it.
func (t *CloseTable) Column(asset string) []float64 {
	if t == nil {
		return nil
	}
	return t.Closes[asset]
}
