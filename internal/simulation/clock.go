// Package simulation enumerates the market-phase events a backtest replays.
package simulation

import (
	"fmt"
	"iter"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/util"
)

// Clock produces the ordered (timestamp, phase) events of a backtest. The
// sequence is derived from the reference calendar on every call to Events,
// so replaying means iterating again from the start.
type Clock struct {
	start      time.Time
	end        time.Time
	calendar   *util.TradingCalendar
	preMarket  bool
	postMarket bool
}

// NewClock validates the range and returns a Clock over the business days
// of [start, end] that are present in cal.
func NewClock(start, end time.Time, cal *util.TradingCalendar, preMarket, postMarket bool) (*Clock, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: clock end %s is before start %s", domain.ErrInvalidConfig,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return &Clock{
		start:      start,
		end:        end,
		calendar:   cal,
		preMarket:  preMarket,
		postMarket: postMarket,
	}, nil
}

// Days returns the trading days the clock will emit events for.
func (c *Clock) Days() []time.Time {
	if c.calendar.Len() == 0 {
		return nil
	}
	var days []time.Time
	for _, d := range util.BusinessDays(c.start, c.end) {
		if c.calendar.Contains(d) {
			days = append(days, d)
		}
	}
	return days
}

// Events yields, for each trading day, the optional pre_market event at
// 00:00, market_open at 09:30, market_close at 16:00 and the optional
// post_market event at 23:59 (exchange time). Iteration stops as soon as
// the consumer breaks.
func (c *Clock) Events() iter.Seq[domain.SimulationEvent] {
	return func(yield func(domain.SimulationEvent) bool) {
		for _, d := range c.Days() {
			if c.preMarket {
				if !yield(domain.SimulationEvent{Timestamp: util.At(d, util.PreMarketHour, util.PreMarketMinute), Phase: domain.PhasePreMarket}) {
					return
				}
			}
			if !yield(domain.SimulationEvent{Timestamp: util.MarketOpen(d), Phase: domain.PhaseMarketOpen}) {
				return
			}
			if !yield(domain.SimulationEvent{Timestamp: util.MarketClose(d), Phase: domain.PhaseMarketClose}) {
				return
			}
			if c.postMarket {
				if !yield(domain.SimulationEvent{Timestamp: util.At(d, util.PostMarketHour, util.PostMarketMinute), Phase: domain.PhasePostMarket}) {
					return
				}
			}
		}
	}
}
