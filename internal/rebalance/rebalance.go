// Package rebalance generates the timestamps at which a strategy rebalances.
//
// Every policy shares one contract: given a date range, the reference
// calendar and the pre-market flag, Generate returns an ordered,
// duplicate-free Schedule whose timestamps are stamped at 09:30 (pre-market)
// or 16:00 exchange time. Policies other than BuyAndHold return an empty
// schedule for an empty calendar.
package rebalance

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/util"
)

// Policy names accepted by New.
const (
	PolicyBuyAndHold = "buy_and_hold"
	PolicyDaily      = "daily"
	PolicyWeekly     = "weekly"
	PolicyEndOfMonth = "end_of_month"
	PolicyCron       = "cron"
)

// Policy produces a rebalance schedule.
type Policy interface {
	// Name returns the policy identifier.
	Name() string

	// Generate returns the rebalance timestamps within [start, end].
	Generate(start, end time.Time, cal *util.TradingCalendar, preMarket bool) *Schedule
}

// Options carries the policy-specific parameters for New.
type Options struct {
	Weekday string // weekly: MON..FRI, case-insensitive
	Cron    string // cron: standard 5-field expression
}

// New returns the policy registered under name.
func New(name string, opts Options) (Policy, error) {
	switch strings.ToLower(name) {
	case PolicyBuyAndHold:
		return BuyAndHold{}, nil
	case PolicyDaily:
		return Daily{}, nil
	case PolicyWeekly:
		if opts.Weekday == "" {
			return nil, fmt.Errorf("%w: rebalance frequency is 'weekly' but no rebalance weekday was provided (e.g. WED)", domain.ErrInvalidConfig)
		}
		w, err := NewWeekly(opts.Weekday)
		if err != nil {
			return nil, err
		}
		return w, nil
	case PolicyEndOfMonth:
		return EndOfMonth{}, nil
	case PolicyCron:
		c, err := NewCron(opts.Cron)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: unknown rebalance frequency %q", domain.ErrInvalidConfig, name)
}

// MarketTime returns the time of day rebalances are stamped at.
func MarketTime(preMarket bool) (hour, minute int) {
	if preMarket {
		return util.MarketOpenHour, util.MarketOpenMinute
	}
	return util.MarketCloseHour, util.MarketCloseMinute
}

func stamp(days []time.Time, preMarket bool) *Schedule {
	h, m := MarketTime(preMarket)
	out := make([]time.Time, len(days))
	for i, d := range days {
		out[i] = util.At(d, h, m)
	}
	return NewSchedule(out...)
}

// Schedule is an ordered, duplicate-free set of timestamps. Membership is
// exact instant equality.
type Schedule struct {
	times []time.Time
	set   map[int64]struct{}
}

// NewSchedule builds a Schedule from ts, sorting and removing duplicates.
func NewSchedule(ts ...time.Time) *Schedule {
	s := &Schedule{set: make(map[int64]struct{}, len(ts))}
	for _, t := range ts {
		k := t.UnixNano()
		if _, dup := s.set[k]; dup {
			continue
		}
		s.set[k] = struct{}{}
		s.times = append(s.times, t)
	}
	slices.SortFunc(s.times, func(a, b time.Time) int { return a.Compare(b) })
	return s
}

// Contains reports whether ts is exactly one of the schedule's timestamps.
func (s *Schedule) Contains(ts time.Time) bool {
	if s == nil {
		return false
	}
	_, ok := s.set[ts.UnixNano()]
	return ok
}

// Len returns the number of timestamps.
func (s *Schedule) Len() int {
	if s == nil {
		return 0
	}
	return len(s.times)
}

// Times returns the timestamps in ascending order.
func (s *Schedule) Times() []time.Time {
	if s == nil {
		return nil
	}
	return slices.Clone(s.times)
}

// BuyAndHold rebalances exactly once, at the start timestamp.
type BuyAndHold struct{}

func (BuyAndHold) Name() string { return PolicyBuyAndHold }

// Generate returns start unchanged; the calendar is not consulted.
func (BuyAndHold) Generate(start, _ time.Time, _ *util.TradingCalendar, _ bool) *Schedule {
	return NewSchedule(start)
}

// Daily rebalances on every business day present in the calendar.
type Daily struct{}

func (Daily) Name() string { return PolicyDaily }

func (Daily) Generate(start, end time.Time, cal *util.TradingCalendar, preMarket bool) *Schedule {
	if cal.Len() == 0 {
		return NewSchedule()
	}
	var days []time.Time
	for _, d := range util.BusinessDays(start, end) {
		if cal.Contains(d) {
			days = append(days, d)
		}
	}
	return stamp(days, preMarket)
}

// EndOfMonth rebalances on the last calendar day of each month.
type EndOfMonth struct{}

func (EndOfMonth) Name() string { return PolicyEndOfMonth }

// Generate picks the latest calendar day of every (year, month) and keeps
// it when its date lies within [start, end].
func (EndOfMonth) Generate(start, end time.Time, cal *util.TradingCalendar, preMarket bool) *Schedule {
	if cal.Len() == 0 {
		return NewSchedule()
	}
	type month struct {
		year  int
		month time.Month
	}
	last := make(map[month]time.Time)
	var order []month
	for _, d := range cal.Days() {
		k := month{d.Year(), d.Month()}
		cur, ok := last[k]
		if !ok {
			order = append(order, k)
		}
		if !ok || d.After(cur) {
			last[k] = d
		}
	}

	first, final := util.DayOf(start), util.DayOf(end)
	var days []time.Time
	for _, k := range order {
		d := last[k]
		if d.Before(first) || d.After(final) {
			continue
		}
		days = append(days, d)
	}
	return stamp(days, preMarket)
}
