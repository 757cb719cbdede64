package util

import (
	"slices"
	"time"
	_ "time/tzdata" // Embedded zone database so America/New_York always resolves.
)

// Exchange is the local time zone of the simulated exchange.
var Exchange = mustLoadLocation("America/New_York")

// Times of day, in exchange time, at which the clock emits events.
const (
	PreMarketHour, PreMarketMinute     = 0, 0
	MarketOpenHour, MarketOpenMinute   = 9, 30
	MarketCloseHour, MarketCloseMinute = 16, 0
	PostMarketHour, PostMarketMinute   = 23, 59
)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// DayOf returns the civil date of t (in t's own location) as midnight UTC.
// Days are the keys of every calendar lookup.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// At stamps the civil date of day with the given exchange-local time.
func At(day time.Time, hour, minute int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, Exchange)
}

// MarketOpen returns 09:30 exchange time on day.
func MarketOpen(day time.Time) time.Time {
	return At(day, MarketOpenHour, MarketOpenMinute)
}

// MarketClose returns 16:00 exchange time on day.
func MarketClose(day time.Time) time.Time {
	return At(day, MarketCloseHour, MarketCloseMinute)
}

// IsWeekday reports whether day falls Monday through Friday.
func IsWeekday(day time.Time) bool {
	wd := day.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// BusinessDays returns every Monday-Friday date in [start, end], compared
// by civil date. Holidays are not considered.
func BusinessDays(start, end time.Time) []time.Time {
	first, last := DayOf(start), DayOf(end)
	var days []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if IsWeekday(d) {
			days = append(days, d)
		}
	}
	return days
}

// IsMarketOpen reports whether the exchange is in its regular session at t:
// a weekday with 09:30 <= local time < 16:00.
func IsMarketOpen(t time.Time) bool {
	local := t.In(Exchange)
	if !IsWeekday(local) {
		return false
	}
	open := MarketOpen(local)
	return !local.Before(open) && local.Before(MarketClose(local))
}

// TradingCalendar is the reference calendar of a backtest: the set of days
// for which the longest-history asset has data. An empty calendar means no
// data source is registered.
type TradingCalendar struct {
	days []time.Time
	set  map[int64]struct{}
}

// NewTradingCalendar builds a calendar from the given timestamps. Duplicates
// collapse to one day and the result is sorted ascending.
func NewTradingCalendar(stamps []time.Time) *TradingCalendar {
	tc := &TradingCalendar{set: make(map[int64]struct{}, len(stamps))}
	for _, ts := range stamps {
		d := DayOf(ts)
		if _, ok := tc.set[d.Unix()]; ok {
			continue
		}
		tc.set[d.Unix()] = struct{}{}
		tc.days = append(tc.days, d)
	}
	slices.SortFunc(tc.days, func(a, b time.Time) int { return a.Compare(b) })
	return tc
}

// Len returns the number of days in the calendar. A nil calendar is empty.
func (tc *TradingCalendar) Len() int {
	if tc == nil {
		return 0
	}
	return len(tc.days)
}

// Days returns a copy of the calendar's days in ascending order.
func (tc *TradingCalendar) Days() []time.Time {
	if tc == nil {
		return nil
	}
	return slices.Clone(tc.days)
}

// Contains reports whether the civil date of t is a calendar day.
func (tc *TradingCalendar) Contains(t time.Time) bool {
	if tc == nil {
		return false
	}
	_, ok := tc.set[DayOf(t).Unix()]
	return ok
}
