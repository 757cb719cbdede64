package rebalance

import (
	"fmt"
	"strings"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/util"
)

var weekdayTokens = map[string]time.Weekday{
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
}

// Weekly rebalances once a week on a fixed business weekday.
type Weekly struct {
	weekday time.Weekday
	token   string
}

// NewWeekly parses a three-letter business weekday token (MON..FRI,
// case-insensitive).
func NewWeekly(token string) (*Weekly, error) {
	up := strings.ToUpper(strings.TrimSpace(token))
	wd, ok := weekdayTokens[up]
	if !ok {
		return nil, fmt.Errorf("%w: weekday %q is not recognised or not a valid business weekday", domain.ErrInvalidConfig, token)
	}
	return &Weekly{weekday: wd, token: up}, nil
}

func (w *Weekly) Name() string { return PolicyWeekly + "-" + w.token }

// Generate emits each week's target weekday. When that date is missing from
// the calendar the following days are scanned while they share its ISO week
// number and do not pass end; the first calendar day found substitutes, and
// the week is skipped if there is none. Only the week number is compared,
// not the year; since the scan stops at the first change of week number it
// never leaves the ISO week, even across a calendar year end.
func (w *Weekly) Generate(start, end time.Time, cal *util.TradingCalendar, preMarket bool) *Schedule {
	if cal.Len() == 0 {
		return NewSchedule()
	}
	first, last := util.DayOf(start), util.DayOf(end)

	d := first
	for d.Weekday() != w.weekday {
		d = d.AddDate(0, 0, 1)
	}

	var days []time.Time
	for ; !d.After(last); d = d.AddDate(0, 0, 7) {
		if cal.Contains(d) {
			days = append(days, d)
			continue
		}
		_, week := d.ISOWeek()
		for next := d.AddDate(0, 0, 1); !next.After(last); next = next.AddDate(0, 0, 1) {
			if _, nw := next.ISOWeek(); nw != week {
				break
			}
			if cal.Contains(next) {
				days = append(days, next)
				break
			}
		}
	}
	return stamp(days, preMarket)
}
