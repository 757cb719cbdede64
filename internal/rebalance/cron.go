package rebalance

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"quantsim/internal/domain"
	"quantsim/internal/util"
)

// Cron rebalances on the calendar days on which a cron expression fires.
// The expression is evaluated in exchange time; only the day it fires on
// matters, the timestamp is still the policy market time.
type Cron struct {
	expr  string
	sched cron.Schedule
}

// NewCron parses a standard 5-field cron expression, e.g. "0 0 * * 1,4"
// for Mondays and Thursdays.
func NewCron(expr string) (*Cron, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: rebalance frequency is 'cron' but no cron expression was provided", domain.ErrInvalidConfig)
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: cron expression %q: %v", domain.ErrInvalidConfig, expr, err)
	}
	return &Cron{expr: expr, sched: sched}, nil
}

func (c *Cron) Name() string { return PolicyCron + " " + c.expr }

// Generate keeps every calendar day in [start, end] on which the
// expression fires at least once.
func (c *Cron) Generate(start, end time.Time, cal *util.TradingCalendar, preMarket bool) *Schedule {
	if cal.Len() == 0 {
		return NewSchedule()
	}
	first, last := util.DayOf(start), util.DayOf(end)

	var days []time.Time
	for _, d := range cal.Days() {
		if d.Before(first) || d.After(last) {
			continue
		}
		midnight := util.At(d, 0, 0)
		if c.sched.Next(midnight.Add(-time.Second)).Before(midnight.AddDate(0, 0, 1)) {
			days = append(days, d)
		}
	}
	return stamp(days, preMarket)
}
