package us

import (
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"quantsim/internal/util"
)

// settleHour and settleMinute mark when a session's daily bar is final
// (20:05 ET, after extended hours).
const (
	settleHour   = 20
	settleMinute = 5
)

// LatestFinishedTradingDay returns the most recent trading day whose daily
// bar is final, using the Alpaca trading calendar.
func LatestFinishedTradingDay(apiKey, apiSecret, baseURL string) (time.Time, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})

	now := time.Now().In(util.Exchange)
	calendar, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}

	days := make([]string, len(calendar))
	for i, d := range calendar {
		days[i] = d.Date
	}
	return latestFinished(now, days)
}

// latestFinished picks the last day in days (YYYY-MM-DD, ascending) that is
// before today, or today itself once its bar has settled.
func latestFinished(now time.Time, days []string) (time.Time, error) {
	if len(days) == 0 {
		return time.Time{}, errors.New("no trading days returned from calendar")
	}

	now = now.In(util.Exchange)
	today := now.Format(time.DateOnly)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), settleHour, settleMinute, 0, 0, util.Exchange)

	for i := len(days) - 1; i >= 0; i-- {
		day, err := time.Parse(time.DateOnly, days[i])
		if err != nil {
			continue
		}
		if days[i] == today {
			if now.After(cutoff) {
				return day, nil
			}
			continue
		}
		if days[i] < today {
			return day, nil
		}
	}
	return time.Time{}, errors.New("could not determine latest finished trading day")
}
