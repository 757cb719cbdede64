package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), nil, 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3
	sentinel := errors.New("persistent error")

	err := Retry(context.Background(), nil, maxAttempts, 0, func() error {
		attempts++
		return sentinel
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("Retry error = %v, want wrapped %v", err, sentinel)
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	frozen := rl.lastTime
	rl.now = func() time.Time { return frozen }

	if !rl.Allow() || !rl.Allow() {
		t.Fatal("expected two tokens from a burst of 2")
	}
	if rl.Allow() {
		t.Error("third Allow should fail without refill")
	}

	frozen = frozen.Add(time.Second)
	if !rl.Allow() {
		t.Error("expected a token after one second at 60/min")
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	rl.Allow()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait error = %v, want context.Canceled", err)
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "debug", "json").Debug("hello", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("json logger output = %q, want a msg field", buf.String())
	}

	buf.Reset()
	NewLoggerTo(&buf, "warn", "text").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info message should be filtered at warn level, got %q", buf.String())
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unknown level should map to info")
	}
}

func TestTradingCalendar(t *testing.T) {
	cal := NewTradingCalendar([]time.Time{
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), // duplicate day
	})
	if cal.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", cal.Len())
	}
	days := cal.Days()
	if !days[0].Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first day = %v, want 2024-01-02", days[0])
	}
	if !cal.Contains(MarketClose(days[1])) {
		t.Error("Contains should match any time on a calendar day")
	}
	if cal.Contains(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)) {
		t.Error("Contains(2024-01-04) = true, want false")
	}

	var empty *TradingCalendar
	if empty.Len() != 0 || empty.Contains(days[0]) || empty.Days() != nil {
		t.Error("nil calendar should behave as empty")
	}
}

func TestBusinessDays(t *testing.T) {
	// Fri 2024-01-05 .. Tue 2024-01-09 spans a weekend.
	days := BusinessDays(
		time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
	)
	want := []int{5, 8, 9}
	if len(days) != len(want) {
		t.Fatalf("BusinessDays returned %d days, want %d", len(days), len(want))
	}
	for i, d := range days {
		if d.Day() != want[i] {
			t.Errorf("day[%d] = %d, want %d", i, d.Day(), want[i])
		}
	}
}

func TestIsMarketOpen(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"open bell", MarketOpen(day), true},
		{"midday", At(day, 12, 0), true},
		{"close bell", MarketClose(day), false},
		{"pre market", At(day, 0, 0), false},
		{"saturday", MarketOpen(time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)), false},
	}
	for _, tc := range cases {
		if got := IsMarketOpen(tc.ts); got != tc.want {
			t.Errorf("%s: IsMarketOpen(%v) = %v, want %v", tc.name, tc.ts, got, tc.want)
		}
	}
}
