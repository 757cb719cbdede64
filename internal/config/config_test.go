package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/util"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quantsim.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH", "LOG_LEVEL", "ALPACA_API_KEY", "ALPACA_API_SECRET",
		"ALPACA_DATA_URL", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "QUANTSIM_CONFIG",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/quantsim/data"
  sqlite_path: "/tmp/quantsim/runs.db"
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  data_url: "https://data.alpaca.markets"
logging:
  level: "debug"
  format: "text"
gather:
  us_daily:
    start_date: "2020-01-01"
    batch_size: 500
    rate_limit_per_min: 150
trading:
  max_position_pct: 0.25
backtest:
  start: "2024-01-02"
  end: "2024-06-28"
  burn_in: "2024-02-01"
  universe: [SPY, AGG]
  rebalance: weekly
  rebalance_weekday: wed
  long_only: true
  cash_buffer_percentage: 0.01
  alpha: fixed
  alpha_weights: {SPY: 0.6, AGG: 0.4}
  dividends:
    process: true
    reinvest: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/quantsim/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/quantsim/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/quantsim/runs.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/quantsim/runs.db")
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.Feed != "iex" {
		t.Errorf("Alpaca.Feed = %q, want default %q", cfg.Alpaca.Feed, "iex")
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want debug/text", cfg.Logging)
	}

	// -- Gather --
	if cfg.Gather.USDaily.BatchSize != 500 {
		t.Errorf("Gather.USDaily.BatchSize = %d, want 500", cfg.Gather.USDaily.BatchSize)
	}
	if cfg.Gather.USDaily.MaxWorkers != 4 {
		t.Errorf("Gather.USDaily.MaxWorkers = %d, want default 4", cfg.Gather.USDaily.MaxWorkers)
	}

	// -- Backtest --
	bt := cfg.Backtest
	if len(bt.Universe) != 2 || bt.Universe[0] != "SPY" {
		t.Errorf("Backtest.Universe = %v, want [SPY AGG]", bt.Universe)
	}
	if bt.InitialCash != 1e6 {
		t.Errorf("Backtest.InitialCash = %v, want default 1e6", bt.InitialCash)
	}
	if bt.PortfolioID != "000001" || bt.AccountName != "master" {
		t.Errorf("Backtest portfolio/account = %q/%q, want defaults", bt.PortfolioID, bt.AccountName)
	}
	if bt.CashBufferPercentage == nil || *bt.CashBufferPercentage != 0.01 {
		t.Errorf("Backtest.CashBufferPercentage = %v, want 0.01", bt.CashBufferPercentage)
	}
	if bt.AlphaWeights["AGG"] != 0.4 {
		t.Errorf("Backtest.AlphaWeights = %v", bt.AlphaWeights)
	}
	if !bt.Dividends.Process || !bt.Dividends.Reinvest {
		t.Errorf("Backtest.Dividends = %+v, want both enabled", bt.Dividends)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}
	p, err := bt.RebalancePolicy()
	if err != nil {
		t.Fatalf("RebalancePolicy() returned error: %v", err)
	}
	if p.Name() != "weekly-WED" {
		t.Errorf("RebalancePolicy().Name() = %q, want %q", p.Name(), "weekly-WED")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/from/file"
alpaca:
  api_key: "file-key"
`)
	t.Setenv("DATA_DIR", "/from/env")
	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("APCA_API_KEY_ID", "apca-key")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Storage.DataDir != "/from/env" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/from/env")
	}
	// APCA_* wins over ALPACA_*.
	if cfg.Alpaca.APIKey != "apca-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "apca-key")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "warn")
	}
}

func TestPath(t *testing.T) {
	t.Setenv("QUANTSIM_CONFIG", "")
	if got := Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}
	t.Setenv("QUANTSIM_CONFIG", "/etc/quantsim.yaml")
	if got := Path(); got != "/etc/quantsim.yaml" {
		t.Errorf("Path() = %q, want override", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() of missing file returned nil error")
	}
}

func validBacktest() Backtest {
	buffer := 0.05
	return Backtest{
		Start:                "2024-01-02",
		End:                  "2024-03-28",
		Universe:             []string{"SPY"},
		Rebalance:            "end_of_month",
		LongOnly:             true,
		CashBufferPercentage: &buffer,
	}
}

func TestValidateRejects(t *testing.T) {
	lev := 1.0
	tests := []struct {
		name   string
		mutate func(*Backtest)
	}{
		{"empty universe", func(b *Backtest) { b.Universe = nil }},
		{"unknown policy", func(b *Backtest) { b.Rebalance = "hourly" }},
		{"weekly without weekday", func(b *Backtest) { b.Rebalance = "weekly" }},
		{"weekly on saturday", func(b *Backtest) { b.Rebalance = "weekly"; b.RebalanceWeekday = "SAT" }},
		{"cron without expression", func(b *Backtest) { b.Rebalance = "cron" }},
		{"long only without buffer", func(b *Backtest) { b.CashBufferPercentage = nil }},
		{"long short without leverage", func(b *Backtest) { b.LongOnly = false }},
		{"end before start", func(b *Backtest) { b.End = "2023-12-29" }},
		{"bad date", func(b *Backtest) { b.Start = "02/01/2024" }},
		{"missing end", func(b *Backtest) { b.End = "" }},
		{"bad burn in", func(b *Backtest) { b.BurnIn = "soon" }},
	}
	for _, tt := range tests {
		bt := validBacktest()
		tt.mutate(&bt)
		cfg := &Config{Backtest: bt}
		err := cfg.Validate()
		if !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("%s: Validate() = %v, want ErrInvalidConfig", tt.name, err)
		}
	}

	bt := validBacktest()
	bt.LongOnly = false
	bt.CashBufferPercentage = nil
	bt.GrossLeverage = &lev
	if err := (&Config{Backtest: bt}).Validate(); err != nil {
		t.Errorf("long/short with leverage: Validate() = %v, want nil", err)
	}
}

func TestBacktestTimes(t *testing.T) {
	bt := validBacktest()
	bt.BurnIn = "2024-02-01"

	start, err := bt.StartTime()
	if err != nil {
		t.Fatal(err)
	}
	if want := util.MarketOpen(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)); !start.Equal(want) {
		t.Errorf("StartTime() = %v, want %v", start, want)
	}

	end, err := bt.EndTime()
	if err != nil {
		t.Fatal(err)
	}
	if want := util.MarketClose(time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC)); !end.Equal(want) {
		t.Errorf("EndTime() = %v, want %v", end, want)
	}

	burn, err := bt.BurnInTime()
	if err != nil {
		t.Fatal(err)
	}
	if want := util.At(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 0, 0); !burn.Equal(want) {
		t.Errorf("BurnInTime() = %v, want %v", burn, want)
	}

	bt.BurnIn = ""
	if burn, err := bt.BurnInTime(); err != nil || !burn.IsZero() {
		t.Errorf("empty BurnInTime() = %v, %v; want zero, nil", burn, err)
	}

	bt.Start = "2024-01-02T14:30:00Z"
	start, err = bt.StartTime()
	if err != nil {
		t.Fatal(err)
	}
	if !start.Equal(util.MarketOpen(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))) {
		t.Errorf("RFC3339 StartTime() = %v, want 09:30 ET", start)
	}
}
