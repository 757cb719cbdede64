package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"quantsim/internal/domain"
	"quantsim/internal/rebalance"
	"quantsim/internal/util"
)

// DefaultPath is where the configuration is read from unless
// QUANTSIM_CONFIG points elsewhere.
const DefaultPath = "config/quantsim.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for quantsim.
type Config struct {
	Storage  Storage       `yaml:"storage"`
	Alpaca   Alpaca        `yaml:"alpaca"`
	Logging  Logging       `yaml:"logging"`
	Gather   GatherConfig  `yaml:"gather"`
	Trading  TradingConfig `yaml:"trading"`
	Backtest Backtest      `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls the daily bar backfill.
type GatherConfig struct {
	USDaily GatherJobConfig `yaml:"us_daily"`
}

// GatherJobConfig holds parameters for a single data gathering job.
type GatherJobConfig struct {
	StartDate       string `yaml:"start_date"`
	BatchSize       int    `yaml:"batch_size"`
	MaxWorkers      int    `yaml:"max_workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// TradingConfig defines the pre-trade risk limits of the simulated executor.
type TradingConfig struct {
	MaxPositionPct float64 `yaml:"max_position_pct"`
	AllowShort     bool    `yaml:"allow_short"`
}

// Dividends toggles dividend settlement.
type Dividends struct {
	Process  bool `yaml:"process"`
	Reinvest bool `yaml:"reinvest"`
}

// Backtest describes one simulation run.
type Backtest struct {
	Start    string   `yaml:"start"`
	End      string   `yaml:"end"`
	BurnIn   string   `yaml:"burn_in"`
	Universe []string `yaml:"universe"`

	InitialCash float64 `yaml:"initial_cash"`

	Rebalance          string `yaml:"rebalance"`
	RebalanceWeekday   string `yaml:"rebalance_weekday"`
	RebalanceCron      string `yaml:"rebalance_cron"`
	RebalancePreMarket bool   `yaml:"rebalance_pre_market"`
	PreMarket          bool   `yaml:"pre_market"`
	PostMarket         bool   `yaml:"post_market"`

	LongOnly             bool     `yaml:"long_only"`
	CashBufferPercentage *float64 `yaml:"cash_buffer_percentage"`
	GrossLeverage        *float64 `yaml:"gross_leverage"`

	Alpha                string             `yaml:"alpha"`
	AlphaWeights         map[string]float64 `yaml:"alpha_weights"`
	SMAShort             int                `yaml:"sma_short"`
	SMALong              int                `yaml:"sma_long"`
	MomentumLookbackDays int                `yaml:"momentum_lookback_days"`

	CommissionPct float64   `yaml:"commission_pct"`
	Dividends     Dividends `yaml:"dividends"`

	PortfolioID   string `yaml:"portfolio_id"`
	PortfolioName string `yaml:"portfolio_name"`
	AccountName   string `yaml:"account_name"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the configuration path, honouring QUANTSIM_CONFIG.
func Path() string {
	if v := os.Getenv("QUANTSIM_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills defaults and then applies environment variable
// overrides. It does not validate; call Validate before running.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Gather.USDaily.BatchSize == 0 {
		cfg.Gather.USDaily.BatchSize = 100
	}
	if cfg.Gather.USDaily.MaxWorkers == 0 {
		cfg.Gather.USDaily.MaxWorkers = 4
	}
	if cfg.Gather.USDaily.RateLimitPerMin == 0 {
		cfg.Gather.USDaily.RateLimitPerMin = 200
	}

	bt := &cfg.Backtest
	if bt.InitialCash == 0 {
		bt.InitialCash = 1e6
	}
	if bt.Alpha == "" {
		bt.Alpha = "equal-weight"
	}
	if bt.PortfolioID == "" {
		bt.PortfolioID = "000001"
	}
	if bt.PortfolioName == "" {
		bt.PortfolioName = "Backtest Simulation Portfolio"
	}
	if bt.AccountName == "" {
		bt.AccountName = "master"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars take precedence; the SDK reads the same names.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the backtest section. Every error wraps
// domain.ErrInvalidConfig.
func (c *Config) Validate() error {
	bt := c.Backtest
	var errs []error

	if len(bt.Universe) == 0 {
		errs = append(errs, fmt.Errorf("%w: backtest.universe is empty", domain.ErrInvalidConfig))
	}
	if _, err := bt.RebalancePolicy(); err != nil {
		errs = append(errs, err)
	}
	if bt.LongOnly && bt.CashBufferPercentage == nil {
		errs = append(errs, fmt.Errorf("%w: long-only trading system selected but no cash_buffer_percentage provided", domain.ErrInvalidConfig))
	}
	if !bt.LongOnly && bt.GrossLeverage == nil {
		errs = append(errs, fmt.Errorf("%w: long/short trading system selected but no gross_leverage provided", domain.ErrInvalidConfig))
	}
	if bt.InitialCash < 0 {
		errs = append(errs, fmt.Errorf("%w: initial_cash %v is negative", domain.ErrInvalidConfig, bt.InitialCash))
	}

	start, err := bt.StartTime()
	if err != nil {
		errs = append(errs, err)
	}
	end, err := bt.EndTime()
	if err != nil {
		errs = append(errs, err)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		errs = append(errs, fmt.Errorf("%w: backtest end %s is before start %s", domain.ErrInvalidConfig, bt.End, bt.Start))
	}
	if _, err := bt.BurnInTime(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// RebalancePolicy builds the configured rebalance policy.
func (b Backtest) RebalancePolicy() (rebalance.Policy, error) {
	return rebalance.New(b.Rebalance, rebalance.Options{Weekday: b.RebalanceWeekday, Cron: b.RebalanceCron})
}

// StartTime parses start; a bare date means 09:30 exchange time.
func (b Backtest) StartTime() (time.Time, error) {
	return parseTime("start", b.Start, util.MarketOpenHour, util.MarketOpenMinute, true)
}

// EndTime parses end; a bare date means 16:00 exchange time.
func (b Backtest) EndTime() (time.Time, error) {
	return parseTime("end", b.End, util.MarketCloseHour, util.MarketCloseMinute, true)
}

// BurnInTime parses burn_in; a bare date means 00:00 exchange time. An
// empty value yields the zero time.
func (b Backtest) BurnInTime() (time.Time, error) {
	return parseTime("burn_in", b.BurnIn, 0, 0, false)
}

func parseTime(field, v string, hour, minute int, required bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		if required {
			return time.Time{}, fmt.Errorf("%w: backtest.%s is required", domain.ErrInvalidConfig, field)
		}
		return time.Time{}, nil
	}
	if d, err := time.Parse(time.DateOnly, v); err == nil {
		return util.At(d, hour, minute), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: backtest.%s %q is neither YYYY-MM-DD nor RFC3339", domain.ErrInvalidConfig, field, v)
	}
	return t, nil
}
