package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quantsim/internal/config"
	"quantsim/internal/domain"
	"quantsim/internal/gather"
	"quantsim/internal/gather/us"
	"quantsim/internal/store"
	"quantsim/internal/util"
)

var (
	fetchSymbolsFile string
	fetchTradingURL  string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch daily bars from Alpaca into the Parquet store",
	Long: `Fetch daily bars for the backtest universe (plus any symbols listed in
--symbols) from gather.us_daily.start_date, or backtest.start, up to
backtest.end or the latest finished trading day.

Examples:
  quantsim fetch
  quantsim fetch --symbols reference/etfs.csv`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchSymbolsFile, "symbols", "", "CSV file whose first column lists extra symbols")
	fetchCmd.Flags().StringVar(&fetchTradingURL, "trading-url", "https://api.alpaca.markets", "Alpaca trading API, used for the market calendar")
}

func runFetch(cmd *cobra.Command, _ []string) error {
	cfg, log, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	symbols := us.MergeSymbols(cfg.Backtest.Universe)
	if fetchSymbolsFile != "" {
		extra, err := us.LoadCSVSymbols(fetchSymbolsFile)
		if err != nil {
			return err
		}
		symbols = us.MergeSymbols(symbols, extra)
	}
	if len(symbols) == 0 {
		return fmt.Errorf("%w: no symbols to fetch", domain.ErrInvalidConfig)
	}

	dates, err := fetchRange(cfg)
	if err != nil {
		return err
	}
	if dates.End.IsZero() {
		dates.End, err = us.LatestFinishedTradingDay(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, fetchTradingURL)
		if err != nil {
			return fmt.Errorf("determining end date: %w", err)
		}
	}

	job := cfg.Gather.USDaily
	g := us.NewDailyBarGatherer(store.NewParquetStore(cfg.Storage.DataDir), symbols, dates, us.DailyBarOptions{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		DataURL:         cfg.Alpaca.DataURL,
		Feed:            cfg.Alpaca.Feed,
		BatchSize:       job.BatchSize,
		MaxWorkers:      job.MaxWorkers,
		RateLimitPerMin: job.RateLimitPerMin,
		StateDir:        filepath.Join(cfg.Storage.DataDir, string(domain.MarketUS), "daily"),
		Logger:          log,
	})

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting fetch", "gatherer", g.Name(), "symbols", len(symbols),
		"start", dates.Start.Format(time.DateOnly), "end", dates.End.Format(time.DateOnly))
	return g.Run(ctx)
}

// fetchRange resolves the civil dates to fetch. The start is
// gather.us_daily.start_date, else backtest.start; the end is backtest.end
// when set, else zero. Backtest times are taken at their exchange date.
func fetchRange(cfg *config.Config) (gather.DateRange, error) {
	var r gather.DateRange

	if v := cfg.Gather.USDaily.StartDate; v != "" {
		start, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return r, fmt.Errorf("%w: gather.us_daily.start_date %q: %v", domain.ErrInvalidConfig, v, err)
		}
		r.Start = start
	} else if cfg.Backtest.Start != "" {
		start, err := cfg.Backtest.StartTime()
		if err != nil {
			return r, err
		}
		r.Start = exchangeDate(start)
	} else {
		return r, fmt.Errorf("%w: neither gather.us_daily.start_date nor backtest.start is set", domain.ErrInvalidConfig)
	}

	if cfg.Backtest.End != "" {
		end, err := cfg.Backtest.EndTime()
		if err != nil {
			return r, err
		}
		r.End = exchangeDate(end)
	}
	return r, nil
}

func exchangeDate(t time.Time) time.Time {
	return util.DayOf(t.In(util.Exchange))
}
