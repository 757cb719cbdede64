package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"quantsim/internal/backtest"
	"quantsim/internal/broker"
	"quantsim/internal/config"
	"quantsim/internal/datasource"
	"quantsim/internal/dividend"
	"quantsim/internal/domain"
	"quantsim/internal/engine"
	"quantsim/internal/stats"
	"quantsim/internal/store"
	"quantsim/internal/strategy"
	"quantsim/internal/strategy/builtins"
	"quantsim/internal/util"
)

var (
	runWorkers int
	runNoSave  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured backtest",
	Long: `Run the backtest described by the "backtest" section of the configuration
over the daily bars in the Parquet store, print a summary and save the run to
SQLite when storage.sqlite_path is set.`,
	RunE: runBacktest,
}

func init() {
	runCmd.Flags().IntVar(&runWorkers, "workers", 4, "concurrent bar readers")
	runCmd.Flags().BoolVar(&runNoSave, "no-save", false, "do not persist the run")
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	cfg, log, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	from, to, err := loadWindow(cfg.Backtest)
	if err != nil {
		return err
	}
	src, err := datasource.LoadBars(ctx, "parquet", store.NewParquetStore(cfg.Storage.DataDir),
		domain.MarketUS, cfg.Backtest.Universe, from, to, runWorkers)
	if err != nil {
		return fmt.Errorf("loading bars: %w", err)
	}

	session, b, err := assemble(cfg, log, src)
	if err != nil {
		return err
	}
	st, err := session.Run(ctx)
	if err != nil {
		return err
	}

	start, _ := cfg.Backtest.StartTime()
	end, _ := cfg.Backtest.EndTime()
	info := store.RunInfo{
		ID:        uuid.NewString(),
		Start:     start,
		End:       end,
		Rebalance: cfg.Backtest.Rebalance,
		Universe:  cfg.Backtest.Universe,
		CreatedAt: time.Now().UTC(),
	}
	if err := saveRun(ctx, cfg, info, st); err != nil {
		return err
	}
	printSummary(cmd, info.ID, st, b.OpenOrders(cfg.Backtest.PortfolioID))
	return nil
}

// loadWindow returns the whole civil days of bars to load. The range is
// widened by the momentum lookback so the first rebalance sees a full
// history.
func loadWindow(bt config.Backtest) (time.Time, time.Time, error) {
	start, err := bt.StartTime()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := bt.EndTime()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	first := util.DayOf(start.In(util.Exchange))
	if bt.Alpha == "momentum" && bt.MomentumLookbackDays > 0 {
		first = first.AddDate(0, 0, -bt.MomentumLookbackDays)
	}
	last := util.DayOf(end.In(util.Exchange)).Add(24*time.Hour - time.Nanosecond)
	return first, last, nil
}

// assemble wires a session over the given bar sources and returns it with
// its broker.
func assemble(cfg *config.Config, log *slog.Logger, sources ...datasource.Source) (*backtest.Session, *broker.SimulatorBroker, error) {
	bt := cfg.Backtest

	start, err := bt.StartTime()
	if err != nil {
		return nil, nil, err
	}
	end, err := bt.EndTime()
	if err != nil {
		return nil, nil, err
	}
	burnIn, err := bt.BurnInTime()
	if err != nil {
		return nil, nil, err
	}
	policy, err := bt.RebalancePolicy()
	if err != nil {
		return nil, nil, err
	}

	router := datasource.NewRouter(log, sources...)

	b := broker.NewSimulatorBroker(router, broker.SimulatorOptions{
		AccountName:   bt.AccountName,
		CommissionPct: bt.CommissionPct,
		Logger:        log,
	})
	if err := b.CreatePortfolio(bt.PortfolioID, bt.PortfolioName); err != nil {
		return nil, nil, err
	}
	if err := b.SubscribeFunds(bt.PortfolioID, decimal.NewFromFloat(bt.InitialCash)); err != nil {
		return nil, nil, err
	}

	// Long/short systems may always go short.
	risk := engine.NewRiskManager(cfg.Trading.MaxPositionPct, cfg.Trading.AllowShort || !bt.LongOnly)
	exec := engine.NewExecutor(b, bt.PortfolioID, router, risk, log)

	models := builtins.NewRegistry(builtins.Params{
		Universe:     bt.Universe,
		Weights:      bt.AlphaWeights,
		SMAShort:     bt.SMAShort,
		SMALong:      bt.SMALong,
		LookbackDays: bt.MomentumLookbackDays,
		Prices:       router,
		History:      router,
	})
	alpha, ok := models.Get(bt.Alpha)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown or unconfigured alpha model %q (available: %v)",
			domain.ErrInvalidConfig, bt.Alpha, models.List())
	}

	system, err := strategy.NewQuantTradingSystem(alpha, b, exec, router, strategy.SystemOptions{
		PortfolioID:   bt.PortfolioID,
		Universe:      bt.Universe,
		LongOnly:      bt.LongOnly,
		CashBuffer:    bt.CashBufferPercentage,
		GrossLeverage: bt.GrossLeverage,
		Logger:        log,
	})
	if err != nil {
		return nil, nil, err
	}

	deps := backtest.Deps{
		Router:    router,
		Broker:    b,
		System:    system,
		Dividends: dividend.NewSettlement(router, b, exec, bt.PortfolioID, dividend.Options{Process: bt.Dividends.Process, Reinvest: bt.Dividends.Reinvest}, log),
		Logger:    log,
	}
	if u, ok := alpha.(strategy.SignalUpdater); ok {
		deps.Signals = u
	}

	session, err := backtest.NewSession(backtest.Config{
		Start:              start,
		End:                end,
		BurnIn:             burnIn,
		PortfolioID:        bt.PortfolioID,
		Policy:             policy,
		RebalancePreMarket: bt.RebalancePreMarket,
		PreMarket:          bt.PreMarket,
		PostMarket:         bt.PostMarket,
	}, deps)
	if err != nil {
		return nil, nil, err
	}
	return session, b, nil
}

func saveRun(ctx context.Context, cfg *config.Config, info store.RunInfo, st *stats.Stats) error {
	var rec store.RunRecorder = store.NewNoopRecorder()
	if cfg.Storage.SQLitePath != "" && !runNoSave {
		s, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening run store: %w", err)
		}
		rec = s
	}
	defer rec.Close()

	if err := rec.SaveRun(ctx, info, st); err != nil {
		return fmt.Errorf("saving run %s: %w", info.ID, err)
	}
	return nil
}

// printSummary writes the run totals. open are the orders still queued at
// the end of the run, e.g. those placed at the final close.
func printSummary(cmd *cobra.Command, runID string, st *stats.Stats, open []domain.Order) {
	curve := st.EquityCurve()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "run\t%s\n", runID)
	fmt.Fprintf(w, "events\t%d\n", len(st.Events()))
	fmt.Fprintf(w, "rebalances\t%d\n", len(st.RebalanceOrders()))
	fmt.Fprintf(w, "fills\t%d\n", len(st.ExecutedOrders()))
	fmt.Fprintf(w, "unfilled\t%d\n", len(open))
	if len(curve) == 0 {
		fmt.Fprintln(w, "equity\tno samples")
		return
	}
	first, last := curve[0], curve[len(curve)-1]
	fmt.Fprintf(w, "equity start\t%.2f\t%s\n", first.Equity, first.Date.Format(time.DateOnly))
	fmt.Fprintf(w, "equity end\t%.2f\t%s\n", last.Equity, last.Date.Format(time.DateOnly))
	if first.Equity != 0 {
		fmt.Fprintf(w, "return\t%.2f%%\n", (last.Equity/first.Equity-1)*100)
	}
}
