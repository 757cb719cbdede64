// Package us gathers daily bars for US equities from the Alpaca market-data
// API into the bar store.
package us

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/sync/errgroup"

	"quantsim/internal/domain"
	"quantsim/internal/gather"
	"quantsim/internal/store"
	"quantsim/internal/util"
)

var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// FetchFunc returns the daily bars of symbols within [start, end].
type FetchFunc func(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error)

// CashDividend is a per-share cash dividend going ex on ExDate (a civil
// date at UTC midnight).
type CashDividend struct {
	Symbol string
	ExDate time.Time
	Rate   float64
}

// DividendFunc returns the cash dividends of symbols with an ex-date
// within [start, end].
type DividendFunc func(ctx context.Context, symbols []string, start, end time.Time) ([]CashDividend, error)

// DailyBarOptions configures a DailyBarGatherer. Zero values fall back to
// the defaults noted per field.
type DailyBarOptions struct {
	APIKey    string
	APISecret string
	DataURL   string
	Feed      string // "iex" or "sip"; default iex

	BatchSize       int // symbols per request; default 100
	MaxWorkers      int // concurrent requests; default 4
	RateLimitPerMin int // default 200
	Attempts        int // per batch; default 3
	RetryDelay      time.Duration

	// StateDir holds the resume files. Empty disables resuming.
	StateDir string

	Logger *slog.Logger
}

// DailyBarGatherer fetches daily bars for a fixed symbol list in batches,
// stamps each ex-date bar with its cash dividend and writes them to a
// BarStore. Symbols already known to return nothing are skipped on a
// resumed run, and a completed range is not fetched twice.
type DailyBarGatherer struct {
	fetch     FetchFunc
	dividends DividendFunc
	store     store.BarStore
	symbols   []string
	dates     gather.DateRange
	opts      DailyBarOptions
	limiter   *util.RateLimiter
	log       *slog.Logger
}

// NewDailyBarGatherer creates a gatherer backed by the Alpaca market-data
// client. dates.End must be set; see LatestFinishedTradingDay.
func NewDailyBarGatherer(s store.BarStore, symbols []string, dates gather.DateRange, opts DailyBarOptions) *DailyBarGatherer {
	if opts.Feed == "" {
		opts.Feed = "iex"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 200
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}

	g := &DailyBarGatherer{
		store:   s,
		symbols: symbols,
		dates:   dates,
		opts:    opts,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin, opts.MaxWorkers),
		log:     util.LoggerOr(opts.Logger).With("gatherer", "us-daily"),
	}

	clientOpts := marketdata.ClientOpts{APIKey: opts.APIKey, APISecret: opts.APISecret}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}
	client := marketdata.NewClient(clientOpts)
	g.fetch = alpacaFetcher(client, opts.Feed)
	g.dividends = alpacaDividends(client)
	return g
}

// WithFetcher replaces the bar source, e.g. with a fake in tests.
func (g *DailyBarGatherer) WithFetcher(f FetchFunc) *DailyBarGatherer {
	g.fetch = f
	return g
}

// WithDividends replaces the dividend source. nil leaves Bar.Dividend
// unset.
func (g *DailyBarGatherer) WithDividends(f DividendFunc) *DailyBarGatherer {
	g.dividends = f
	return g
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

func (g *DailyBarGatherer) rangeKey() string {
	return g.dates.Start.Format(time.DateOnly) + ".." + g.dates.End.Format(time.DateOnly)
}

// Run fetches every symbol's bars and writes them to the store. A batch
// that still fails after its retries is logged and counted; Run then
// returns an error and the range is not marked completed.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	if g.dates.End.IsZero() || g.dates.End.Before(g.dates.Start) {
		return fmt.Errorf("%w: fetch range %s..%s", domain.ErrInvalidConfig,
			g.dates.Start.Format(time.DateOnly), g.dates.End.Format(time.DateOnly))
	}
	key := g.rangeKey()

	var tracker *progressTracker
	if g.opts.StateDir != "" {
		t, err := newProgressTracker(g.opts.StateDir)
		if err != nil {
			return fmt.Errorf("creating progress tracker: %w", err)
		}
		defer t.Close()
		if t.IsCompleted(key) {
			g.log.Info("already completed", "range", key)
			return nil
		}
		if last := t.LastCompleted(); last != "" && last != key {
			if err := t.Reset(); err != nil {
				return fmt.Errorf("resetting tracker: %w", err)
			}
		}
		tracker = t
	}

	var todo []string
	skipped := 0
	for _, sym := range g.symbols {
		if tracker != nil && tracker.IsEmpty(sym) {
			skipped++
			continue
		}
		todo = append(todo, sym)
	}

	batches := chunk(todo, g.opts.BatchSize)
	g.log.Info("starting",
		"symbols", len(g.symbols),
		"skipped", skipped,
		"batches", len(batches),
		"range", key,
	)

	var hits, empty, failed atomic.Int64
	runStart := time.Now()

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.MaxWorkers)
	for i, batch := range batches {
		eg.Go(func() error {
			progress := fmt.Sprintf("%d/%d", i+1, len(batches))
			bars, err := g.fetchBatch(ectx, batch)
			if err != nil {
				if ectx.Err() != nil {
					return ectx.Err()
				}
				g.log.Error("batch failed", "batch", progress, "err", err)
				failed.Add(1)
				return nil
			}

			seen := make(map[string]struct{})
			for _, b := range bars {
				seen[b.Symbol] = struct{}{}
			}
			var missing []string
			for _, sym := range batch {
				if _, ok := seen[sym]; !ok {
					missing = append(missing, sym)
				}
			}

			if len(bars) > 0 {
				if err := g.store.WriteBars(ectx, bars); err != nil {
					return fmt.Errorf("writing bars: %w", err)
				}
			}
			if tracker != nil && len(missing) > 0 {
				if err := tracker.MarkEmpty(missing); err != nil {
					g.log.Error("marking empty failed", "err", err)
				}
			}

			hits.Add(int64(len(seen)))
			empty.Add(int64(len(missing)))
			g.log.Info("batch done",
				"batch", progress,
				"hits", len(seen),
				"empty", len(missing),
				"elapsed", time.Since(runStart).Round(time.Second),
			)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d batches failed", n, len(batches))
	}
	if tracker != nil {
		if err := tracker.MarkCompleted(key); err != nil {
			return fmt.Errorf("marking completed: %w", err)
		}
	}

	g.log.Info("complete",
		"hits", hits.Load(),
		"empty", empty.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

func (g *DailyBarGatherer) fetchBatch(ctx context.Context, batch []string) ([]domain.Bar, error) {
	var bars []domain.Bar
	err := g.retry(ctx, func() error {
		var err error
		bars, err = g.fetch(ctx, batch, g.dates.Start, g.dates.End)
		return err
	})
	if err != nil || g.dividends == nil || len(bars) == 0 {
		return bars, err
	}

	var divs []CashDividend
	err = g.retry(ctx, func() error {
		var err error
		divs, err = g.dividends(ctx, batch, g.dates.Start, g.dates.End)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching dividends: %w", err)
	}
	for _, d := range attachDividends(bars, divs) {
		g.log.Warn("dividend without ex-date bar", "symbol", d.Symbol, "ex_date", d.ExDate.Format(time.DateOnly))
	}
	return bars, nil
}

func (g *DailyBarGatherer) retry(ctx context.Context, fn func() error) error {
	err := util.Retry(ctx, g.log, g.opts.Attempts, g.opts.RetryDelay, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn()
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ctx.Err()
	}
	return err
}

// attachDividends sets Bar.Dividend on the bar of each ex-date, summing
// several dividends going ex on the same day. It returns the dividends
// that matched no bar.
func attachDividends(bars []domain.Bar, divs []CashDividend) []CashDividend {
	type key struct {
		symbol string
		day    time.Time
	}
	idx := make(map[key]int, len(bars))
	for i, b := range bars {
		idx[key{b.Symbol, util.DayOf(b.Timestamp)}] = i
	}

	var missed []CashDividend
	for _, d := range divs {
		i, ok := idx[key{strings.ToUpper(d.Symbol), util.DayOf(d.ExDate)}]
		if !ok {
			missed = append(missed, d)
			continue
		}
		bars[i].Dividend += d.Rate
	}
	return missed
}

// alpacaFetcher fetches daily bars for several symbols in one API call.
// start and end are civil dates, both inclusive. Bars are keyed by their
// exchange-local civil date.
func alpacaFetcher(client *marketdata.Client, feed string) FetchFunc {
	return func(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		multiBars, err := client.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.Split,
			Start:      util.At(start, 0, 0),
			End:        util.At(end, 23, 59),
			Feed:       marketdata.Feed(feed),
		})
		if err != nil {
			return nil, fmt.Errorf("GetMultiBars: %w", err)
		}

		var bars []domain.Bar
		for symbol, alpacaBars := range multiBars {
			for _, ab := range alpacaBars {
				bars = append(bars, domain.Bar{
					Symbol:     strings.ToUpper(symbol),
					Timestamp:  util.DayOf(ab.Timestamp.In(util.Exchange)),
					Open:       ab.Open,
					High:       ab.High,
					Low:        ab.Low,
					Close:      ab.Close,
					Volume:     int64(ab.Volume),
					TradeCount: int64(ab.TradeCount),
					VWAP:       ab.VWAP,
				})
			}
		}
		return bars, nil
	}
}

// alpacaDividends reads cash dividends from the corporate actions
// endpoint.
func alpacaDividends(client *marketdata.Client) DividendFunc {
	return func(ctx context.Context, symbols []string, start, end time.Time) ([]CashDividend, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		actions, err := client.GetCorporateActions(marketdata.GetCorporateActionsRequest{
			Symbols: symbols,
			Start:   civil.DateOf(start),
			End:     civil.DateOf(end),
		})
		if err != nil {
			return nil, fmt.Errorf("GetCorporateActions: %w", err)
		}

		out := make([]CashDividend, 0, len(actions.CashDividends))
		for _, cd := range actions.CashDividends {
			out = append(out, CashDividend{
				Symbol: strings.ToUpper(cd.Symbol),
				ExDate: time.Date(cd.ExDate.Year, cd.ExDate.Month, cd.ExDate.Day, 0, 0, 0, 0, time.UTC),
				Rate:   cd.Rate,
			})
		}
		return out, nil
	}
}

func chunk(symbols []string, size int) [][]string {
	var out [][]string
	for size < len(symbols) {
		out = append(out, symbols[:size:size])
		symbols = symbols[size:]
	}
	if len(symbols) > 0 {
		out = append(out, symbols)
	}
	return out
}
