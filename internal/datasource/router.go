package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/util"
)

// AssetStats describes the history one asset has across all sources.
type AssetStats struct {
	Start  time.Time
	End    time.Time
	Length int
}

// Router answers price and dividend queries by asking each source in
// registration order and returning the first defined value. The per-asset
// stats table and the reference calendar are computed once at construction.
//
// A Router is not safe for concurrent use while sources are being mutated;
// the simulation only reads from it.
type Router struct {
	sources  []Source
	order    []string // assets in first-encountered order
	stats    map[string]AssetStats
	calendar *util.TradingCalendar
	log      *slog.Logger
}

// NewRouter creates a Router over sources. log may be nil.
func NewRouter(log *slog.Logger, sources ...Source) *Router {
	r := &Router{
		sources: slices.Clone(sources),
		stats:   make(map[string]AssetStats),
		log:     util.LoggerOr(log).With("component", "router"),
	}
	r.computeStats()
	r.calendar = r.referenceCalendar()
	r.log.Debug("router ready", "sources", len(r.sources), "assets", len(r.order), "calendarDays", r.calendar.Len())
	return r
}

// computeStats records start/end/length per asset. When several sources
// carry the same asset the last one registered defines its stats, while the
// asset keeps its first-encountered position.
func (r *Router) computeStats() {
	for _, src := range r.sources {
		for _, asset := range src.Assets() {
			idx := src.Index(asset)
			st := AssetStats{Length: len(idx)}
			if len(idx) > 0 {
				st.Start, st.End = idx[0], idx[len(idx)-1]
			}
			if _, ok := r.stats[asset]; !ok {
				r.order = append(r.order, asset)
			}
			r.stats[asset] = st
		}
	}
}

// referenceCalendar is the date index of the longest-history asset, taken
// from the first source that carries it.
func (r *Router) referenceCalendar() *util.TradingCalendar {
	longest, ok := r.LongestAsset()
	if !ok {
		return util.NewTradingCalendar(nil)
	}
	for _, src := range r.sources {
		if idx := src.Index(longest); idx != nil {
			return util.NewTradingCalendar(idx)
		}
	}
	return util.NewTradingCalendar(nil)
}

// Sources returns the number of registered sources.
func (r *Router) Sources() int { return len(r.sources) }

// Stats returns the history stats of asset.
func (r *Router) Stats(asset string) (AssetStats, bool) {
	st, ok := r.stats[asset]
	return st, ok
}

// LongestAsset returns the asset with the most bars. Ties go to the asset
// encountered first. It returns false when no source is registered.
func (r *Router) LongestAsset() (string, bool) {
	best, bestLen := "", -1
	for _, asset := range r.order {
		if l := r.stats[asset].Length; l > bestLen {
			best, bestLen = asset, l
		}
	}
	return best, bestLen >= 0
}

// Calendar returns the reference calendar. It is empty when no source is
// registered.
func (r *Router) Calendar() *util.TradingCalendar { return r.calendar }

// Bid returns the first defined bid for asset at ts.
func (r *Router) Bid(ts time.Time, asset string) (float64, bool) {
	return r.firstDefined(func(s Source) (float64, error) { return s.Bid(ts, asset) })
}

// Ask returns the first defined ask for asset at ts.
func (r *Router) Ask(ts time.Time, asset string) (float64, bool) {
	return r.firstDefined(func(s Source) (float64, error) { return s.Ask(ts, asset) })
}

// Mid returns the mid price of asset at ts. Daily bars carry no quotes, so
// the bid stands in for both sides and the mid equals the bid. It is
// undefined whenever the bid is.
func (r *Router) Mid(ts time.Time, asset string) (float64, bool) {
	bid, ok := r.Bid(ts, asset)
	if !ok {
		return math.NaN(), false
	}
	ask := bid
	return (bid + ask) / 2.0, true
}

// Dividend returns the first defined dividend for asset at ts, or 0 when no
// source has one.
func (r *Router) Dividend(ts time.Time, asset string) float64 {
	v, ok := r.firstDefined(func(s Source) (float64, error) { return s.Dividend(ts, asset) })
	if !ok {
		return 0
	}
	return v
}

// HistoricalCloses returns the first non-nil table any source produces. A
// source error aborts the lookup and is returned to the caller.
func (r *Router) HistoricalCloses(ctx context.Context, start, end time.Time, assets []string) (*domain.CloseTable, error) {
	for _, src := range r.sources {
		tbl, err := src.HistoricalCloses(ctx, start, end, assets)
		if err != nil {
			return nil, fmt.Errorf("historical closes from %s: %w", src.Name(), err)
		}
		if tbl != nil {
			return tbl, nil
		}
	}
	return nil, nil
}

func (r *Router) firstDefined(lookup func(Source) (float64, error)) (float64, bool) {
	for _, src := range r.sources {
		v, err := lookup(src)
		if err != nil || math.IsNaN(v) {
			continue
		}
		return v, true
	}
	return math.NaN(), false
}
