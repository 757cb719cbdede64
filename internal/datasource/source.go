// Package datasource resolves prices, dividends and historical closes for the
// simulation across an ordered list of data sources.
package datasource

import (
	"context"
	"errors"
	"math"
	"slices"
	"sort"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/util"
)

// ErrNoData is returned by a Source that has no value for a timestamp/asset.
var ErrNoData = errors.New("no data")

// Source is a single provider of daily bar data.
type Source interface {
	// Name identifies the source in logs.
	Name() string

	// Assets lists the assets the source carries, in registration order.
	Assets() []string

	// Index returns the ascending bar dates of asset, or nil if unknown.
	Index(asset string) []time.Time

	// Bid, Ask and Dividend return ErrNoData or NaN on a miss.
	Bid(ts time.Time, asset string) (float64, error)
	Ask(ts time.Time, asset string) (float64, error)
	Dividend(ts time.Time, asset string) (float64, error)

	// HistoricalCloses returns closes for assets over [start, end]. A nil
	// table with a nil error means the source cannot serve the request.
	HistoricalCloses(ctx context.Context, start, end time.Time, assets []string) (*domain.CloseTable, error)
}

// Compile-time interface check.
var _ Source = (*FrameSource)(nil)

type frame struct {
	bars []domain.Bar
	days []time.Time // util.DayOf(bars[i].Timestamp)
}

// FrameSource serves daily bars held in memory. Bid and ask are both the
// bar's open from 09:30 and its close from 16:00 exchange time; before the
// open the previous bar's close applies, and on dates without a bar the
// latest earlier close is carried forward.
type FrameSource struct {
	name   string
	assets []string
	frames map[string]*frame
}

// NewFrameSource creates an empty FrameSource.
func NewFrameSource(name string) *FrameSource {
	return &FrameSource{name: name, frames: make(map[string]*frame)}
}

// Add registers bars for asset, replacing any frame already held for it.
// Bars are sorted by timestamp; for duplicate dates the last bar wins.
func (s *FrameSource) Add(asset string, bars []domain.Bar) *FrameSource {
	sorted := slices.Clone(bars)
	slices.SortStableFunc(sorted, func(a, b domain.Bar) int { return a.Timestamp.Compare(b.Timestamp) })

	f := &frame{}
	for _, b := range sorted {
		d := util.DayOf(b.Timestamp)
		if n := len(f.days); n > 0 && f.days[n-1].Equal(d) {
			f.bars[n-1] = b
			continue
		}
		f.bars = append(f.bars, b)
		f.days = append(f.days, d)
	}

	if _, ok := s.frames[asset]; !ok {
		s.assets = append(s.assets, asset)
	}
	s.frames[asset] = f
	return s
}

// Name returns the source name.
func (s *FrameSource) Name() string { return s.name }

// Assets returns the registered assets in the order they were added.
func (s *FrameSource) Assets() []string { return slices.Clone(s.assets) }

// Index returns the bar dates of asset.
func (s *FrameSource) Index(asset string) []time.Time {
	f, ok := s.frames[asset]
	if !ok {
		return nil
	}
	return slices.Clone(f.days)
}

// Bid returns the prevailing price of asset at ts.
func (s *FrameSource) Bid(ts time.Time, asset string) (float64, error) {
	return s.priceAt(ts, asset)
}

// Ask returns the prevailing price of asset at ts. Daily bars carry no
// spread, so it equals Bid.
func (s *FrameSource) Ask(ts time.Time, asset string) (float64, error) {
	return s.priceAt(ts, asset)
}

// Dividend returns the per-share dividend paid by asset on the date of ts.
func (s *FrameSource) Dividend(ts time.Time, asset string) (float64, error) {
	f, ok := s.frames[asset]
	if !ok {
		return math.NaN(), ErrNoData
	}
	i, exact := f.locate(util.DayOf(ts.In(util.Exchange)))
	if !exact {
		return math.NaN(), ErrNoData
	}
	return f.bars[i].Dividend, nil
}

// HistoricalCloses builds a close table over the union of the assets' bar
// dates within [start, end].
func (s *FrameSource) HistoricalCloses(ctx context.Context, start, end time.Time, assets []string) (*domain.CloseTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	first, last := util.DayOf(start), util.DayOf(end)

	seen := make(map[int64]struct{})
	var dates []time.Time
	known := 0
	for _, a := range assets {
		f, ok := s.frames[a]
		if !ok {
			continue
		}
		known++
		for _, d := range f.days {
			if d.Before(first) || d.After(last) {
				continue
			}
			if _, dup := seen[d.Unix()]; !dup {
				seen[d.Unix()] = struct{}{}
				dates = append(dates, d)
			}
		}
	}
	if known == 0 {
		return nil, nil
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })

	tbl := &domain.CloseTable{Dates: dates, Closes: make(map[string][]float64, len(assets))}
	for _, a := range assets {
		col := make([]float64, len(dates))
		for i := range col {
			col[i] = math.NaN()
		}
		if f, ok := s.frames[a]; ok {
			for i, d := range dates {
				if j, exact := f.locate(d); exact {
					col[i] = f.bars[j].Close
				}
			}
		}
		tbl.Closes[a] = col
	}
	return tbl, nil
}

func (s *FrameSource) priceAt(ts time.Time, asset string) (float64, error) {
	f, ok := s.frames[asset]
	if !ok {
		return math.NaN(), ErrNoData
	}
	local := ts.In(util.Exchange)
	day := util.DayOf(local)
	i, exact := f.locate(day)
	if i < 0 {
		return math.NaN(), ErrNoData
	}
	if !exact {
		return f.bars[i].Close, nil
	}
	switch {
	case !local.Before(util.MarketClose(day)):
		return f.bars[i].Close, nil
	case !local.Before(util.MarketOpen(day)):
		return f.bars[i].Open, nil
	case i > 0:
		return f.bars[i-1].Close, nil
	}
	return math.NaN(), ErrNoData
}

// locate returns the index of the last bar dated on or before day, and
// whether that bar is dated exactly day. It returns -1 when none precede day.
func (f *frame) locate(day time.Time) (int, bool) {
	i := sort.Search(len(f.days), func(i int) bool { return f.days[i].After(day) }) - 1
	if i < 0 {
		return -1, false
	}
	return i, f.days[i].Equal(day)
}
