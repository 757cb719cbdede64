package datasource

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"quantsim/internal/domain"
	"quantsim/internal/store"
)

// LoadBars reads the bars of every symbol from bs concurrently (at most
// workers readers) and returns a FrameSource named name. Symbols keep the
// order given, so the first symbol wins ties for the longest history.
// Symbols without bars in the range are skipped.
func LoadBars(ctx context.Context, name string, bs store.BarStore, market domain.Market, symbols []string, start, end time.Time, workers int) (*FrameSource, error) {
	frames := make([][]domain.Bar, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, sym := range symbols {
		g.Go(func() error {
			bars, err := bs.ReadBars(gctx, sym, market, start, end)
			if err != nil {
				return fmt.Errorf("reading bars for %s: %w", sym, err)
			}
			frames[i] = bars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	src := NewFrameSource(name)
	for i, sym := range symbols {
		if len(frames[i]) == 0 {
			continue
		}
		src.Add(sym, frames[i])
	}
	return src, nil
}
