// Package store defines storage interfaces for bar history and backtest run
// results, with Parquet and SQLite implementations.
package store

import (
	"context"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/stats"
)

// BarStore persists and retrieves daily bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// RunInfo identifies a backtest run.
type RunInfo struct {
	ID        string
	Start     time.Time
	End       time.Time
	Rebalance string
	Universe  []string
	CreatedAt time.Time
}

// RunRecorder persists the statistics of finished runs.
type RunRecorder interface {
	// SaveRun stores the run's equity curve, fills, dividends and cash
	// snapshots under info.ID.
	SaveRun(ctx context.Context, info RunInfo, st *stats.Stats) error

	// Close releases the recorder's resources.
	Close() error
}

// NoopRecorder discards runs. It is used when no SQLite path is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (NoopRecorder) SaveRun(_ context.Context, _ RunInfo, _ *stats.Stats) error { return nil }
func (NoopRecorder) Close() error                                              { return nil }
