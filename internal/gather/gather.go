// Package gather defines the data gathering processes that fill the bar
// store ahead of a backtest.
package gather

import (
	"context"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run fetches data until done or until ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching. A zero End means
// "up to the latest finished trading day".
type DateRange struct {
	Start time.Time
	End   time.Time
}
