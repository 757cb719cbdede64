// Package broker defines the Broker interface and the simulated brokerage
// used to replay orders during a backtest.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
)

// MasterAccount is the key TotalEquity reports the account equity under.
const MasterAccount = "master"

var (
	// ErrUnknownPortfolio is returned for operations on a portfolio id that
	// was never created.
	ErrUnknownPortfolio = errors.New("unknown portfolio")

	// ErrInvalidOrder is returned for orders with zero quantity or no asset.
	ErrInvalidOrder = errors.New("invalid order")
)

// Broker abstracts brokerage operations for order execution and account
// management.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// Update advances the broker clock to ts and fills any queued orders
	// that can execute at ts.
	Update(ts time.Time)

	// SubmitOrder hands a market order to the broker for portfolioID. The
	// returned order carries the broker-assigned id.
	SubmitOrder(ctx context.Context, portfolioID string, order domain.Order) (domain.Order, error)

	// ExecutedOrders returns the fills since the last ClearExecutedOrders.
	ExecutedOrders() []domain.ExecutedOrder

	// ClearExecutedOrders empties the executed-order buffer.
	ClearExecutedOrders()

	// Portfolio returns the non-zero positions of portfolioID sorted by asset.
	Portfolio(portfolioID string) ([]domain.Holding, error)

	// CashBalance returns the cash of portfolioID.
	CashBalance(portfolioID string) (float64, error)

	// AdjustCash adds amount (which may be negative) to the cash of portfolioID.
	AdjustCash(portfolioID string, amount decimal.Decimal) error

	// TotalEquity returns the equity of the account keyed by account name.
	TotalEquity() map[string]float64
}
