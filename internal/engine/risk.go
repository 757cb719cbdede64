package engine

import (
	"context"
	"errors"
	"fmt"

	"quantsim/internal/domain"
)

// ErrRiskRejected marks an order refused by the RiskManager.
var ErrRiskRejected = errors.New("order rejected by risk check")

// AccountState is the portfolio context an order is checked against.
type AccountState struct {
	Equity   float64
	Cash     float64
	Position int64   // current quantity of the order's asset
	Price    float64 // expected fill price of the order's asset
}

// RiskManager enforces pre-trade risk rules such as position sizing limits
// and the long-only constraint.
type RiskManager struct {
	maxPositionPct float64
	allowShort     bool
}

// NewRiskManager creates a RiskManager with the specified risk thresholds.
//
//   - maxPositionPct: maximum fraction of equity allowed in a single position
//     (e.g. 0.10 for 10%). Zero disables the check.
//   - allowShort: whether an order may leave a negative position.
func NewRiskManager(maxPositionPct float64, allowShort bool) *RiskManager {
	return &RiskManager{
		maxPositionPct: maxPositionPct,
		allowShort:     allowShort,
	}
}

// CheckOrder evaluates whether the proposed order complies with the
// configured risk limits given the current account state.
func (rm *RiskManager) CheckOrder(_ context.Context, order domain.Order, acct AccountState) error {
	after := acct.Position + order.Quantity
	if !rm.allowShort && after < 0 {
		return fmt.Errorf("%w: %s would go short (%d)", ErrRiskRejected, order.Asset, after)
	}
	if rm.maxPositionPct > 0 && acct.Equity > 0 && acct.Price > 0 && order.Quantity > 0 {
		notional := float64(after) * acct.Price
		if limit := rm.maxPositionPct * acct.Equity; notional > limit {
			return fmt.Errorf("%w: %s position %.2f exceeds %.2f", ErrRiskRejected, order.Asset, notional, limit)
		}
	}
	return nil
}
