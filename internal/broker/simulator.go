package broker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
	"quantsim/internal/util"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// Quotes prices simulated fills and marks positions to market.
type Quotes interface {
	Bid(ts time.Time, asset string) (float64, bool)
	Ask(ts time.Time, asset string) (float64, bool)
	Mid(ts time.Time, asset string) (float64, bool)
}

// SimulatorOptions configures a SimulatorBroker.
type SimulatorOptions struct {
	AccountName   string  // defaults to MasterAccount
	CommissionPct float64 // fraction of traded notional, e.g. 0.001
	Logger        *slog.Logger
}

type simPortfolio struct {
	id        string
	name      string
	cash      decimal.Decimal
	positions map[string]int64
	queue     []domain.Order
}

// SimulatorBroker implements the Broker interface for backtesting. It keeps
// portfolios in memory and fills market orders at the quoted ask (buys) or
// bid (sells) while the exchange is in its regular session; orders submitted
// outside the session queue until the next in-session Update.
//
// A SimulatorBroker is not safe for concurrent use.
type SimulatorBroker struct {
	quotes     Quotes
	account    string
	commission decimal.Decimal
	now        time.Time

	portfolios map[string]*simPortfolio
	ids        []string
	lastPrice  map[string]float64
	executed   []domain.ExecutedOrder
	log        *slog.Logger
}

// NewSimulatorBroker creates a SimulatorBroker with no portfolios.
func NewSimulatorBroker(quotes Quotes, opts SimulatorOptions) *SimulatorBroker {
	account := opts.AccountName
	if account == "" {
		account = MasterAccount
	}
	return &SimulatorBroker{
		quotes:     quotes,
		account:    account,
		commission: decimal.NewFromFloat(opts.CommissionPct),
		portfolios: make(map[string]*simPortfolio),
		lastPrice:  make(map[string]float64),
		log:        util.LoggerOr(opts.Logger).With("component", "simulator"),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// CreatePortfolio opens an empty portfolio. Ids must be unique.
func (b *SimulatorBroker) CreatePortfolio(id, name string) error {
	if id == "" {
		return fmt.Errorf("%w: portfolio id is empty", domain.ErrInvalidConfig)
	}
	if _, ok := b.portfolios[id]; ok {
		return fmt.Errorf("%w: portfolio %q already exists", domain.ErrInvalidConfig, id)
	}
	b.portfolios[id] = &simPortfolio{id: id, name: name, positions: make(map[string]int64)}
	b.ids = append(b.ids, id)
	b.log.Info("portfolio created", "portfolio_id", id, "name", name)
	return nil
}

// SubscribeFunds deposits amount into the portfolio's cash.
func (b *SimulatorBroker) SubscribeFunds(id string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: cannot subscribe negative funds %s", domain.ErrInvalidConfig, amount)
	}
	return b.AdjustCash(id, amount)
}

// Update advances the clock and, inside the regular session, fills the
// queued orders of every portfolio in submission order.
func (b *SimulatorBroker) Update(ts time.Time) {
	b.now = ts
	if !util.IsMarketOpen(ts) {
		return
	}
	for _, id := range b.ids {
		p := b.portfolios[id]
		queue := p.queue
		p.queue = nil
		for _, o := range queue {
			b.fill(p, o)
		}
	}
}

// SubmitOrder assigns an id and fills the order now when the session is
// open, or queues it otherwise.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, portfolioID string, order domain.Order) (domain.Order, error) {
	p, ok := b.portfolios[portfolioID]
	if !ok {
		return order, fmt.Errorf("%w: %s", ErrUnknownPortfolio, portfolioID)
	}
	if order.Asset == "" || order.Quantity == 0 {
		return order, fmt.Errorf("%w: asset %q quantity %d", ErrInvalidOrder, order.Asset, order.Quantity)
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Timestamp.IsZero() {
		order.Timestamp = b.now
	}

	if util.IsMarketOpen(b.now) {
		b.fill(p, order)
	} else {
		p.queue = append(p.queue, order)
	}
	return order, nil
}

// fill executes o at the current quote. Orders without a usable quote are
// dropped.
func (b *SimulatorBroker) fill(p *simPortfolio, o domain.Order) {
	side := o.Side()
	quote := b.quotes.Ask
	if side == domain.OrderSideSell {
		quote = b.quotes.Bid
	}
	price, ok := quote(b.now, o.Asset)
	if !ok || price <= 0 {
		b.log.Warn("dropping order without price", "order_id", o.ID, "asset", o.Asset, "side", side, "ts", b.now)
		return
	}

	px := decimal.NewFromFloat(price)
	qty := decimal.NewFromInt(o.Quantity)
	notional := px.Mul(qty)
	fee := notional.Abs().Mul(b.commission)

	p.cash = p.cash.Sub(notional).Sub(fee)
	p.positions[o.Asset] += o.Quantity
	if p.positions[o.Asset] == 0 {
		delete(p.positions, o.Asset)
	}
	b.lastPrice[o.Asset] = price

	b.executed = append(b.executed, domain.ExecutedOrder{
		OrderID:     o.ID,
		PortfolioID: p.id,
		Timestamp:   b.now,
		Asset:       o.Asset,
		Quantity:    o.Quantity,
		Price:       price,
		Commission:  fee.InexactFloat64(),
	})
	b.log.Debug("order filled", "order_id", o.ID, "asset", o.Asset, "side", side, "qty", o.Quantity, "price", price)
}

// ExecutedOrders returns a copy of the executed-order buffer.
func (b *SimulatorBroker) ExecutedOrders() []domain.ExecutedOrder {
	return slices.Clone(b.executed)
}

// ClearExecutedOrders empties the executed-order buffer.
func (b *SimulatorBroker) ClearExecutedOrders() {
	b.executed = nil
}

// OpenOrders returns the orders queued for portfolioID.
func (b *SimulatorBroker) OpenOrders(portfolioID string) []domain.Order {
	p, ok := b.portfolios[portfolioID]
	if !ok {
		return nil
	}
	return slices.Clone(p.queue)
}

// price marks asset at the current mid, falling back to the last fill.
func (b *SimulatorBroker) price(asset string) float64 {
	if mid, ok := b.quotes.Mid(b.now, asset); ok {
		b.lastPrice[asset] = mid
		return mid
	}
	if last, ok := b.lastPrice[asset]; ok {
		return last
	}
	return math.NaN()
}

// Portfolio returns the positions of portfolioID valued at the current mid.
func (b *SimulatorBroker) Portfolio(portfolioID string) ([]domain.Holding, error) {
	p, ok := b.portfolios[portfolioID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPortfolio, portfolioID)
	}
	out := make([]domain.Holding, 0, len(p.positions))
	for asset, qty := range p.positions {
		mv := 0.0
		if px := b.price(asset); !math.IsNaN(px) {
			mv = px * float64(qty)
		}
		out = append(out, domain.Holding{Asset: asset, Quantity: qty, MarketValue: mv})
	}
	slices.SortFunc(out, func(a, c domain.Holding) int { return strings.Compare(a.Asset, c.Asset) })
	return out, nil
}

// CashBalance returns the cash of portfolioID.
func (b *SimulatorBroker) CashBalance(portfolioID string) (float64, error) {
	p, ok := b.portfolios[portfolioID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPortfolio, portfolioID)
	}
	return p.cash.InexactFloat64(), nil
}

// AdjustCash adds amount to the cash of portfolioID.
func (b *SimulatorBroker) AdjustCash(portfolioID string, amount decimal.Decimal) error {
	p, ok := b.portfolios[portfolioID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPortfolio, portfolioID)
	}
	p.cash = p.cash.Add(amount)
	return nil
}

// TotalEquity sums cash and market value over every portfolio.
func (b *SimulatorBroker) TotalEquity() map[string]float64 {
	total := 0.0
	for _, id := range b.ids {
		p := b.portfolios[id]
		total += p.cash.InexactFloat64()
		for asset, qty := range p.positions {
			if px := b.price(asset); !math.IsNaN(px) {
				total += px * float64(qty)
			}
		}
	}
	return map[string]float64{b.account: total}
}
