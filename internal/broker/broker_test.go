package broker

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
	"quantsim/internal/util"
)

type fixedQuotes map[string]float64

func (q fixedQuotes) lookup(asset string) (float64, bool) {
	p, ok := q[asset]
	if !ok || math.IsNaN(p) {
		return math.NaN(), false
	}
	return p, true
}

func (q fixedQuotes) Bid(_ time.Time, a string) (float64, bool) { return q.lookup(a) }
func (q fixedQuotes) Ask(_ time.Time, a string) (float64, bool) { return q.lookup(a) }
func (q fixedQuotes) Mid(_ time.Time, a string) (float64, bool) { return q.lookup(a) }

var day = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func newFunded(t *testing.T, quotes Quotes, opts SimulatorOptions) *SimulatorBroker {
	t.Helper()
	b := NewSimulatorBroker(quotes, opts)
	if err := b.CreatePortfolio("p1", "main"); err != nil {
		t.Fatalf("CreatePortfolio: %v", err)
	}
	if err := b.SubscribeFunds("p1", decimal.NewFromInt(10000)); err != nil {
		t.Fatalf("SubscribeFunds: %v", err)
	}
	return b
}

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker(fixedQuotes{}, SimulatorOptions{})
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestSimulatorFillsImmediatelyInSession(t *testing.T) {
	b := newFunded(t, fixedQuotes{"AAPL": 100}, SimulatorOptions{})
	b.Update(util.MarketOpen(day))

	o, err := b.SubmitOrder(context.Background(), "p1", domain.Order{Asset: "AAPL", Quantity: 10})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if o.ID == "" {
		t.Error("order id not assigned")
	}

	fills := b.ExecutedOrders()
	if len(fills) != 1 || fills[0].Price != 100 || fills[0].Quantity != 10 {
		t.Fatalf("fills = %+v, want one fill of 10 @ 100", fills)
	}
	if cash, _ := b.CashBalance("p1"); cash != 9000 {
		t.Errorf("cash = %v, want 9000", cash)
	}
	if eq := b.TotalEquity()[MasterAccount]; eq != 10000 {
		t.Errorf("equity = %v, want 10000", eq)
	}
}

func TestSimulatorQueuesOutsideSession(t *testing.T) {
	b := newFunded(t, fixedQuotes{"AAPL": 100}, SimulatorOptions{})
	b.Update(util.MarketClose(day))

	if _, err := b.SubmitOrder(context.Background(), "p1", domain.Order{Asset: "AAPL", Quantity: 5}); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if n := len(b.ExecutedOrders()); n != 0 {
		t.Fatalf("executed %d orders at the close, want 0", n)
	}
	if n := len(b.OpenOrders("p1")); n != 1 {
		t.Fatalf("open orders = %d, want 1", n)
	}

	next := util.MarketOpen(day.AddDate(0, 0, 1))
	b.Update(next)
	fills := b.ExecutedOrders()
	if len(fills) != 1 || !fills[0].Timestamp.Equal(next) {
		t.Fatalf("fills = %+v, want one fill at next open", fills)
	}
	if n := len(b.OpenOrders("p1")); n != 0 {
		t.Errorf("open orders after fill = %d, want 0", n)
	}

	b.ClearExecutedOrders()
	if n := len(b.ExecutedOrders()); n != 0 {
		t.Errorf("executed after clear = %d, want 0", n)
	}
}

func TestSimulatorCommissionAndSell(t *testing.T) {
	b := newFunded(t, fixedQuotes{"X": 50}, SimulatorOptions{CommissionPct: 0.01})
	b.Update(util.MarketOpen(day))
	ctx := context.Background()

	if _, err := b.SubmitOrder(ctx, "p1", domain.Order{Asset: "X", Quantity: 20}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.SubmitOrder(ctx, "p1", domain.Order{Asset: "X", Quantity: -20}); err != nil {
		t.Fatal(err)
	}
	// Two trades of 1000 notional, 10 commission each.
	if cash, _ := b.CashBalance("p1"); cash != 9980 {
		t.Errorf("cash = %v, want 9980", cash)
	}
	holdings, _ := b.Portfolio("p1")
	if len(holdings) != 0 {
		t.Errorf("holdings = %+v, want none after round trip", holdings)
	}
}

type spreadQuotes struct{ bid, ask float64 }

func (q spreadQuotes) Bid(time.Time, string) (float64, bool) { return q.bid, true }
func (q spreadQuotes) Ask(time.Time, string) (float64, bool) { return q.ask, true }
func (q spreadQuotes) Mid(time.Time, string) (float64, bool) { return (q.bid + q.ask) / 2, true }

func TestSimulatorFillPriceBySide(t *testing.T) {
	b := newFunded(t, spreadQuotes{bid: 49, ask: 51}, SimulatorOptions{})
	b.Update(util.MarketOpen(day))
	ctx := context.Background()

	if _, err := b.SubmitOrder(ctx, "p1", domain.Order{Asset: "X", Quantity: 10}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.SubmitOrder(ctx, "p1", domain.Order{Asset: "X", Quantity: -10}); err != nil {
		t.Fatal(err)
	}
	fills := b.ExecutedOrders()
	if len(fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(fills))
	}
	if fills[0].Price != 51 {
		t.Errorf("buy price = %v, want ask 51", fills[0].Price)
	}
	if fills[1].Price != 49 {
		t.Errorf("sell price = %v, want bid 49", fills[1].Price)
	}
	if cash, _ := b.CashBalance("p1"); cash != 9980 {
		t.Errorf("cash = %v, want 9980", cash)
	}
}

func TestSimulatorPortfolioSorted(t *testing.T) {
	b := newFunded(t, fixedQuotes{"MSFT": 10, "AAPL": 20}, SimulatorOptions{})
	b.Update(util.MarketOpen(day))
	ctx := context.Background()
	for _, o := range []domain.Order{{Asset: "MSFT", Quantity: 1}, {Asset: "AAPL", Quantity: 2}} {
		if _, err := b.SubmitOrder(ctx, "p1", o); err != nil {
			t.Fatal(err)
		}
	}

	got, err := b.Portfolio("p1")
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.Holding{{Asset: "AAPL", Quantity: 2, MarketValue: 40}, {Asset: "MSFT", Quantity: 1, MarketValue: 10}}
	if len(got) != len(want) {
		t.Fatalf("Portfolio() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Portfolio()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSimulatorDropsOrderWithoutPrice(t *testing.T) {
	b := newFunded(t, fixedQuotes{}, SimulatorOptions{})
	b.Update(util.MarketOpen(day))
	if _, err := b.SubmitOrder(context.Background(), "p1", domain.Order{Asset: "NOPE", Quantity: 1}); err != nil {
		t.Fatal(err)
	}
	if n := len(b.ExecutedOrders()); n != 0 {
		t.Errorf("executed = %d, want 0", n)
	}
	if cash, _ := b.CashBalance("p1"); cash != 10000 {
		t.Errorf("cash = %v, want 10000", cash)
	}
}

func TestSimulatorErrors(t *testing.T) {
	b := newFunded(t, fixedQuotes{}, SimulatorOptions{})
	ctx := context.Background()

	if _, err := b.SubmitOrder(ctx, "nope", domain.Order{Asset: "X", Quantity: 1}); err == nil {
		t.Error("expected error for unknown portfolio")
	}
	if _, err := b.SubmitOrder(ctx, "p1", domain.Order{Asset: "X"}); err == nil {
		t.Error("expected error for zero quantity")
	}
	if err := b.CreatePortfolio("p1", "dup"); err == nil {
		t.Error("expected error for duplicate portfolio")
	}
	if err := b.SubscribeFunds("p1", decimal.NewFromInt(-1)); err == nil {
		t.Error("expected error for negative subscription")
	}
	if _, err := b.Portfolio("nope"); err == nil {
		t.Error("expected error for unknown portfolio")
	}
}

func TestSimulatorAccountName(t *testing.T) {
	b := NewSimulatorBroker(fixedQuotes{}, SimulatorOptions{AccountName: "acct"})
	if _, ok := b.TotalEquity()["acct"]; !ok {
		t.Errorf("TotalEquity() = %v, want key %q", b.TotalEquity(), "acct")
	}
}
