package dividend

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantsim/internal/domain"
	"quantsim/internal/stats"
	"quantsim/internal/util"
)

type fakePrices struct {
	dividends map[string]float64
	asks      map[string]float64
}

func (p fakePrices) Dividend(_ time.Time, asset string) float64 { return p.dividends[asset] }

func (p fakePrices) Ask(_ time.Time, asset string) (float64, bool) {
	a, ok := p.asks[asset]
	if !ok || math.IsNaN(a) {
		return math.NaN(), false
	}
	return a, true
}

type fakeLedger struct {
	holdings []domain.Holding
	cash     decimal.Decimal
	credits  int
}

func (l *fakeLedger) Portfolio(string) ([]domain.Holding, error) { return l.holdings, nil }

func (l *fakeLedger) AdjustCash(_ string, amount decimal.Decimal) error {
	l.cash = l.cash.Add(amount)
	l.credits++
	return nil
}

type fakeExecutor struct {
	calls  int
	orders []domain.Order
	err    error
}

func (e *fakeExecutor) Submit(_ context.Context, _ time.Time, orders []domain.Order) error {
	e.calls++
	e.orders = append(e.orders, orders...)
	return e.err
}

var closeEvt = domain.SimulationEvent{
	Timestamp: util.MarketClose(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)),
	Phase:     domain.PhaseMarketClose,
}

func TestSettleReinvestsDividend(t *testing.T) {
	ledger := &fakeLedger{holdings: []domain.Holding{{Asset: "X", Quantity: 100}}}
	exec := &fakeExecutor{}
	prices := fakePrices{dividends: map[string]float64{"X": 0.5}, asks: map[string]float64{"X": 10}}
	st := stats.New()

	s := NewSettlement(prices, ledger, exec, "p1", Options{Process: true, Reinvest: true}, nil)
	rec, err := s.Settle(context.Background(), closeEvt, nil, st)
	require.NoError(t, err)

	assert.Equal(t, 50.0, rec.TotalCashDividend)
	assert.Equal(t, int64(5), rec.TotalReinvestedQuantity)
	require.Len(t, rec.Entries, 1)
	assert.Equal(t, 50.0, rec.Entries[0].CashDividend)
	assert.Equal(t, 10.0, rec.Entries[0].ReinvestPrice)

	assert.True(t, ledger.cash.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 1, ledger.credits)
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, []domain.Order{{Timestamp: closeEvt.Timestamp, Asset: "X", Quantity: 5}}, exec.orders)
	assert.Len(t, st.Dividends(), 1)
}

func TestSettleAppliesTotalCashOnce(t *testing.T) {
	ledger := &fakeLedger{holdings: []domain.Holding{
		{Asset: "A", Quantity: 10},
		{Asset: "B", Quantity: 3},
		{Asset: "C", Quantity: 7},
		{Asset: "D", Quantity: 0},
	}}
	exec := &fakeExecutor{}
	prices := fakePrices{
		dividends: map[string]float64{"A": 0.1, "B": 0.25, "C": -1, "D": 4},
		asks:      map[string]float64{"A": 1, "B": 100},
	}

	s := NewSettlement(prices, ledger, exec, "p1", Options{Process: true, Reinvest: true}, nil)
	rec, err := s.Settle(context.Background(), closeEvt, nil, nil)
	require.NoError(t, err)

	assert.True(t, ledger.cash.Equal(decimal.RequireFromString("1.75")), "got %s", ledger.cash)
	assert.Equal(t, 1, ledger.credits)
	assert.InDelta(t, 1.75, rec.TotalCashDividend, 1e-12)
	assert.Len(t, rec.Entries, 2)

	// B's 0.75 buys nothing at 100, so only A is reinvested.
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, []domain.Order{{Timestamp: closeEvt.Timestamp, Asset: "A", Quantity: 1}}, exec.orders)
}

func TestSettleNetShortDebitsCash(t *testing.T) {
	ledger := &fakeLedger{holdings: []domain.Holding{
		{Asset: "A", Quantity: 100},
		{Asset: "B", Quantity: -100},
	}}
	exec := &fakeExecutor{}
	prices := fakePrices{
		dividends: map[string]float64{"A": 1, "B": 2},
		asks:      map[string]float64{"A": 10, "B": 10},
	}
	st := stats.New()

	s := NewSettlement(prices, ledger, exec, "p1", Options{Process: true, Reinvest: true}, nil)
	rec, err := s.Settle(context.Background(), closeEvt, nil, st)
	require.NoError(t, err)

	assert.Equal(t, -100.0, rec.TotalCashDividend)
	assert.True(t, ledger.cash.Equal(decimal.NewFromInt(-100)), "got %s", ledger.cash)
	assert.Equal(t, 1, ledger.credits)
	assert.Equal(t, rec.TotalCashDividend, ledger.cash.InexactFloat64())

	// Only the long leg is reinvested.
	require.Len(t, rec.Entries, 2)
	assert.Equal(t, []domain.Order{{Timestamp: closeEvt.Timestamp, Asset: "A", Quantity: 10}}, exec.orders)
	assert.Equal(t, int64(10), rec.TotalReinvestedQuantity)
}

func TestSettleRecordsEmptyEvent(t *testing.T) {
	ledger := &fakeLedger{holdings: []domain.Holding{{Asset: "X", Quantity: 100}}}
	exec := &fakeExecutor{}
	st := stats.New()

	s := NewSettlement(fakePrices{}, ledger, exec, "p1", Options{Process: true, Reinvest: true}, nil)
	rec, err := s.Settle(context.Background(), closeEvt, nil, st)
	require.NoError(t, err)

	assert.Zero(t, rec.TotalCashDividend)
	assert.Empty(t, rec.Entries)
	assert.Zero(t, ledger.credits)
	assert.Zero(t, exec.calls)
	require.Len(t, st.Dividends(), 1)
	assert.Equal(t, closeEvt.Timestamp, st.Dividends()[0].Date)
}

func TestSettleGateSuppressesReinvestment(t *testing.T) {
	prices := fakePrices{
		dividends: map[string]float64{"X": 1, "Y": 1},
		asks:      map[string]float64{"X": 1, "Y": 1},
	}
	holdings := []domain.Holding{{Asset: "X", Quantity: 10}, {Asset: "Y", Quantity: 10}}

	cases := []struct {
		name string
		gate *TargetGate
		want []string
	}{
		{"no gate", nil, []string{"X", "Y"}},
		{"zero target", &TargetGate{Timestamp: closeEvt.Timestamp, Quantities: map[string]int64{"X": 0, "Y": 3}}, []string{"Y"}},
		{"absent from target", &TargetGate{Timestamp: closeEvt.Timestamp, Quantities: map[string]int64{"X": 5}}, []string{"X"}},
		{"stale gate", &TargetGate{Timestamp: closeEvt.Timestamp.Add(-24 * time.Hour), Quantities: map[string]int64{}}, []string{"X", "Y"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := &fakeLedger{holdings: holdings}
			exec := &fakeExecutor{}
			s := NewSettlement(prices, ledger, exec, "p1", Options{Process: true, Reinvest: true}, nil)

			_, err := s.Settle(context.Background(), closeEvt, tc.gate, nil)
			require.NoError(t, err)

			var got []string
			for _, o := range exec.orders {
				got = append(got, o.Asset)
			}
			assert.Equal(t, tc.want, got)
			assert.True(t, ledger.cash.Equal(decimal.NewFromInt(20)), "cash is credited regardless of the gate")
		})
	}
}

func TestSettleUndefinedAskSkipsReinvestOnly(t *testing.T) {
	ledger := &fakeLedger{holdings: []domain.Holding{{Asset: "X", Quantity: 10}, {Asset: "Y", Quantity: 10}}}
	exec := &fakeExecutor{}
	prices := fakePrices{
		dividends: map[string]float64{"X": 1, "Y": 1},
		asks:      map[string]float64{"X": math.NaN(), "Y": 2},
	}

	s := NewSettlement(prices, ledger, exec, "p1", Options{Process: true, Reinvest: true}, nil)
	rec, err := s.Settle(context.Background(), closeEvt, nil, nil)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(rec.Entries[0].ReinvestPrice))
	assert.Zero(t, rec.Entries[0].ReinvestedQuantity)
	assert.Equal(t, int64(5), rec.Entries[1].ReinvestedQuantity)
	assert.Equal(t, 20.0, rec.TotalCashDividend)
}

func TestSettleWithoutReinvest(t *testing.T) {
	ledger := &fakeLedger{holdings: []domain.Holding{{Asset: "X", Quantity: 100}}}
	exec := &fakeExecutor{}
	prices := fakePrices{dividends: map[string]float64{"X": 0.5}, asks: map[string]float64{"X": 10}}

	s := NewSettlement(prices, ledger, exec, "p1", Options{Process: true}, nil)
	_, err := s.Settle(context.Background(), closeEvt, nil, nil)
	require.NoError(t, err)
	assert.True(t, ledger.cash.Equal(decimal.NewFromInt(50)))
	assert.Zero(t, exec.calls)
}

func TestSettleDisabled(t *testing.T) {
	ledger := &fakeLedger{holdings: []domain.Holding{{Asset: "X", Quantity: 100}}}
	st := stats.New()
	s := NewSettlement(fakePrices{dividends: map[string]float64{"X": 1}}, ledger, &fakeExecutor{}, "p1", Options{}, nil)

	assert.False(t, s.Enabled())
	_, err := s.Settle(context.Background(), closeEvt, nil, st)
	require.NoError(t, err)
	assert.Zero(t, ledger.credits)
	assert.Empty(t, st.Dividends())
}

func TestSettleSubmitError(t *testing.T) {
	ledger := &fakeLedger{holdings: []domain.Holding{{Asset: "X", Quantity: 100}}}
	boom := errors.New("rejected")
	exec := &fakeExecutor{err: boom}
	prices := fakePrices{dividends: map[string]float64{"X": 0.5}, asks: map[string]float64{"X": 10}}

	s := NewSettlement(prices, ledger, exec, "p1", Options{Process: true, Reinvest: true}, nil)
	_, err := s.Settle(context.Background(), closeEvt, nil, nil)
	assert.ErrorIs(t, err, boom)
	assert.True(t, ledger.cash.Equal(decimal.NewFromInt(50)))
}
