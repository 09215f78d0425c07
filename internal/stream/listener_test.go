package stream

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/arbitron/internal/arberr"
	"github.com/sawpanic/arbitron/internal/domain"
	"github.com/sawpanic/arbitron/internal/executor"
	"github.com/sawpanic/arbitron/internal/metrics"
	"github.com/sawpanic/arbitron/internal/validator"
	"github.com/sawpanic/arbitron/internal/venue"
)

type unreachableTrader struct{}

func (unreachableTrader) AssetBalance(context.Context, string) (float64, error) {
	panic("should not be called: precondition fails before any trader call")
}
func (unreachableTrader) PlaceMarketOrder(context.Context, string, domain.Direction, float64) (domain.FillResult, error) {
	panic("should not be called: precondition fails before any trader call")
}

type fakeLoader struct{ symbols map[string]domain.SymbolInfo }

func (f *fakeLoader) LoadSymbols(_ context.Context, _ map[string]bool) (map[string]domain.SymbolInfo, error) {
	return f.symbols, nil
}

type fakeFetcher struct{ books map[string][]venue.Level }

func (f *fakeFetcher) FetchDepth(_ context.Context, symbol string, _ domain.Direction) ([]venue.Level, error) {
	return f.books[symbol], nil
}

type fakeStore struct{ saved []domain.Opportunity }

func (f *fakeStore) Save(_ context.Context, opp domain.Opportunity) error {
	f.saved = append(f.saved, opp)
	return nil
}
func (f *fakeStore) Close() error { return nil }

func noopSubscribe([]string, func(venue.TickerUpdate), func(error)) (chan struct{}, chan struct{}, error) {
	return make(chan struct{}), make(chan struct{}), nil
}

func TestOnUpdate_UpdatesPriceTableAndDetects(t *testing.T) {
	symbols := map[string]domain.SymbolInfo{
		"BTCUSDT": {Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT"},
		"ETHBTC":  {Symbol: "ETHBTC", BaseAsset: "ETH", QuoteAsset: "BTC"},
		"ETHUSDT": {Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT"},
	}
	fetcher := &fakeFetcher{books: map[string][]venue.Level{
		"BTCUSDT": {{Price: 100, Qty: 1000}},
		"ETHBTC":  {{Price: 0.01, Qty: 100000}},
		"ETHUSDT": {{Price: 1.5, Qty: 100000}},
	}}
	store := &fakeStore{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	l := New(noopSubscribe, &fakeLoader{symbols: symbols}, func() []string { return []string{"BTCUSDT", "ETHBTC", "ETHUSDT"} },
		Config{MaxCycleLength: 4, MinArbThresh: 1.0}, nil, store, m,
		domain.Mode{Driver: domain.Listener, Persist: true, Trade: false},
		func(symbols map[string]domain.SymbolInfo, prices map[string]float64) *validator.Validator {
			return validator.New(fetcher, symbols, prices, validator.Config{
				Holdings:    map[string]bool{"USDT": true, "BTC": true, "ETH": true},
				Stablecoins: map[string]bool{"USDT": true},
				USDBudget:   1000,
			})
		})

	l.onUpdate(venue.TickerUpdate{Symbol: "BTCUSDT", BestBidPrice: 99.9, BestAskPrice: 100.1})
	l.onUpdate(venue.TickerUpdate{Symbol: "ETHBTC", BestBidPrice: 0.0099, BestAskPrice: 0.0101})
	l.onUpdate(venue.TickerUpdate{Symbol: "ETHUSDT", BestBidPrice: 1.49, BestAskPrice: 1.51})

	l.mu.RLock()
	price := l.prices["BTCUSDT"]
	l.mu.RUnlock()
	assert.InDelta(t, 100.0, price, 0.2)

	// detect() now runs on its own goroutine (onUpdate returns
	// immediately so price updates are never blocked behind it), so
	// the save is asserted after it settles rather than synchronously.
	require.Eventually(t, func() bool {
		return len(store.saved) > 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, 3, store.saved[0].ArbLength)
}

func TestOnUpdate_ReleasesDetectionLatchAndKeepsPrice(t *testing.T) {
	l := New(noopSubscribe, &fakeLoader{symbols: map[string]domain.SymbolInfo{}}, func() []string { return nil },
		DefaultConfig(), nil, nil, metrics.New(prometheus.NewRegistry()),
		domain.Mode{Driver: domain.Listener},
		func(symbols map[string]domain.SymbolInfo, prices map[string]float64) *validator.Validator {
			return validator.New(&fakeFetcher{}, symbols, prices, validator.Config{})
		})

	l.onUpdate(venue.TickerUpdate{Symbol: "BTCUSDT", BestBidPrice: 99.9, BestAskPrice: 100.1})
	// A second update landing immediately must not spawn a concurrent
	// detection; the CAS guard makes this call a no-op latch check.
	l.onUpdate(venue.TickerUpdate{Symbol: "BTCUSDT", BestBidPrice: 99.8, BestAskPrice: 100.2})

	require.Eventually(t, func() bool {
		return l.detecting == 0
	}, time.Second, time.Millisecond)

	l.mu.RLock()
	price := l.prices["BTCUSDT"]
	l.mu.RUnlock()
	assert.InDelta(t, 100.0, price, 0.2)
}

func TestDetect_PropagatesFatalExecutionErrorViaFatalC(t *testing.T) {
	symbols := map[string]domain.SymbolInfo{
		"BTCUSDT": {Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT"},
		"ETHBTC":  {Symbol: "ETHBTC", BaseAsset: "ETH", QuoteAsset: "BTC"},
		"ETHUSDT": {Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT"},
	}
	prices := map[string]float64{"BTCUSDT": 100, "ETHBTC": 0.01, "ETHUSDT": 1.5}
	fetcher := &fakeFetcher{books: map[string][]venue.Level{
		"BTCUSDT": {{Price: 100, Qty: 1000}},
		"ETHBTC":  {{Price: 0.01, Qty: 100000}},
		"ETHUSDT": {{Price: 1.5, Qty: 100000}},
	}}
	m := metrics.New(prometheus.NewRegistry())
	mode := domain.Mode{Driver: domain.Listener, Trade: true}
	// Holdings left empty: executor.Run fails fast with a fatal
	// Precondition error before the trader is ever called.
	exec := executor.New(unreachableTrader{}, symbols, prices, executor.Config{MaxCycleLength: 4}, mode)

	l := New(noopSubscribe, &fakeLoader{symbols: symbols}, func() []string { return []string{"BTCUSDT", "ETHBTC", "ETHUSDT"} },
		Config{MaxCycleLength: 4, MinArbThresh: 1.0}, exec, nil, m, mode,
		func(symbols map[string]domain.SymbolInfo, prices map[string]float64) *validator.Validator {
			return validator.New(fetcher, symbols, prices, validator.Config{
				Holdings:    map[string]bool{"USDT": true, "BTC": true, "ETH": true},
				Stablecoins: map[string]bool{"USDT": true},
				USDBudget:   1000,
			})
		})
	l.prices = prices

	l.detect(context.Background())

	select {
	case err := <-l.fatalC:
		assert.True(t, arberr.IsFatal(err))
	case <-time.After(time.Second):
		t.Fatal("expected a fatal error on fatalC")
	}
}

func TestOnUpdate_IgnoresNonPositivePrices(t *testing.T) {
	l := New(noopSubscribe, &fakeLoader{symbols: map[string]domain.SymbolInfo{}}, func() []string { return nil },
		DefaultConfig(), nil, nil, metrics.New(prometheus.NewRegistry()),
		domain.Mode{Driver: domain.Listener},
		func(symbols map[string]domain.SymbolInfo, prices map[string]float64) *validator.Validator {
			return validator.New(&fakeFetcher{}, symbols, prices, validator.Config{})
		})

	l.onUpdate(venue.TickerUpdate{Symbol: "BTCUSDT", BestBidPrice: 0, BestAskPrice: 100})

	l.mu.RLock()
	_, ok := l.prices["BTCUSDT"]
	l.mu.RUnlock()
	assert.False(t, ok)
}

func TestSameSet(t *testing.T) {
	assert.True(t, sameSet([]string{"A", "B"}, []string{"B", "A"}))
	assert.False(t, sameSet([]string{"A"}, []string{"A", "B"}))
}
