package scanner

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

type fakeRegistry struct {
	symbols map[string]domain.SymbolInfo
	prices  map[string]float64
}

func (f *fakeRegistry) LoadSymbols(_ context.Context, _ map[string]bool) (map[string]domain.SymbolInfo, error) {
	return f.symbols, nil
}
func (f *fakeRegistry) LoadPrices(_ context.Context) (map[string]float64, error) {
	return f.prices, nil
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

func TestTick_DetectsAndPersistsOpportunity(t *testing.T) {
	symbols := map[string]domain.SymbolInfo{
		"BTCUSDT": {Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT"},
		"ETHBTC":  {Symbol: "ETHBTC", BaseAsset: "ETH", QuoteAsset: "BTC"},
		"ETHUSDT": {Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT"},
	}
	prices := map[string]float64{
		"BTCUSDT": 100,
		"ETHBTC":  0.01,
		"ETHUSDT": 1.5, // 100 * 0.01 * 1.5 = 1.5 > 1 round trip: USDT->BTC->ETH->USDT profitable
	}
	registry := &fakeRegistry{symbols: symbols, prices: prices}
	fetcher := &fakeFetcher{books: map[string][]venue.Level{
		"BTCUSDT": {{Price: 100, Qty: 1000}},
		"ETHBTC":  {{Price: 0.01, Qty: 100000}},
		"ETHUSDT": {{Price: 1.5, Qty: 100000}},
	}}
	store := &fakeStore{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	s := New(registry, Config{Interval: time.Millisecond, MaxCycleLength: 4, MinArbThresh: 1.0}, nil, store, m,
		domain.Mode{Driver: domain.Searcher, Persist: true, Trade: false},
		func(symbols map[string]domain.SymbolInfo, prices map[string]float64) *validator.Validator {
			return validator.New(fetcher, symbols, prices, validator.Config{
				Holdings:    map[string]bool{"USDT": true, "BTC": true, "ETH": true},
				Stablecoins: map[string]bool{"USDT": true},
				USDBudget:   1000,
			})
		})

	require.NoError(t, s.tick(context.Background()))

	require.NotEmpty(t, store.saved)
	assert.Equal(t, 3, store.saved[0].ArbLength)
}

func TestTick_PropagatesFatalExecutionError(t *testing.T) {
	symbols := map[string]domain.SymbolInfo{
		"BTCUSDT": {Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT"},
		"ETHBTC":  {Symbol: "ETHBTC", BaseAsset: "ETH", QuoteAsset: "BTC"},
		"ETHUSDT": {Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT"},
	}
	prices := map[string]float64{
		"BTCUSDT": 100,
		"ETHBTC":  0.01,
		"ETHUSDT": 1.5,
	}
	registry := &fakeRegistry{symbols: symbols, prices: prices}
	fetcher := &fakeFetcher{books: map[string][]venue.Level{
		"BTCUSDT": {{Price: 100, Qty: 1000}},
		"ETHBTC":  {{Price: 0.01, Qty: 100000}},
		"ETHUSDT": {{Price: 1.5, Qty: 100000}},
	}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mode := domain.Mode{Driver: domain.Searcher, Trade: true}
	// Holdings left empty: executor.Run fails fast with a fatal
	// Precondition error before the first leg, before touching the
	// trader — exercising the propagation path without a real fill.
	exec := executor.New(unreachableTrader{}, symbols, prices, executor.Config{MaxCycleLength: 4}, mode)

	s := New(registry, Config{Interval: time.Millisecond, MaxCycleLength: 4, MinArbThresh: 1.0}, exec, nil, m, mode,
		func(symbols map[string]domain.SymbolInfo, prices map[string]float64) *validator.Validator {
			return validator.New(fetcher, symbols, prices, validator.Config{
				Holdings:    map[string]bool{"USDT": true, "BTC": true, "ETH": true},
				Stablecoins: map[string]bool{"USDT": true},
				USDBudget:   1000,
			})
		})

	err := s.tick(context.Background())
	require.Error(t, err)
	assert.True(t, arberr.IsFatal(err))
}

func TestTick_NoOpportunity_SavesNothing(t *testing.T) {
	registry := &fakeRegistry{symbols: map[string]domain.SymbolInfo{}, prices: map[string]float64{}}
	store := &fakeStore{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	s := New(registry, DefaultConfig(), nil, store, m, domain.Mode{Driver: domain.Searcher, Persist: true},
		func(symbols map[string]domain.SymbolInfo, prices map[string]float64) *validator.Validator {
			return validator.New(&fakeFetcher{}, symbols, prices, validator.Config{})
		})

	require.NoError(t, s.tick(context.Background()))
	assert.Empty(t, store.saved)
}
