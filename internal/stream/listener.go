// Package stream drives the websocket-triggered detection loop: ingest
// top-of-book ticks, maintain a live price table, and latch a find_one
// detection to at most one in-flight goroutine per update burst (C9).
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/arbitron/internal/arberr"
	"github.com/sawpanic/arbitron/internal/domain"
	"github.com/sawpanic/arbitron/internal/executor"
	"github.com/sawpanic/arbitron/internal/graph"
	"github.com/sawpanic/arbitron/internal/metrics"
	"github.com/sawpanic/arbitron/internal/persistence"
	"github.com/sawpanic/arbitron/internal/validator"
	"github.com/sawpanic/arbitron/internal/venue"
)

// SymbolLoader is the subset of venue transport needed to refresh
// symbol metadata between detections.
type SymbolLoader interface {
	LoadSymbols(ctx context.Context, fiatExclusion map[string]bool) (map[string]domain.SymbolInfo, error)
}

// Subscribe opens a top-of-book websocket stream. Its default
// implementation is venue.SubscribeBookTicker; tests inject a fake.
type Subscribe func(symbols []string, onUpdate func(venue.TickerUpdate), onErr func(error)) (doneC, stopC chan struct{}, err error)

// TickerSetProvider returns the currently configured set of symbols to
// subscribe to; checked on a timer so a config change triggers a
// reconnect with the new subscription.
type TickerSetProvider func() []string

type Config struct {
	FiatExclusion     map[string]bool
	TickerSetInterval time.Duration
	MaxCycleLength    int
	MinArbThresh      float64
}

func DefaultConfig() Config {
	return Config{TickerSetInterval: 30 * time.Second, MaxCycleLength: 4, MinArbThresh: 1.0}
}

// Listener maintains a live price table from the book-ticker stream
// and runs at most one detection goroutine at a time.
type Listener struct {
	subscribe Subscribe
	loader    SymbolLoader
	tickers   TickerSetProvider
	cfg       Config
	exec      *executor.Executor
	store     persistence.OpportunityStore
	metrics   *metrics.Registry
	mode      domain.Mode

	newValidator func(symbols map[string]domain.SymbolInfo, prices map[string]float64) *validator.Validator

	mu     sync.RWMutex
	prices map[string]float64

	// detecting latches a single in-flight detection: onUpdate runs on
	// the ws-reader goroutine (venue.SubscribeBookTicker dispatches
	// synchronously) and must never block on it, so detect() runs on
	// its own goroutine guarded by this CAS flag while onUpdate keeps
	// applying further price ticks immediately.
	detecting int32

	// fatalC carries a fatal (Precondition/Execution) execution error
	// out of an async detect() goroutine back to Run, which stops the
	// loop so the process exits non-zero per §6/§7.
	fatalC chan error
}

func New(subscribe Subscribe, loader SymbolLoader, tickers TickerSetProvider, cfg Config, exec *executor.Executor, store persistence.OpportunityStore, m *metrics.Registry, mode domain.Mode,
	newValidator func(symbols map[string]domain.SymbolInfo, prices map[string]float64) *validator.Validator) *Listener {
	return &Listener{
		subscribe: subscribe, loader: loader, tickers: tickers, cfg: cfg, exec: exec, store: store, metrics: m, mode: mode,
		newValidator: newValidator,
		prices:       make(map[string]float64),
		fatalC:       make(chan error, 1),
	}
}

// Run subscribes to the ticker set and reconnects whenever the
// configured set changes or the stream drops, until ctx is cancelled
// or a fatal error surfaces from an in-flight trade execution (§6/§7).
func (l *Listener) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case err := <-l.fatalC:
			return err
		default:
		}

		symbols := l.tickers()
		doneC, stopC, err := l.subscribe(symbols, l.onUpdate, l.onErr)
		if err != nil {
			log.Warn().Err(err).Msg("stream: subscribe failed, retrying")
			time.Sleep(time.Second)
			continue
		}

		if err := l.waitForReconnect(ctx, symbols, doneC, stopC); err != nil {
			return err
		}
	}
}

func (l *Listener) waitForReconnect(ctx context.Context, current []string, doneC, stopC chan struct{}) error {
	checkTicker := time.NewTicker(l.cfg.TickerSetInterval)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(stopC)
			return ctx.Err()
		case err := <-l.fatalC:
			close(stopC)
			return err
		case <-doneC:
			return nil // connection dropped; caller's Run loop reconnects
		case <-checkTicker.C:
			if !sameSet(current, l.tickers()) {
				close(stopC)
				return nil
			}
		}
	}
}

func (l *Listener) onUpdate(update venue.TickerUpdate) {
	if update.BestBidPrice <= 0 || update.BestAskPrice <= 0 {
		return
	}
	mid := (update.BestBidPrice + update.BestAskPrice) / 2

	l.mu.Lock()
	l.prices[update.Symbol] = mid
	l.mu.Unlock()

	// At most one detection runs at a time; further updates that land
	// while one is in flight just update the price table above and
	// return without spawning another (§4.8/§5 coalescing). Spawning
	// keeps onUpdate off the blocking path so the ws-reader goroutine
	// keeps applying ticks while detect runs.
	if !atomic.CompareAndSwapInt32(&l.detecting, 0, 1) {
		return
	}
	go func() {
		defer atomic.StoreInt32(&l.detecting, 0)
		l.detect(context.Background())
	}()
}

func (l *Listener) onErr(err error) {
	log.Warn().Err(err).Msg("stream: book ticker error")
}

func (l *Listener) detect(ctx context.Context) {
	symbols, err := l.loader.LoadSymbols(ctx, l.cfg.FiatExclusion)
	if err != nil {
		log.Warn().Err(err).Msg("stream: load_symbols failed")
		return
	}

	l.mu.RLock()
	prices := make(map[string]float64, len(l.prices))
	for k, v := range l.prices {
		prices[k] = v
	}
	l.mu.RUnlock()

	symbolRates := make(map[string]graph.SymbolRate, len(symbols))
	for sym, info := range symbols {
		symbolRates[sym] = graph.SymbolRate{Base: info.BaseAsset, Quote: info.QuoteAsset}
	}

	g := graph.Build(graph.BuildRates(symbolRates, prices))
	cycle := graph.FindOne(g)
	if cycle == nil {
		return
	}
	if len(cycle) > l.cfg.MaxCycleLength {
		return
	}
	l.metrics.CyclesFound.WithLabelValues(string(domain.Listener)).Inc()

	if l.exec != nil {
		l.exec.UpdateMarketData(symbols, prices)
	}

	v := l.newValidator(symbols, prices)
	result, err := v.Validate(ctx, cycle)
	if err != nil {
		log.Warn().Err(err).Msg("stream: validate failed")
		return
	}
	if result == nil {
		return
	}
	l.metrics.OpportunitiesFound.WithLabelValues(string(domain.Listener)).Inc()

	if result.RealRate < l.cfg.MinArbThresh {
		return
	}
	l.metrics.OpportunitiesAbove.WithLabelValues(string(domain.Listener)).Inc()

	opp := domain.Opportunity{
		Timestamp:  time.Now(),
		ArbLength:  len(cycle),
		ArbRate:    result.RealRate,
		ArbSurface: validator.SurfaceRate(cycle),
		Assets:     cycleAssets(cycle),
	}

	if l.mode.Persist && l.store != nil {
		if err := l.store.Save(ctx, opp); err != nil {
			log.Warn().Err(err).Msg("stream: persist opportunity failed")
		}
	}

	if l.mode.Trade && l.exec != nil {
		plan := executor.Plan{
			StartAsset:     cycle[0].From,
			Symbols:        result.Symbols,
			Directions:     result.Directions,
			StartingBudget: result.StartingBudget,
		}
		start := time.Now()
		_, err := l.exec.Run(ctx, plan)
		outcome := "filled"
		if err != nil {
			outcome = "fatal"
			log.Error().Err(err).Msg("stream: execution failed")
		}
		l.metrics.RecordExecution(outcome, len(cycle), time.Since(start))
		if err != nil && arberr.IsFatal(err) {
			// Non-blocking: fatalC is buffered size 1 and only ever
			// latched once before Run/waitForReconnect drains it and
			// the process exits; a second fatal signal while one is
			// already pending would just be dropped.
			select {
			case l.fatalC <- err:
			default:
			}
		}
	}
}

func cycleAssets(cycle graph.Cycle) [8]string {
	var assets [8]string
	seen := make(map[string]bool, 8)
	i := 0
	for _, e := range cycle {
		if i >= len(assets) {
			break
		}
		if !seen[e.From] {
			seen[e.From] = true
			assets[i] = e.From
			i++
		}
	}
	return assets
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if !set[s] {
			return false
		}
	}
	return true
}
