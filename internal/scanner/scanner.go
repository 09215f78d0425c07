// Package scanner drives the REST-polling detection loop: refresh,
// build graph, find_all, validate, and optionally persist/execute each
// cycle above threshold (C8).
package scanner

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/arbitron/internal/arberr"
	"github.com/sawpanic/arbitron/internal/domain"
	"github.com/sawpanic/arbitron/internal/executor"
	"github.com/sawpanic/arbitron/internal/graph"
	"github.com/sawpanic/arbitron/internal/metrics"
	"github.com/sawpanic/arbitron/internal/persistence"
	"github.com/sawpanic/arbitron/internal/validator"
)

// SymbolRegistry is the subset of *venue.Client needed to refresh the
// rate graph's inputs each tick.
type SymbolRegistry interface {
	LoadSymbols(ctx context.Context, fiatExclusion map[string]bool) (map[string]domain.SymbolInfo, error)
	LoadPrices(ctx context.Context) (map[string]float64, error)
}

type Config struct {
	Interval       time.Duration
	FiatExclusion  map[string]bool
	MaxCycleLength int
	MinArbThresh   float64
}

func DefaultConfig() Config {
	return Config{Interval: 50 * time.Millisecond, MaxCycleLength: 4, MinArbThresh: 1.0}
}

// Scanner wires a venue registry, validator, and optional execution
// and persistence sinks into the §4.7 loop. Execution and persistence
// sinks are nil when the configured mode does not enable them.
type Scanner struct {
	registry SymbolRegistry
	cfg      Config
	exec     *executor.Executor            // nil unless mode.Trade
	store    persistence.OpportunityStore // nil unless mode.Persist
	metrics  *metrics.Registry
	mode     domain.Mode

	newValidator func(symbols map[string]domain.SymbolInfo, prices map[string]float64) *validator.Validator
}

// New builds a Scanner. newValidator is called each tick with the
// freshly refreshed symbol/price snapshot so the validator always
// walks depth against current metadata.
func New(registry SymbolRegistry, cfg Config, exec *executor.Executor, store persistence.OpportunityStore, m *metrics.Registry, mode domain.Mode,
	newValidator func(symbols map[string]domain.SymbolInfo, prices map[string]float64) *validator.Validator) *Scanner {
	return &Scanner{registry: registry, cfg: cfg, exec: exec, store: store, metrics: m, mode: mode, newValidator: newValidator}
}

// Run blocks, looping until ctx is cancelled. A non-fatal iteration
// failure is logged and the loop continues. A fatal error surfaced
// while trading (§7: Precondition or Execution) stops the loop and is
// returned, so the process exits non-zero rather than silently
// retrying with a partial arbitrage position in place.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Scanner) tick(ctx context.Context) error {
	s.metrics.ActiveScans.Set(1)
	defer s.metrics.ActiveScans.Set(0)
	s.metrics.TotalScans.Inc()

	timer := s.metrics.StartStepTimer("refresh")
	symbols, err := s.registry.LoadSymbols(ctx, s.cfg.FiatExclusion)
	if err != nil {
		timer.Stop("error")
		log.Warn().Err(err).Msg("scanner: load_symbols failed")
		return nil
	}
	prices, err := s.registry.LoadPrices(ctx)
	if err != nil {
		timer.Stop("error")
		log.Warn().Err(err).Msg("scanner: load_prices failed")
		return nil
	}
	timer.Stop("success")

	symbolRates := make(map[string]graph.SymbolRate, len(symbols))
	for sym, info := range symbols {
		symbolRates[sym] = graph.SymbolRate{Base: info.BaseAsset, Quote: info.QuoteAsset}
	}

	buildTimer := s.metrics.StartStepTimer("build_graph")
	g := graph.Build(graph.BuildRates(symbolRates, prices))
	buildTimer.Stop("success")

	findTimer := s.metrics.StartStepTimer("find_all")
	cycles := graph.FindAll(g)
	findTimer.Stop("success")
	s.metrics.CyclesFound.WithLabelValues(string(domain.Searcher)).Add(float64(len(cycles)))

	if s.exec != nil {
		s.exec.UpdateMarketData(symbols, prices)
	}

	v := s.newValidator(symbols, prices)
	for _, cycle := range cycles {
		if len(cycle) > s.cfg.MaxCycleLength {
			continue
		}
		if err := s.processCycle(ctx, v, symbols, cycle); err != nil {
			return err
		}
	}
	return nil
}

// processCycle returns a non-nil error only when a fatal (Precondition
// or Execution) error surfaces from a trade execution — that error
// propagates out of tick/Run to stop the process per §6/§7. Every
// other failure (validate, persist) is logged and swallowed so the
// loop keeps scanning.
func (s *Scanner) processCycle(ctx context.Context, v *validator.Validator, symbols map[string]domain.SymbolInfo, cycle graph.Cycle) error {
	validateTimer := s.metrics.StartStepTimer("validate")
	result, err := v.Validate(ctx, cycle)
	if err != nil {
		validateTimer.Stop("error")
		log.Warn().Err(err).Msg("scanner: validate failed")
		return nil
	}
	if result == nil {
		validateTimer.Stop("none")
		return nil
	}
	validateTimer.Stop("success")
	s.metrics.OpportunitiesFound.WithLabelValues(string(domain.Searcher)).Inc()

	if result.RealRate < s.cfg.MinArbThresh {
		return nil
	}
	s.metrics.OpportunitiesAbove.WithLabelValues(string(domain.Searcher)).Inc()

	opp := domain.Opportunity{
		Timestamp:  time.Now(),
		ArbLength:  len(cycle),
		ArbRate:    result.RealRate,
		ArbSurface: validator.SurfaceRate(cycle),
		Assets:     cycleAssets(cycle),
	}

	if s.mode.Persist && s.store != nil {
		if err := s.store.Save(ctx, opp); err != nil {
			log.Warn().Err(err).Msg("scanner: persist opportunity failed")
		}
	}

	if s.mode.Trade && s.exec != nil {
		plan := executor.Plan{
			StartAsset:     cycle[0].From,
			Symbols:        result.Symbols,
			Directions:     result.Directions,
			StartingBudget: result.StartingBudget,
		}
		start := time.Now()
		_, err := s.exec.Run(ctx, plan)
		outcome := "filled"
		if err != nil {
			outcome = "fatal"
			log.Error().Err(err).Msg("scanner: execution failed")
		}
		s.metrics.RecordExecution(outcome, len(cycle), time.Since(start))
		if err != nil && arberr.IsFatal(err) {
			return err
		}
	}
	return nil
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
