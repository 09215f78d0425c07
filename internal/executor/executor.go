// Package executor drives a validated cycle leg-by-leg as live market
// orders, re-reading realized fills to size each next leg (C7).
package executor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/arbitron/internal/arberr"
	"github.com/sawpanic/arbitron/internal/domain"
	"github.com/sawpanic/arbitron/internal/normalizer"
)

// Trader is the subset of *venue.Client the executor depends on.
type Trader interface {
	AssetBalance(ctx context.Context, asset string) (float64, error)
	PlaceMarketOrder(ctx context.Context, symbol string, direction domain.Direction, quantity float64) (domain.FillResult, error)
}

type Config struct {
	Holdings       map[string]bool
	MaxCycleLength int
}

type Executor struct {
	trader  Trader
	symbols map[string]domain.SymbolInfo
	prices  map[string]float64
	cfg     Config
	mode    domain.Mode
}

func New(trader Trader, symbols map[string]domain.SymbolInfo, prices map[string]float64, cfg Config, mode domain.Mode) *Executor {
	return &Executor{trader: trader, symbols: symbols, prices: prices, cfg: cfg, mode: mode}
}

// UpdateMarketData refreshes the symbol metadata and reference prices
// used to normalize each leg's order quantity. Callers refresh this
// once per detection cycle so executions never normalize against a
// stale snapshot.
func (ex *Executor) UpdateMarketData(symbols map[string]domain.SymbolInfo, prices map[string]float64) {
	ex.symbols = symbols
	ex.prices = prices
}

// Plan is the wiring a validated cycle hands to the executor: one
// canonical symbol and direction per leg, plus the starting budget in
// the first leg's input currency.
type Plan struct {
	StartAsset     string
	Symbols        []string
	Directions     []domain.Direction
	StartingBudget float64
}

// Run executes a validated plan leg-by-leg per §4.6. It fails fast on
// the listed preconditions (Precondition, fatal) and aborts mid-cycle
// on a non-FILLED or zero-quantity fill (Execution, fatal). There is
// no compensating unwind: a mid-cycle abort leaves the partial
// position in place.
func (ex *Executor) Run(ctx context.Context, plan Plan) ([]domain.FillResult, error) {
	const op = "executor.Run"

	if !ex.mode.Trade {
		return nil, arberr.New(arberr.Precondition, op, fmt.Errorf("mode does not permit trading"))
	}
	legs := len(plan.Symbols)
	if legs < 3 || legs > ex.cfg.MaxCycleLength {
		return nil, arberr.New(arberr.Precondition, op, fmt.Errorf("cycle length %d out of range [3,%d]", legs, ex.cfg.MaxCycleLength))
	}
	if len(plan.Symbols) != len(plan.Directions) {
		return nil, arberr.New(arberr.Precondition, op, fmt.Errorf("symbols/directions length mismatch: %d != %d", len(plan.Symbols), len(plan.Directions)))
	}
	if !ex.cfg.Holdings[plan.StartAsset] {
		return nil, arberr.New(arberr.Precondition, op, fmt.Errorf("starting currency %s is not a configured holding", plan.StartAsset))
	}

	amountIn := plan.StartingBudget
	inputAsset := plan.StartAsset
	fills := make([]domain.FillResult, legs)

	for i := 0; i < legs; i++ {
		symbol := plan.Symbols[i]
		direction := plan.Directions[i]
		sym, ok := ex.symbols[symbol]
		if !ok {
			return nil, arberr.New(arberr.Precondition, op, fmt.Errorf("unknown symbol %s on leg %d", symbol, i))
		}

		balance, err := ex.trader.AssetBalance(ctx, inputAsset)
		if err != nil {
			return nil, err
		}
		if balance == 0 {
			return nil, arberr.New(arberr.Execution, op, fmt.Errorf("zero free balance for %s on leg %d", inputAsset, i))
		}
		if balance < amountIn {
			amountIn = balance
		}

		refPrice := ex.prices[symbol]
		normalized, err := normalizer.Normalize(sym, amountIn, refPrice, direction)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Int("leg", i).Msg("executor: normalization failed, using pre-normalization quantity")
		} else {
			amountIn = normalized
		}

		fill, err := ex.trader.PlaceMarketOrder(ctx, symbol, direction, amountIn)
		if err != nil {
			return fills, err
		}
		if fill.ExecutedBaseQty == 0 || fill.Status != "FILLED" {
			fills[i] = fill
			return fills, arberr.New(arberr.Execution, op, fmt.Errorf("leg %d (%s) did not fill: status=%s base=%v", i, symbol, fill.Status, fill.ExecutedBaseQty))
		}
		fills[i] = fill

		if i < legs-1 {
			if direction == domain.Forward {
				amountIn = fill.ExecutedQuoteQty
				inputAsset = sym.QuoteAsset
			} else {
				amountIn = fill.ExecutedBaseQty
				inputAsset = sym.BaseAsset
			}
		}
	}

	return fills, nil
}
