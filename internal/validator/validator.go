// Package validator walks a candidate cycle's order-book depth to turn
// a cheap surface rate into a slippage-adjusted real rate (C5).
package validator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/arbitron/internal/arberr"
	"github.com/sawpanic/arbitron/internal/domain"
	"github.com/sawpanic/arbitron/internal/graph"
	"github.com/sawpanic/arbitron/internal/venue"
)

// DepthFetcher is the subset of *venue.Client the validator depends
// on, narrowed so tests can supply a mock book without a live venue.
type DepthFetcher interface {
	FetchDepth(ctx context.Context, symbol string, direction domain.Direction) ([]venue.Level, error)
}

// Config holds the process-wide holdings/budget constants the gates in
// §4.4 check against.
type Config struct {
	Holdings    map[string]bool
	Stablecoins map[string]bool
	USDBudget   float64
}

type Validator struct {
	fetcher DepthFetcher
	symbols map[string]domain.SymbolInfo
	prices  map[string]float64
	cfg     Config
}

func New(fetcher DepthFetcher, symbols map[string]domain.SymbolInfo, prices map[string]float64, cfg Config) *Validator {
	return &Validator{fetcher: fetcher, symbols: symbols, prices: prices, cfg: cfg}
}

// Result is the validated cycle: one real rate plus the per-leg
// symbol/direction wiring the executor needs to replay it.
type Result struct {
	RealRate       float64
	Symbols        []string
	Directions     []domain.Direction
	StartingBudget float64
	Legs           []domain.LegResult
}

type leg struct {
	edge      graph.Edge
	symbol    string
	direction domain.Direction
}

// Validate runs the gates, resolves canonical symbols/directions for
// every leg, fetches depth for all legs concurrently, and walks each
// leg's book to produce a real, slippage-adjusted rate. It returns
// (nil, nil) — "none" — whenever a gate or internal check fails
// without a transport-level error, per §4.4/§4.8's propagation rule;
// a failed depth fetch is returned wrapped as a Transport error.
func (v *Validator) Validate(ctx context.Context, cycle graph.Cycle) (*Result, error) {
	if len(cycle) == 0 {
		return nil, nil
	}

	startAsset := cycle[0].From
	if !v.cfg.Holdings[startAsset] {
		return nil, nil
	}

	startingBudget, ok := v.startingNotional(startAsset)
	if !ok {
		return nil, nil
	}

	legs := make([]leg, len(cycle))
	for i, e := range cycle {
		symbol, direction, ok := v.resolveLeg(e)
		if !ok {
			return nil, nil
		}
		legs[i] = leg{edge: e, symbol: symbol, direction: direction}
	}

	books := make([][]venue.Level, len(legs))
	g, gctx := errgroup.WithContext(ctx)
	for i, lg := range legs {
		i, lg := i, lg
		g.Go(func() error {
			book, err := v.fetcher.FetchDepth(gctx, lg.symbol, lg.direction)
			if err != nil {
				return err
			}
			books[i] = book
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, arberr.New(arberr.Transport, "validator.Validate", err)
	}

	realRate := 1.0
	amountIn := startingBudget
	legResults := make([]domain.LegResult, len(legs))
	symbols := make([]string, len(legs))
	directions := make([]domain.Direction, len(legs))

	for i, lg := range legs {
		res, ok := walk(books[i], lg.direction, amountIn)
		if !ok {
			return nil, nil
		}

		legResults[i] = res
		symbols[i] = lg.symbol
		directions[i] = lg.direction

		if lg.direction == domain.Forward {
			realRate *= res.WeightedPrice
		} else {
			realRate *= 1 / res.WeightedPrice
		}
		amountIn = res.TotalQty
	}

	return &Result{
		RealRate:       realRate,
		Symbols:        symbols,
		Directions:     directions,
		StartingBudget: startingBudget,
		Legs:           legResults,
	}, nil
}

// startingNotional implements gate 3: stablecoins use USD_BUDGET
// directly; other holdings divide USD_BUDGET by COIN+"USDT".
func (v *Validator) startingNotional(asset string) (float64, bool) {
	if v.cfg.Stablecoins[asset] {
		return v.cfg.USDBudget, true
	}
	price, ok := v.prices[asset+"USDT"]
	if !ok || price <= 0 {
		return 0, false
	}
	return v.cfg.USDBudget / price, true
}

// resolveLeg picks the canonical tradable symbol for edge (from,to):
// prefer to+from, else from+to. If the canonical symbol starts with
// from, the leg is Forward (consumes asks); otherwise Reverse.
func (v *Validator) resolveLeg(e graph.Edge) (string, domain.Direction, bool) {
	candidate := e.To + e.From
	if _, ok := v.symbols[candidate]; ok {
		return candidate, directionFor(candidate, e.From), true
	}
	candidate = e.From + e.To
	if _, ok := v.symbols[candidate]; ok {
		return candidate, directionFor(candidate, e.From), true
	}
	return "", 0, false
}

func directionFor(symbol, from string) domain.Direction {
	if len(symbol) >= len(from) && symbol[:len(from)] == from {
		return domain.Forward
	}
	return domain.Reverse
}

// walk performs the weighted-walk budget consumption from §4.4's
// table. budget is denominated in the leg's input currency (base for
// Forward, quote for Reverse).
func walk(book []venue.Level, direction domain.Direction, budget float64) (domain.LegResult, bool) {
	var totalCost, totalQty float64

	for _, level := range book {
		if totalCost >= budget {
			break
		}

		var levelCost, levelOutput float64
		if direction == domain.Forward {
			levelCost = level.Qty
			levelOutput = level.Qty * level.Price
		} else {
			levelCost = level.Qty * level.Price
			levelOutput = level.Qty
		}

		if totalCost+levelCost > budget {
			remaining := budget - totalCost
			totalCost += remaining
			if direction == domain.Forward {
				totalQty += remaining * level.Price
			} else {
				totalQty += remaining / level.Price
			}
			break
		}

		totalCost += levelCost
		totalQty += levelOutput
	}

	if totalQty == 0 {
		return domain.LegResult{}, false
	}

	var wp float64
	if direction == domain.Forward {
		wp = totalQty / totalCost
	} else {
		wp = totalCost / totalQty
	}

	return domain.LegResult{
		WeightedPrice: wp,
		TotalCost:     totalCost,
		TotalQty:      totalQty,
	}, true
}

// SurfaceRate is the cheap pre-check independent of depth; see
// graph.Cycle.SurfaceRate for the formula.
func SurfaceRate(cycle graph.Cycle) float64 {
	return cycle.SurfaceRate()
}
