// Package normalizer adjusts a requested order quantity to satisfy a
// symbol's step size, precision, lot, and notional filters before it
// reaches the execution sequencer (C6).
package normalizer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/arbitron/internal/arberr"
	"github.com/sawpanic/arbitron/internal/domain"
)

// Normalize runs the five-step gate from spec §4.5 and returns the
// normalized quantity, or a FilterViolation error naming which gate
// failed (a Schema error when a filter value does not parse). The caller (the executor) may fall back to the
// pre-normalization quantity on error.
func Normalize(sym domain.SymbolInfo, rawQty, refPrice float64, direction domain.Direction) (float64, error) {
	const op = "normalizer.Normalize"

	digits := int32(sym.BaseAssetPrec)
	if direction == domain.Reverse {
		digits = int32(sym.QuoteAssetPrec)
	}

	q := decimal.NewFromFloat(rawQty).Round(digits)

	if direction == domain.Forward {
		step, err := decimal.NewFromString(sym.StepSize)
		if err != nil {
			return 0, arberr.New(arberr.Schema, op, fmt.Errorf("parse step_size %q: %w", sym.StepSize, err))
		}
		if step.IsPositive() {
			remainder := q.Mod(step)
			if !remainder.IsZero() {
				steps := q.Div(step).Truncate(0)
				q = steps.Mul(step)
			}
		}
	}

	// Decimal-string normalization: format to `digits` places and
	// re-parse, neutralizing any residual binary-float artifacts from
	// the caller's rawQty input.
	formatted := q.StringFixed(digits)
	q, err := decimal.NewFromString(formatted)
	if err != nil {
		return 0, arberr.New(arberr.Schema, op, fmt.Errorf("reparse normalized quantity %q: %w", formatted, err))
	}

	if q.IsZero() {
		return 0, arberr.New(arberr.FilterViolation, op, fmt.Errorf("%s: quantity rounds to zero", sym.Symbol))
	}

	price := decimal.NewFromFloat(refPrice)

	if direction == domain.Forward {
		minQty, err := decimal.NewFromString(sym.MinQty)
		if err != nil {
			return 0, arberr.New(arberr.Schema, op, fmt.Errorf("parse min_qty: %w", err))
		}
		maxQty, err := decimal.NewFromString(sym.MaxQty)
		if err != nil {
			return 0, arberr.New(arberr.Schema, op, fmt.Errorf("parse max_qty: %w", err))
		}
		if q.LessThan(minQty) {
			return 0, arberr.New(arberr.FilterViolation, op, fmt.Errorf("%s: quantity %s below min_qty %s", sym.Symbol, q, minQty))
		}
		if q.GreaterThan(maxQty) {
			return 0, arberr.New(arberr.FilterViolation, op, fmt.Errorf("%s: quantity %s above max_qty %s", sym.Symbol, q, maxQty))
		}

		minNotional, err := decimal.NewFromString(sym.MinNotional)
		if err != nil {
			return 0, arberr.New(arberr.Schema, op, fmt.Errorf("parse min_notional: %w", err))
		}
		maxNotional, err := decimal.NewFromString(sym.MaxNotional)
		if err != nil {
			return 0, arberr.New(arberr.Schema, op, fmt.Errorf("parse max_notional: %w", err))
		}

		notional := q.Mul(price)
		if notional.LessThan(minNotional) {
			return 0, arberr.New(arberr.FilterViolation, op, fmt.Errorf("%s: notional %s below min_notional %s", sym.Symbol, notional, minNotional))
		}
		if maxNotional.IsPositive() && notional.GreaterThan(maxNotional) {
			return 0, arberr.New(arberr.FilterViolation, op, fmt.Errorf("%s: notional %s above max_notional %s", sym.Symbol, notional, maxNotional))
		}
	} else {
		minNotional, err := decimal.NewFromString(sym.MinNotional)
		if err != nil {
			return 0, arberr.New(arberr.Schema, op, fmt.Errorf("parse min_notional: %w", err))
		}
		maxNotional, err := decimal.NewFromString(sym.MaxNotional)
		if err != nil {
			return 0, arberr.New(arberr.Schema, op, fmt.Errorf("parse max_notional: %w", err))
		}
		if q.LessThan(minNotional) {
			return 0, arberr.New(arberr.FilterViolation, op, fmt.Errorf("%s: quote quantity %s below min_notional %s", sym.Symbol, q, minNotional))
		}
		if maxNotional.IsPositive() && q.GreaterThan(maxNotional) {
			return 0, arberr.New(arberr.FilterViolation, op, fmt.Errorf("%s: quote quantity %s above max_notional %s", sym.Symbol, q, maxNotional))
		}
	}

	out, _ := q.Float64()
	return out, nil
}
