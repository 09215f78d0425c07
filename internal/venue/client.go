// Package venue is the one collaborator spec.md §1 calls "out of
// scope": HTTP/REST and websocket transport to the exchange, and HMAC
// request signing. It wraps github.com/adshao/go-binance/v2, which
// owns the signing and transport contract, behind per-call circuit
// breakers (and, for the symbol, price and depth calls, a host rate
// limiter) so the rest of the engine never talks to net/http directly.
package venue

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/arbitron/internal/arberr"
	"github.com/sawpanic/arbitron/internal/domain"
)

const host = "api.binance.com"

// Config tunes the rate limiter; everything else is venue-fixed.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	DepthLimit        int // order book levels fetched per leg
}

func DefaultConfig() Config {
	return Config{RequestsPerSecond: 8, Burst: 16, DepthLimit: 100}
}

// Client is the engine's single point of contact with the venue.
type Client struct {
	raw       *binance.Client
	breakers  *breakerSet
	limiter   *hostLimiter
	transport *weightTransport
	cfg       Config
}

// NewClient builds a venue client. apiKey/apiSecret may be empty for a
// read-only (non-trading) process. No credential check is made here:
// order placement and balance calls made without credentials fail at
// the venue and are returned as Transport errors.
func NewClient(apiKey, apiSecret string, cfg Config) *Client {
	raw := binance.NewClient(apiKey, apiSecret)

	wt := newWeightTransport(http.DefaultTransport)
	raw.HTTPClient = &http.Client{Transport: wt}

	return &Client{
		raw:       raw,
		breakers:  newBreakerSet("symbols", "prices", "depth", "order", "account"),
		limiter:   newHostLimiter(cfg.RequestsPerSecond, cfg.Burst),
		transport: wt,
		cfg:       cfg,
	}
}

// UsedWeight1m exposes the last-seen Binance request-weight header for
// metrics; informational only, never enforced here.
func (c *Client) UsedWeight1m() int64 { return c.transport.UsedWeight1m() }

func (c *Client) throttle(ctx context.Context) error {
	if err := c.limiter.Wait(ctx, host); err != nil {
		return arberr.New(arberr.Transport, "venue.throttle", err)
	}
	return nil
}

// LoadSymbols fetches exchange_info and returns admitted symbols keyed
// by symbol string (C1). A symbol is admitted iff status=TRADING,
// spot trading is allowed, and neither asset is fiat-excluded.
func (c *Client) LoadSymbols(ctx context.Context, fiatExclusion map[string]bool) (map[string]domain.SymbolInfo, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	res, err := c.breakers.execute("symbols", func() (interface{}, error) {
		return c.raw.NewExchangeInfoService().Do(ctx)
	})
	if err != nil {
		return nil, arberr.New(arberr.Transport, "venue.LoadSymbols", err)
	}
	info, ok := res.(*binance.ExchangeInfo)
	if !ok || info == nil {
		return nil, arberr.New(arberr.Schema, "venue.LoadSymbols", fmt.Errorf("unexpected exchange_info response"))
	}

	out := make(map[string]domain.SymbolInfo, len(info.Symbols))
	for _, s := range info.Symbols {
		if string(s.Status) != "TRADING" || !s.IsSpotTradingAllowed {
			continue
		}
		if fiatExclusion[s.BaseAsset] || fiatExclusion[s.QuoteAsset] {
			continue
		}

		lot, err := lotSizeFilter(s.Filters)
		if err != nil {
			return nil, arberr.New(arberr.Schema, "venue.LoadSymbols", fmt.Errorf("symbol %s: %w", s.Symbol, err))
		}
		notional, err := notionalFilter(s.Filters)
		if err != nil {
			return nil, arberr.New(arberr.Schema, "venue.LoadSymbols", fmt.Errorf("symbol %s: %w", s.Symbol, err))
		}

		out[s.Symbol] = domain.SymbolInfo{
			Symbol:         s.Symbol,
			BaseAsset:      s.BaseAsset,
			QuoteAsset:     s.QuoteAsset,
			BaseAssetPrec:  uint8(s.BaseAssetPrecision),
			QuoteAssetPrec: uint8(s.QuoteAssetPrecision),
			MinQty:         lot.minQty,
			MaxQty:         lot.maxQty,
			StepSize:       lot.stepSize,
			MinNotional:    notional.minNotional,
			MaxNotional:    notional.maxNotional,
		}
	}
	return out, nil
}

// LoadPrices fetches a full ticker_price snapshot (C2). Symbols with
// no price entry are simply absent from the returned map.
func (c *Client) LoadPrices(ctx context.Context) (map[string]float64, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	res, err := c.breakers.execute("prices", func() (interface{}, error) {
		return c.raw.NewListPricesService().Do(ctx)
	})
	if err != nil {
		return nil, arberr.New(arberr.Transport, "venue.LoadPrices", err)
	}
	list, ok := res.([]*binance.SymbolPrice)
	if !ok {
		return nil, arberr.New(arberr.Schema, "venue.LoadPrices", fmt.Errorf("unexpected ticker_price response"))
	}

	out := make(map[string]float64, len(list))
	for _, p := range list {
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			log.Warn().Str("symbol", p.Symbol).Str("price", p.Price).Msg("venue: dropping unparseable price")
			continue
		}
		out[p.Symbol] = v
	}
	return out, nil
}

// Level is one (price, quantity) order book entry.
type Level struct {
	Price float64
	Qty   float64
}

// FetchDepth walks the venue's order book for symbol and returns the
// requested side (asks ascending by price, bids descending), per C5's
// per-leg wiring. direction selects which book to read.
func (c *Client) FetchDepth(ctx context.Context, symbol string, direction domain.Direction) ([]Level, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	res, err := c.breakers.execute("depth", func() (interface{}, error) {
		return c.raw.NewDepthService().Symbol(symbol).Limit(c.cfg.DepthLimit).Do(ctx)
	})
	if err != nil {
		return nil, arberr.New(arberr.Transport, "venue.FetchDepth", err)
	}
	book, ok := res.(*binance.DepthResponse)
	if !ok || book == nil {
		return nil, arberr.New(arberr.Schema, "venue.FetchDepth", fmt.Errorf("unexpected depth response for %s", symbol))
	}

	if direction == domain.Forward {
		pairs := make([][2]string, len(book.Asks))
		for i, a := range book.Asks {
			pairs[i] = [2]string{a.Price, a.Quantity}
		}
		return parseLevels(pairs)
	}
	pairs := make([][2]string, len(book.Bids))
	for i, b := range book.Bids {
		pairs[i] = [2]string{b.Price, b.Quantity}
	}
	return parseLevels(pairs)
}

// parseLevels converts raw (price, qty) string pairs as reported by
// the venue into numeric Levels, dropping any zero-quantity entries.
func parseLevels(pairs [][2]string) ([]Level, error) {
	out := make([]Level, 0, len(pairs))
	for _, pair := range pairs {
		p, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", pair[0], err)
		}
		q, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse qty %q: %w", pair[1], err)
		}
		if q <= 0 {
			continue
		}
		out = append(out, Level{Price: p, Qty: q})
	}
	return out, nil
}

// PlaceMarketOrder submits a MARKET order for symbol. Forward sets the
// base quantity field; Reverse sets quoteOrderQty, per §4.6 step 3.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, direction domain.Direction, quantity float64) (domain.FillResult, error) {
	side := binance.SideTypeSell
	if direction == domain.Reverse {
		side = binance.SideTypeBuy
	}

	res, err := c.breakers.execute("order", func() (interface{}, error) {
		svc := c.raw.NewCreateOrderService().Symbol(symbol).Side(side).Type(binance.OrderTypeMarket)
		if direction == domain.Forward {
			svc = svc.Quantity(strconv.FormatFloat(quantity, 'f', -1, 64))
		} else {
			svc = svc.QuoteOrderQty(strconv.FormatFloat(quantity, 'f', -1, 64))
		}
		return svc.Do(ctx)
	})
	if err != nil {
		return domain.FillResult{}, arberr.New(arberr.Transport, "venue.PlaceMarketOrder", err)
	}
	order, ok := res.(*binance.CreateOrderResponse)
	if !ok || order == nil {
		return domain.FillResult{}, arberr.New(arberr.Schema, "venue.PlaceMarketOrder", fmt.Errorf("unexpected order response for %s", symbol))
	}

	executedBase, err := strconv.ParseFloat(order.ExecutedQuantity, 64)
	if err != nil {
		return domain.FillResult{}, arberr.New(arberr.Schema, "venue.PlaceMarketOrder", fmt.Errorf("parse executedQty: %w", err))
	}
	executedQuote, err := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)
	if err != nil {
		return domain.FillResult{}, arberr.New(arberr.Schema, "venue.PlaceMarketOrder", fmt.Errorf("parse cummulativeQuoteQty: %w", err))
	}

	return domain.FillResult{
		Status:           string(order.Status),
		ExecutedBaseQty:  executedBase,
		ExecutedQuoteQty: executedQuote,
	}, nil
}

// AssetBalance returns the free balance of asset from the venue
// account snapshot.
func (c *Client) AssetBalance(ctx context.Context, asset string) (float64, error) {
	res, err := c.breakers.execute("account", func() (interface{}, error) {
		return c.raw.NewGetAccountService().Do(ctx)
	})
	if err != nil {
		return 0, arberr.New(arberr.Transport, "venue.AssetBalance", err)
	}
	account, ok := res.(*binance.Account)
	if !ok || account == nil {
		return 0, arberr.New(arberr.Schema, "venue.AssetBalance", fmt.Errorf("unexpected account response"))
	}

	for _, b := range account.Balances {
		if b.Asset == asset {
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				return 0, arberr.New(arberr.Schema, "venue.AssetBalance", fmt.Errorf("parse free balance: %w", err))
			}
			return free, nil
		}
	}
	return 0, nil
}

type lotSize struct{ minQty, maxQty, stepSize string }
type notional struct{ minNotional, maxNotional string }

// lotSizeFilter and notionalFilter parse the raw filters[] the venue
// reports per symbol, matching the literal field names in spec.md's
// External Interfaces section rather than relying on client-library
// filter helpers that may not cover the NOTIONAL filter shape.
func lotSizeFilter(filters []map[string]interface{}) (lotSize, error) {
	for _, f := range filters {
		if f["filterType"] != "LOT_SIZE" {
			continue
		}
		return lotSize{
			minQty:   asString(f["minQty"]),
			maxQty:   asString(f["maxQty"]),
			stepSize: asString(f["stepSize"]),
		}, nil
	}
	return lotSize{}, fmt.Errorf("missing LOT_SIZE filter")
}

func notionalFilter(filters []map[string]interface{}) (notional, error) {
	for _, f := range filters {
		ft, _ := f["filterType"].(string)
		if ft != "NOTIONAL" && ft != "MIN_NOTIONAL" {
			continue
		}
		n := notional{minNotional: asString(f["minNotional"])}
		if max := asString(f["maxNotional"]); max != "" {
			n.maxNotional = max
		} else {
			n.maxNotional = "0" // some venues omit maxNotional; normalizer treats 0 as "no ceiling"
		}
		return n, nil
	}
	return notional{}, fmt.Errorf("missing NOTIONAL filter")
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
