package venue

import (
	"strconv"

	"github.com/adshao/go-binance/v2"

	"github.com/sawpanic/arbitron/internal/arberr"
)

// TickerUpdate is one best-bid/best-ask update for a symbol, as read
// off the combined bookTicker stream.
type TickerUpdate struct {
	Symbol       string
	BestBidPrice float64
	BestAskPrice float64
}

// SubscribeBookTicker opens a multiplexed top-of-book websocket stream
// for the given symbols (C9 collaborator). Closing the returned stopC
// closes the stream; doneC closes when the connection drops (a read
// error), which the caller treats as a signal to reconnect.
func SubscribeBookTicker(symbols []string, onUpdate func(TickerUpdate), onErr func(error)) (doneC, stopC chan struct{}, err error) {
	handler := func(event *binance.WsBookTickerEvent) {
		bid, bidErr := parseFloatOrZero(event.BestBidPrice)
		ask, askErr := parseFloatOrZero(event.BestAskPrice)
		if bidErr != nil || askErr != nil {
			onErr(arberr.New(arberr.Schema, "venue.bookTicker", bidErr))
			return
		}
		onUpdate(TickerUpdate{Symbol: event.Symbol, BestBidPrice: bid, BestAskPrice: ask})
	}

	wsErrHandler := func(err error) {
		onErr(arberr.New(arberr.Transport, "venue.bookTicker", err))
	}

	doneC, stopC, err = binance.WsCombinedBookTickerServe(symbols, handler, wsErrHandler)
	if err != nil {
		return nil, nil, arberr.New(arberr.Transport, "venue.SubscribeBookTicker", err)
	}
	return doneC, stopC, nil
}

func parseFloatOrZero(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
