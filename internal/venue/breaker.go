package venue

import (
	"time"

	"github.com/sony/gobreaker"
)

// breakerSet owns one circuit breaker per named REST call family
// (symbols, prices, depth, order, account), adapted from
// infra/breakers.Breaker — one breaker per provider there, one per
// operation here since they fail independently against the same host.
type breakerSet struct {
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerSet(names ...string) *breakerSet {
	bs := &breakerSet{breakers: make(map[string]*gobreaker.CircuitBreaker, len(names))}
	for _, name := range names {
		st := gobreaker.Settings{Name: name}
		st.Interval = 60 * time.Second
		st.Timeout = 60 * time.Second
		st.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			total := counts.Requests
			if total < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(total) > 0.05
		}
		bs.breakers[name] = gobreaker.NewCircuitBreaker(st)
	}
	return bs
}

func (bs *breakerSet) execute(name string, fn func() (interface{}, error)) (interface{}, error) {
	b, ok := bs.breakers[name]
	if !ok {
		return fn()
	}
	return b.Execute(fn)
}
