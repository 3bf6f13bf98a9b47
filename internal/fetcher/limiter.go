package fetcher

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// hostGate is a process-local pacing layer in front of the dispatcher's
// server-side cooldown: it smooths bursts when one fetcher process is
// handed several URLs for the same host in quick succession, and trips
// open on repeated failed fetches (transport errors and HTTP statuses of
// 400 and above) so a single worker stops hammering
// a host that is already failing, independent of the dispatcher's own
// retry/disable bookkeeping.
type hostGate struct {
	rps             float64
	burst           int
	breakerFailures int
	breakerTimeout  time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker
}

func newHostGate(rps float64, burst int, breakerFailures int, breakerTimeout time.Duration) *hostGate {
	if breakerFailures <= 0 {
		breakerFailures = 5
	}
	return &hostGate{
		rps:             rps,
		burst:           burst,
		breakerFailures: breakerFailures,
		breakerTimeout:  breakerTimeout,
		limiters:        make(map[string]*rate.Limiter),
		breakers:        make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (g *hostGate) limiterFor(host string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(g.rps), g.burst)
		g.limiters[host] = l
	}
	return l
}

func (g *hostGate) breakerFor(host string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[host]
	if !ok {
		st := gobreaker.Settings{Name: host, Timeout: g.breakerTimeout}
		failures := uint32(g.breakerFailures)
		st.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		}
		b = gobreaker.NewCircuitBreaker(st)
		g.breakers[host] = b
	}
	return b
}

// Open reports whether host's local breaker is currently open.
func (g *hostGate) Open(host string) bool {
	return g.breakerFor(host).State() == gobreaker.StateOpen
}
