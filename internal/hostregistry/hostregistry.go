// Package hostregistry is the per-host politeness and health authority,
// backed by store.Store for the durable record and layering an in-memory
// gobreaker per host as a fast-path signal so the dispatcher does not have
// to round-trip to Postgres on every touch just to decide whether a host
// is currently misbehaving.
package hostregistry

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/store"
)

// Registry is the Store-backed host authority plus an in-memory health
// fast-path. The DB remains authoritative; the breaker only short-circuits
// obviously-bad hosts between DB checks.
type Registry struct {
	store    *store.Store
	cooldown time.Duration
	grace    time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New constructs a Registry. cooldown is the minimum interval between
// fetches to the same host; grace is how long a timeout-disabled host
// stays disabled before auto-reenable.
func New(st *store.Store, cooldown, grace time.Duration) *Registry {
	return &Registry{
		store:    st,
		cooldown: cooldown,
		grace:    grace,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (r *Registry) breakerFor(host string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[host]; ok {
		return b
	}
	st := gobreaker.Settings{Name: host}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	b := gobreaker.NewCircuitBreaker(st)
	r.breakers[host] = b
	return b
}

// IsEligible reports whether host may be claimed right now: the
// in-memory breaker must be closed or half-open, and the Store record
// must agree (not disabled, cooldown elapsed).
func (r *Registry) IsEligible(ctx context.Context, host string) (bool, error) {
	if r.breakerFor(host).State() == gobreaker.StateOpen {
		return false, nil
	}
	return r.store.IsHostEligible(ctx, host, r.cooldown)
}

// RecordSuccess touches the host's last-access bookkeeping and closes the
// breaker on success.
func (r *Registry) RecordSuccess(ctx context.Context, host string, httpStatus int) error {
	_, _ = r.breakerFor(host).Execute(func() (any, error) { return nil, nil })
	return r.store.TouchHost(ctx, host, httpStatus)
}

// RecordFailure touches the host's bookkeeping and trips the breaker's
// failure counter. It does not itself disable the host in the Store --
// that decision belongs to the dispatcher's retry/disable policy, which
// has visibility into the URL's own retry count.
func (r *Registry) RecordFailure(ctx context.Context, host string, httpStatus int) error {
	_, _ = r.breakerFor(host).Execute(func() (any, error) { return nil, assertFailure })
	return r.store.TouchHost(ctx, host, httpStatus)
}

var assertFailure = breakerFailure{}

type breakerFailure struct{}

func (breakerFailure) Error() string { return "fetch failure" }

// Disable marks host disabled for reason in the store and makes sure a
// breaker entry exists for it; the breaker's state is left unchanged.
func (r *Registry) Disable(ctx context.Context, host, reason string) error {
	r.breakerFor(host) // ensure an entry exists for later inspection
	return r.store.DisableHost(ctx, host, reason)
}

// Enable clears a disable and resets the host's breaker.
func (r *Registry) Enable(ctx context.Context, host string) error {
	r.mu.Lock()
	delete(r.breakers, host)
	r.mu.Unlock()
	return r.store.EnableHost(ctx, host)
}

// AutoReenable runs the periodic timeout-disable expiry sweep. Intended
// to be called from a ticker loop in the dispatcher.
func (r *Registry) AutoReenable(ctx context.Context) (int64, error) {
	return r.store.AutoReenableTimedOutHosts(ctx, r.grace)
}

// List returns every known host's Store record, used by `abcctl host
// list`.
func (r *Registry) List(ctx context.Context) ([]store.Host, error) {
	return r.store.ListHosts(ctx)
}

// Get returns one host's Store record, or nil if never touched.
func (r *Registry) Get(ctx context.Context, host string) (*store.Host, error) {
	return r.store.GetHost(ctx, host)
}
