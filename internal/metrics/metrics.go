// Package metrics exposes a Prometheus registry for the pipeline's four
// worker roles (HistogramVec/CounterVec/Gauge, MustRegister against the
// default registerer at construction, small ClaimTimer helper).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric the dispatcher, fetcher, parser, and
// indexer workers emit.
type Registry struct {
	ClaimDuration  *prometheus.HistogramVec
	ClaimsTotal    *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	FetchErrors    *prometheus.CounterVec
	HostsDisabled  prometheus.Gauge
	URLsIndexed    prometheus.Counter
	TunesParsed    prometheus.Counter
	TunesSkipped   *prometheus.CounterVec
	VectorsIndexed prometheus.Counter
	IndexSize      prometheus.Gauge
}

// New constructs and registers a Registry.
func New() *Registry {
	r := &Registry{
		ClaimDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "abcpipe_claim_duration_seconds",
				Help:    "Duration of a dispatcher claim round-trip by action",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action", "result"},
		),
		ClaimsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abcpipe_claims_total",
				Help: "Total claims made against the dispatcher by action and result",
			},
			[]string{"action", "result"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "abcpipe_fetch_duration_seconds",
				Help:    "Duration of outbound HTTP fetches",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"host", "result"},
		),
		FetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abcpipe_fetch_errors_total",
				Help: "Total fetch errors by classified error type",
			},
			[]string{"error_type"},
		),
		HostsDisabled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "abcpipe_hosts_disabled",
				Help: "Current count of disabled hosts",
			},
		),
		URLsIndexed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "abcpipe_urls_indexed_total",
				Help: "Total URLs marked indexed",
			},
		),
		TunesParsed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "abcpipe_tunes_parsed_total",
				Help: "Total tunes successfully decomposed",
			},
		),
		TunesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abcpipe_tunes_skipped_total",
				Help: "Total tunes skipped by reason",
			},
			[]string{"reason"},
		),
		VectorsIndexed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "abcpipe_vectors_indexed_total",
				Help: "Total interval windows added to the vector index",
			},
		),
		IndexSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "abcpipe_index_size",
				Help: "Current vector count held by the index",
			},
		),
	}

	prometheus.MustRegister(
		r.ClaimDuration,
		r.ClaimsTotal,
		r.FetchDuration,
		r.FetchErrors,
		r.HostsDisabled,
		r.URLsIndexed,
		r.TunesParsed,
		r.TunesSkipped,
		r.VectorsIndexed,
		r.IndexSize,
	)
	return r
}

// ClaimTimer times a single dispatcher claim round-trip.
type ClaimTimer struct {
	r      *Registry
	action string
	start  time.Time
}

// StartClaim begins timing a claim of the given action.
func (r *Registry) StartClaim(action string) *ClaimTimer {
	return &ClaimTimer{r: r, action: action, start: time.Now()}
}

// Stop records the claim's duration and result.
func (t *ClaimTimer) Stop(result string) {
	d := time.Since(t.start)
	t.r.ClaimDuration.WithLabelValues(t.action, result).Observe(d.Seconds())
	t.r.ClaimsTotal.WithLabelValues(t.action, result).Inc()
}
