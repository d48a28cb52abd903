package auction

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "auction"

// Metrics contains metrics exposed by the auction engine.
type Metrics struct {
	// Number of accepted bids.
	BidsAccepted metrics.Counter
	// Number of rejected bid attempts, labelled by reason.
	BidsRejected metrics.Counter
	// Lifecycle transitions, labelled by target state.
	Transitions metrics.Counter
	// Settlement emissions, labelled by outcome (ok, failed, queued).
	Settlements metrics.Counter
	// Time spent inside the per-auction critical section for a bid, in seconds.
	BidApplySeconds metrics.Histogram
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		BidsAccepted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "bids_accepted_total",
			Help:      "Number of accepted bids.",
		}, []string{}),
		BidsRejected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "bids_rejected_total",
			Help:      "Number of rejected bid attempts.",
		}, []string{"reason"}),
		Transitions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "transitions_total",
			Help:      "Number of auction lifecycle transitions.",
		}, []string{"state"}),
		Settlements: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "settlements_total",
			Help:      "Number of settlement emissions by outcome.",
		}, []string{"outcome"}),
		BidApplySeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "bid_apply_seconds",
			Help:      "Time from acquiring the auction lock to the bid being stored; lock wait is excluded.",
			Buckets:   stdprometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		BidsAccepted:    discard.NewCounter(),
		BidsRejected:    discard.NewCounter(),
		Transitions:     discard.NewCounter(),
		Settlements:     discard.NewCounter(),
		BidApplySeconds: discard.NewHistogram(),
	}
}
