package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payrec_polls_total",
		Help: "Payment status fetches, labeled by outcome (ok, error, dropped)",
	}, []string{"outcome"})

	pollTicksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payrec_poll_ticks_skipped_total",
		Help: "Poll ticks skipped because a fetch was still in flight",
	})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payrec_poll_duration_seconds",
		Help:    "Latency of payment status fetches",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payrec_transitions_total",
		Help: "Statuses applied to reconciliation state machines, labeled by state",
	}, []string{"state"})

	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payrec_submissions_total",
		Help: "Remediation submissions, labeled by kind and outcome (accepted, rejected, invalid, error)",
	}, []string{"kind", "outcome"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payrec_active_sessions",
		Help: "Sessions currently polling",
	})
)

func submissionOutcome(err error) string {
	switch err.(type) {
	case nil:
		return "accepted"
	case *ValidationError:
		return "invalid"
	case *RejectedError:
		return "rejected"
	}
	return "error"
}
