package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for anchoring operations.
type Metrics struct {
	BatchesAnchored    prometheus.Counter
	LeavesPerBatch     prometheus.Histogram
	SubmissionLatency  prometheus.Histogram
	SubmissionRetries  prometheus.Counter
	SubmissionFailures *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
}

// New registers and returns anchoring metrics collectors.
func New() *Metrics {
	return &Metrics{
		BatchesAnchored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestor_anchor_batches_total",
			Help: "Total number of batches successfully anchored",
		}),
		LeavesPerBatch: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "attestor_anchor_leaves_per_batch",
			Help:    "Distribution of leaf counts per anchored batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		SubmissionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "attestor_anchor_submission_latency_seconds",
			Help:    "Latency of ledger submissions in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		SubmissionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestor_anchor_submission_retries_total",
			Help: "Total number of retried ledger submissions",
		}),
		SubmissionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attestor_anchor_submission_failures_total",
			Help: "Total number of terminally failed ledger submissions, labeled by error code",
		}, []string{"code"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "attestor_anchor_queue_depth",
			Help: "Current number of credentials queued for anchoring",
		}),
	}
}
