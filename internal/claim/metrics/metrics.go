package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for claim ticket operations.
type Metrics struct {
	TicketsCreated prometheus.Counter
	TicketsReused  prometheus.Counter
	Redemptions    *prometheus.CounterVec
	QueueBatchSize prometheus.Histogram
	TicketsSwept   prometheus.Counter
}

// New registers and returns claim metrics collectors.
func New() *Metrics {
	return &Metrics{
		TicketsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestor_claim_tickets_created_total",
			Help: "Total number of claim tickets minted",
		}),
		TicketsReused: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestor_claim_tickets_reused_total",
			Help: "Total number of single-active ticket requests satisfied by an existing ticket",
		}),
		Redemptions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attestor_claim_redemptions_total",
			Help: "Total number of redemption attempts, labeled by outcome",
		}, []string{"outcome"}),
		QueueBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "attestor_claim_queue_batch_size",
			Help:    "Distribution of token counts per redeem-all run",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		TicketsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestor_claim_tickets_swept_total",
			Help: "Total number of expired tickets removed by the cleanup worker",
		}),
	}
}
