package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for verification operations.
type Metrics struct {
	Verifications *prometheus.CounterVec
}

// New registers and returns verification metrics collectors.
func New() *Metrics {
	return &Metrics{
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attestor_verify_checks_total",
			Help: "Total number of verification checks, labeled by path and reason",
		}, []string{"path", "reason"}),
	}
}
