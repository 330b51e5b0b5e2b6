// Package cleanup sweeps expired claim tickets. Expiry is enforced at
// read time, so the sweep is advisory: it bounds table growth, it is not
// needed for correctness.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"attestor/internal/claim/metrics"
)

type TicketStore interface {
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

type Worker struct {
	store    TicketStore
	logger   *slog.Logger
	interval time.Duration
	metrics  *metrics.Metrics
}

func New(store TicketStore, opts ...Option) *Worker {
	worker := &Worker{
		store:    store,
		logger:   slog.Default(),
		interval: time.Hour,
	}
	for _, opt := range opts {
		opt(worker)
	}
	return worker
}

func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			deleted, err := w.RunOnce(ctx)
			duration := time.Since(start)

			if err != nil {
				w.logger.Error("ticket_cleanup_failed",
					"error", err,
					"duration_ms", duration.Milliseconds(),
				)
				continue
			}

			w.logger.Info("ticket_cleanup_completed",
				"tickets_deleted", deleted,
				"duration_ms", duration.Milliseconds(),
			)
			if w.metrics != nil {
				w.metrics.TicketsSwept.Add(float64(deleted))
			}

		case <-ctx.Done():
			w.logger.Info("ticket cleanup worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single sweep. Logging is handled by the caller (Start).
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	return w.store.DeleteExpired(ctx, time.Now().UTC())
}
