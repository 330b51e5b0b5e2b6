// Package worker funnels ledger submissions through a single goroutine.
//
// The ledger client carries nonce state that breaks under parallel
// submissions, so batches for different roots are processed strictly
// one-at-a-time. Each submission gets a bounded number of attempts with
// exponential backoff before its failure is surfaced to the caller.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"attestor/internal/anchor/metrics"
	domainerrors "attestor/pkg/domain-errors"
)

// Submitter is the ledger call the worker serializes.
type Submitter interface {
	Submit(ctx context.Context, root, batchID string) (string, error)
}

const (
	defaultAttempts       = 3
	defaultBackoff        = 500 * time.Millisecond
	defaultAttemptTimeout = 30 * time.Second
	defaultQueueSize      = 16
)

type job struct {
	ctx     context.Context
	root    string
	batchID string
	done    chan result
}

type result struct {
	txID string
	err  error
}

// Worker is the single-concurrency submission funnel.
type Worker struct {
	submitter Submitter
	logger    *slog.Logger
	metrics   *metrics.Metrics

	attempts       int
	backoff        time.Duration
	attemptTimeout time.Duration

	jobs chan job
}

// Option configures a Worker.
type Option func(*Worker)

// WithAttempts overrides the retry cap when greater than zero.
func WithAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.attempts = n
		}
	}
}

// WithBackoff overrides the base backoff when greater than zero.
func WithBackoff(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.backoff = d
		}
	}
}

// WithAttemptTimeout overrides the per-attempt timeout when greater than zero.
func WithAttemptTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.attemptTimeout = d
		}
	}
}

// WithMetrics sets the metrics instance for the worker.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// New constructs a Worker around the given submitter.
func New(submitter Submitter, logger *slog.Logger, opts ...Option) (*Worker, error) {
	if submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	w := &Worker{
		submitter:      submitter,
		logger:         logger,
		attempts:       defaultAttempts,
		backoff:        defaultBackoff,
		attemptTimeout: defaultAttemptTimeout,
		jobs:           make(chan job, defaultQueueSize),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Start runs the submission loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	for {
		select {
		case j := <-w.jobs:
			txID, err := w.run(j.ctx, j.root, j.batchID)
			j.done <- result{txID: txID, err: err}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Submit enqueues one submission and blocks until the worker completes or
// the caller's context is cancelled. Submissions execute in enqueue order,
// never in parallel.
func (w *Worker) Submit(ctx context.Context, root, batchID string) (string, error) {
	j := job{ctx: ctx, root: root, batchID: batchID, done: make(chan result, 1)}

	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return "", domainerrors.Wrap(ctx.Err(), domainerrors.CodeLedger, "submission queue unavailable")
	}

	select {
	case res := <-j.done:
		return res.txID, res.err
	case <-ctx.Done():
		// The worker still owns the job; its result is dropped. The batch
		// stays unanchored and can be re-triggered by an operator.
		return "", domainerrors.Wrap(ctx.Err(), domainerrors.CodeLedger, "submission abandoned")
	}
}

// run performs one submission with bounded retry. Config and validation
// failures are terminal immediately; only ledger failures are retried.
func (w *Worker) run(ctx context.Context, root, batchID string) (string, error) {
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= w.attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, w.attemptTimeout)
		txID, err := w.submitter.Submit(attemptCtx, root, batchID)
		cancel()

		if err == nil {
			if w.metrics != nil {
				w.metrics.SubmissionLatency.Observe(time.Since(start).Seconds())
			}
			return txID, nil
		}
		lastErr = err

		if !retryable(err) {
			break
		}
		if attempt == w.attempts {
			break
		}

		if w.metrics != nil {
			w.metrics.SubmissionRetries.Inc()
		}
		delay := w.backoff << (attempt - 1)
		w.logger.WarnContext(ctx, "ledger submission failed, backing off",
			"batch_id", batchID,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", domainerrors.Wrap(ctx.Err(), domainerrors.CodeLedger, "submission cancelled during backoff")
		}
	}

	if w.metrics != nil {
		w.metrics.SubmissionFailures.WithLabelValues(errorCode(lastErr)).Inc()
	}
	return "", lastErr
}

// retryable reports whether a submission error is worth another attempt.
// Config and validation errors will fail identically every time.
func retryable(err error) bool {
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		return domainErr.Code == domainerrors.CodeLedger
	}
	return true
}

func errorCode(err error) string {
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		return string(domainErr.Code)
	}
	return string(domainerrors.CodeInternal)
}
