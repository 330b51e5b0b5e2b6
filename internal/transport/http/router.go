// Package httptransport assembles the HTTP surface: middleware stack,
// domain handlers, health checks, and the metrics endpoint.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	anchorhandler "attestor/internal/anchor/handler"
	claimhandler "attestor/internal/claim/handler"
	"attestor/internal/platform/health"
	"attestor/internal/platform/middleware"
	verifyhandler "attestor/internal/verify/handler"
)

// Handlers bundles the domain handlers the router mounts.
type Handlers struct {
	Anchor *anchorhandler.Handler
	Claim  *claimhandler.Handler
	Verify *verifyhandler.Handler
	Health *health.Handler
}

// NewRouter wires all endpoints with the middleware stack. Operator
// routes require the operator role; the staging queue requires any
// authenticated holder; redemption and verification are public.
func NewRouter(h Handlers, jwtSigningKey string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.Authenticate(jwtSigningKey, logger))

	h.Health.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Operator surface.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireOperator)
		r.Use(middleware.ContentTypeJSON)
		h.Anchor.Register(r)
		h.Claim.RegisterOperator(r)
	})

	// Public redemption and verification.
	h.Claim.RegisterHolder(r)
	h.Verify.Register(r)

	// Per-holder staging queue.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireHolder)
		h.Claim.RegisterQueue(r)
	})

	return r
}
