// Package handler exposes ticket minting, redemption, and the holder
// staging queue over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"attestor/internal/claim/models"
	"attestor/internal/claim/service"
	credmodels "attestor/internal/credential/models"
	"attestor/internal/platform/middleware"
	"attestor/internal/transport/http/shared"
	domainerrors "attestor/pkg/domain-errors"
	"attestor/pkg/platform/httputil"
)

// Service defines the claim operations the handler delegates to.
type Service interface {
	Create(ctx context.Context, credID uuid.UUID, ttl time.Duration, singleActive bool, issuerID string) (*service.CreateResult, error)
	Redeem(ctx context.Context, token, holderID string) (*credmodels.PortablePayload, error)
	Enqueue(ctx context.Context, holderID, token string) (*models.QueueEntry, error)
	List(ctx context.Context, holderID string) ([]models.QueueEntry, error)
	Dequeue(ctx context.Context, holderID, token string) error
	RedeemAll(ctx context.Context, holderID string) ([]service.RedeemOutcome, error)
}

// Handler handles claim endpoints.
type Handler struct {
	claims     Service
	logger     *slog.Logger
	defaultTTL time.Duration
}

// New creates a new claim Handler. defaultTTL applies when a mint request
// does not name one.
func New(claims Service, defaultTTL time.Duration, logger *slog.Logger) *Handler {
	return &Handler{claims: claims, logger: logger, defaultTTL: defaultTTL}
}

// RegisterOperator mounts the ticket-minting route; the router wraps it
// with the operator guard.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Post("/credentials/{id}/tickets", h.handleCreateTicket)
}

// RegisterHolder mounts redemption and the staging queue. Redemption is
// open to anonymous callers; the queue requires a holder identity, which
// the router enforces.
func (h *Handler) RegisterHolder(r chi.Router) {
	r.Post("/claims/{token}/redeem", h.handleRedeem)
}

// RegisterQueue mounts the per-holder staging queue routes.
func (h *Handler) RegisterQueue(r chi.Router) {
	r.Post("/me/claims", h.handleEnqueue)
	r.Get("/me/claims", h.handleListQueue)
	r.Delete("/me/claims/{token}", h.handleDequeue)
	r.Post("/me/claims/redeem", h.handleRedeemAll)
}

type createTicketRequest struct {
	TTLDays      int  `json:"ttl_days"`
	SingleActive bool `json:"single_active"`
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	credID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid credential id"))
		return
	}

	req := createTicketRequest{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.logger.WarnContext(ctx, "failed to decode ticket request",
				"request_id", middleware.GetRequestID(ctx),
				"error", err,
			)
			shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
			return
		}
	}

	ttl := h.defaultTTL
	if req.TTLDays > 0 {
		ttl = time.Duration(req.TTLDays) * 24 * time.Hour
	}

	result, err := h.claims.Create(ctx, credID, ttl, req.SingleActive, middleware.HolderID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, result)
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	payload, err := h.claims.Redeem(r.Context(), token, middleware.HolderID(r.Context()))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, payload)
}

type enqueueRequest struct {
	Token string `json:"token"`
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "token is required"))
		return
	}

	entry, err := h.claims.Enqueue(ctx, middleware.HolderID(ctx), req.Token)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleListQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.claims.List(r.Context(), middleware.HolderID(r.Context()))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *Handler) handleDequeue(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := h.claims.Dequeue(r.Context(), middleware.HolderID(r.Context()), token); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRedeemAll(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.claims.RedeemAll(r.Context(), middleware.HolderID(r.Context()))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"outcomes": outcomes,
		"count":    len(outcomes),
	})
}
