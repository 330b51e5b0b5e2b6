// Package handler exposes the anchoring operations over HTTP. Handlers
// delegate to the anchor service; no anchoring logic lives here.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	anchormodels "attestor/internal/anchor/models"
	"attestor/internal/anchor/service"
	credmodels "attestor/internal/credential/models"
	credstore "attestor/internal/credential/store"
	"attestor/internal/platform/middleware"
	"attestor/internal/transport/http/shared"
	domainerrors "attestor/pkg/domain-errors"
	"attestor/pkg/platform/httputil"
)

// Service defines the anchoring operations the handler delegates to.
type Service interface {
	RequestImmediate(ctx context.Context, credID uuid.UUID) error
	ListQueue(ctx context.Context, filter credstore.QueueFilter) ([]*credmodels.SignedCredential, error)
	Approve(ctx context.Context, ids []uuid.UUID, mode credmodels.ApprovedMode, actor string) (*service.ApproveResult, error)
	RunSingle(ctx context.Context, credID uuid.UUID) (*service.RunResult, error)
	MintBatch(ctx context.Context) (*service.MintResult, error)
	GetBatch(ctx context.Context, batchID string) (*anchormodels.AnchorBatch, error)
	ListBatches(ctx context.Context, limit int) ([]*anchormodels.AnchorBatch, error)
}

// Handler handles anchoring endpoints.
type Handler struct {
	anchor Service
	logger *slog.Logger
}

// New creates a new anchoring Handler.
func New(anchor Service, logger *slog.Logger) *Handler {
	return &Handler{anchor: anchor, logger: logger}
}

// Register mounts the anchoring routes. All of them are operator
// operations; the router wraps this subtree with the operator guard.
func (h *Handler) Register(r chi.Router) {
	r.Post("/anchoring/credentials/{id}/queue", h.handleRequestImmediate)
	r.Get("/anchoring/queue", h.handleListQueue)
	r.Post("/anchoring/approve", h.handleApprove)
	r.Post("/anchoring/credentials/{id}/run", h.handleRunSingle)
	r.Post("/anchoring/mint", h.handleMintBatch)
	r.Get("/anchoring/batches", h.handleListBatches)
	r.Get("/anchoring/batches/{id}", h.handleGetBatch)
}

func (h *Handler) handleRequestImmediate(w http.ResponseWriter, r *http.Request) {
	credID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid credential id"))
		return
	}

	if err := h.anchor.RequestImmediate(r.Context(), credID); err != nil {
		shared.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) handleListQueue(w http.ResponseWriter, r *http.Request) {
	var filter credstore.QueueFilter
	if raw := r.URL.Query().Get("mode"); raw != "" {
		mode := credmodels.QueueMode(raw)
		if !mode.IsValid() {
			shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid queue mode"))
			return
		}
		filter.Mode = &mode
	}
	if raw := r.URL.Query().Get("approved_mode"); raw != "" {
		mode := credmodels.ApprovedMode(raw)
		if !mode.IsValid() {
			shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid approved mode"))
			return
		}
		filter.ApprovedMode = &mode
	}
	filter.ApprovedOnly = r.URL.Query().Get("approved") == "true"

	queued, err := h.anchor.ListQueue(r.Context(), filter)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"credentials": queued,
		"count":       len(queued),
	})
}

type approveRequest struct {
	CredentialIDs []uuid.UUID             `json:"credential_ids"`
	Mode          credmodels.ApprovedMode `json:"mode"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode approve request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}

	actor := middleware.HolderID(ctx)
	result, err := h.anchor.Approve(ctx, req.CredentialIDs, req.Mode, actor)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRunSingle(w http.ResponseWriter, r *http.Request) {
	credID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid credential id"))
		return
	}

	result, err := h.anchor.RunSingle(r.Context(), credID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleMintBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	result, err := h.anchor.MintBatch(ctx)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "mint batch handled",
		"request_id", middleware.GetRequestID(ctx),
		"nothing_to_anchor", result.NothingToAnchor,
		"leaf_count", result.LeafCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid limit"))
			return
		}
		limit = parsed
	}

	batches, err := h.anchor.ListBatches(r.Context(), limit)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"batches": batches,
		"count":   len(batches),
	})
}

func (h *Handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.anchor.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, batch)
}
