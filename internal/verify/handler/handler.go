// Package handler exposes verification over HTTP. Both endpoints are
// public; anyone holding a credential id or a portable payload can check it.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	credmodels "attestor/internal/credential/models"
	"attestor/internal/transport/http/shared"
	"attestor/internal/verify/service"
	domainerrors "attestor/pkg/domain-errors"
	"attestor/pkg/platform/httputil"
)

// Service defines the verification operations the handler delegates to.
type Service interface {
	VerifyByID(ctx context.Context, credID uuid.UUID) (*service.Result, error)
	VerifyByPayload(ctx context.Context, payload *credmodels.PortablePayload) (*service.Result, error)
}

// Handler handles verification endpoints.
type Handler struct {
	verifier Service
	logger   *slog.Logger
}

// New creates a new verification Handler.
func New(verifier Service, logger *slog.Logger) *Handler {
	return &Handler{verifier: verifier, logger: logger}
}

// Register mounts the verification routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/verify/credentials/{id}", h.handleVerifyByID)
	r.Post("/verify/payload", h.handleVerifyByPayload)
}

func (h *Handler) handleVerifyByID(w http.ResponseWriter, r *http.Request) {
	credID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid credential id"))
		return
	}

	result, err := h.verifier.VerifyByID(r.Context(), credID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleVerifyByPayload(w http.ResponseWriter, r *http.Request) {
	var payload credmodels.PortablePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid payload"))
		return
	}

	result, err := h.verifier.VerifyByPayload(r.Context(), &payload)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
