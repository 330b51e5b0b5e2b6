// Package shared centralizes domain error translation for HTTP handlers.
package shared

import (
	"errors"
	"net/http"

	domainerrors "attestor/pkg/domain-errors"
	"attestor/pkg/platform/httputil"
)

// WriteError translates transport-agnostic domain errors into HTTP status
// codes and a consistent JSON error envelope.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		response := map[string]string{
			"error": string(domainErr.Code),
		}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		httputil.WriteJSON(w, StatusFor(domainErr.Code), response)
		return
	}

	httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(domainerrors.CodeInternal),
	})
}

// StatusFor maps domain error codes to HTTP status codes.
func StatusFor(code domainerrors.Code) int {
	switch code {
	case domainerrors.CodeNotFound:
		return http.StatusNotFound
	case domainerrors.CodeBadRequest, domainerrors.CodeValidation:
		return http.StatusBadRequest
	case domainerrors.CodeConflict:
		return http.StatusConflict
	case domainerrors.CodeGone:
		return http.StatusGone
	case domainerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case domainerrors.CodeForbidden:
		return http.StatusForbidden
	case domainerrors.CodeLedger:
		return http.StatusBadGateway
	case domainerrors.CodeConfig:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
