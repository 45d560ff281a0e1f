package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"mmrag/internal/domain"
)

// ErrorResponse represents a structured error response.
// Error carries the domain error kind.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// StatusFor maps a domain error kind to an HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInput, domain.KindUnsupportedModality:
		return http.StatusBadRequest
	case domain.KindInputTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindNoSearchResults, domain.KindInsufficientContext:
		return http.StatusUnprocessableEntity
	case domain.KindGenerationFailed:
		return http.StatusBadGateway
	case domain.KindModelUnavailable, domain.KindBackendUnavailable,
		domain.KindStoreUnavailable, domain.KindQueryEmbeddingFailed, domain.KindIngestionPartial:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleError maps an error to an HTTP response. Server-side failures are
// logged at error level, caller mistakes at debug.
func HandleError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	if err == nil {
		return
	}
	requestID := requestIDFrom(r)

	var verr *ValidationError
	if errors.As(err, &verr) {
		details := make(map[string]any, len(verr.Fields))
		for k, v := range verr.Fields {
			details[k] = v
		}
		if err := WriteJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   string(domain.KindInput),
			Message: verr.Message,
			Details: details,
		}); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if ctxErr := r.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		logger.Debug("request cancelled", zap.String("request_id", requestID), zap.Error(err))
		return
	}

	kind := domain.KindOf(err)
	status := StatusFor(kind)
	if kind == "" {
		kind = "internal_error"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("request_id", requestID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	} else {
		logger.Debug("request rejected",
			zap.String("request_id", requestID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}

	msg := err.Error()
	if status == http.StatusInternalServerError && domain.KindOf(err) == "" {
		msg = "An internal error occurred"
	}
	if err := WriteJSON(w, status, ErrorResponse{Error: string(kind), Message: msg}); err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}
}
