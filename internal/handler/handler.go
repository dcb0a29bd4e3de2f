package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"robux-shop/internal/model"
	"robux-shop/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent
		return
	}
}

// writeError writes an error response with the given status code, code and message.
func writeError(w http.ResponseWriter, status int, code, message string, logger zerolog.Logger) {
	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Str("error", code).Str("message", message).Int("status", status).Msg("handler error")
	writeJSON(w, status, model.ErrorResponse{Error: code, Message: message})
}

// writeDomainError maps err onto an HTTP status and writes it.
func writeDomainError(w http.ResponseWriter, err error, logger zerolog.Logger) {
	status := statusFor(err)

	code := model.ErrCodeInternalError
	message := "internal server error"
	var domainErr *model.DomainError
	if errors.As(err, &domainErr) {
		code = domainErr.Code
		message = err.Error()
	} else if errors.Is(err, service.ErrShuttingDown) {
		message = err.Error()
	} else {
		logger.Error().Err(err).Msg("unexpected error")
	}

	writeError(w, status, code, message, logger)
}

// statusFor returns the HTTP status for err.
func statusFor(err error) int {
	if errors.Is(err, service.ErrShuttingDown) {
		return http.StatusServiceUnavailable
	}

	var domainErr *model.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case model.ErrCodeInvalidJSON, model.ErrCodeMissingField, model.ErrCodeInvalidQuantity:
			return http.StatusBadRequest
		case model.ErrCodeBuyerMismatch:
			return http.StatusForbidden
		}
	}

	switch model.Kind(err) {
	case model.KindValidation:
		return http.StatusUnprocessableEntity
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConcurrencyConflict, model.KindTerminalStateViolation,
		model.KindPaymentTimeout, model.KindPaymentRejected:
		return http.StatusConflict
	case model.KindTransientRemote:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, logger zerolog.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidJSON, "invalid request body", logger)
		return false
	}
	return true
}

// orderID parses the {id} path value, writing a 400 on failure.
func orderID(w http.ResponseWriter, r *http.Request, logger zerolog.Logger) (uuid.UUID, bool) {
	raw := r.PathValue("id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, model.ErrCodeMissingField, "order ID is required", logger)
		return uuid.Nil, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeMissingField, "invalid order ID format", logger)
		return uuid.Nil, false
	}
	return id, true
}
