package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"qrlogin/attendance-service/internal/store"

	"github.com/go-playground/validator/v10"
)

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// mapError converts a domain error into a status, code and client message.
// Internal errors are never echoed.
func mapError(err error) (int, string, string) {
	switch store.Kind(err) {
	case store.KindValidation:
		if errors.Is(err, store.ErrDuplicateEmail) {
			return http.StatusConflict, "duplicate_email", store.ErrDuplicateEmail.Error()
		}
		return http.StatusBadRequest, "invalid_request", err.Error()
	case store.KindAuth:
		if errors.Is(err, store.ErrInactiveUser) {
			return http.StatusForbidden, "inactive_user", store.ErrInactiveUser.Error()
		}
		return http.StatusUnauthorized, "invalid_credentials", store.ErrInvalidCredentials.Error()
	case store.KindConflict:
		return http.StatusConflict, "state_conflict", err.Error()
	case store.KindNotFound:
		if errors.Is(err, store.ErrEventNotFound) {
			return http.StatusNotFound, "event_not_found", store.ErrEventNotFound.Error()
		}
		return http.StatusNotFound, "user_not_found", store.ErrUserNotFound.Error()
	case store.KindBusy:
		return http.StatusServiceUnavailable, "busy", "store busy, retry shortly"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "code", code, "error", err)
	}
	writeError(w, status, code, msg)
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return "invalid request payload"
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
