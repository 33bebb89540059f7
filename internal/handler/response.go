package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prn-tf/artshare/internal/domain"
	"github.com/prn-tf/artshare/internal/gateway"
	"github.com/prn-tf/artshare/internal/repository"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and writes it as an ErrorResponse.
func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeJSON(w, status, ErrorResponse{Code: code, Message: err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrArtworkNotFound),
		errors.Is(err, domain.ErrCommentNotFound),
		errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden, "AccessDenied"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "InvalidArgument"
	case errors.Is(err, repository.ErrLockNotAcquired):
		return http.StatusConflict, "Busy"
	case errors.Is(err, gateway.ErrNotInitialized):
		return http.StatusServiceUnavailable, "NotReady"
	case errors.Is(err, gateway.ErrPersistence):
		return http.StatusServiceUnavailable, "PersistenceFailure"
	default:
		return http.StatusInternalServerError, "InternalError"
	}
}
