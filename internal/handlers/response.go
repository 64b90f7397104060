package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"hostel-mess/internal/middleware"
	"hostel-mess/internal/services"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

func respondWithError(w http.ResponseWriter, code int, errorCode, message string) {
	respondWithJSON(w, code, middleware.ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// statusForError maps service errors to an HTTP status and error code.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrDuplicateOptOut):
		return http.StatusConflict, "duplicate_opt_out"
	case errors.Is(err, services.ErrPastDate):
		return http.StatusUnprocessableEntity, "past_date"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, services.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, services.ErrInvalidShift):
		return http.StatusBadRequest, "invalid_shift"
	case errors.Is(err, services.ErrInvalidAction):
		return http.StatusBadRequest, "invalid_action"
	case errors.Is(err, services.ErrInsufficientCredits):
		return http.StatusConflict, "insufficient_credits"
	case errors.Is(err, services.ErrAlreadyProcessed):
		return http.StatusConflict, "already_processed"
	case errors.Is(err, services.ErrUserExists):
		return http.StatusConflict, "user_exists"
	case errors.Is(err, services.ErrInvalidRole):
		return http.StatusBadRequest, "invalid_role"
	case errors.Is(err, services.ErrMissingFields):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized, "authentication_failed"
	}
	return http.StatusInternalServerError, "internal_error"
}

func respondWithServiceError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	code, errorCode := statusForError(err)
	if code == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("Request failed")
		respondWithError(w, code, errorCode, "An internal error occurred")
		return
	}
	respondWithError(w, code, errorCode, err.Error())
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

func pagination(r *http.Request) (limit, offset uint64) {
	if l, err := strconv.ParseUint(r.URL.Query().Get("limit"), 10, 64); err == nil && l > 0 {
		limit = l
	}
	if o, err := strconv.ParseUint(r.URL.Query().Get("offset"), 10, 64); err == nil {
		offset = o
	}
	return limit, offset
}

func currentUser(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized", "User not authenticated")
		return 0, "", false
	}
	role, _ := middleware.GetUserRole(r)
	return userID, role, true
}
