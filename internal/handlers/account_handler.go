package handlers

import (
	"net/http"

	"hostel-mess/internal/services"

	"github.com/rs/zerolog"
)

type AccountHandler struct {
	accounts *services.AccountService
	logger   zerolog.Logger
}

func NewAccountHandler(accounts *services.AccountService, logger zerolog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		logger:   logger,
	}
}

func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(w, r)
	if !ok {
		return
	}

	balance, err := h.accounts.GetBalance(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, balance)
}

func (h *AccountHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit, offset := pagination(r)
	history, err := h.accounts.GetCreditHistory(r.Context(), userID, limit, offset)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, history)
}

// Reconcile is mounted behind the reviewer role check.
func (h *AccountHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID")
		return
	}

	rec, err := h.accounts.Reconcile(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, rec)
}
