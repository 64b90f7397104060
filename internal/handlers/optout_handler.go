package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"hostel-mess/internal/models"
	"hostel-mess/internal/services"

	"github.com/rs/zerolog"
)

type OptOutHandler struct {
	optOuts       *services.OptOutService
	allowOverride bool
	logger        zerolog.Logger
}

// NewOptOutHandler builds the opt-out endpoints. Client-supplied credit
// amounts are ignored unless allowOverride is set.
func NewOptOutHandler(optOuts *services.OptOutService, allowOverride bool, logger zerolog.Logger) *OptOutHandler {
	return &OptOutHandler{
		optOuts:       optOuts,
		allowOverride: allowOverride,
		logger:        logger,
	}
}

func (h *OptOutHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req models.OptOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	date, err := h.optOuts.ParseMealDay(req.Date)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD or RFC3339")
		return
	}

	var override *int64
	if h.allowOverride {
		override = req.CreditEarned
	} else if req.CreditEarned != nil {
		h.logger.Debug().Int64("user_id", userID).Msg("Ignoring client-supplied credit amount")
	}

	optOut, err := h.optOuts.RecordOptOut(r.Context(), userID, date, models.Shift(req.Shift), override)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, optOut)
}

func (h *OptOutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	optOutID, ok := pathID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_opt_out_id", "Invalid opt-out ID")
		return
	}

	userID, _, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.optOuts.CancelOptOut(r.Context(), userID, optOutID); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *OptOutHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(w, r)
	if !ok {
		return
	}

	filter := models.OptOutFilter{UserID: userID}
	filter.Limit, filter.Offset = pagination(r)

	var err error
	if filter.From, err = h.queryDay(r, "from"); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_date", "from must be YYYY-MM-DD or RFC3339")
		return
	}
	if filter.To, err = h.queryDay(r, "to"); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_date", "to must be YYYY-MM-DD or RFC3339")
		return
	}

	optOuts, err := h.optOuts.ListOptOuts(r.Context(), filter)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, optOuts)
}

func (h *OptOutHandler) queryDay(r *http.Request, param string) (*time.Time, error) {
	v := r.URL.Query().Get(param)
	if v == "" {
		return nil, nil
	}
	day, err := h.optOuts.ParseMealDay(v)
	if err != nil {
		return nil, err
	}
	return &day, nil
}
