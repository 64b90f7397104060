package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"hostel-mess/internal/models"
	"hostel-mess/internal/services"

	"github.com/rs/zerolog"
)

type RedemptionHandler struct {
	redemptions *services.RedemptionService
	logger      zerolog.Logger
}

func NewRedemptionHandler(redemptions *services.RedemptionService, logger zerolog.Logger) *RedemptionHandler {
	return &RedemptionHandler{
		redemptions: redemptions,
		logger:      logger,
	}
}

func (h *RedemptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req models.RedemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	redemption, err := h.redemptions.RequestRedemption(r.Context(), userID, req.Amount)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, redemption)
}

// Process is mounted behind the reviewer role check.
func (h *RedemptionHandler) Process(w http.ResponseWriter, r *http.Request) {
	redemptionID, ok := pathID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_redemption_id", "Invalid redemption ID")
		return
	}

	reviewerID, _, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req models.ProcessRedemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	redemption, err := h.redemptions.ProcessRedemption(r.Context(), reviewerID, redemptionID, models.RedemptionAction(req.Action))
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, redemption)
}

func (h *RedemptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	redemptionID, ok := pathID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_redemption_id", "Invalid redemption ID")
		return
	}

	userID, role, ok := currentUser(w, r)
	if !ok {
		return
	}

	redemption, err := h.redemptions.GetRedemption(r.Context(), redemptionID)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	if !models.IsReviewer(role) && redemption.UserID != userID {
		respondWithError(w, http.StatusForbidden, "forbidden", "You can only view your own redemptions")
		return
	}

	respondWithJSON(w, http.StatusOK, redemption)
}

// List returns the caller's redemptions. Reviewers may list any user's, or
// all users' when user_id is omitted, typically filtered by status=PENDING.
func (h *RedemptionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := currentUser(w, r)
	if !ok {
		return
	}

	status, ok := services.ParseRedemptionStatus(r.URL.Query().Get("status"))
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_status", "status must be PENDING, APPROVED or REJECTED")
		return
	}

	filter := models.RedemptionFilter{UserID: userID, Status: status}
	filter.Limit, filter.Offset = pagination(r)

	if models.IsReviewer(role) {
		filter.UserID = 0
		if v := r.URL.Query().Get("user_id"); v != "" {
			uid, err := strconv.ParseInt(v, 10, 64)
			if err != nil || uid <= 0 {
				respondWithError(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID")
				return
			}
			filter.UserID = uid
		}
	}

	redemptions, err := h.redemptions.ListRedemptions(r.Context(), filter)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, redemptions)
}
