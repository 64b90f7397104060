package models

import "time"

type RedemptionStatus string

const (
	RedemptionPending  RedemptionStatus = "PENDING"
	RedemptionApproved RedemptionStatus = "APPROVED"
	RedemptionRejected RedemptionStatus = "REJECTED"
)

type RedemptionAction string

const (
	ActionApprove RedemptionAction = "approve"
	ActionReject  RedemptionAction = "reject"
)

type Redemption struct {
	ID          int64            `json:"id"`
	UserID      int64            `json:"user_id"`
	Amount      int64            `json:"amount"`
	Status      RedemptionStatus `json:"status"`
	ProcessedBy *int64           `json:"processed_by,omitempty"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

type RedemptionRequest struct {
	Amount int64 `json:"amount"`
}

type ProcessRedemptionRequest struct {
	Action string `json:"action"`
}

// RedemptionFilter selects redemptions for listing. A zero UserID matches all users.
type RedemptionFilter struct {
	UserID int64
	Status RedemptionStatus
	Limit  uint64
	Offset uint64
}
