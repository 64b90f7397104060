package models

import "time"

type CreditReason string

const (
	ReasonOptOut           CreditReason = "OPT_OUT"
	ReasonOptOutCancel     CreditReason = "OPT_OUT_CANCEL"
	ReasonRedemption       CreditReason = "REDEMPTION"
	ReasonRedemptionRefund CreditReason = "REDEMPTION_REFUND"
)

type Balance struct {
	UserID  int64 `json:"user_id"`
	Credits int64 `json:"credits"`
}

// CreditHistory is one balance mutation. Balance is the value after the change.
type CreditHistory struct {
	ID           int64        `json:"id"`
	UserID       int64        `json:"user_id"`
	Balance      int64        `json:"balance"`
	ChangeAmount int64        `json:"change_amount"`
	Reason       CreditReason `json:"reason"`
	ReferenceID  int64        `json:"reference_id"`
	CreatedAt    time.Time    `json:"created_at"`
}

type Reconciliation struct {
	UserID         int64 `json:"user_id"`
	Balance        int64 `json:"balance"`
	HistoryBalance int64 `json:"history_balance"`
	LedgerBalance  int64 `json:"ledger_balance"`
	Consistent     bool  `json:"consistent"`
}
