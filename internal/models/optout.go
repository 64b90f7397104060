package models

import (
	"strings"
	"time"
)

type Shift string

const (
	ShiftBreakfast Shift = "BREAKFAST"
	ShiftLunch     Shift = "LUNCH"
	ShiftDinner    Shift = "DINNER"
)

// ParseShift accepts the shift name in any case.
func ParseShift(s string) (Shift, bool) {
	switch Shift(strings.ToUpper(strings.TrimSpace(s))) {
	case ShiftBreakfast:
		return ShiftBreakfast, true
	case ShiftLunch:
		return ShiftLunch, true
	case ShiftDinner:
		return ShiftDinner, true
	}
	return "", false
}

type OptOut struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Date         time.Time `json:"date"`
	Shift        Shift     `json:"shift"`
	CreditEarned int64     `json:"credit_earned"`
	CreatedAt    time.Time `json:"created_at"`
}

type OptOutRequest struct {
	Date         string `json:"date"`
	Shift        string `json:"shift"`
	CreditEarned *int64 `json:"credit_earned,omitempty"`
}

type OptOutFilter struct {
	UserID int64
	From   *time.Time
	To     *time.Time
	Limit  uint64
	Offset uint64
}
