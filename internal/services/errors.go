package services

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrDuplicateOptOut     = errors.New("already opted out of this meal")
	ErrPastDate            = errors.New("date is in the past")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidShift        = errors.New("shift must be BREAKFAST, LUNCH or DINNER")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadyProcessed    = errors.New("redemption already processed")
	ErrInvalidAction       = errors.New("action must be approve or reject")
	ErrStorage             = errors.New("storage error")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

const mysqlDuplicateEntry = 1062

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
