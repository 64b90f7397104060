package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hostel-mess/internal/metrics"
	"hostel-mess/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OptOutService records meals a user skips and credits the account for them.
type OptOutService struct {
	db            *sql.DB
	logger        zerolog.Logger
	accounts      *AccountService
	defaultCredit int64
	loc           *time.Location
}

func NewOptOutService(db *sql.DB, logger zerolog.Logger, accounts *AccountService, defaultCredit int64, loc *time.Location) *OptOutService {
	if loc == nil {
		loc = time.Local
	}
	return &OptOutService{
		db:            db,
		logger:        logger,
		accounts:      accounts,
		defaultCredit: defaultCredit,
		loc:           loc,
	}
}

// MealDay truncates t to midnight of its calendar day in the mess time zone.
func (s *OptOutService) MealDay(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

// ParseMealDay accepts YYYY-MM-DD (read in the mess time zone) or RFC3339.
func (s *OptOutService) ParseMealDay(v string) (time.Time, error) {
	if t, err := time.ParseInLocation(dateLayout, v, s.loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", v)
	}
	return s.MealDay(t), nil
}

func (s *OptOutService) today() time.Time {
	return s.MealDay(s.accounts.now())
}

// storedDay rebuilds a DATE column value in the mess time zone. The driver
// returns DATE values at midnight UTC, so only the calendar fields are kept.
func (s *OptOutService) storedDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
}

// RecordOptOut opts the user out of one meal and credits the account. A nil
// creditOverride earns the configured default.
func (s *OptOutService) RecordOptOut(ctx context.Context, userID int64, date time.Time, shift models.Shift, creditOverride *int64) (*models.OptOut, error) {
	shift, ok := models.ParseShift(string(shift))
	if !ok {
		return nil, ErrInvalidShift
	}

	credit := s.defaultCredit
	if creditOverride != nil {
		if *creditOverride <= 0 {
			return nil, ErrInvalidAmount
		}
		credit = *creditOverride
	}

	day := s.MealDay(date)
	if day.Before(s.today()) {
		return nil, ErrPastDate
	}

	optOut := &models.OptOut{
		UserID:       userID,
		Date:         day,
		Shift:        shift,
		CreditEarned: credit,
		CreatedAt:    s.accounts.now(),
	}

	err := s.accounts.withAccountTx(ctx, userID, func(tx *sql.Tx) error {
		current, err := s.accounts.lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		var existingID int64
		err = tx.QueryRowContext(ctx,
			"SELECT id FROM opt_outs WHERE user_id = ? AND meal_date = ? AND shift = ?",
			userID, day.Format(dateLayout), string(shift),
		).Scan(&existingID)
		if err == nil {
			return ErrDuplicateOptOut
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return storageErr("check existing opt-out", err)
		}

		result, err := tx.ExecContext(ctx,
			"INSERT INTO opt_outs (user_id, meal_date, shift, credit_earned, created_at) VALUES (?, ?, ?, ?, ?)",
			userID, day.Format(dateLayout), string(shift), credit, optOut.CreatedAt,
		)
		if isDuplicateKey(err) {
			return ErrDuplicateOptOut
		}
		if err != nil {
			return storageErr("insert opt-out", err)
		}

		optOut.ID, err = result.LastInsertId()
		if err != nil {
			return storageErr("opt-out id", err)
		}

		_, err = s.accounts.writeBalance(ctx, tx, userID, current, credit, models.ReasonOptOut, optOut.ID)
		return err
	})
	metrics.ObserveLedger("record_opt_out", err)
	if err != nil {
		s.logger.Warn().Err(err).
			Int64("user_id", userID).
			Str("date", day.Format(dateLayout)).
			Str("shift", string(shift)).
			Msg("Opt-out rejected")
		return nil, err
	}

	metrics.CreditsMoved.WithLabelValues(string(models.ReasonOptOut)).Add(float64(credit))
	s.logger.Info().
		Int64("opt_out_id", optOut.ID).
		Int64("user_id", userID).
		Str("date", day.Format(dateLayout)).
		Str("shift", string(shift)).
		Int64("credit", credit).
		Msg("Opt-out recorded")

	return optOut, nil
}

// CancelOptOut deletes the user's opt-out and takes back exactly the credit
// stored on it.
func (s *OptOutService) CancelOptOut(ctx context.Context, userID, optOutID int64) error {
	optOut, err := s.getOptOut(ctx, s.db, optOutID)
	if err != nil {
		return err
	}

	if optOut.UserID != userID {
		return ErrForbidden
	}

	if optOut.Date.Before(s.today()) {
		return ErrPastDate
	}

	err = s.accounts.withAccountTx(ctx, userID, func(tx *sql.Tx) error {
		current, err := s.accounts.lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			"DELETE FROM opt_outs WHERE id = ? AND user_id = ?",
			optOutID, userID,
		)
		if err != nil {
			return storageErr("delete opt-out", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return storageErr("delete opt-out", err)
		}
		if affected == 0 {
			return fmt.Errorf("opt-out %d: %w", optOutID, ErrNotFound)
		}

		_, err = s.accounts.writeBalance(ctx, tx, userID, current, -optOut.CreditEarned, models.ReasonOptOutCancel, optOutID)
		return err
	})
	metrics.ObserveLedger("cancel_opt_out", err)
	if err != nil {
		s.logger.Warn().Err(err).Int64("opt_out_id", optOutID).Int64("user_id", userID).Msg("Opt-out cancellation rejected")
		return err
	}

	metrics.CreditsMoved.WithLabelValues(string(models.ReasonOptOutCancel)).Add(float64(optOut.CreditEarned))
	s.logger.Info().
		Int64("opt_out_id", optOutID).
		Int64("user_id", userID).
		Int64("credit", optOut.CreditEarned).
		Msg("Opt-out cancelled")

	return nil
}

func (s *OptOutService) GetOptOut(ctx context.Context, optOutID int64) (*models.OptOut, error) {
	return s.getOptOut(ctx, s.db, optOutID)
}

func (s *OptOutService) getOptOut(ctx context.Context, q queryRower, optOutID int64) (*models.OptOut, error) {
	var o models.OptOut
	var shift string
	err := q.QueryRowContext(ctx,
		"SELECT id, user_id, meal_date, shift, credit_earned, created_at FROM opt_outs WHERE id = ?",
		optOutID,
	).Scan(&o.ID, &o.UserID, &o.Date, &shift, &o.CreditEarned, &o.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("opt-out %d: %w", optOutID, ErrNotFound)
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("opt_out_id", optOutID).Msg("Error fetching opt-out")
		return nil, storageErr("fetch opt-out", err)
	}

	o.Date = s.storedDay(o.Date)
	o.Shift = models.Shift(shift)
	return &o, nil
}

// ListOptOuts returns the user's opt-outs, most recent first.
func (s *OptOutService) ListOptOuts(ctx context.Context, filter models.OptOutFilter) ([]*models.OptOut, error) {
	builder := sq.Select("id", "user_id", "meal_date", "shift", "credit_earned", "created_at").
		From("opt_outs").
		Where(sq.Eq{"user_id": filter.UserID})

	if filter.From != nil {
		builder = builder.Where(sq.GtOrEq{"meal_date": s.MealDay(*filter.From).Format(dateLayout)})
	}
	if filter.To != nil {
		builder = builder.Where(sq.LtOrEq{"meal_date": s.MealDay(*filter.To).Format(dateLayout)})
	}

	query, args, err := builder.
		OrderBy("created_at DESC", "id DESC").
		Limit(pageLimit(filter.Limit)).
		Offset(filter.Offset).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build opt-out query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", filter.UserID).Msg("Error fetching opt-outs")
		return nil, storageErr("fetch opt-outs", err)
	}
	defer rows.Close()

	optOuts := []*models.OptOut{}
	for rows.Next() {
		var o models.OptOut
		var shift string
		if err := rows.Scan(&o.ID, &o.UserID, &o.Date, &shift, &o.CreditEarned, &o.CreatedAt); err != nil {
			return nil, storageErr("scan opt-out", err)
		}
		o.Date = s.storedDay(o.Date)
		o.Shift = models.Shift(shift)
		optOuts = append(optOuts, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate opt-outs", err)
	}

	return optOuts, nil
}
