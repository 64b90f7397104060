package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"hostel-mess/internal/metrics"
	"hostel-mess/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
)

// RedemptionService turns credits into payout requests. Credits are debited
// when the request is made and refunded if a reviewer rejects it.
type RedemptionService struct {
	db       *sql.DB
	logger   zerolog.Logger
	accounts *AccountService
}

func NewRedemptionService(db *sql.DB, logger zerolog.Logger, accounts *AccountService) *RedemptionService {
	return &RedemptionService{
		db:       db,
		logger:   logger,
		accounts: accounts,
	}
}

// ParseAction accepts approve or reject in any case.
func ParseAction(v string) (models.RedemptionAction, error) {
	switch a := models.RedemptionAction(strings.ToLower(strings.TrimSpace(v))); a {
	case models.ActionApprove, models.ActionReject:
		return a, nil
	}
	return "", ErrInvalidAction
}

func (s *RedemptionService) RequestRedemption(ctx context.Context, userID, amount int64) (*models.Redemption, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	redemption := &models.Redemption{
		UserID:    userID,
		Amount:    amount,
		Status:    models.RedemptionPending,
		CreatedAt: s.accounts.now(),
	}

	err := s.accounts.withAccountTx(ctx, userID, func(tx *sql.Tx) error {
		current, err := s.accounts.lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current < amount {
			return ErrInsufficientCredits
		}

		result, err := tx.ExecContext(ctx,
			"INSERT INTO redemption_requests (user_id, amount, status, created_at) VALUES (?, ?, ?, ?)",
			userID, amount, string(models.RedemptionPending), redemption.CreatedAt,
		)
		if err != nil {
			return storageErr("insert redemption", err)
		}

		redemption.ID, err = result.LastInsertId()
		if err != nil {
			return storageErr("redemption id", err)
		}

		_, err = s.accounts.writeBalance(ctx, tx, userID, current, -amount, models.ReasonRedemption, redemption.ID)
		return err
	})
	metrics.ObserveLedger("request_redemption", err)
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Int64("amount", amount).Msg("Redemption request rejected")
		return nil, err
	}

	metrics.CreditsMoved.WithLabelValues(string(models.ReasonRedemption)).Add(float64(amount))
	s.logger.Info().
		Int64("redemption_id", redemption.ID).
		Int64("user_id", userID).
		Int64("amount", amount).
		Msg("Redemption requested")

	return redemption, nil
}

// ProcessRedemption moves a PENDING request to APPROVED or REJECTED. Rejection
// refunds the held amount in the same transaction.
func (s *RedemptionService) ProcessRedemption(ctx context.Context, reviewerID, redemptionID int64, action models.RedemptionAction) (*models.Redemption, error) {
	action, err := ParseAction(string(action))
	if err != nil {
		return nil, err
	}

	pending, err := s.getRedemption(ctx, s.db, redemptionID, false)
	if err != nil {
		return nil, err
	}
	if pending.Status != models.RedemptionPending {
		return nil, ErrAlreadyProcessed
	}

	var processed *models.Redemption
	err = s.accounts.withAccountTx(ctx, pending.UserID, func(tx *sql.Tx) error {
		r, err := s.getRedemption(ctx, tx, redemptionID, true)
		if err != nil {
			return err
		}
		if r.Status != models.RedemptionPending {
			return ErrAlreadyProcessed
		}

		status := models.RedemptionApproved
		if action == models.ActionReject {
			status = models.RedemptionRejected
		}
		processedAt := s.accounts.now()

		_, err = tx.ExecContext(ctx,
			"UPDATE redemption_requests SET status = ?, processed_by = ?, processed_at = ? WHERE id = ? AND status = ?",
			string(status), reviewerID, processedAt, redemptionID, string(models.RedemptionPending),
		)
		if err != nil {
			return storageErr("update redemption", err)
		}

		if status == models.RedemptionRejected {
			_, err = s.accounts.adjustBalanceInTx(ctx, tx, r.UserID, r.Amount, models.ReasonRedemptionRefund, redemptionID)
			if err != nil {
				return err
			}
		}

		r.Status = status
		r.ProcessedBy = &reviewerID
		r.ProcessedAt = &processedAt
		processed = r
		return nil
	})
	metrics.ObserveLedger("process_redemption", err)
	if err != nil {
		s.logger.Warn().Err(err).
			Int64("redemption_id", redemptionID).
			Int64("reviewer_id", reviewerID).
			Str("action", string(action)).
			Msg("Redemption processing rejected")
		return nil, err
	}

	if processed.Status == models.RedemptionRejected {
		metrics.CreditsMoved.WithLabelValues(string(models.ReasonRedemptionRefund)).Add(float64(processed.Amount))
	}
	s.logger.Info().
		Int64("redemption_id", redemptionID).
		Int64("reviewer_id", reviewerID).
		Int64("user_id", processed.UserID).
		Str("status", string(processed.Status)).
		Msg("Redemption processed")

	return processed, nil
}

func (s *RedemptionService) GetRedemption(ctx context.Context, redemptionID int64) (*models.Redemption, error) {
	return s.getRedemption(ctx, s.db, redemptionID, false)
}

func (s *RedemptionService) getRedemption(ctx context.Context, q queryRower, redemptionID int64, forUpdate bool) (*models.Redemption, error) {
	query := "SELECT id, user_id, amount, status, processed_by, processed_at, created_at FROM redemption_requests WHERE id = ?"
	if forUpdate {
		query += " FOR UPDATE"
	}

	r, err := scanRedemption(q.QueryRowContext(ctx, query, redemptionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("redemption %d: %w", redemptionID, ErrNotFound)
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("redemption_id", redemptionID).Msg("Error fetching redemption")
		return nil, storageErr("fetch redemption", err)
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRedemption(row rowScanner) (*models.Redemption, error) {
	var r models.Redemption
	var status string
	var processedBy sql.NullInt64
	var processedAt sql.NullTime

	err := row.Scan(&r.ID, &r.UserID, &r.Amount, &status, &processedBy, &processedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Status = models.RedemptionStatus(status)
	if processedBy.Valid {
		val := processedBy.Int64
		r.ProcessedBy = &val
	}
	if processedAt.Valid {
		val := processedAt.Time
		r.ProcessedAt = &val
	}
	return &r, nil
}

// ListRedemptions returns redemptions matching filter, most recent first.
func (s *RedemptionService) ListRedemptions(ctx context.Context, filter models.RedemptionFilter) ([]*models.Redemption, error) {
	builder := sq.Select("id", "user_id", "amount", "status", "processed_by", "processed_at", "created_at").
		From("redemption_requests")

	if filter.UserID != 0 {
		builder = builder.Where(sq.Eq{"user_id": filter.UserID})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
	}

	query, args, err := builder.
		OrderBy("created_at DESC", "id DESC").
		Limit(pageLimit(filter.Limit)).
		Offset(filter.Offset).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build redemption query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error fetching redemptions")
		return nil, storageErr("fetch redemptions", err)
	}
	defer rows.Close()

	redemptions := []*models.Redemption{}
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, storageErr("scan redemption", err)
		}
		redemptions = append(redemptions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate redemptions", err)
	}

	return redemptions, nil
}

// ParseRedemptionStatus validates a status filter value. Empty means any.
func ParseRedemptionStatus(v string) (models.RedemptionStatus, bool) {
	switch st := models.RedemptionStatus(strings.ToUpper(strings.TrimSpace(v))); st {
	case "", models.RedemptionPending, models.RedemptionApproved, models.RedemptionRejected:
		return st, true
	}
	return "", false
}
