package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"hostel-mess/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
)

// BalanceCache is an optional read-through cache for account balances.
type BalanceCache interface {
	GetBalance(ctx context.Context, userID int64) (int64, error)
	SetBalance(ctx context.Context, userID int64, credits int64) error
	InvalidateBalance(ctx context.Context, userID int64) error
}

// AccountService owns the credits column on users. Every mutation goes through
// withAccountTx so the balance change commits together with the ledger row that
// justifies it.
type AccountService struct {
	db     *sql.DB
	logger zerolog.Logger
	cache  BalanceCache
	now    func() time.Time
	mu     sync.Map
}

func NewAccountService(db *sql.DB, logger zerolog.Logger, cache BalanceCache) *AccountService {
	return &AccountService{
		db:     db,
		logger: logger,
		cache:  cache,
		now:    time.Now,
	}
}

func (s *AccountService) getMutex(userID int64) *sync.Mutex {
	mu, _ := s.mu.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// withAccountTx runs fn in a database transaction while holding the account's
// in-process lock. Any error from fn rolls the transaction back.
func (s *AccountService) withAccountTx(ctx context.Context, userID int64, fn func(tx *sql.Tx) error) error {
	mu := s.getMutex(userID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("Error starting transaction")
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("Error committing transaction")
		return storageErr("commit", err)
	}

	s.invalidate(ctx, userID)
	return nil
}

// lockBalance reads the balance with a row lock held until the transaction ends.
func (s *AccountService) lockBalance(ctx context.Context, tx *sql.Tx, userID int64) (int64, error) {
	var credits int64
	err := tx.QueryRowContext(ctx,
		"SELECT credits FROM users WHERE id = ? FOR UPDATE",
		userID,
	).Scan(&credits)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("account %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return 0, storageErr("lock balance", err)
	}
	return credits, nil
}

// writeBalance applies delta to a balance previously read with lockBalance and
// appends the matching credit_history row.
func (s *AccountService) writeBalance(ctx context.Context, tx *sql.Tx, userID, current, delta int64, reason models.CreditReason, referenceID int64) (int64, error) {
	newBalance := current + delta
	if newBalance < 0 {
		return 0, ErrInsufficientCredits
	}

	_, err := tx.ExecContext(ctx,
		"UPDATE users SET credits = ? WHERE id = ?",
		newBalance, userID,
	)
	if err != nil {
		return 0, storageErr("update balance", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO credit_history (user_id, balance, change_amount, reason, reference_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		userID, newBalance, delta, string(reason), referenceID, s.now(),
	)
	if err != nil {
		return 0, storageErr("record credit history", err)
	}

	return newBalance, nil
}

func (s *AccountService) adjustBalanceInTx(ctx context.Context, tx *sql.Tx, userID, delta int64, reason models.CreditReason, referenceID int64) (int64, error) {
	current, err := s.lockBalance(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	return s.writeBalance(ctx, tx, userID, current, delta, reason, referenceID)
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

func pageLimit(limit uint64) uint64 {
	if limit == 0 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

func (s *AccountService) invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateBalance(ctx, userID); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("Failed to invalidate cached balance")
	}
}

func (s *AccountService) GetBalance(ctx context.Context, userID int64) (*models.Balance, error) {
	if s.cache != nil {
		credits, err := s.cache.GetBalance(ctx, userID)
		if err == nil {
			return &models.Balance{UserID: userID, Credits: credits}, nil
		}
	}

	if s.cache == nil {
		credits, err := s.readBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &models.Balance{UserID: userID, Credits: credits}, nil
	}

	// The fill happens under the account lock: a mutation cannot commit and
	// invalidate between the read and the write and leave the old value cached.
	mu := s.getMutex(userID)
	mu.Lock()
	defer mu.Unlock()

	credits, err := s.readBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetBalance(ctx, userID, credits); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("Failed to cache balance")
	}

	return &models.Balance{UserID: userID, Credits: credits}, nil
}

func (s *AccountService) readBalance(ctx context.Context, userID int64) (int64, error) {
	var credits int64
	err := s.db.QueryRowContext(ctx, "SELECT credits FROM users WHERE id = ?", userID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("account %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("Error fetching balance")
		return 0, storageErr("fetch balance", err)
	}
	return credits, nil
}

func (s *AccountService) GetCreditHistory(ctx context.Context, userID int64, limit, offset uint64) ([]*models.CreditHistory, error) {
	query, args, err := sq.Select("id", "user_id", "balance", "change_amount", "reason", "reference_id", "created_at").
		From("credit_history").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(pageLimit(limit)).
		Offset(offset).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build credit history query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("Error fetching credit history")
		return nil, storageErr("fetch credit history", err)
	}
	defer rows.Close()

	history := []*models.CreditHistory{}
	for rows.Next() {
		var h models.CreditHistory
		var reason string
		if err := rows.Scan(&h.ID, &h.UserID, &h.Balance, &h.ChangeAmount, &reason, &h.ReferenceID, &h.CreatedAt); err != nil {
			return nil, storageErr("scan credit history", err)
		}
		h.Reason = models.CreditReason(reason)
		history = append(history, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate credit history", err)
	}

	return history, nil
}

// Reconcile compares the stored balance with the sum of credit_history and with
// the balance implied by active opt-outs and held redemptions. Accounts start
// at zero credits, so all three must agree.
func (s *AccountService) Reconcile(ctx context.Context, userID int64) (*models.Reconciliation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	rec := &models.Reconciliation{UserID: userID}

	err = tx.QueryRowContext(ctx, "SELECT credits FROM users WHERE id = ?", userID).Scan(&rec.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("fetch balance", err)
	}

	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(change_amount), 0) FROM credit_history WHERE user_id = ?",
		userID,
	).Scan(&rec.HistoryBalance)
	if err != nil {
		return nil, storageErr("sum credit history", err)
	}

	var earned, held int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(credit_earned), 0) FROM opt_outs WHERE user_id = ?",
		userID,
	).Scan(&earned)
	if err != nil {
		return nil, storageErr("sum opt-outs", err)
	}

	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM redemption_requests WHERE user_id = ? AND status IN (?, ?)",
		userID, string(models.RedemptionPending), string(models.RedemptionApproved),
	).Scan(&held)
	if err != nil {
		return nil, storageErr("sum redemptions", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit", err)
	}

	rec.LedgerBalance = earned - held
	rec.Consistent = rec.Balance == rec.HistoryBalance && rec.Balance == rec.LedgerBalance

	if !rec.Consistent {
		s.logger.Warn().
			Int64("user_id", userID).
			Int64("balance", rec.Balance).
			Int64("history_balance", rec.HistoryBalance).
			Int64("ledger_balance", rec.LedgerBalance).
			Msg("Balance discrepancy detected")
	}

	return rec, nil
}
