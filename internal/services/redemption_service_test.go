package services

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"hostel-mess/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const selectRedemption = "SELECT id, user_id, amount, status, processed_by, processed_at, created_at FROM redemption_requests WHERE id = ?"

var redemptionColumns = []string{"id", "user_id", "amount", "status", "processed_by", "processed_at", "created_at"}

func (e *testEnv) expectFetchRedemption(forUpdate bool, id, userID, amount int64, status models.RedemptionStatus) {
	query := selectRedemption
	if forUpdate {
		query += " FOR UPDATE"
	}
	e.mock.ExpectQuery(regexp.QuoteMeta(query)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(redemptionColumns).AddRow(id, userID, amount, string(status), nil, nil, fixedNow))
}

func (e *testEnv) expectInsertRedemption(userID, amount, id int64) {
	e.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO redemption_requests (user_id, amount, status, created_at) VALUES (?, ?, ?, ?)")).
		WithArgs(userID, amount, "PENDING", fixedNow).
		WillReturnResult(sqlmock.NewResult(id, 1))
}

func (e *testEnv) expectUpdateStatus(id, reviewerID int64, status models.RedemptionStatus) {
	e.mock.ExpectExec(regexp.QuoteMeta("UPDATE redemption_requests SET status = ?, processed_by = ?, processed_at = ? WHERE id = ? AND status = ?")).
		WithArgs(string(status), reviewerID, fixedNow, id, "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// balance=50; request 30 -> PENDING record amount=30, balance=20.
func TestRequestRedemptionHoldsCredits(t *testing.T) {
	cache := newFakeCache()
	env := newTestEnv(t, cache)

	env.mock.ExpectBegin()
	env.expectLockBalance(1, 50)
	env.expectInsertRedemption(1, 30, 11)
	env.expectWriteBalance(1, 20, -30, models.ReasonRedemption, 11)
	env.mock.ExpectCommit()

	r, err := env.redemptions.RequestRedemption(context.Background(), 1, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(11), r.ID)
	assert.Equal(t, models.RedemptionPending, r.Status)
	assert.Equal(t, int64(30), r.Amount)
	assert.Nil(t, r.ProcessedBy)
	assert.Equal(t, []int64{1}, cache.invalidated)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

// balance=10; request 20 -> InsufficientCredits, nothing written.
func TestRequestRedemptionInsufficientCredits(t *testing.T) {
	env := newTestEnv(t, nil)

	env.mock.ExpectBegin()
	env.expectLockBalance(1, 10)
	env.mock.ExpectRollback()

	_, err := env.redemptions.RequestRedemption(context.Background(), 1, 20)
	require.ErrorIs(t, err, ErrInsufficientCredits)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRequestRedemptionInvalidAmount(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, amount := range []int64{0, -30} {
		_, err := env.redemptions.RequestRedemption(context.Background(), 1, amount)
		require.ErrorIs(t, err, ErrInvalidAmount)
	}
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRequestRedemptionUnknownAccount(t *testing.T) {
	env := newTestEnv(t, nil)

	env.mock.ExpectBegin()
	env.mock.ExpectQuery(regexp.QuoteMeta("SELECT credits FROM users WHERE id = ? FOR UPDATE")).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"credits"}))
	env.mock.ExpectRollback()

	_, err := env.redemptions.RequestRedemption(context.Background(), 404, 10)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

// Two requests for the full balance race; the account lock lets exactly one
// of them through. If the transactions interleaved, the mock would reject the
// out-of-order statements and neither error below would match.
func TestRequestRedemptionNoDoubleSpend(t *testing.T) {
	env := newTestEnv(t, nil)

	env.mock.ExpectBegin()
	env.expectLockBalance(1, 100)
	env.expectInsertRedemption(1, 100, 21)
	env.expectWriteBalance(1, 0, -100, models.ReasonRedemption, 21)
	env.mock.ExpectCommit()

	env.mock.ExpectBegin()
	env.expectLockBalance(1, 0)
	env.mock.ExpectRollback()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.redemptions.RequestRedemption(context.Background(), 1, 100)
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, ErrInsufficientCredits):
			insufficient++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

// continuing the 30-credit request: reject -> REJECTED, balance back to 50.
func TestProcessRedemptionRejectRefunds(t *testing.T) {
	env := newTestEnv(t, nil)

	env.expectFetchRedemption(false, 11, 1, 30, models.RedemptionPending)
	env.mock.ExpectBegin()
	env.expectFetchRedemption(true, 11, 1, 30, models.RedemptionPending)
	env.expectUpdateStatus(11, 99, models.RedemptionRejected)
	env.expectLockBalance(1, 20)
	env.expectWriteBalance(1, 50, 30, models.ReasonRedemptionRefund, 11)
	env.mock.ExpectCommit()

	r, err := env.redemptions.ProcessRedemption(context.Background(), 99, 11, "reject")
	require.NoError(t, err)
	assert.Equal(t, models.RedemptionRejected, r.Status)
	require.NotNil(t, r.ProcessedBy)
	assert.Equal(t, int64(99), *r.ProcessedBy)
	require.NotNil(t, r.ProcessedAt)
	assert.Equal(t, fixedNow, *r.ProcessedAt)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestProcessRedemptionApproveKeepsHold(t *testing.T) {
	env := newTestEnv(t, nil)

	env.expectFetchRedemption(false, 11, 1, 30, models.RedemptionPending)
	env.mock.ExpectBegin()
	env.expectFetchRedemption(true, 11, 1, 30, models.RedemptionPending)
	env.expectUpdateStatus(11, 99, models.RedemptionApproved)
	env.mock.ExpectCommit()

	r, err := env.redemptions.ProcessRedemption(context.Background(), 99, 11, "APPROVE")
	require.NoError(t, err)
	assert.Equal(t, models.RedemptionApproved, r.Status)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestProcessRedemptionTerminalStatesAreFinal(t *testing.T) {
	for _, second := range []models.RedemptionAction{models.ActionApprove, models.ActionReject} {
		t.Run("approve then "+string(second), func(t *testing.T) {
			env := newTestEnv(t, nil)

			env.expectFetchRedemption(false, 11, 1, 30, models.RedemptionPending)
			env.mock.ExpectBegin()
			env.expectFetchRedemption(true, 11, 1, 30, models.RedemptionPending)
			env.expectUpdateStatus(11, 99, models.RedemptionApproved)
			env.mock.ExpectCommit()
			env.expectFetchRedemption(false, 11, 1, 30, models.RedemptionApproved)

			_, err := env.redemptions.ProcessRedemption(context.Background(), 99, 11, models.ActionApprove)
			require.NoError(t, err)

			_, err = env.redemptions.ProcessRedemption(context.Background(), 99, 11, second)
			require.ErrorIs(t, err, ErrAlreadyProcessed)
			require.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

func TestProcessRedemptionProcessedConcurrently(t *testing.T) {
	env := newTestEnv(t, nil)

	env.expectFetchRedemption(false, 11, 1, 30, models.RedemptionPending)
	env.mock.ExpectBegin()
	env.expectFetchRedemption(true, 11, 1, 30, models.RedemptionRejected)
	env.mock.ExpectRollback()

	_, err := env.redemptions.ProcessRedemption(context.Background(), 99, 11, models.ActionReject)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestProcessRedemptionInvalidAction(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.redemptions.ProcessRedemption(context.Background(), 99, 11, "cancel")
	require.ErrorIs(t, err, ErrInvalidAction)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestProcessRedemptionNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	env.mock.ExpectQuery(regexp.QuoteMeta(selectRedemption)).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(redemptionColumns))

	_, err := env.redemptions.ProcessRedemption(context.Background(), 99, 404, models.ActionApprove)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

// Walks one account through opt-outs, a cancel, a rejected and an approved
// redemption, checking the balance written at every step against
// initial + active opt-out credit - held redemptions.
func TestLedgerBalanceInvariant(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	var balance int64
	optOut := func(id int64, day string, shift models.Shift) {
		env.mock.ExpectBegin()
		env.expectLockBalance(1, balance)
		env.expectNoExistingOptOut(1, day, shift)
		env.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO opt_outs")).
			WillReturnResult(sqlmock.NewResult(id, 1))
		env.expectWriteBalance(1, balance+50, 50, models.ReasonOptOut, id)
		env.mock.ExpectCommit()
	}

	optOut(1, "2026-10-17", models.ShiftLunch)
	_, err := env.optOuts.RecordOptOut(ctx, 1, tomorrow, models.ShiftLunch, nil)
	require.NoError(t, err)
	balance = 50

	optOut(2, "2026-10-17", models.ShiftDinner)
	_, err = env.optOuts.RecordOptOut(ctx, 1, tomorrow, models.ShiftDinner, nil)
	require.NoError(t, err)
	balance = 100

	env.expectFetchOptOut(2, 1, tomorrow, models.ShiftDinner, 50)
	env.mock.ExpectBegin()
	env.expectLockBalance(1, balance)
	env.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM opt_outs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.expectWriteBalance(1, 50, -50, models.ReasonOptOutCancel, 2)
	env.mock.ExpectCommit()
	require.NoError(t, env.optOuts.CancelOptOut(ctx, 1, 2))
	balance = 50

	env.mock.ExpectBegin()
	env.expectLockBalance(1, balance)
	env.expectInsertRedemption(1, 40, 11)
	env.expectWriteBalance(1, 10, -40, models.ReasonRedemption, 11)
	env.mock.ExpectCommit()
	_, err = env.redemptions.RequestRedemption(ctx, 1, 40)
	require.NoError(t, err)
	balance = 10

	env.expectFetchRedemption(false, 11, 1, 40, models.RedemptionPending)
	env.mock.ExpectBegin()
	env.expectFetchRedemption(true, 11, 1, 40, models.RedemptionPending)
	env.expectUpdateStatus(11, 99, models.RedemptionRejected)
	env.expectLockBalance(1, balance)
	env.expectWriteBalance(1, 50, 40, models.ReasonRedemptionRefund, 11)
	env.mock.ExpectCommit()
	_, err = env.redemptions.ProcessRedemption(ctx, 99, 11, models.ActionReject)
	require.NoError(t, err)
	balance = 50

	env.mock.ExpectBegin()
	env.expectLockBalance(1, balance)
	env.expectInsertRedemption(1, 20, 12)
	env.expectWriteBalance(1, 30, -20, models.ReasonRedemption, 12)
	env.mock.ExpectCommit()
	_, err = env.redemptions.RequestRedemption(ctx, 1, 20)
	require.NoError(t, err)

	env.expectFetchRedemption(false, 12, 1, 20, models.RedemptionPending)
	env.mock.ExpectBegin()
	env.expectFetchRedemption(true, 12, 1, 20, models.RedemptionPending)
	env.expectUpdateStatus(12, 99, models.RedemptionApproved)
	env.mock.ExpectCommit()
	_, err = env.redemptions.ProcessRedemption(ctx, 99, 12, models.ActionApprove)
	require.NoError(t, err)
	balance = 30

	// one active opt-out (50) minus the approved redemption (20)
	expectReconcile(env.mock, 1, balance, balance, 50, 20)
	rec, err := env.redemptions.accounts.Reconcile(ctx, 1)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)

	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestListRedemptionsReviewerQueue(t *testing.T) {
	env := newTestEnv(t, nil)

	env.mock.ExpectQuery(regexp.QuoteMeta("FROM redemption_requests WHERE status = ? ORDER BY created_at DESC, id DESC")).
		WillReturnRows(sqlmock.NewRows(redemptionColumns).
			AddRow(int64(12), int64(2), int64(20), "PENDING", nil, nil, fixedNow).
			AddRow(int64(11), int64(1), int64(30), "PENDING", nil, nil, fixedNow.Add(-1)))

	list, err := env.redemptions.ListRedemptions(context.Background(), models.RedemptionFilter{Status: models.RedemptionPending})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(12), list[0].ID)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestListRedemptionsForUser(t *testing.T) {
	env := newTestEnv(t, nil)

	reviewer := int64(99)
	env.mock.ExpectQuery(regexp.QuoteMeta("FROM redemption_requests WHERE user_id = ? ORDER BY created_at DESC, id DESC")).
		WillReturnRows(sqlmock.NewRows(redemptionColumns).
			AddRow(int64(11), int64(1), int64(30), "APPROVED", reviewer, fixedNow, fixedNow))

	list, err := env.redemptions.ListRedemptions(context.Background(), models.RedemptionFilter{UserID: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].ProcessedBy)
	assert.Equal(t, reviewer, *list[0].ProcessedBy)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestParseHelpers(t *testing.T) {
	a, err := ParseAction(" Reject ")
	require.NoError(t, err)
	assert.Equal(t, models.ActionReject, a)

	_, err = ParseAction("")
	assert.ErrorIs(t, err, ErrInvalidAction)

	st, ok := ParseRedemptionStatus("pending")
	assert.True(t, ok)
	assert.Equal(t, models.RedemptionPending, st)

	st, ok = ParseRedemptionStatus("")
	assert.True(t, ok)
	assert.Empty(t, st)

	_, ok = ParseRedemptionStatus("CANCELLED")
	assert.False(t, ok)
}
