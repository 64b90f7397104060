package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"hostel-mess/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const selectUser = "SELECT id, username, email, password_hash, role, credits, created_at, updated_at FROM users WHERE "

var userColumns = []string{"id", "username", "email", "password_hash", "role", "credits", "created_at", "updated_at"}

func newUserService(t *testing.T) (*UserService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewUserService(db, zerolog.Nop()), mock
}

func TestRegisterCreatesStudent(t *testing.T) {
	svc, mock := newUserService(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE email = ? OR username = ?")).
		WithArgs("asha@hostel.edu", "asha").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (username, email, password_hash, role, credits) VALUES (?, ?, ?, ?, 0)")).
		WithArgs("asha", "asha@hostel.edu", sqlmock.AnyArg(), "STUDENT").
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectQuery(regexp.QuoteMeta(selectUser + "id = ?")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(int64(5), "asha", "asha@hostel.edu", "hash", "STUDENT", int64(0), fixedNow, fixedNow))

	user, err := svc.Register(context.Background(), &models.RegisterRequest{
		Username: " asha ",
		Email:    "Asha@Hostel.edu",
		Password: "s3cret",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), user.ID)
	assert.Equal(t, models.RoleStudent, models.UserRole(user.Role))
	assert.Zero(t, user.Credits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterRejectsExistingUser(t *testing.T) {
	svc, mock := newUserService(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE email = ? OR username = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	_, err := svc.Register(context.Background(), &models.RegisterRequest{Username: "asha", Email: "asha@hostel.edu", Password: "x"})
	require.ErrorIs(t, err, ErrUserExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterDuplicateKeyRace(t *testing.T) {
	svc, mock := newUserService(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE email = ? OR username = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	_, err := svc.Register(context.Background(), &models.RegisterRequest{Username: "asha", Email: "asha@hostel.edu", Password: "x"})
	require.ErrorIs(t, err, ErrUserExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterMissingFields(t *testing.T) {
	svc, mock := newUserService(t)

	_, err := svc.Register(context.Background(), &models.RegisterRequest{Username: "  ", Email: "asha@hostel.edu", Password: "x"})
	require.ErrorIs(t, err, ErrMissingFields)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"correct password", "s3cret", nil},
		{"wrong password", "guess", ErrInvalidCredentials},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, mock := newUserService(t)
			mock.ExpectQuery(regexp.QuoteMeta(selectUser + "email = ?")).
				WithArgs("asha@hostel.edu").
				WillReturnRows(sqlmock.NewRows(userColumns).
					AddRow(int64(5), "asha", "asha@hostel.edu", string(hash), "STUDENT", int64(70), fixedNow, fixedNow))

			user, err := svc.Authenticate(context.Background(), &models.LoginRequest{Email: "ASHA@hostel.edu", Password: tc.password})
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, int64(70), user.Credits)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAuthenticateUnknownEmail(t *testing.T) {
	svc, mock := newUserService(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectUser + "email = ?")).
		WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := svc.Authenticate(context.Background(), &models.LoginRequest{Email: "nobody@hostel.edu", Password: "x"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUpdateUserRole(t *testing.T) {
	t.Run("promotes to warden", func(t *testing.T) {
		svc, mock := newUserService(t)
		mock.ExpectQuery(regexp.QuoteMeta(selectUser + "id = ?")).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(int64(5), "asha", "asha@hostel.edu", "hash", "STUDENT", int64(0), fixedNow, fixedNow))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET role = ? WHERE id = ?")).
			WithArgs("WARDEN", int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.UpdateUserRole(context.Background(), 5, "WARDEN", "ADMIN"))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wardens cannot grant roles", func(t *testing.T) {
		svc, mock := newUserService(t)
		require.ErrorIs(t, svc.UpdateUserRole(context.Background(), 5, "ADMIN", "WARDEN"), ErrForbidden)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown role", func(t *testing.T) {
		svc, mock := newUserService(t)
		require.ErrorIs(t, svc.UpdateUserRole(context.Background(), 5, "COOK", "ADMIN"), ErrInvalidRole)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, mock := newUserService(t)
		mock.ExpectQuery(regexp.QuoteMeta(selectUser + "id = ?")).
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows(userColumns))
		require.ErrorIs(t, svc.UpdateUserRole(context.Background(), 404, "WARDEN", "ADMIN"), ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuthService("test-secret", zerolog.Nop())

	token, err := auth.GenerateToken(5, "asha@hostel.edu", "WARDEN")
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(5), claims.UserID)
	assert.Equal(t, "WARDEN", claims.Role)
	assert.WithinDuration(t, time.Now().Add(tokenTTL), claims.ExpiresAt.Time, time.Minute)

	other := NewAuthService("another-secret", zerolog.Nop())
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestCurrentRoleReflectsDemotion(t *testing.T) {
	svc, mock := newUserService(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT role FROM users WHERE id = ?")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("STUDENT"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT role FROM users WHERE id = ?")).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"role"}))

	role, err := svc.CurrentRole(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "STUDENT", role)

	_, err = svc.CurrentRole(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
