package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"hostel-mess/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserExists         = errors.New("user with this email or username already exists")
	ErrInvalidRole        = errors.New("invalid role")
	ErrMissingFields      = errors.New("username, email, and password are required")
)

type UserService struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewUserService(db *sql.DB, logger zerolog.Logger) *UserService {
	return &UserService{
		db:     db,
		logger: logger,
	}
}

// Register creates a STUDENT account with zero credits. Reviewer roles are
// granted afterwards with UpdateUserRole.
func (s *UserService) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return nil, ErrMissingFields
	}

	var existingID int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM users WHERE email = ? OR username = ?", req.Email, req.Username).Scan(&existingID)
	if err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		s.logger.Error().Err(err).Msg("Error checking existing user")
		return nil, storageErr("check existing user", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error hashing password")
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, role, credits) VALUES (?, ?, ?, ?, 0)",
		req.Username, req.Email, string(hashedPassword), string(models.RoleStudent),
	)
	if isDuplicateKey(err) {
		return nil, ErrUserExists
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Error creating user")
		return nil, storageErr("create user", err)
	}

	userID, err := result.LastInsertId()
	if err != nil {
		return nil, storageErr("user id", err)
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("user_id", user.ID).Str("email", user.Email).Msg("User registered successfully")
	return user, nil
}

func (s *UserService) Authenticate(ctx context.Context, req *models.LoginRequest) (*models.User, error) {
	if req.Email == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, role, credits, created_at, updated_at FROM users WHERE email = ?",
		strings.ToLower(strings.TrimSpace(req.Email)),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Error querying user")
		return nil, storageErr("fetch user", err)
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password))
	if err != nil {
		s.logger.Warn().Str("email", req.Email).Msg("Failed authentication attempt")
		return nil, ErrInvalidCredentials
	}

	s.logger.Info().Int64("user_id", user.ID).Str("email", user.Email).Msg("User authenticated successfully")
	return user, nil
}

func (s *UserService) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, role, credits, created_at, updated_at FROM users WHERE id = ?",
		userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("Error fetching user")
		return nil, storageErr("fetch user", err)
	}

	return user, nil
}

func (s *UserService) scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role,
		&user.Credits, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUserRole changes a user's role. Only admins may call it.
func (s *UserService) UpdateUserRole(ctx context.Context, userID int64, newRole string, adminRole string) error {
	if adminRole != string(models.RoleAdmin) {
		return ErrForbidden
	}

	switch models.UserRole(newRole) {
	case models.RoleStudent, models.RoleWarden, models.RoleAdmin:
	default:
		return ErrInvalidRole
	}

	if _, err := s.GetUserByID(ctx, userID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, "UPDATE users SET role = ? WHERE id = ?", newRole, userID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Str("new_role", newRole).Msg("Error updating user role")
		return storageErr("update user role", err)
	}

	s.logger.Info().Int64("user_id", userID).Str("new_role", newRole).Msg("User role updated")
	return nil
}

// CurrentRole returns the role stored for the user, which may have changed
// since their token was issued.
func (s *UserService) CurrentRole(ctx context.Context, userID int64) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, "SELECT role FROM users WHERE id = ?", userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("Error fetching user role")
		return "", storageErr("fetch user role", err)
	}
	return role, nil
}
