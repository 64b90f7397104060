package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"hostel-mess/internal/services"

	"github.com/rs/zerolog"
)

// RoleSource reports the role currently stored for a user. Tokens live for a
// day, so the role claim inside them can be stale after a promotion or
// demotion.
type RoleSource interface {
	CurrentRole(ctx context.Context, userID int64) (string, error)
}

// Authentication validates the bearer token and puts the caller's id, email
// and current role on the request context.
func Authentication(auth *services.AuthService, roles RoleSource, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
				respondWithError(w, http.StatusUnauthorized, "missing_authorization", "Bearer token is required")
				return
			}

			claims, err := auth.ValidateToken(token)
			if err != nil {
				logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected token")
				respondWithError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
				return
			}

			role, err := roles.CurrentRole(r.Context(), claims.UserID)
			switch {
			case errors.Is(err, services.ErrNotFound):
				respondWithError(w, http.StatusUnauthorized, "invalid_token", "Account no longer exists")
				return
			case err != nil:
				logger.Error().Err(err).Int64("user_id", claims.UserID).Msg("Role lookup failed")
				respondWithError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
				return
			}
			if role != claims.Role {
				logger.Info().
					Int64("user_id", claims.UserID).
					Str("token_role", claims.Role).
					Str("role", role).
					Msg("Token role is stale, using stored role")
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, UserRoleKey, role)
			ctx = context.WithValue(ctx, UserEmailKey, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole admits callers whose stored role is one of allowed. It must run
// after Authentication.
func RequireRole(allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := GetUserRole(r)
			if !ok || !slices.Contains(allowed, role) {
				respondWithError(w, http.StatusForbidden, "forbidden", "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
