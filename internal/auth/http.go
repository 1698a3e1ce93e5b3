// ABOUTME: HTTP middleware for JWT authentication on chat API and websocket endpoints
// ABOUTME: Extracts the bearer token, records the caller in the user directory and adds it to context

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/shopchat/internal/store"
)

// Dev identity headers, honored only when MiddlewareOptions.AllowDevHeaders is set.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderUserRole = "X-User-Role"
)

// tokenQueryParam carries the token on websocket upgrades, where browsers
// cannot set an Authorization header.
const tokenQueryParam = "access_token"

// UserDirectory records callers so display names resolve for messages.
type UserDirectory interface {
	UpsertUser(ctx context.Context, user *store.User) error
}

// MiddlewareOptions configures HTTPAuthMiddleware.
type MiddlewareOptions struct {
	AllowDevHeaders bool
	Logger          *slog.Logger
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// writeAuthError writes a JSON error body with the given status.
func writeAuthError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// authenticate resolves the caller from dev headers or a token.
func authenticate(r *http.Request, verifier TokenVerifier, allowDevHeaders bool) (*AuthContext, string) {
	if allowDevHeaders {
		if userID := r.Header.Get(HeaderUserID); userID != "" {
			var roles []string
			if role := r.Header.Get(HeaderUserRole); role != "" {
				roles = []string{strings.ToLower(role)}
			}
			return &AuthContext{
				UserID:      userID,
				DisplayName: r.Header.Get(HeaderUserName),
				Roles:       roles,
			}, ""
		}
	}

	if verifier == nil {
		return nil, "missing " + HeaderUserID + " header"
	}

	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		if q := r.URL.Query().Get(tokenQueryParam); q != "" {
			token, errMsg = q, ""
		}
	}
	if errMsg != "" {
		return nil, errMsg
	}

	id, err := verifier.Verify(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, "token expired"
		}
		return nil, "invalid token"
	}
	return &AuthContext{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Roles:       id.Roles,
	}, ""
}

// HTTPAuthMiddleware creates an HTTP middleware that authenticates the caller
// and adds AuthContext to the request context. Callers are upserted into the
// user directory when one is given; directory failures are logged only.
func HTTPAuthMiddleware(verifier TokenVerifier, users UserDirectory, opts MiddlewareOptions) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, errMsg := authenticate(r, verifier, opts.AllowDevHeaders)
			if errMsg != "" {
				writeAuthError(w, errMsg, http.StatusUnauthorized)
				return
			}

			if users != nil {
				user := &store.User{ID: authCtx.UserID, DisplayName: authCtx.DisplayName}
				if len(authCtx.Roles) > 0 {
					user.Role = authCtx.PrimaryRole()
				}
				err := users.UpsertUser(r.Context(), user)
				if err != nil {
					logger.Warn("failed to record user", "user_id", authCtx.UserID, "error", err)
				}
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireAdminHTTP creates an HTTP middleware that requires admin or owner role.
// Must be used after HTTPAuthMiddleware.
func RequireAdminHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				writeAuthError(w, "not authenticated", http.StatusUnauthorized)
				return
			}

			if !authCtx.IsAdmin() {
				writeAuthError(w, "admin role required", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
