// ABOUTME: Tests for HTTP authentication middleware and claim authorization
// ABOUTME: Covers token extraction, query tokens, dev headers, directory upserts and the admin gate

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/2389/shopchat/internal/store"
)

func serve(t *testing.T, mw func(http.Handler) http.Handler, req *http.Request) (*httptest.ResponseRecorder, *AuthContext) {
	t.Helper()
	var got *AuthContext
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, req)
	return rec, got
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	users := store.NewMockStore()
	token, _ := verifier.Generate(Identity{UserID: "A1", DisplayName: "Alex", Roles: []string{RoleAdmin}}, time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec, got := serve(t, HTTPAuthMiddleware(verifier, users, MiddlewareOptions{}), req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got == nil || got.UserID != "A1" || !got.IsAdmin() {
		t.Fatalf("unexpected auth context: %+v", got)
	}

	user, err := users.GetUser(context.Background(), "A1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.DisplayName != "Alex" || user.Role != RoleAdmin {
		t.Errorf("directory entry = %+v", user)
	}
}

func TestHTTPAuthMiddleware_QueryToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, _ := verifier.Generate(Identity{UserID: "C1"}, time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+token, nil)
	rec, got := serve(t, HTTPAuthMiddleware(verifier, nil, MiddlewareOptions{}), req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got.UserID != "C1" {
		t.Errorf("UserID = %q, want C1", got.UserID)
	}
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	verifier := newTestVerifier(t)
	expired, _ := verifier.Generate(Identity{UserID: "C1"}, -time.Hour)

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{"missing header", "", "missing authorization header"},
		{"basic auth", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"empty bearer", "Bearer ", "empty token"},
		{"garbage", "Bearer nope", "invalid token"},
		{"expired", "Bearer " + expired, "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec, got := serve(t, HTTPAuthMiddleware(verifier, nil, MiddlewareOptions{}), req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			if got != nil {
				t.Error("handler should not have been called")
			}
			if !strings.Contains(rec.Body.String(), tt.wantMsg) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantMsg)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
		})
	}
}

func TestHTTPAuthMiddleware_DevHeaders(t *testing.T) {
	verifier := newTestVerifier(t)

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
		req.Header.Set(HeaderUserID, "A7")
		req.Header.Set(HeaderUserName, "Avery")
		req.Header.Set(HeaderUserRole, "ADMIN")
		return req
	}

	rec, _ := serve(t, HTTPAuthMiddleware(verifier, nil, MiddlewareOptions{}), newReq())
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("dev headers must be ignored unless enabled, got %d", rec.Code)
	}

	rec, got := serve(t, HTTPAuthMiddleware(verifier, nil, MiddlewareOptions{AllowDevHeaders: true}), newReq())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got.UserID != "A7" || got.DisplayName != "Avery" || !got.IsAdmin() {
		t.Errorf("unexpected auth context: %+v", got)
	}
}

func TestHTTPAuthMiddleware_NoVerifier(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec, _ := serve(t, HTTPAuthMiddleware(nil, nil, MiddlewareOptions{AllowDevHeaders: true}), req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), HeaderUserID) {
		t.Errorf("body = %q, want it to name %s", rec.Body.String(), HeaderUserID)
	}
}

func TestHTTPAuthMiddleware_KeepsDirectoryRoleWhenTokenHasNone(t *testing.T) {
	verifier := newTestVerifier(t)
	users := store.NewMockStore()
	ctx := context.Background()
	if err := users.UpsertUser(ctx, &store.User{ID: "A1", DisplayName: "Alex", Role: RoleAdmin}); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}

	token, _ := verifier.Generate(Identity{UserID: "A1"}, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	serve(t, HTTPAuthMiddleware(verifier, users, MiddlewareOptions{}), req)

	user, _ := users.GetUser(ctx, "A1")
	if user.Role != RoleAdmin || user.DisplayName != "Alex" {
		t.Errorf("directory entry was overwritten: %+v", user)
	}
}

func TestRequireAdminHTTP(t *testing.T) {
	tests := []struct {
		name string
		auth *AuthContext
		want int
	}{
		{"not authenticated", nil, http.StatusUnauthorized},
		{"customer", &AuthContext{UserID: "C1", Roles: []string{RoleCustomer}}, http.StatusForbidden},
		{"admin", &AuthContext{UserID: "A1", Roles: []string{RoleAdmin}}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/conversations", nil)
			if tt.auth != nil {
				req = req.WithContext(WithAuth(req.Context(), tt.auth))
			}
			rec, _ := serve(t, RequireAdminHTTP(), req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRoleClaimAuthorizer(t *testing.T) {
	users := store.NewMockStore()
	ctx := context.Background()
	_ = users.UpsertUser(ctx, &store.User{ID: "A1", Role: RoleAdmin})
	_ = users.UpsertUser(ctx, &store.User{ID: "C2", Role: RoleCustomer})

	authz := NewRoleClaimAuthorizer(users)
	conv := &store.Conversation{ID: "conv-1", CustomerID: "C1"}

	if !authz.CanClaim(ctx, conv, "A1") {
		t.Error("directory admin should be able to claim")
	}
	if authz.CanClaim(ctx, conv, "C2") {
		t.Error("customer should not be able to claim")
	}
	if authz.CanClaim(ctx, conv, "unknown") {
		t.Error("unknown user should not be able to claim")
	}

	adminCtx := WithAuth(ctx, &AuthContext{UserID: "A9", Roles: []string{RoleOwner}})
	if !authz.CanClaim(adminCtx, conv, "A9") {
		t.Error("caller with an admin token should be able to claim")
	}
	if authz.CanClaim(adminCtx, conv, "C2") {
		t.Error("caller's roles must not apply to another user")
	}
}
