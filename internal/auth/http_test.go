// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, and the role gate

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func serve(t *testing.T, h http.Handler, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/bookings", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, _ := verifier.Generate("reception", RoleStaff, time.Hour)

	var got Identity
	var ok bool
	handler := Middleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := serve(t, handler, "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !ok || got.Subject != "reception" || got.Role != RoleStaff {
		t.Errorf("FromContext() = %+v, %v", got, ok)
	}
}

func TestMiddleware_Rejections(t *testing.T) {
	verifier := newTestVerifier(t)
	expired, _ := verifier.Generate("reception", RoleStaff, -time.Minute)

	tests := []struct {
		name    string
		header  string
		wantErr string
	}{
		{"missing header", "", "missing authorization header"},
		{"basic auth", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"empty bearer", "Bearer ", "empty token"},
		{"garbage", "Bearer nope", "invalid token"},
		{"expired", "Bearer " + expired, "token expired"},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not be called")
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, Middleware(verifier, nil)(next), tt.header)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantErr) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantErr)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	verifier := newTestVerifier(t)
	staff, _ := verifier.Generate("reception", RoleStaff, time.Hour)
	admin, _ := verifier.Generate("dr-khan", RoleAdmin, time.Hour)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := Middleware(verifier, nil)(RequireRole(RoleAdmin)(ok))

	if rec := serve(t, handler, "Bearer "+staff); rec.Code != http.StatusForbidden {
		t.Errorf("staff: expected status 403, got %d", rec.Code)
	}
	if rec := serve(t, handler, "Bearer "+admin); rec.Code != http.StatusNoContent {
		t.Errorf("admin: expected status 204, got %d", rec.Code)
	}
}

func TestRequireRole_WithoutMiddleware(t *testing.T) {
	handler := RequireRole(RoleStaff)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not be called")
	}))

	rec := serve(t, handler, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}
