package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/parkman/internal/model"
)

func TestIdentityMiddleware_InjectsIdentity(t *testing.T) {
	tests := []struct {
		name     string
		roleHdr  string
		wantRole model.Role
	}{
		{"ロール省略時はuser", "", model.RoleUser},
		{"管理者", "admin", model.RoleAdmin},
		{"大文字・空白を許容", " ADMIN ", model.RoleAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured Identity
			handler := NewIdentityMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, ok := IdentityFromContext(r.Context())
				if !ok {
					t.Error("identity not found in context")
				}
				captured = id
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/lots", nil)
			req.Header.Set(HeaderUserID, "user-123")
			if tt.roleHdr != "" {
				req.Header.Set(HeaderUserRole, tt.roleHdr)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Result().StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
			}
			if captured.UserID != "user-123" || captured.Role != tt.wantRole {
				t.Errorf("identity = %+v, want user-123/%s", captured, tt.wantRole)
			}
		})
	}
}

func TestIdentityMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		roleHdr string
	}{
		{"ユーザーIDなし", "", ""},
		{"空白のみ", "   ", ""},
		{"不明なロール", "user-1", "root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewIdentityMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/lots", nil)
			req.Header.Set(HeaderUserID, tt.userID)
			req.Header.Set(HeaderUserRole, tt.roleHdr)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Result().StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
			}
			if called {
				t.Error("next handler should not be called")
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name   string
		role   string
		status int
	}{
		{"管理者は通過", "admin", http.StatusOK},
		{"一般ユーザーは403", "user", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewIdentityMiddleware()(RequireAdmin(okHandler()))

			req := httptest.NewRequest(http.MethodGet, "/api/admin/dashboard", nil)
			req.Header.Set(HeaderUserID, "user-1")
			req.Header.Set(HeaderUserRole, tt.role)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Result().StatusCode != tt.status {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.status)
			}
		})
	}
}

func TestRequireAdmin_WithoutIdentity_Returns401(t *testing.T) {
	w := httptest.NewRecorder()
	RequireAdmin(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/dashboard", nil))
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := UserIDFromContext(req.Context()); err == nil {
		t.Error("expected error for missing identity")
	}
}
