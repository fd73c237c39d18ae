// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/parkman/internal/model"
)

// 上流の認証ゲートウェイが付与する識別ヘッダー
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに利用者情報を格納するためのキー。
var identityContextKey = contextKey("identity")

// Identity は認証済みの利用者を表す。
type Identity struct {
	UserID string
	Role   model.Role
}

// NewIdentityMiddleware は認証ゲートウェイが付与したヘッダーから利用者を読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// ユーザーIDがない場合やロールが不正な場合は401 Unauthorizedを返す。
func NewIdentityMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if userID == "" {
				WriteError(w, model.NewUnauthorizedError())
				return
			}

			role := model.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))))
			switch role {
			case "":
				role = model.RoleUser
			case model.RoleUser, model.RoleAdmin:
			default:
				WriteError(w, model.NewUnauthorizedError())
				return
			}

			ctx := ContextWithIdentity(r.Context(), Identity{UserID: userID, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin は管理者以外のリクエストに403 Forbiddenを返すミドルウェア。
// NewIdentityMiddlewareの後に配置する。
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			WriteError(w, model.NewUnauthorizedError())
			return
		}
		if id.Role != model.RoleAdmin {
			WriteError(w, model.NewForbiddenError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFromContext はリクエストコンテキストから利用者情報を取得する。
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 識別ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return id.UserID, nil
}

// ContextWithIdentity はコンテキストに利用者情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}
