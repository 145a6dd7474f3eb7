// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/hitoshi/presenze/internal/model"
)

// AdminTokenHeader は管理者トークンを送るHTTPヘッダー名。
const AdminTokenHeader = "X-Admin-Token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// privilegedContextKey はリクエストコンテキストに管理者フラグを格納するためのキー。
var privilegedContextKey = contextKey("privileged")

// NewAdminMiddleware はリクエストから管理者フラグを判定し、コンテキストに注入するミドルウェアを返す。
// adminTokenが空の場合は ?admin=true クエリで管理者モードになる。
// adminTokenが設定されている場合は X-Admin-Token ヘッダーまたは admin クエリがトークンと一致する必要がある。
func NewAdminMiddleware(adminToken string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			privileged := isAdminRequest(r, adminToken)
			ctx := WithPrivilege(r.Context(), privileged)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePrivilege は管理者フラグのないリクエストに403を返すミドルウェアを返す。
// NewAdminMiddlewareの後に配置する。
func RequirePrivilege() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsPrivileged(r.Context()) {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithPrivilege はコンテキストに管理者フラグを設定する。
func WithPrivilege(ctx context.Context, privileged bool) context.Context {
	return context.WithValue(ctx, privilegedContextKey, privileged)
}

// IsPrivileged はコンテキストの管理者フラグを返す。未設定の場合はfalse。
func IsPrivileged(ctx context.Context) bool {
	privileged, ok := ctx.Value(privilegedContextKey).(bool)
	return ok && privileged
}

func isAdminRequest(r *http.Request, adminToken string) bool {
	if adminToken == "" {
		return r.URL.Query().Get("admin") == "true"
	}

	candidate := r.Header.Get(AdminTokenHeader)
	if candidate == "" {
		candidate = r.URL.Query().Get("admin")
	}
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(adminToken)) == 1
}
