// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mavae-gateway/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// viewerContextKey はリクエストコンテキストに閲覧者を格納するためのキー。
var viewerContextKey = contextKey("viewer")

// Viewer はログイン中の閲覧者。上流APIの呼び出しに使うトークンを持つ。
type Viewer struct {
	DID         string
	AccessToken string
	SessionID   string
}

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効なセッションであれば閲覧者をリクエストコンテキストに注入する。
// セッションがない、または無効な場合は匿名のまま次のハンドラーに渡す。
// 認証必須のルートでは RequireViewer を併用する。
func NewSessionMiddleware(sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if session == nil {
				next.ServeHTTP(w, r)
				return
			}

			viewer := Viewer{
				DID:         session.UserDID,
				AccessToken: session.AccessToken,
				SessionID:   session.ID,
			}
			recordViewer(r.Context(), viewer.DID)
			next.ServeHTTP(w, r.WithContext(ContextWithViewer(r.Context(), viewer)))
		})
	}
}

// RequireViewer は閲覧者がいないリクエストに401を返すミドルウェア。
// NewSessionMiddleware の後に配置する。
func RequireViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ViewerFromContext(r.Context()); !ok {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ViewerFromContext はリクエストコンテキストから閲覧者を取得する。
func ViewerFromContext(ctx context.Context) (Viewer, bool) {
	v, ok := ctx.Value(viewerContextKey).(Viewer)
	if !ok || v.DID == "" {
		return Viewer{}, false
	}
	return v, true
}

// ContextWithViewer はコンテキストに閲覧者を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, viewerContextKey, v)
}
