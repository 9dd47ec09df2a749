package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mavae-gateway/internal/middleware"
	"github.com/hitoshi/mavae-gateway/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// ViewerForgetter はログアウトした閲覧者のストアを破棄する。store.Registryが実装する。
type ViewerForgetter interface {
	Forget(viewerID string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	viewers ViewerForgetter
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。viewersはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, viewers ViewerForgetter, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		viewers: viewers,
		config:  config,
	}
}

// meResponse は/auth/meのレスポンス。
type meResponse struct {
	DID       string `json:"did"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, h.cookie(oauthStateCookie, state, 600, ""))
	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		middleware.WriteAPIError(w, model.NewInvalidRequestError("stateが一致しません"))
		return
	}
	http.SetCookie(w, h.cookie(oauthStateCookie, "", -1, ""))

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("認可コードがありません"))
		return
	}

	// 3. Google認証・上流ログイン・セッション作成
	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteAPIError(w, model.NewUpstreamError("ログインに失敗しました"))
		return
	}

	// 4. 以前のトークンで作られたストアを破棄する
	if h.viewers != nil {
		h.viewers.Forget(session.UserDID)
	}

	// 5. セッションCookieを設定してフロントエンドに戻す
	http.SetCookie(w, h.cookie(middleware.SessionCookieName, session.ID, h.config.SessionMaxAge, h.config.CookieDomain))
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションと閲覧者のストアを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
		}
	}
	if viewer, ok := middleware.ViewerFromContext(r.Context()); ok && h.viewers != nil {
		h.viewers.Forget(viewer.DID)
	}

	http.SetCookie(w, h.cookie(middleware.SessionCookieName, "", -1, h.config.CookieDomain))
	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), cookie.Value)
	if err != nil {
		slog.Info("current user not resolved", slog.String("error", err.Error()))
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, meResponse{
		DID:       user.DID,
		Email:     user.Email,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	})
}

func (h *AuthHandler) cookie(name, value string, maxAge int, domain string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
