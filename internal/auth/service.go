// Package auth はGoogle OAuth認証フロー、上流サービスへのログイン、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mavae-gateway/internal/apiclient"
	"github.com/hitoshi/mavae-gateway/internal/model"
	"github.com/hitoshi/mavae-gateway/internal/repository"
)

// ErrSessionNotFound はセッションが存在しないか期限切れの場合に返される。
var ErrSessionNotFound = errors.New("session not found or expired")

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Picture        string
	IDToken        string
	Provider       string // "google"
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// UpstreamLogin は上流サービスの/auth/loginを呼び出すインターフェース。
// apiclient.Clientが実装する。
type UpstreamLogin interface {
	Login(ctx context.Context, req apiclient.LoginRequest) (*apiclient.LoginResponse, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	upstream    UpstreamLogin
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	upstream UpstreamLogin,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		upstream:    upstream,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
//  1. 認可コードを交換してGoogleアカウント情報を得る
//  2. 上流の/auth/loginでDIDとトークンを受け取る
//  3. ユーザー（auth_user）を保存し、トークン（auth_tokens）付きのセッションを作る
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	login, err := s.upstream.Login(ctx, apiclient.LoginRequest{
		Provider: info.Provider,
		GoogleID: info.ProviderUserID,
		Email:    info.Email,
		Name:     info.Name,
		Picture:  info.Picture,
		IDToken:  info.IDToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to login upstream: %w", err)
	}

	user := &model.User{
		DID:       login.User.DID,
		Email:     firstNonEmpty(login.User.Email, info.Email),
		Name:      firstNonEmpty(login.User.Name, info.Name),
		AvatarURL: firstNonEmpty(login.User.Avatar, info.Picture),
	}
	if err := s.userRepo.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	session, err := s.createSession(ctx, user.DID, login.Tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in",
		slog.String("did", user.DID),
		slog.String("provider", info.Provider),
	)
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	user, err := s.userRepo.FindByDID(ctx, session.UserDID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found: %s", session.UserDID)
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, did string, tokens apiclient.AuthTokens) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:           sessionID,
		UserDID:      did,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt:    now,
	}
	if tokens.ExpiresIn > 0 {
		exp := now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
		session.TokenExpiresAt = &exp
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
