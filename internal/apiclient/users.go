package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"github.com/hitoshi/mavae-gateway/internal/model"
)

// GetUser はユーザーのプロフィールを取得する。
func (c *Client) GetUser(ctx context.Context, did string) (*model.UserProfile, error) {
	var out model.UserProfile
	err := c.Do(ctx, Request{
		Method:   http.MethodGet,
		Path:     "/users/" + url.PathEscape(did),
		Endpoint: "/users/{did}",
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", did, err)
	}
	return &out, nil
}

// ListTags はトピック（タグ）の一覧を取得する。
func (c *Client) ListTags(ctx context.Context, p PageParams) (*ListResult[model.Tag], error) {
	var out ListResult[model.Tag]
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/tags", Query: p.Values()}, &out); err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	return &out, nil
}

// LoginRequest は上流の/auth/loginに送るGoogleアカウント情報。
type LoginRequest struct {
	Provider string `json:"provider"`
	GoogleID string `json:"google_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture,omitempty"`
	IDToken  string `json:"id_token"`
}

// AuthTokens は上流APIが発行するトークン（auth_tokens）。
type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// LoginUser は/auth/loginが返すユーザー情報（auth_user）。
type LoginUser struct {
	DID    string `json:"did"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// LoginResponse は/auth/loginのdata部分。
type LoginResponse struct {
	User   LoginUser  `json:"user"`
	Tokens AuthTokens `json:"tokens"`
}

// Login はGoogleで認証したユーザーを上流サービスにログインさせる。
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if req.Provider == "" {
		req.Provider = "google"
	}
	var out LoginResponse
	if err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/login", Body: req}, &out); err != nil {
		return nil, fmt.Errorf("upstream login failed: %w", err)
	}
	if out.User.DID == "" || out.Tokens.AccessToken == "" {
		return nil, fmt.Errorf("upstream login returned no user or token")
	}
	return &out, nil
}

type uploadResponse struct {
	URL string `json:"url"`
}

// UploadFile はファイルをmultipart/form-dataでアップロードし、ホストされたURLを返す。
func (c *Client) UploadFile(ctx context.Context, name, contentType string, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write multipart body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	var out uploadResponse
	err = c.Do(ctx, Request{
		Method:      http.MethodPost,
		Path:        "/files/upload",
		RawBody:     buf.Bytes(),
		ContentType: w.FormDataContentType(),
	}, &out)
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload response has no url")
	}
	return out.URL, nil
}
