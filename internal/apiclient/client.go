// Package apiclient は上流REST API（/mavae_api, /studio-api）のクライアントを提供する。
// リトライ・タイムアウト付きのJSON over HTTPS呼び出しと、
// {statusCode, message, data} エンベロープの展開を行う。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mavae-gateway/internal/metrics"
)

const (
	// userAgent は上流APIへ送るUser-Agent。
	userAgent = "MavaeGateway/1.0"
	// agentTokenHeader は特権操作で付与するヘッダー名。
	agentTokenHeader = "X-Agent-Token"
	// maxResponseSize はレスポンスボディの最大サイズ（10MB）。
	maxResponseSize = 10 * 1024 * 1024

	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 3
	defaultRetryDelay  = time.Second
)

// Config はAPIクライアントの設定。
type Config struct {
	BaseURL     string        // 例: https://example.com/mavae_api
	BearerToken string        // Authorization: Bearer に使うトークン（空なら付与しない）
	AgentToken  string        // X-Agent-Token に使うトークン（Agent指定のリクエストのみ）
	Timeout     time.Duration // 1回の試行あたりのタイムアウト
	MaxAttempts int           // 初回を含む最大試行回数
	RetryDelay  time.Duration // 線形バックオフの単位時間
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Metrics     metrics.MetricsCollector
}

// Client は上流APIのベースクライアント。
// WithTokenで閲覧者ごとのトークンを差し替えたコピーを作れる。
type Client struct {
	baseURL     string
	bearerToken string
	agentToken  string
	timeout     time.Duration
	maxAttempts int
	retryDelay  time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
	sleep       func(ctx context.Context, d time.Duration) error // テスト用に差し替え可能
}

// New はClientを生成する。
// BaseURLは絶対URLである必要がある。
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("API base URL must be absolute http(s): %q", cfg.BaseURL)
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		bearerToken: cfg.BearerToken,
		agentToken:  cfg.AgentToken,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		sleep:       sleepContext,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.retryDelay < 0 {
		c.retryDelay = defaultRetryDelay
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop{}
	}
	return c, nil
}

// WithToken は閲覧者のトークンを使うClientのコピーを返す。
// tokenが空の場合はサービス用のBearerトークンをそのまま使う。
func (c *Client) WithToken(token string) *Client {
	if token == "" {
		return c
	}
	cp := *c
	cp.bearerToken = token
	return &cp
}

// HasToken はBearerトークンが設定されているかを返す。
func (c *Client) HasToken() bool {
	return c.bearerToken != ""
}

// Request は1回の論理的なAPI呼び出しを表す。
type Request struct {
	Method   string
	Path     string     // ベースURLからの相対パス（例: /contents）
	Endpoint string     // メトリクス用のエンドポイント名（空ならPath）
	Query    url.Values // 空値のパラメータは送信しない
	Body     any        // JSONとしてエンコードされる
	// RawBody/ContentType はmultipart等、JSON以外のボディを送る場合に使う。
	RawBody     []byte
	ContentType string
	// Agent がtrueの場合はX-Agent-Tokenヘッダーを付与する。
	Agent bool
}

// envelope は上流APIの共通レスポンス形式。
type envelope struct {
	StatusCode *int            `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

// Do はリクエストを実行し、レスポンスのdataをoutにデコードする。
// 通信エラー・タイムアウト・429/5xxは固定回数まで線形バックオフでリトライする。
// それ以外の4xxやエンベロープのエラーはリトライせず*APIErrorを返す。
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	var body []byte
	contentType := req.ContentType
	if req.RawBody != nil {
		body = req.RawBody
	} else if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		body = b
		contentType = "application/json"
	}

	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = req.Path
	}
	requestID := uuid.New().String()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			c.metrics.RecordUpstreamRetry(endpoint)
			// 線形バックオフ: 2回目はdelay、3回目は2*delay ...
			if err := c.sleep(ctx, c.retryDelay*time.Duration(attempt-1)); err != nil {
				return err
			}
		}

		err := c.doOnce(ctx, req, endpoint, requestID, body, contentType, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !c.shouldRetry(ctx, err) {
			return err
		}

		c.logger.Warn("上流APIの呼び出しに失敗しました。リトライします",
			slog.String("endpoint", endpoint),
			slog.String("request_id", requestID),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.maxAttempts),
			slog.String("error", err.Error()),
		)
	}

	c.logger.Error("上流APIの呼び出しがリトライ上限に達しました",
		slog.String("endpoint", endpoint),
		slog.String("request_id", requestID),
		slog.Int("max_attempts", c.maxAttempts),
		slog.String("error", lastErr.Error()),
	)
	return fmt.Errorf("%d回の試行後も失敗しました: %w", c.maxAttempts, lastErr)
}

// doOnce は1回分のHTTPリクエストを実行する。
// 試行ごとにタイムアウトを設定し、超過した場合はリクエストを中断する。
func (c *Client) doOnce(
	ctx context.Context,
	req Request,
	endpoint, requestID string,
	body []byte,
	contentType string,
	out any,
) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, c.buildURL(req.Path, req.Query), reader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if c.bearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	if req.Agent && c.agentToken != "" {
		httpReq.Header.Set(agentTokenHeader, c.agentToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.RecordUpstreamRequest(endpoint, 0, time.Since(start))
		return fmt.Errorf("上流APIへのリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	c.metrics.RecordUpstreamRequest(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	return decodeResponse(resp.StatusCode, raw, out)
}

// decodeResponse はHTTPステータスとボディからエンベロープを展開する。
func decodeResponse(httpStatus int, raw []byte, out any) error {
	env, isEnvelope := parseEnvelope(raw)

	if httpStatus < 200 || httpStatus >= 300 {
		apiErr := &APIError{StatusCode: httpStatus, Message: http.StatusText(httpStatus)}
		if isEnvelope {
			if env.Message != "" {
				apiErr.Message = env.Message
			}
			apiErr.Data = env.Data
		}
		return apiErr
	}

	if !isEnvelope {
		if out == nil || len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return &decodeError{err: err}
		}
		return nil
	}

	if env.StatusCode != nil && (*env.StatusCode < 200 || *env.StatusCode >= 300) {
		return &envelopeError{APIError{
			StatusCode: *env.StatusCode,
			Message:    env.Message,
			Data:       env.Data,
		}}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

// parseEnvelope はボディがエンベロープ形式かどうかを判定して返す。
// statusCode または data キーを持つJSONオブジェクトをエンベロープとみなす。
func parseEnvelope(raw []byte) (envelope, bool) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return envelope{}, false
	}
	_, hasStatus := keys["statusCode"]
	_, hasData := keys["data"]
	if !hasStatus && !hasData {
		return envelope{}, false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, false
	}
	return env, true
}

// buildURL はベースURL・相対パス・クエリパラメータから絶対URLを組み立てる。
func (c *Client) buildURL(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")

	if len(query) == 0 {
		return u
	}
	q := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			if v != "" {
				q.Add(k, v)
			}
		}
	}
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// shouldRetry はエラーがリトライ対象かどうかを判定する。
// 呼び出し元のキャンセルはリトライしない。
func (c *Client) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var envErr *envelopeError
	if errors.As(err, &envErr) {
		return false
	}
	var decErr *decodeError
	if errors.As(err, &decErr) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// 通信エラー・試行タイムアウト
	return true
}

// envelopeError はHTTP 2xxだがエンベロープのstatusCodeがエラーを示す場合のエラー。
// errors.Asで*APIErrorとしても取り出せる。
type envelopeError struct {
	APIError
}

func (e *envelopeError) Unwrap() error { return &e.APIError }

// decodeError はレスポンスのJSONデコード失敗を表す。
type decodeError struct {
	err error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("レスポンスJSONのパースに失敗しました: %v", e.err)
}

func (e *decodeError) Unwrap() error { return e.err }

// sleepContext はコンテキストのキャンセルを考慮して待機する。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
