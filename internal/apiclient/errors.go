package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError は上流APIが返したエラーを表す。
// HTTPステータスまたはエンベロープのstatusCodeと、サーバーのメッセージ・dataを保持する。
type APIError struct {
	StatusCode int
	Message    string
	Data       json.RawMessage
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream API error: status %d: %s", e.StatusCode, e.Message)
}

// Retryable はこのエラーがリトライ対象かどうかを返す。
// 429と5xxのみリトライする。
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// StatusOf はerrがAPIErrorを含む場合にそのステータスコードを返す。
// 含まない場合は0を返す。
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound はerrが404のAPIErrorかどうかを返す。
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsUnauthorized はerrが401/403のAPIErrorかどうかを返す。
func IsUnauthorized(err error) bool {
	s := StatusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden
}
