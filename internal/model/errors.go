// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, content, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInvalidVisibility = "INVALID_VISIBILITY"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeToggleInFlight    = "TOGGLE_IN_FLIGHT"
	ErrCodeUpstream          = "UPSTREAM_ERROR"
	ErrCodeInvalidURL        = "INVALID_URL"
	ErrCodeSSRFBlocked       = "SSRF_BLOCKED"
	ErrCodeFetchFailed       = "FETCH_FAILED"
	ErrCodeMediaNotDetected  = "MEDIA_NOT_DETECTED"
	ErrCodeForbidden         = "FORBIDDEN"
)

// NewUnauthorizedError は認証が必要な操作に対するエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewInvalidVisibilityError は公開範囲の値が不正な場合のエラーを生成する。
func NewInvalidVisibilityError(v string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidVisibility,
		Message:  fmt.Sprintf("無効な公開範囲です: %s", v),
		Category: "validation",
		Action:   "公開範囲には public、private、hidden のいずれかを指定してください。",
	}
}

// NewNotFoundError は対象リソースが見つからない場合のエラーを生成する。
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された%sが見つかりません: %s", resource, id),
		Category: "content",
		Action:   "IDを確認してください。",
	}
}

// NewToggleInFlightError は同一対象への更新が処理中の場合のエラーを生成する。
func NewToggleInFlightError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeToggleInFlight,
		Message:  fmt.Sprintf("このコンテンツへの更新は処理中です: %s", id),
		Category: "content",
		Action:   "前回の操作の完了を待ってから再度お試しください。",
	}
}

// NewUpstreamError は上流APIの呼び出し失敗エラーを生成する。
func NewUpstreamError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  fmt.Sprintf("コンテンツサーバーとの通信に失敗しました: %s", reason),
		Category: "upstream",
		Action:   "しばらく待ってから「再試行」を押してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "権限を持つアカウントでログインしてください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError はURL取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "content",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewMediaNotDetectedError は画像を検出できなかった場合のエラーを生成する。
func NewMediaNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeMediaNotDetected,
		Message:  fmt.Sprintf("指定されたURLから画像を検出できませんでした: %s", url),
		Category: "content",
		Action:   "画像のURLを直接入力するか、og:image を持つページのURLを指定してください。",
	}
}
