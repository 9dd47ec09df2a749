// Package model はドメインモデルを定義する。
package model

import "time"

// GenerationState はコンテンツの生成状態を表す。
type GenerationState int

const (
	// GenerationPending は生成待ち。
	GenerationPending GenerationState = 0
	// GenerationSucceeded は生成成功。
	GenerationSucceeded GenerationState = 1
	// GenerationFailed は生成失敗。
	GenerationFailed GenerationState = 2
)

// Visibility はコンテンツの公開範囲を表す。
type Visibility string

const (
	// VisibilityPublic は公開。
	VisibilityPublic Visibility = "public"
	// VisibilityPrivate は本人のみ。
	VisibilityPrivate Visibility = "private"
	// VisibilityHidden は管理者による非表示。変更にはエージェントトークンが必要。
	VisibilityHidden Visibility = "hidden"
)

// Valid は公開範囲が定義済みの値かどうかを返す。
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityHidden:
		return true
	}
	return false
}

// ContentItem は生成されたコンテンツ（画像・動画）を表す。
// 生成リクエストで作成され、いいね・公開範囲の変更で更新される。
// ローカルで削除されることはなく、非表示にするだけ。
type ContentItem struct {
	ID          string          `json:"content_id"`
	Source      string          `json:"source,omitempty"`
	SourceID    string          `json:"source_id,omitempty"`
	URL         string          `json:"url"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	State       GenerationState `json:"state"`
	Visibility  Visibility      `json:"visibility"`
	Description string          `json:"description,omitempty"`
	LikeCount   int             `json:"like_count"`
	IsLiked     bool            `json:"is_liked"`
	User        UserSummary     `json:"user"`
	CreatedAt   time.Time       `json:"created_at"`
	LikedAt     *time.Time      `json:"liked_at,omitempty"`
}

// GroupTime は日付グルーピングに使う時刻を返す。
// created_atが無い場合はliked_atにフォールバックする。
func (c ContentItem) GroupTime() time.Time {
	if !c.CreatedAt.IsZero() {
		return c.CreatedAt
	}
	if c.LikedAt != nil {
		return *c.LikedAt
	}
	return time.Time{}
}

// ModelItem はモデルギャラリーの1件を表す。
type ModelItem struct {
	ID          string      `json:"model_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	CoverURL    string      `json:"cover_url,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	UsageCount  int         `json:"usage_count"`
	LikeCount   int         `json:"like_count"`
	IsLiked     bool        `json:"is_liked"`
	User        UserSummary `json:"user"`
	CreatedAt   time.Time   `json:"created_at"`
}

// WorkflowItem はワークフローギャラリーの1件を表す。
type WorkflowItem struct {
	ID          string      `json:"workflow_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	CoverURL    string      `json:"cover_url,omitempty"`
	UsageCount  int         `json:"usage_count"`
	LikeCount   int         `json:"like_count"`
	IsLiked     bool        `json:"is_liked"`
	User        UserSummary `json:"user"`
	CreatedAt   time.Time   `json:"created_at"`
}

// WorkflowDetail はワークフロー詳細画面の情報（WorkflowDetailState）。
type WorkflowDetail struct {
	WorkflowItem
	Prompt string          `json:"prompt,omitempty"`
	Inputs []WorkflowInput `json:"inputs,omitempty"`
	Models []string        `json:"models,omitempty"`
}

// WorkflowInput はワークフローの入力パラメータ定義。
type WorkflowInput struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Tag はトピック（タグ）を表す。
type Tag struct {
	Name         string `json:"name"`
	ContentCount int    `json:"content_count"`
}
