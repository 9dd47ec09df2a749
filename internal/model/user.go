// Package model はドメインモデルを定義する。
package model

import "time"

// User はゲートウェイにログインしたユーザーを表す。
// 主キーは上流サービスが発行するDID。
type User struct {
	DID       string
	Email     string
	Name      string
	AvatarURL string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
// 上流APIのトークンをセッションと一緒に保持する。
type Session struct {
	ID             string
	UserDID        string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// UserSummary はコンテンツの所有者など一覧に埋め込まれるユーザー情報。
type UserSummary struct {
	DID    string `json:"did"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// UserProfile はプロフィール画面のヘッダー情報（UserState）。
type UserProfile struct {
	UserSummary
	Bio           string    `json:"bio,omitempty"`
	ContentCount  int       `json:"content_count"`
	ModelCount    int       `json:"model_count"`
	WorkflowCount int       `json:"workflow_count"`
	FollowerCount int       `json:"follower_count"`
	CreatedAt     time.Time `json:"created_at"`
}
