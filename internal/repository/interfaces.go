// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/mavae-gateway/internal/model"
)

// UserRepository はログインユーザー（auth_user）の永続化インターフェース。
type UserRepository interface {
	// Upsert はDIDをキーにユーザーを作成または更新する。
	Upsert(ctx context.Context, user *model.User) error
	// FindByDID は指定DIDのユーザーを取得する。見つからない場合はnilを返す。
	FindByDID(ctx context.Context, did string) (*model.User, error)
}

// SessionRepository はセッションと上流トークン（auth_tokens）の永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
