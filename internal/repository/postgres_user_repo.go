package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/mavae-gateway/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// Upsert はDIDをキーにユーザーを作成または更新する。
// created_atは初回作成時の値を保持し、updated_atは常に更新する。
func (r *PostgresUserRepo) Upsert(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (did, email, name, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())
		 ON CONFLICT (did) DO UPDATE
		 SET email = EXCLUDED.email,
		     name = EXCLUDED.name,
		     avatar_url = EXCLUDED.avatar_url,
		     updated_at = now()
		 RETURNING created_at, updated_at`,
		user.DID, user.Email, user.Name, user.AvatarURL,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// FindByDID は指定DIDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByDID(ctx context.Context, did string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT did, email, name, avatar_url, created_at, updated_at
		 FROM users
		 WHERE did = $1`,
		did,
	).Scan(&user.DID, &user.Email, &user.Name, &user.AvatarURL, &user.CreatedAt, &user.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
