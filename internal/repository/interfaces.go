// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// emailが重複している場合はmodel.ErrCodeAlreadyExistsのAPIErrorを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はユーザー情報を更新する。
	Update(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するrefresh_tokensはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// RefreshTokenRepository はリフレッシュトークンの永続化インターフェース。
// トークン本体は保存せず、argon2idハッシュのみを保存する。
type RefreshTokenRepository interface {
	// Create はリフレッシュトークンレコードを作成する。
	Create(ctx context.Context, token *model.RefreshToken) error

	// FindActiveByUserID は指定ユーザーの未失効トークンを作成日時降順で返す。
	FindActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*model.RefreshToken, error)

	// DeleteByID は指定IDのトークンレコードを削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByUserID は指定ユーザーの全トークンレコードを削除し、削除件数を返す。
	DeleteByUserID(ctx context.Context, userID string) (int64, error)

	// DeleteExpired は失効済みトークンレコードを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// DeleteAll は全トークンレコードを削除し、削除件数を返す。
	DeleteAll(ctx context.Context) (int64, error)
}
