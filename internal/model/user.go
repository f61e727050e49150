// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限ロールを表す。
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleEditor Role = "editor"
)

// IsValid はロールが定義済みの値であるかを返す。
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleEditor:
		return true
	}
	return false
}

// RegisterMethod はユーザーの登録経路を表す。
type RegisterMethod string

const (
	RegisterMethodEmail  RegisterMethod = "email"
	RegisterMethodGoogle RegisterMethod = "google"
)

// IsValid は登録経路が定義済みの値であるかを返す。
func (m RegisterMethod) IsValid() bool {
	switch m {
	case RegisterMethodEmail, RegisterMethodGoogle:
		return true
	}
	return false
}

// User はサービス利用ユーザーを表す。
// Passwordはbcryptハッシュを保持し、OAuth経由で登録されたアカウントでは空になる。
// emailはユーザーを一意に識別する。
type User struct {
	ID             string
	Email          string
	Name           string
	LastName       string
	Role           Role
	RegisterMethod RegisterMethod
	ProfilePic     string
	Password       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasPassword はローカルログイン可能なアカウントであるかを返す。
func (u *User) HasPassword() bool {
	return u.Password != ""
}

// RefreshToken はユーザーのリフレッシュトークンレコードを表す。
// HashedTokenにはargon2idハッシュのみを保持し、生のトークンは永続化しない。
// 1ユーザーが複数の有効なトークンを同時に保持できる（マルチセッション）。
type RefreshToken struct {
	ID          string
	UserID      string
	HashedToken string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsExpired は基準時刻においてトークンが期限切れであるかを返す。
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
