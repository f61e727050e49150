// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
	Cause    error  // ラップされた下位layerのエラー（ログ専用、レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap はラップされた下位エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Cause
}

// 定義済みエラーコード
const (
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeAlreadyExists      = "ALREADY_EXISTS"
	ErrCodeNoPassword         = "USER_HAS_NO_PASSWORD"
	ErrCodeInvalidPassword    = "INVALID_PASSWORD"
	ErrCodeIssueTokenFailed   = "ISSUE_TOKEN_FAILED"
	ErrCodeExpiredOrInvalid   = "EXPIRED_OR_INVALID_TOKEN"
	ErrCodePersistenceFailure = "PERSISTENCE_FAILURE"
	ErrCodeHashFailure        = "HASH_FAILURE"
)

// IsCode はerrが指定コードのAPIErrorであるかを判定する。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// IsDomainError はクライアント起因の想定内エラー（4xx相当）であるかを判定する。
// falseの場合はインフラ障害（5xx相当）として扱い、詳細はログのみに残す。
func IsDomainError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case ErrCodeUserNotFound, ErrCodeAlreadyExists, ErrCodeNoPassword,
		ErrCodeInvalidPassword, ErrCodeExpiredOrInvalid:
		return true
	}
	return false
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "メールアドレスを確認するか、新規登録してください。",
	}
}

// NewAlreadyExistsError はメールアドレス重複エラーを生成する。
func NewAlreadyExistsError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyExists,
		Message:  fmt.Sprintf("このメールアドレスは既に登録されています: %s", email),
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewNoPasswordError はパスワード未設定アカウントへのローカルログイン試行エラーを生成する。
func NewNoPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeNoPassword,
		Message:  "このアカウントにはパスワードが設定されていません。",
		Category: "auth",
		Action:   "Googleログインなど、登録時の方法でログインしてください。",
	}
}

// NewInvalidPasswordError はパスワード不一致エラーを生成する。
func NewInvalidPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPassword,
		Message:  "パスワードが正しくありません。",
		Category: "auth",
		Action:   "パスワードを確認して再度お試しください。",
	}
}

// NewIssueTokenError はトークン発行失敗エラーを生成する。
// 署名シークレットの設定不備などインフラ起因の障害を表す。
func NewIssueTokenError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeIssueTokenFailed,
		Message:  "トークンの発行に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Cause:    cause,
	}
}

// NewExpiredOrInvalidTokenError はトークン無効・期限切れエラーを生成する。
func NewExpiredOrInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeExpiredOrInvalid,
		Message:  "トークンが無効または期限切れです。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewPersistenceError はストレージ層の障害をラップしたエラーを生成する。
func NewPersistenceError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodePersistenceFailure,
		Message:  "データの保存に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Cause:    cause,
	}
}

// NewHashError はハッシュプリミティブの障害をラップしたエラーを生成する。
func NewHashError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeHashFailure,
		Message:  "認証情報の処理に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Cause:    cause,
	}
}
