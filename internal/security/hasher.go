// Package security は認証情報のハッシュ処理と入力サニタイズを提供する。
//
// パスワードにはコスト調整可能なbcryptを使用する。
// リフレッシュトークンのような高エントロピーの長い文字列には
// argon2idを使用し、DBにはハッシュのみを保存する。
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2Params はargon2idのパラメータを保持する。
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params はargon2idの推奨デフォルトパラメータを返す。
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher はパスワードと長い文字列のハッシュ化・検証を提供する。
// サービス層からはこのインターフェース経由で利用する。
type Hasher interface {
	// HashPassword はパスワードのbcryptハッシュを返す。
	// プリミティブの失敗時のみエラーを返す。
	HashPassword(password string) (string, error)
	// ComparePassword はパスワードとハッシュを比較する。
	// 不一致は (false, nil) であり、エラーはプリミティブの失敗を意味する。
	ComparePassword(password, hash string) (bool, error)
	// HashLongString は長い文字列（リフレッシュトークン等）のargon2idハッシュを返す。
	HashLongString(raw string) (string, error)
	// VerifyLongString は長い文字列とargon2idハッシュを比較する。
	// 不一致は (false, nil) であり、エラーはハッシュ形式の破損等を意味する。
	VerifyLongString(raw, encoded string) (bool, error)
}

// CredentialHasher はHasherのデフォルト実装。
type CredentialHasher struct {
	cost         int
	argon2Params Argon2Params
}

// NewCredentialHasher はCredentialHasherを生成する。
// costにはbcryptのコストファクタを指定する。範囲外の場合はbcrypt.DefaultCostを使用する。
func NewCredentialHasher(cost int) *CredentialHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &CredentialHasher{
		cost:         cost,
		argon2Params: DefaultArgon2Params(),
	}
}

// HashPassword はパスワードのbcryptハッシュを返す。
func (h *CredentialHasher) HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// ComparePassword はパスワードとbcryptハッシュを比較する。
// 不一致の場合は (false, nil) を返す。エラーはハッシュ形式の破損等を意味する。
func (h *CredentialHasher) ComparePassword(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if err == bcrypt.ErrMismatchedHashAndPassword {
		return false, nil
	}
	return false, fmt.Errorf("failed to compare password: %w", err)
}

// HashLongString は長い文字列のargon2idハッシュをエンコード済み形式で返す。
// 形式: $argon2id$v=19$m=<memory>,t=<iterations>,p=<parallelism>$<salt>$<hash>
func (h *CredentialHasher) HashLongString(raw string) (string, error) {
	p := h.argon2Params

	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(raw), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		p.Memory, p.Iterations, p.Parallelism, b64Salt, b64Hash)
	return encoded, nil
}

// VerifyLongString は長い文字列とエンコード済みargon2idハッシュを比較する。
// 不一致の場合は (false, nil) を返す。エラーはハッシュ形式の破損を意味する。
func (h *CredentialHasher) VerifyLongString(raw, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("invalid argon2id hash format")
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("failed to parse argon2id params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	computed := argon2.IDKey([]byte(raw), salt, iterations, memory, parallelism, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}

// compile-time interface check
var _ Hasher = (*CredentialHasher)(nil)
