// Package token はJWTアクセストークン・リフレッシュトークンの発行と検証を提供する。
//
// アクセストークンとリフレッシュトークンは独立したシークレットで署名する。
// 片方のシークレットが漏洩してももう片方のトークンは無効化されない。
// 有効期限は非対称（短命のアクセストークン、長命のリフレッシュトークン）。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/authgate/internal/model"
)

// Claims はトークンに埋め込むユーザー情報を表す。
type Claims struct {
	UserID string     `json:"user_id"`
	Email  string     `json:"email"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// IssuerConfig はIssuerの設定。
type IssuerConfig struct {
	AccessSecret  string
	AccessExpiry  time.Duration
	RefreshSecret string
	RefreshExpiry time.Duration
}

// Issuer はJWTの署名と検証を行う。
type Issuer struct {
	config IssuerConfig
}

// NewIssuer はIssuerを生成する。
func NewIssuer(config IssuerConfig) *Issuer {
	return &Issuer{config: config}
}

// IssueAccessToken はアクセストークンシークレットで署名したJWTを発行する。
// 署名失敗時はIssueTokenエラーを返す。
func (i *Issuer) IssueAccessToken(user *model.User) (string, error) {
	return i.sign(user, i.config.AccessSecret, i.config.AccessExpiry)
}

// IssueRefreshToken はリフレッシュトークンシークレットで署名したJWTを発行する。
// 署名失敗時はIssueTokenエラーを返す。
func (i *Issuer) IssueRefreshToken(user *model.User) (string, error) {
	return i.sign(user, i.config.RefreshSecret, i.config.RefreshExpiry)
}

// VerifyAccessToken はアクセストークンの署名と有効期限を検証し、クレームを返す。
func (i *Issuer) VerifyAccessToken(tokenString string) (*Claims, error) {
	return i.verify(tokenString, i.config.AccessSecret)
}

// VerifyRefreshToken はリフレッシュトークンの署名と有効期限を検証し、クレームを返す。
func (i *Issuer) VerifyRefreshToken(tokenString string) (*Claims, error) {
	return i.verify(tokenString, i.config.RefreshSecret)
}

// Decode は署名を検証せずにクレームを読み取る。
// 本サービスが直前に発行したトークンの有効期限を読むためだけに使用し、
// 信頼判断には使用しないこと。
func (i *Issuer) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return claims, nil
}

// sign はクレームを構築し、指定シークレットでHS256署名したトークンを返す。
func (i *Issuer) sign(user *model.User, secret string, expiry time.Duration) (string, error) {
	if secret == "" {
		return "", model.NewIssueTokenError(errors.New("signing secret is not configured"))
	}

	now := time.Now()
	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", model.NewIssueTokenError(err)
	}
	return signed, nil
}

// verify はトークンの署名と有効期限を検証する。
// 失敗はすべてExpiredOrInvalidTokenエラーに正規化する。
func (i *Issuer) verify(tokenString, secret string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, model.NewExpiredOrInvalidTokenError()
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, model.NewExpiredOrInvalidTokenError()
	}
	return claims, nil
}
