// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// claimsContextKey はリクエストコンテキストに検証済みクレームを格納するためのキー。
var claimsContextKey = contextKey("claims")

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
// token.Issuerの部分集合として定義する。
type TokenVerifier interface {
	VerifyAccessToken(tokenString string) (*token.Claims, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 検証済みクレームをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401 Unauthorizedを返す。
func NewAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. AuthorizationヘッダーからBearerトークンを取得
			authHeader := r.Header.Get("Authorization")
			rawToken, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || rawToken == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewExpiredOrInvalidTokenError())
				return
			}

			// 2. 署名と有効期限を検証
			claims, err := verifier.VerifyAccessToken(rawToken)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewExpiredOrInvalidTokenError())
				return
			}

			// 3. 検証済みクレームをコンテキストに注入
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRoleMiddleware は認証済みクレームのロールが許可リストに含まれることを
// 要求するミドルウェアを返す。AuthMiddlewareの後に配置すること。
// ロール不足のリクエストには403 Forbiddenを返す。
func NewRoleMiddleware(allowed ...model.Role) func(next http.Handler) http.Handler {
	allowedSet := make(map[model.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := ClaimsFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewExpiredOrInvalidTokenError())
				return
			}

			if _, ok := allowedSet[claims.Role]; !ok {
				slog.Warn("role denied",
					slog.String("user_id", claims.UserID),
					slog.String("role", string(claims.Role)),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
					Code:     "FORBIDDEN",
					Message:  "この操作を行う権限がありません。",
					Category: "auth",
					Action:   "管理者に問い合わせてください。",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext はリクエストコンテキストから検証済みクレームを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func ClaimsFromContext(ctx context.Context) (*token.Claims, error) {
	claims, ok := ctx.Value(claimsContextKey).(*token.Claims)
	if !ok || claims == nil {
		return nil, fmt.Errorf("claims not found in context")
	}
	return claims, nil
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	claims, err := ClaimsFromContext(ctx)
	if err != nil {
		return "", err
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return claims.UserID, nil
}

// ContextWithClaims はコンテキストにクレームを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
