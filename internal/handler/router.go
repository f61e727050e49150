package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig
	AuthMetrics AuthMetrics

	// ユーザー
	UserService UserServiceInterface
	UserGetter  UserGetter

	// メトリクス公開エンドポイント
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging
//
// 認証エンドポイント（/api/auth/*の未認証ルート）にはIP単位のレート制限を、
// 認証必須ルートにはJWT検証とユーザー単位のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.UserGetter, deps.AuthMetrics, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)

	authMW := middleware.NewAuthMiddleware(deps.TokenVerifier)
	adminMW := middleware.NewRoleMiddleware(model.RoleAdmin)

	// --- 認証不要のルート ---

	r.Get("/health", HealthCheck)

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/auth", func(r chi.Router) {
		// 認証エンドポイント（ブルートフォース対策のIP単位レート制限つき）
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())

			r.Post("/local/login", authHandler.LocalLogin)
			r.Post("/local/register", authHandler.LocalRegister)
			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)
		})

		// 認証が必要なルート。JWT検証 → RateLimit(General) の順。
		r.Group(func(r chi.Router) {
			r.Use(authMW)
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/logout-all", authHandler.LogoutAll)
			r.Get("/profile", authHandler.Profile)

			// 管理者専用の一括失効
			r.Group(func(r chi.Router) {
				r.Use(adminMW)
				r.Delete("/expired-refresh-tokens", authHandler.DeleteExpiredTokens)
				r.Delete("/refresh-tokens", authHandler.DeleteAllTokens)
			})
		})
	})

	// ユーザー管理（本人または管理者）
	r.Route("/api/users/{id}", func(r chi.Router) {
		r.Use(authMW)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/", userHandler.GetUser)
		r.Patch("/", userHandler.UpdateUser)
		r.Delete("/", userHandler.DeleteUser)
	})

	return r
}

// HealthCheck はコンテナのヘルスプローブ用エンドポイント。
// GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
