package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

const (
	refreshCookieName = "refresh_token"
	oauthStateCookie  = "oauth_state"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	ValidateCredentials(ctx context.Context, email, password string) (*model.User, error)
	Register(ctx context.Context, input auth.RegisterInput) (*model.User, error)
	Login(ctx context.Context, user *model.User) (*auth.TokenPair, error)
	Refresh(ctx context.Context, rawToken string) (*auth.TokenPair, error)
	Logout(ctx context.Context, rawToken string) error
	LogoutAllDevices(ctx context.Context, userID string) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context) (int64, error)
	DeleteAllRefreshTokens(ctx context.Context) (int64, error)
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.User, *auth.TokenPair, error)
}

// UserGetter はプロフィール取得に必要なサービスインターフェース。
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// AuthMetrics は認証ハンドラーが記録するメトリクスのインターフェース。
type AuthMetrics interface {
	RecordLoginSuccess(method string)
	RecordLoginFailure(method string, reason string)
	RecordRefreshOutcome(outcome string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendRedirectURI string
	CookieDomain        string
	CookieSecure        bool
	RefreshMaxAge       int // リフレッシュCookieの有効期間（秒）。トークン寿命と揃える
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	users   UserGetter
	metrics AuthMetrics
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。metricsはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, users UserGetter, metrics AuthMetrics, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		users:   users,
		metrics: metrics,
		config:  config,
	}
}

// loginRequest はローカルログインのリクエストボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// registerRequest はローカル登録のリクエストボディ。
type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	LastName string `json:"lastName"`
}

// loginResponse はログイン成功時のレスポンスボディ。
type loginResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         userResponse `json:"user"`
}

// LocalLogin はメールアドレスとパスワードによるログインを処理する。
// POST /api/auth/local/login
//
// 認証失敗の内訳（ユーザー不在・パスワード未設定・パスワード不一致）は
// ログにのみ記録し、クライアントには一律の401を返す。
// アカウントの存在を外部に漏らさないための仕様。
func (h *AuthHandler) LocalLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	user, err := h.service.ValidateCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		if isCredentialFailure(err) {
			slog.Warn("local login failed",
				slog.String("email", req.Email),
				slog.String("reason", credentialFailureReason(err)),
			)
			h.recordLoginFailure("email", credentialFailureReason(err))
			writeAPIErrorResponse(w, http.StatusUnauthorized, invalidCredentialsError())
			return
		}
		handleServiceError(w, err)
		return
	}

	pair, err := h.service.Login(r.Context(), user)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.recordLoginSuccess("email")
	h.setRefreshCookie(w, pair.RefreshToken)
	writeJSONResponse(w, http.StatusOK, loginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         toUserResponse(user),
	})
}

// LocalRegister はメールアドレスとパスワードによるユーザー登録を処理する。
// POST /api/auth/local/register
func (h *AuthHandler) LocalRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	user, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		LastName: req.LastName,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toUserResponse(user))
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /api/auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		writeInternalError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /api/auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_STATE",
			Message:  "不正なstateパラメータです。",
			Category: "auth",
			Action:   "再度ログインをやり直してください。",
		})
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	// 3. 外部IDの検証とローカルユーザーへのブリッジ
	_, pair, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		h.recordLoginFailure("google", "callback_failed")
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewExpiredOrInvalidTokenError())
		return
	}

	h.recordLoginSuccess("google")
	h.setRefreshCookie(w, pair.RefreshToken)

	// 4. フロントエンドにリダイレクト
	http.Redirect(w, r, h.config.FrontendRedirectURI, http.StatusTemporaryRedirect)
}

// refreshRequest はリフレッシュ・ログアウトのリクエストボディ。
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh はリフレッシュトークンを検証し、新しいトークンペアを発行する。
// POST /api/auth/refresh
//
// トークンはhttpOnly Cookieまたはリクエストボディのどちらでも受け付ける。
// 検証に成功した場合、使用されたトークンは失効し新しいペアに置き換わる。
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	rawToken := h.refreshTokenFromRequest(r)
	if rawToken == "" {
		h.recordRefreshOutcome("missing_token")
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewExpiredOrInvalidTokenError())
		return
	}

	pair, err := h.service.Refresh(r.Context(), rawToken)
	if err != nil {
		if model.IsCode(err, model.ErrCodeExpiredOrInvalid) {
			h.recordRefreshOutcome("invalid_token")
			writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewExpiredOrInvalidTokenError())
			return
		}
		h.recordRefreshOutcome("error")
		handleServiceError(w, err)
		return
	}

	h.recordRefreshOutcome("rotated")
	h.setRefreshCookie(w, pair.RefreshToken)
	writeJSONResponse(w, http.StatusOK, pair)
}

// Logout は提示されたリフレッシュトークンに対応するセッションのみを破棄する。
// POST /api/auth/logout
//
// 署名が有効で登録がないトークンに対しては冪等に成功を返す。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	rawToken := h.refreshTokenFromRequest(r)
	if rawToken != "" {
		if err := h.service.Logout(r.Context(), rawToken); err != nil {
			if !model.IsCode(err, model.ErrCodeExpiredOrInvalid) {
				handleServiceError(w, err)
				return
			}
			// 無効なトークンでのログアウトはCookieのクリアのみ行う
		}
	}

	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll は認証済みユーザーの全デバイスのセッションを破棄する。
// POST /api/auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewExpiredOrInvalidTokenError())
		return
	}

	deleted, err := h.service.LogoutAllDevices(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.clearRefreshCookie(w)
	writeJSONResponse(w, http.StatusOK, map[string]int64{"deletedCount": deleted})
}

// Profile は認証済みユーザー自身の情報を返す。
// GET /api/auth/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewExpiredOrInvalidTokenError())
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toUserResponse(user))
}

// DeleteExpiredTokens は期限切れリフレッシュトークンを一括削除する。
// DELETE /api/auth/expired-refresh-tokens （admin専用）
func (h *AuthHandler) DeleteExpiredTokens(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.service.DeleteExpiredRefreshTokens(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]int64{"deletedCount": deleted})
}

// DeleteAllTokens は全ユーザーのリフレッシュトークンを一括削除する。
// DELETE /api/auth/refresh-tokens （admin専用、全セッションの強制失効）
func (h *AuthHandler) DeleteAllTokens(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.service.DeleteAllRefreshTokens(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]int64{"deletedCount": deleted})
}

// refreshTokenFromRequest はCookieまたはボディからリフレッシュトークンを取り出す。
// Cookieを優先する。
func (h *AuthHandler) refreshTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	var req refreshRequest
	if err := decodeJSONBody(r, &req); err == nil {
		return req.RefreshToken
	}
	return ""
}

// setRefreshCookie はリフレッシュトークンをhttpOnly Cookieとして設定する。
// 有効期間はリフレッシュトークンの寿命と揃える。
func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, rawToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    rawToken,
		Path:     "/api/auth",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.RefreshMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearRefreshCookie はリフレッシュCookieを削除する。
func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/api/auth",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) recordLoginSuccess(method string) {
	if h.metrics != nil {
		h.metrics.RecordLoginSuccess(method)
	}
}

func (h *AuthHandler) recordLoginFailure(method, reason string) {
	if h.metrics != nil {
		h.metrics.RecordLoginFailure(method, reason)
	}
}

func (h *AuthHandler) recordRefreshOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.RecordRefreshOutcome(outcome)
	}
}

// isCredentialFailure はクライアントに内訳を漏らしてはならない認証失敗であるかを返す。
func isCredentialFailure(err error) bool {
	return model.IsCode(err, model.ErrCodeUserNotFound) ||
		model.IsCode(err, model.ErrCodeNoPassword) ||
		model.IsCode(err, model.ErrCodeInvalidPassword)
}

// credentialFailureReason はログ・メトリクス用の失敗分類を返す。
func credentialFailureReason(err error) string {
	switch {
	case model.IsCode(err, model.ErrCodeUserNotFound):
		return "not_found"
	case model.IsCode(err, model.ErrCodeNoPassword):
		return "no_password"
	case model.IsCode(err, model.ErrCodeInvalidPassword):
		return "invalid_password"
	}
	return "unknown"
}

// invalidCredentialsError はローカルログイン失敗時の一律のエラーを返す。
// アカウントの存在有無を推測できる情報は含めない。
func invalidCredentialsError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_CREDENTIALS",
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// invalidRequestBodyError はリクエストボディ不正時のエラーを返す。
func invalidRequestBodyError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエスト内容が正しくありません。",
		Category: "user",
		Action:   "入力内容を確認してください。",
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
