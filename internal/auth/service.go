// Package auth はローカル認証、OAuth認証フロー、リフレッシュトークン管理を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
	"github.com/hitoshi/authgate/internal/token"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	GivenName      string
	FamilyName     string
	Picture        string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// TokenIssuer はトークン発行・検証のインターフェース。
type TokenIssuer interface {
	IssueAccessToken(user *model.User) (string, error)
	IssueRefreshToken(user *model.User) (string, error)
	VerifyRefreshToken(tokenString string) (*token.Claims, error)
	Decode(tokenString string) (*token.Claims, error)
}

// TokenPair はログイン成功時に発行されるトークンの組。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RegisterInput はローカル登録のリクエスト内容。
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	LastName string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth     OAuthProvider
	issuer    TokenIssuer
	hasher    security.Hasher
	sanitizer security.ProfileSanitizerService
	userRepo  repository.UserRepository
	tokenRepo repository.RefreshTokenRepository
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	issuer TokenIssuer,
	hasher security.Hasher,
	sanitizer security.ProfileSanitizerService,
	userRepo repository.UserRepository,
	tokenRepo repository.RefreshTokenRepository,
) *Service {
	return &Service{
		oauth:     oauth,
		issuer:    issuer,
		hasher:    hasher,
		sanitizer: sanitizer,
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
	}
}

// ValidateCredentials はメールアドレスとパスワードでユーザーを認証する。
// 未登録・パスワード未設定・パスワード不一致は区別したエラーを返すが、
// トランスポート層はいずれも同一の401に畳み込むこと（アカウント存在の漏洩防止）。
func (s *Service) ValidateCredentials(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewPersistenceError(err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	if !user.HasPassword() {
		// OAuth経由で登録されたアカウントへのローカルログイン試行
		return nil, model.NewNoPasswordError()
	}

	match, err := s.hasher.ComparePassword(password, user.Password)
	if err != nil {
		return nil, model.NewHashError(err)
	}
	if !match {
		return nil, model.NewInvalidPasswordError()
	}

	return user, nil
}

// Register はローカルアカウントを新規登録する。
// メールアドレスの事前チェックは競合検出の補助であり、
// 最終的な一意性はストレージのユニーク制約で保証される。
func (s *Service) Register(ctx context.Context, input RegisterInput) (*model.User, error) {
	existing, err := s.userRepo.FindByEmail(ctx, input.Email)
	if err != nil {
		return nil, model.NewPersistenceError(err)
	}
	if existing != nil {
		return nil, model.NewAlreadyExistsError(input.Email)
	}

	hashed := ""
	if input.Password != "" {
		hashed, err = s.hasher.HashPassword(input.Password)
		if err != nil {
			return nil, model.NewHashError(err)
		}
	}

	now := time.Now()
	user := &model.User{
		ID:             uuid.New().String(),
		Email:          input.Email,
		Name:           s.sanitizer.Sanitize(input.Name),
		LastName:       s.sanitizer.Sanitize(input.LastName),
		Role:           model.RoleUser,
		RegisterMethod: model.RegisterMethodEmail,
		Password:       hashed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if model.IsCode(err, model.ErrCodeAlreadyExists) {
			// 事前チェックとINSERTの間に同一メールで登録された場合
			return nil, err
		}
		return nil, model.NewPersistenceError(err)
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("register_method", string(user.RegisterMethod)),
	)
	return user, nil
}

// Login は認証済みユーザーにトークンペアを発行する。
// アクセストークンとリフレッシュトークンの署名は独立しており並行に実行する。
// 発行したリフレッシュトークンはargon2idハッシュとして追加保存する
// （マルチセッション: 既存のセッションは無効化されない）。
func (s *Service) Login(ctx context.Context, user *model.User) (*TokenPair, error) {
	pair, err := s.issueTokenPair(user)
	if err != nil {
		return nil, err
	}

	// 発行直後の自前トークンから有効期限を読み取る（信頼判断には使わない）
	claims, err := s.issuer.Decode(pair.RefreshToken)
	if err != nil || claims.ExpiresAt == nil {
		return nil, model.NewIssueTokenError(fmt.Errorf("failed to decode issued refresh token: %w", err))
	}

	hashedToken, err := s.hasher.HashLongString(pair.RefreshToken)
	if err != nil {
		return nil, model.NewHashError(err)
	}

	now := time.Now()
	record := &model.RefreshToken{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		HashedToken: hashedToken,
		ExpiresAt:   claims.ExpiresAt.Time,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.tokenRepo.Create(ctx, record); err != nil {
		return nil, model.NewPersistenceError(err)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return pair, nil
}

// issueTokenPair はアクセストークンとリフレッシュトークンを並行に発行する。
// どちらかが失敗した時点でペア全体が失敗となる。
func (s *Service) issueTokenPair(user *model.User) (*TokenPair, error) {
	type result struct {
		token string
		err   error
	}

	accessCh := make(chan result, 1)
	go func() {
		t, err := s.issuer.IssueAccessToken(user)
		accessCh <- result{token: t, err: err}
	}()

	refreshToken, refreshErr := s.issuer.IssueRefreshToken(user)
	access := <-accessCh

	if access.err != nil {
		return nil, access.err
	}
	if refreshErr != nil {
		return nil, refreshErr
	}

	return &TokenPair{AccessToken: access.token, RefreshToken: refreshToken}, nil
}

// Refresh は提示されたリフレッシュトークンを検証し、新しいトークンペアを発行する。
// ユーザーの未失効ハッシュすべてに対して線形スキャンで照合し、
// 一致したレコードは削除して新しいトークンにローテーションする。
func (s *Service) Refresh(ctx context.Context, rawToken string) (*TokenPair, error) {
	claims, err := s.issuer.VerifyRefreshToken(rawToken)
	if err != nil {
		return nil, model.NewExpiredOrInvalidTokenError()
	}

	matched, err := s.findMatchingToken(ctx, claims.UserID, rawToken)
	if err != nil {
		return nil, err
	}
	if matched == nil {
		// 署名は正しいがDBに対応するハッシュがない（ログアウト済み等）
		return nil, model.NewExpiredOrInvalidTokenError()
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, model.NewPersistenceError(err)
	}
	if user == nil {
		return nil, model.NewExpiredOrInvalidTokenError()
	}

	// ローテーション: 使用済みトークンのレコードを破棄してから再発行する
	if err := s.tokenRepo.DeleteByID(ctx, matched.ID); err != nil {
		return nil, model.NewPersistenceError(err)
	}

	pair, err := s.Login(ctx, user)
	if err != nil {
		return nil, err
	}

	slog.Info("session refreshed", slog.String("user_id", user.ID))
	return pair, nil
}

// Logout は提示されたリフレッシュトークンに対応するセッションのみを破棄する。
// 対応するレコードが既に存在しない場合も成功として扱う（冪等）。
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	claims, err := s.issuer.VerifyRefreshToken(rawToken)
	if err != nil {
		return model.NewExpiredOrInvalidTokenError()
	}

	matched, err := s.findMatchingToken(ctx, claims.UserID, rawToken)
	if err != nil {
		return err
	}
	if matched == nil {
		return nil
	}

	if err := s.tokenRepo.DeleteByID(ctx, matched.ID); err != nil {
		return model.NewPersistenceError(err)
	}

	slog.Info("user logged out", slog.String("user_id", claims.UserID))
	return nil
}

// LogoutAllDevices は指定ユーザーの全セッションを破棄し、削除件数を返す。
func (s *Service) LogoutAllDevices(ctx context.Context, userID string) (int64, error) {
	deleted, err := s.tokenRepo.DeleteByUserID(ctx, userID)
	if err != nil {
		return 0, model.NewPersistenceError(err)
	}

	slog.Info("all sessions revoked",
		slog.String("user_id", userID),
		slog.Int64("deleted", deleted),
	)
	return deleted, nil
}

// DeleteExpiredRefreshTokens は失効済みトークンレコードを削除する。
// 定期スイープから呼び出される。削除対象がなければno-op（冪等）。
func (s *Service) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	deleted, err := s.tokenRepo.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, model.NewPersistenceError(err)
	}
	return deleted, nil
}

// DeleteAllRefreshTokens は全ユーザーの全トークンレコードを削除する（全体セッション失効）。
func (s *Service) DeleteAllRefreshTokens(ctx context.Context) (int64, error) {
	deleted, err := s.tokenRepo.DeleteAll(ctx)
	if err != nil {
		return 0, model.NewPersistenceError(err)
	}

	slog.Warn("all refresh tokens purged", slog.Int64("deleted", deleted))
	return deleted, nil
}

// findMatchingToken は未失効レコードを走査し、提示トークンと一致するものを返す。
// 一致するものがない場合は (nil, nil) を返す。
func (s *Service) findMatchingToken(ctx context.Context, userID, rawToken string) (*model.RefreshToken, error) {
	records, err := s.tokenRepo.FindActiveByUserID(ctx, userID, time.Now())
	if err != nil {
		return nil, model.NewPersistenceError(err)
	}

	for _, record := range records {
		match, err := s.hasher.VerifyLongString(rawToken, record.HashedToken)
		if err != nil {
			// ハッシュ形式の破損はレコード単位でスキップし、照合を継続する
			slog.Warn("corrupt refresh token hash",
				slog.String("token_id", record.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if match {
			return record, nil
		}
	}
	return nil, nil
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、トークンペアを発行する。
// プロバイダーが検証済みのメールアドレスを提示しない場合は失敗する（fail closed）。
// 未登録ユーザーはregister_method=google、パスワードなしで自動作成する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.User, *TokenPair, error) {
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	if userInfo.Email == "" || !userInfo.EmailVerified {
		return nil, nil, model.NewExpiredOrInvalidTokenError()
	}

	user, err := s.userRepo.FindByEmail(ctx, userInfo.Email)
	if err != nil {
		return nil, nil, model.NewPersistenceError(err)
	}

	if user == nil {
		now := time.Now()
		user = &model.User{
			ID:             uuid.New().String(),
			Email:          userInfo.Email,
			Name:           s.sanitizer.Sanitize(userInfo.GivenName),
			LastName:       s.sanitizer.Sanitize(userInfo.FamilyName),
			Role:           model.RoleUser,
			RegisterMethod: model.RegisterMethodGoogle,
			ProfilePic:     userInfo.Picture,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			if model.IsCode(err, model.ErrCodeAlreadyExists) {
				// 並行コールバックとの競合: 作成済みのユーザーでログインを続行する
				user, err = s.userRepo.FindByEmail(ctx, userInfo.Email)
				if err != nil || user == nil {
					return nil, nil, model.NewPersistenceError(err)
				}
			} else {
				return nil, nil, model.NewPersistenceError(err)
			}
		} else {
			slog.Info("new user provisioned via oauth",
				slog.String("user_id", user.ID),
				slog.String("provider", userInfo.Provider),
			)
		}
	}

	pair, err := s.Login(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	return user, pair, nil
}
