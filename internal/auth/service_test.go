package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
	"github.com/hitoshi/authgate/internal/token"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn    func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	createFn      func(ctx context.Context, user *model.User) error
	updateFn      func(ctx context.Context, user *model.User) error
	deleteByIDFn  func(ctx context.Context, id string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *model.User) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

type mockTokenRepo struct {
	createFn             func(ctx context.Context, t *model.RefreshToken) error
	findActiveByUserIDFn func(ctx context.Context, userID string, now time.Time) ([]*model.RefreshToken, error)
	deleteByIDFn         func(ctx context.Context, id string) error
	deleteByUserIDFn     func(ctx context.Context, userID string) (int64, error)
	deleteExpiredFn      func(ctx context.Context, now time.Time) (int64, error)
	deleteAllFn          func(ctx context.Context) (int64, error)
}

func (m *mockTokenRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	if m.createFn != nil {
		return m.createFn(ctx, t)
	}
	return nil
}

func (m *mockTokenRepo) FindActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*model.RefreshToken, error) {
	if m.findActiveByUserIDFn != nil {
		return m.findActiveByUserIDFn(ctx, userID, now)
	}
	return nil, nil
}

func (m *mockTokenRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockTokenRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return 0, nil
}

func (m *mockTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, now)
	}
	return 0, nil
}

func (m *mockTokenRepo) DeleteAll(ctx context.Context) (int64, error) {
	if m.deleteAllFn != nil {
		return m.deleteAllFn(ctx)
	}
	return 0, nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.RefreshTokenRepository = (*mockTokenRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)

// --- テストヘルパー ---

// newTestService は実物のIssuer/Hasher/Sanitizerとモックのリポジトリで
// Serviceを組み立てる。
func newTestService(userRepo *mockUserRepo, tokenRepo *mockTokenRepo, provider *mockOAuthProvider) *Service {
	issuer := token.NewIssuer(token.IssuerConfig{
		AccessSecret:  "test-access-secret",
		AccessExpiry:  15 * time.Minute,
		RefreshSecret: "test-refresh-secret",
		RefreshExpiry: 720 * time.Hour,
	})
	hasher := security.NewCredentialHasher(4)
	sanitizer := security.NewProfileSanitizer()
	return NewService(provider, issuer, hasher, sanitizer, userRepo, tokenRepo)
}

func hashPasswordForTest(t *testing.T, password string) string {
	t.Helper()
	hashed, err := security.NewCredentialHasher(4).HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	return hashed
}

// --- ValidateCredentials ---

func TestValidateCredentials_CorrectPassword_ReturnsUser(t *testing.T) {
	ctx := context.Background()

	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{
				ID:       "user-1",
				Email:    email,
				Password: hashPasswordForTest(t, "password123"),
			}, nil
		},
	}
	svc := newTestService(userRepo, &mockTokenRepo{}, nil)

	user, err := svc.ValidateCredentials(ctx, "a@x.com", "password123")
	if err != nil {
		t.Fatalf("ValidateCredentials() error = %v", err)
	}
	if user == nil || user.ID != "user-1" {
		t.Fatalf("expected user-1, got %+v", user)
	}
}

func TestValidateCredentials_UnknownEmail_FailsNotFound(t *testing.T) {
	ctx := context.Background()

	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return nil, nil
		},
	}
	svc := newTestService(userRepo, &mockTokenRepo{}, nil)

	_, err := svc.ValidateCredentials(ctx, "unknown@x.com", "password123")
	if !model.IsCode(err, model.ErrCodeUserNotFound) {
		t.Fatalf("expected USER_NOT_FOUND, got %v", err)
	}
}

func TestValidateCredentials_OAuthOnlyAccount_FailsNoPassword(t *testing.T) {
	ctx := context.Background()

	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{
				ID:             "user-oauth",
				Email:          email,
				RegisterMethod: model.RegisterMethodGoogle,
			}, nil
		},
	}
	svc := newTestService(userRepo, &mockTokenRepo{}, nil)

	_, err := svc.ValidateCredentials(ctx, "oauth@x.com", "password123")
	if !model.IsCode(err, model.ErrCodeNoPassword) {
		t.Fatalf("expected USER_HAS_NO_PASSWORD, got %v", err)
	}
}

func TestValidateCredentials_WrongPassword_FailsInvalidPassword(t *testing.T) {
	ctx := context.Background()

	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{
				ID:       "user-1",
				Email:    email,
				Password: hashPasswordForTest(t, "password123"),
			}, nil
		},
	}
	svc := newTestService(userRepo, &mockTokenRepo{}, nil)

	_, err := svc.ValidateCredentials(ctx, "a@x.com", "wrong-password")
	if !model.IsCode(err, model.ErrCodeInvalidPassword) {
		t.Fatalf("expected INVALID_PASSWORD, got %v", err)
	}
}

// --- Register ---

func TestRegister_NewUser_HashesPasswordAndPersists(t *testing.T) {
	ctx := context.Background()

	var created *model.User
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return nil, nil
		},
		createFn: func(ctx context.Context, user *model.User) error {
			created = user
			return nil
		},
	}
	svc := newTestService(userRepo, &mockTokenRepo{}, nil)

	user, err := svc.Register(ctx, RegisterInput{
		Email:    "a@x.com",
		Password: "password123",
		Name:     "A",
		LastName: "B",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if created == nil {
		t.Fatal("expected user to be persisted")
	}
	if user.Role != model.RoleUser {
		t.Errorf("role = %q, want %q", user.Role, model.RoleUser)
	}
	if user.RegisterMethod != model.RegisterMethodEmail {
		t.Errorf("register_method = %q, want %q", user.RegisterMethod, model.RegisterMethodEmail)
	}
	if user.Password == "password123" || user.Password == "" {
		t.Error("password should be stored as a hash")
	}
	if user.ID == "" {
		t.Error("expected non-empty user ID")
	}
}

func TestRegister_DuplicateEmail_FailsAlreadyExists(t *testing.T) {
	ctx := context.Background()

	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "existing", Email: email}, nil
		},
	}
	svc := newTestService(userRepo, &mockTokenRepo{}, nil)

	_, err := svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "pw"})
	if !model.IsCode(err, model.ErrCodeAlreadyExists) {
		t.Fatalf("expected ALREADY_EXISTS, got %v", err)
	}
}

func TestRegister_RaceOnInsert_SurfacesStorageConflict(t *testing.T) {
	ctx := context.Background()

	// 事前チェックは通過するが、INSERT時にユニーク制約に弾かれるケース
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return nil, nil
		},
		createFn: func(ctx context.Context, user *model.User) error {
			return model.NewAlreadyExistsError(user.Email)
		},
	}
	svc := newTestService(userRepo, &mockTokenRepo{}, nil)

	_, err := svc.Register(ctx, RegisterInput{Email: "race@x.com", Password: "pw"})
	if !model.IsCode(err, model.ErrCodeAlreadyExists) {
		t.Fatalf("expected ALREADY_EXISTS, got %v", err)
	}
}

func TestRegister_StripsHTMLFromNames(t *testing.T) {
	ctx := context.Background()

	userRepo := &mockUserRepo{}
	svc := newTestService(userRepo, &mockTokenRepo{}, nil)

	user, err := svc.Register(ctx, RegisterInput{
		Email:    "a@x.com",
		Password: "pw",
		Name:     "<script>alert(1)</script>Taro",
		LastName: "  Yamada  ",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.Name != "Taro" {
		t.Errorf("name = %q, want %q", user.Name, "Taro")
	}
	if user.LastName != "Yamada" {
		t.Errorf("last_name = %q, want %q", user.LastName, "Yamada")
	}
}

// --- Login ---

func TestLogin_IssuesPairAndPersistsHashedToken(t *testing.T) {
	ctx := context.Background()

	var stored *model.RefreshToken
	tokenRepo := &mockTokenRepo{
		createFn: func(ctx context.Context, tok *model.RefreshToken) error {
			stored = tok
			return nil
		},
	}
	svc := newTestService(&mockUserRepo{}, tokenRepo, nil)

	user := &model.User{ID: "user-1", Email: "a@x.com", Role: model.RoleUser}
	pair, err := svc.Login(ctx, user)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected non-empty token pair")
	}
	if stored == nil {
		t.Fatal("expected refresh token record to be persisted")
	}
	if stored.UserID != "user-1" {
		t.Errorf("stored.UserID = %q, want %q", stored.UserID, "user-1")
	}
	if stored.HashedToken == pair.RefreshToken {
		t.Error("raw refresh token must not be persisted")
	}
	if !stored.ExpiresAt.After(time.Now()) {
		t.Error("stored expiry should be in the future")
	}

	// 保存されたargon2idハッシュが生トークンと照合できること
	match, err := security.NewCredentialHasher(4).VerifyLongString(pair.RefreshToken, stored.HashedToken)
	if err != nil {
		t.Fatalf("VerifyLongString() error = %v", err)
	}
	if !match {
		t.Error("stored hash should match the issued refresh token")
	}
}

func TestLogin_PersistenceFailure_ReturnsPersistenceError(t *testing.T) {
	ctx := context.Background()

	tokenRepo := &mockTokenRepo{
		createFn: func(ctx context.Context, tok *model.RefreshToken) error {
			return errors.New("db down")
		},
	}
	svc := newTestService(&mockUserRepo{}, tokenRepo, nil)

	_, err := svc.Login(ctx, &model.User{ID: "user-1", Email: "a@x.com"})
	if !model.IsCode(err, model.ErrCodePersistenceFailure) {
		t.Fatalf("expected PERSISTENCE_FAILURE, got %v", err)
	}
}

func TestLogin_MissingSecret_ReturnsIssueTokenError(t *testing.T) {
	ctx := context.Background()

	issuer := token.NewIssuer(token.IssuerConfig{
		AccessSecret:  "",
		RefreshSecret: "refresh-secret",
		AccessExpiry:  time.Minute,
		RefreshExpiry: time.Hour,
	})
	svc := NewService(nil, issuer, security.NewCredentialHasher(4), security.NewProfileSanitizer(), &mockUserRepo{}, &mockTokenRepo{})

	_, err := svc.Login(ctx, &model.User{ID: "user-1", Email: "a@x.com"})
	if !model.IsCode(err, model.ErrCodeIssueTokenFailed) {
		t.Fatalf("expected ISSUE_TOKEN_FAILED, got %v", err)
	}
}

// --- Refresh ---

func TestRefresh_ValidToken_RotatesAndIssuesNewPair(t *testing.T) {
	ctx := context.Background()

	user := &model.User{ID: "user-1", Email: "a@x.com", Role: model.RoleUser}

	var storedRecords []*model.RefreshToken
	var deletedIDs []string
	tokenRepo := &mockTokenRepo{
		createFn: func(ctx context.Context, tok *model.RefreshToken) error {
			storedRecords = append(storedRecords, tok)
			return nil
		},
		findActiveByUserIDFn: func(ctx context.Context, userID string, now time.Time) ([]*model.RefreshToken, error) {
			return storedRecords, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			deletedIDs = append(deletedIDs, id)
			return nil
		},
	}
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return user, nil
		},
	}
	svc := newTestService(userRepo, tokenRepo, nil)

	pair, err := svc.Login(ctx, user)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	firstRecordID := storedRecords[0].ID

	newPair, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if newPair.AccessToken == "" || newPair.RefreshToken == "" {
		t.Fatal("expected non-empty new token pair")
	}

	// 使用済みトークンのレコードが破棄されていること
	if len(deletedIDs) != 1 || deletedIDs[0] != firstRecordID {
		t.Errorf("expected record %q to be rotated out, deleted = %v", firstRecordID, deletedIDs)
	}
	// ローテーション後の新しいレコードが保存されていること
	if len(storedRecords) != 2 {
		t.Errorf("expected 2 stored records after rotation, got %d", len(storedRecords))
	}
}

func TestRefresh_TamperedToken_FailsExpiredOrInvalid(t *testing.T) {
	ctx := context.Background()

	svc := newTestService(&mockUserRepo{}, &mockTokenRepo{}, nil)

	user := &model.User{ID: "user-1", Email: "a@x.com"}
	pair, err := svc.Login(ctx, user)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	_, err = svc.Refresh(ctx, pair.RefreshToken+"tampered")
	if !model.IsCode(err, model.ErrCodeExpiredOrInvalid) {
		t.Fatalf("expected EXPIRED_OR_INVALID_TOKEN, got %v", err)
	}
}

func TestRefresh_NoMatchingStoredHash_FailsExpiredOrInvalid(t *testing.T) {
	ctx := context.Background()

	// 署名は正しいがDBにハッシュが存在しない（ログアウト済み）ケース
	tokenRepo := &mockTokenRepo{
		findActiveByUserIDFn: func(ctx context.Context, userID string, now time.Time) ([]*model.RefreshToken, error) {
			return nil, nil
		},
	}
	svc := newTestService(&mockUserRepo{}, tokenRepo, nil)

	issuer := token.NewIssuer(token.IssuerConfig{
		AccessSecret:  "test-access-secret",
		AccessExpiry:  15 * time.Minute,
		RefreshSecret: "test-refresh-secret",
		RefreshExpiry: 720 * time.Hour,
	})
	raw, err := issuer.IssueRefreshToken(&model.User{ID: "user-1", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}

	_, err = svc.Refresh(ctx, raw)
	if !model.IsCode(err, model.ErrCodeExpiredOrInvalid) {
		t.Fatalf("expected EXPIRED_OR_INVALID_TOKEN, got %v", err)
	}
}

// --- Logout ---

func TestLogout_DeletesOnlyMatchingRecord(t *testing.T) {
	ctx := context.Background()

	user := &model.User{ID: "user-1", Email: "a@x.com"}

	var storedRecords []*model.RefreshToken
	var deletedIDs []string
	tokenRepo := &mockTokenRepo{
		createFn: func(ctx context.Context, tok *model.RefreshToken) error {
			storedRecords = append(storedRecords, tok)
			return nil
		},
		findActiveByUserIDFn: func(ctx context.Context, userID string, now time.Time) ([]*model.RefreshToken, error) {
			return storedRecords, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			deletedIDs = append(deletedIDs, id)
			return nil
		},
	}
	svc := newTestService(&mockUserRepo{}, tokenRepo, nil)

	// 2つのセッション（2端末）を作る
	pair1, err := svc.Login(ctx, user)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := svc.Login(ctx, user); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := svc.Logout(ctx, pair1.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if len(deletedIDs) != 1 || deletedIDs[0] != storedRecords[0].ID {
		t.Errorf("expected only the first session to be deleted, deleted = %v", deletedIDs)
	}
}

func TestLogout_UnknownToken_IsIdempotent(t *testing.T) {
	ctx := context.Background()

	tokenRepo := &mockTokenRepo{
		findActiveByUserIDFn: func(ctx context.Context, userID string, now time.Time) ([]*model.RefreshToken, error) {
			return nil, nil
		},
	}
	svc := newTestService(&mockUserRepo{}, tokenRepo, nil)

	issuer := token.NewIssuer(token.IssuerConfig{
		AccessSecret:  "test-access-secret",
		AccessExpiry:  15 * time.Minute,
		RefreshSecret: "test-refresh-secret",
		RefreshExpiry: 720 * time.Hour,
	})
	raw, err := issuer.IssueRefreshToken(&model.User{ID: "user-1", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}

	if err := svc.Logout(ctx, raw); err != nil {
		t.Fatalf("Logout() should be a no-op for unknown tokens, got %v", err)
	}
}

func TestLogout_InvalidToken_FailsExpiredOrInvalid(t *testing.T) {
	ctx := context.Background()

	svc := newTestService(&mockUserRepo{}, &mockTokenRepo{}, nil)

	err := svc.Logout(ctx, "not-a-jwt")
	if !model.IsCode(err, model.ErrCodeExpiredOrInvalid) {
		t.Fatalf("expected EXPIRED_OR_INVALID_TOKEN, got %v", err)
	}
}

// --- LogoutAllDevices / sweeps ---

func TestLogoutAllDevices_DeletesAllUserTokens(t *testing.T) {
	ctx := context.Background()

	var deletedUserID string
	tokenRepo := &mockTokenRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) (int64, error) {
			deletedUserID = userID
			return 3, nil
		},
	}
	svc := newTestService(&mockUserRepo{}, tokenRepo, nil)

	deleted, err := svc.LogoutAllDevices(ctx, "user-1")
	if err != nil {
		t.Fatalf("LogoutAllDevices() error = %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
	if deletedUserID != "user-1" {
		t.Errorf("deletedUserID = %q, want %q", deletedUserID, "user-1")
	}
}

func TestDeleteExpiredRefreshTokens_ReturnsDeletedCount(t *testing.T) {
	ctx := context.Background()

	tokenRepo := &mockTokenRepo{
		deleteExpiredFn: func(ctx context.Context, now time.Time) (int64, error) {
			return 7, nil
		},
	}
	svc := newTestService(&mockUserRepo{}, tokenRepo, nil)

	deleted, err := svc.DeleteExpiredRefreshTokens(ctx)
	if err != nil {
		t.Fatalf("DeleteExpiredRefreshTokens() error = %v", err)
	}
	if deleted != 7 {
		t.Errorf("deleted = %d, want 7", deleted)
	}
}

func TestDeleteExpiredRefreshTokens_NothingExpired_IsNoOp(t *testing.T) {
	ctx := context.Background()

	calls := 0
	tokenRepo := &mockTokenRepo{
		deleteExpiredFn: func(ctx context.Context, now time.Time) (int64, error) {
			calls++
			return 0, nil
		},
	}
	svc := newTestService(&mockUserRepo{}, tokenRepo, nil)

	for i := 0; i < 2; i++ {
		deleted, err := svc.DeleteExpiredRefreshTokens(ctx)
		if err != nil {
			t.Fatalf("DeleteExpiredRefreshTokens() error = %v", err)
		}
		if deleted != 0 {
			t.Errorf("deleted = %d, want 0", deleted)
		}
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDeleteAllRefreshTokens_PurgesEverything(t *testing.T) {
	ctx := context.Background()

	tokenRepo := &mockTokenRepo{
		deleteAllFn: func(ctx context.Context) (int64, error) {
			return 42, nil
		},
	}
	svc := newTestService(&mockUserRepo{}, tokenRepo, nil)

	deleted, err := svc.DeleteAllRefreshTokens(ctx)
	if err != nil {
		t.Fatalf("DeleteAllRefreshTokens() error = %v", err)
	}
	if deleted != 42 {
		t.Errorf("deleted = %d, want 42", deleted)
	}
}

// --- OAuth bridge ---

func TestGetLoginURL_ReturnsOAuthURL(t *testing.T) {
	provider := &mockOAuthProvider{
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/auth?state=" + state
		},
	}
	svc := newTestService(&mockUserRepo{}, &mockTokenRepo{}, provider)

	url := svc.GetLoginURL("test-state")
	expected := "https://accounts.google.com/o/oauth2/auth?state=test-state"
	if url != expected {
		t.Errorf("GetLoginURL() = %q, want %q", url, expected)
	}
}

func TestHandleCallback_NewUser_ProvisionsWithoutPassword(t *testing.T) {
	ctx := context.Background()

	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{
				ProviderUserID: "google-user-123",
				Email:          "test@example.com",
				EmailVerified:  true,
				GivenName:      "Test",
				FamilyName:     "User",
				Picture:        "https://example.com/pic.jpg",
				Provider:       "google",
			}, nil
		},
	}

	var created *model.User
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return nil, nil
		},
		createFn: func(ctx context.Context, user *model.User) error {
			created = user
			return nil
		},
	}
	svc := newTestService(userRepo, &mockTokenRepo{}, provider)

	user, pair, err := svc.HandleCallback(ctx, "auth-code-123")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	if created == nil {
		t.Fatal("expected user to be provisioned")
	}
	if user.RegisterMethod != model.RegisterMethodGoogle {
		t.Errorf("register_method = %q, want %q", user.RegisterMethod, model.RegisterMethodGoogle)
	}
	if user.HasPassword() {
		t.Error("oauth-provisioned user must not have a password")
	}
	if user.ProfilePic != "https://example.com/pic.jpg" {
		t.Errorf("profile_pic = %q", user.ProfilePic)
	}
	if pair == nil || pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected non-empty token pair")
	}
}

func TestHandleCallback_ExistingUser_LogsIn(t *testing.T) {
	ctx := context.Background()

	existing := &model.User{
		ID:             "existing-user",
		Email:          "existing@example.com",
		Role:           model.RoleUser,
		RegisterMethod: model.RegisterMethodEmail,
	}

	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{
				ProviderUserID: "google-user-789",
				Email:          "existing@example.com",
				EmailVerified:  true,
				Provider:       "google",
			}, nil
		},
	}
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return existing, nil
		},
		createFn: func(ctx context.Context, user *model.User) error {
			t.Fatal("existing user must not be re-created")
			return nil
		},
	}
	svc := newTestService(userRepo, &mockTokenRepo{}, provider)

	user, pair, err := svc.HandleCallback(ctx, "auth-code-existing")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if user.ID != "existing-user" {
		t.Errorf("user.ID = %q, want %q", user.ID, "existing-user")
	}
	if pair == nil || pair.AccessToken == "" {
		t.Fatal("expected token pair for existing user")
	}
}

func TestHandleCallback_UnverifiedEmail_FailsClosed(t *testing.T) {
	ctx := context.Background()

	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{
				ProviderUserID: "google-user-unverified",
				Email:          "unverified@example.com",
				EmailVerified:  false,
				Provider:       "google",
			}, nil
		},
	}
	svc := newTestService(&mockUserRepo{}, &mockTokenRepo{}, provider)

	_, _, err := svc.HandleCallback(ctx, "auth-code")
	if err == nil {
		t.Fatal("expected error for unverified email")
	}
}

func TestHandleCallback_MissingEmail_FailsClosed(t *testing.T) {
	ctx := context.Background()

	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{
				ProviderUserID: "google-user-noemail",
				EmailVerified:  true,
				Provider:       "google",
			}, nil
		},
	}
	svc := newTestService(&mockUserRepo{}, &mockTokenRepo{}, provider)

	_, _, err := svc.HandleCallback(ctx, "auth-code")
	if err == nil {
		t.Fatal("expected error for missing email")
	}
}

func TestHandleCallback_OAuthError_ReturnsError(t *testing.T) {
	ctx := context.Background()

	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return nil, errors.New("oauth exchange failed")
		},
	}
	svc := newTestService(&mockUserRepo{}, &mockTokenRepo{}, provider)

	_, _, err := svc.HandleCallback(ctx, "bad-code")
	if err == nil {
		t.Fatal("expected error from HandleCallback")
	}
}
