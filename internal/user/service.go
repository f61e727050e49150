// Package user はユーザーリソースのドメインロジックを提供する。
package user

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
)

// CreateInput はユーザー作成のリクエスト内容。
type CreateInput struct {
	Email          string
	Password       string
	Name           string
	LastName       string
	Role           model.Role
	RegisterMethod model.RegisterMethod
	ProfilePic     string
}

// UpdateInput はユーザー更新のリクエスト内容。
// nilのフィールドは変更しない部分更新を行う。
type UpdateInput struct {
	Name       *string
	LastName   *string
	Password   *string
	ProfilePic *string
	Role       *model.Role
}

// Service はユーザーリソースのサービス層。
type Service struct {
	userRepo  repository.UserRepository
	hasher    security.Hasher
	sanitizer security.ProfileSanitizerService
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	hasher security.Hasher,
	sanitizer security.ProfileSanitizerService,
) *Service {
	return &Service{
		userRepo:  userRepo,
		hasher:    hasher,
		sanitizer: sanitizer,
	}
}

// Create はユーザーを作成する。
// パスワードはbcryptハッシュとして保存し、表示名フィールドはサニタイズする。
// ロール未指定の場合はuserとして作成する。
func (s *Service) Create(ctx context.Context, input CreateInput) (*model.User, error) {
	role := input.Role
	if role == "" {
		role = model.RoleUser
	}
	if !role.IsValid() {
		role = model.RoleUser
	}

	registerMethod := input.RegisterMethod
	if !registerMethod.IsValid() {
		registerMethod = model.RegisterMethodEmail
	}

	hashed := ""
	if input.Password != "" {
		var err error
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
		Role:           role,
		RegisterMethod: registerMethod,
		ProfilePic:     input.ProfilePic,
		Password:       hashed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if model.IsCode(err, model.ErrCodeAlreadyExists) {
			return nil, err
		}
		return nil, model.NewPersistenceError(err)
	}

	slog.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return user, nil
}

// GetByID は指定IDのユーザーを取得する。
func (s *Service) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewPersistenceError(err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// GetByEmail はメールアドレスでユーザーを取得する。
func (s *Service) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewPersistenceError(err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Update はユーザー情報を部分更新する。
// パスワード変更時は再ハッシュし、表示名はサニタイズする。
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*model.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		user.Name = s.sanitizer.Sanitize(*input.Name)
	}
	if input.LastName != nil {
		user.LastName = s.sanitizer.Sanitize(*input.LastName)
	}
	if input.ProfilePic != nil {
		user.ProfilePic = *input.ProfilePic
	}
	if input.Role != nil && input.Role.IsValid() {
		user.Role = *input.Role
	}
	if input.Password != nil && *input.Password != "" {
		hashed, err := s.hasher.HashPassword(*input.Password)
		if err != nil {
			return nil, model.NewHashError(err)
		}
		user.Password = hashed
	}
	user.UpdatedAt = time.Now()

	if err := s.userRepo.Update(ctx, user); err != nil {
		if model.IsCode(err, model.ErrCodeUserNotFound) || model.IsCode(err, model.ErrCodeAlreadyExists) {
			return nil, err
		}
		return nil, model.NewPersistenceError(err)
	}

	slog.Info("user updated", slog.String("user_id", user.ID))
	return user, nil
}

// Delete は指定IDのユーザーを削除する。
// 関連するrefresh_tokensはCASCADE削除され、全セッションが即時失効する。
func (s *Service) Delete(ctx context.Context, id string) error {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return model.NewPersistenceError(err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if err := s.userRepo.DeleteByID(ctx, id); err != nil {
		if model.IsCode(err, model.ErrCodeUserNotFound) {
			return err
		}
		return model.NewPersistenceError(err)
	}

	slog.Info("user deleted", slog.String("user_id", id))
	return nil
}
