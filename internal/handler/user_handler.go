package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	Update(ctx context.Context, id string, input user.UpdateInput) (*model.User, error)
	Delete(ctx context.Context, id string) error
}

// UserHandler はユーザーリソースのHTTPハンドラー。
// 各操作は本人または管理者のみ実行できる。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// updateUserRequest はユーザー更新のリクエストボディ。
// 省略されたフィールドは変更しない。
type updateUserRequest struct {
	Name       *string `json:"name"`
	LastName   *string `json:"lastName"`
	Password   *string `json:"password"`
	ProfilePic *string `json:"profilePic"`
	Role       *string `json:"role"`
}

// GetUser は指定IDのユーザー情報を返す。
// GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	targetID, ok := h.authorizeSelfOrAdmin(w, r)
	if !ok {
		return
	}

	u, err := h.service.GetByID(r.Context(), targetID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toUserResponse(u))
}

// UpdateUser は指定IDのユーザー情報を部分更新する。
// PATCH /api/users/{id}
//
// ロールの変更は管理者のみ可能。
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	targetID, ok := h.authorizeSelfOrAdmin(w, r)
	if !ok {
		return
	}

	var req updateUserRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	input := user.UpdateInput{
		Name:       req.Name,
		LastName:   req.LastName,
		Password:   req.Password,
		ProfilePic: req.ProfilePic,
	}

	if req.Role != nil {
		claims, err := middleware.ClaimsFromContext(r.Context())
		if err != nil || claims.Role != model.RoleAdmin {
			writeAPIErrorResponse(w, http.StatusForbidden, forbiddenError())
			return
		}
		role := model.Role(*req.Role)
		if !role.IsValid() {
			writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
			return
		}
		input.Role = &role
	}

	u, err := h.service.Update(r.Context(), targetID, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toUserResponse(u))
}

// DeleteUser は指定IDのユーザーを削除する。
// DELETE /api/users/{id}
//
// 関連するリフレッシュトークンはストレージのCASCADE削除で処理される。
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	targetID, ok := h.authorizeSelfOrAdmin(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), targetID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// authorizeSelfOrAdmin は対象ユーザーIDを取り出し、
// リクエスト主体が本人または管理者であることを確認する。
// 認可に失敗した場合はレスポンスを書き込み、falseを返す。
func (h *UserHandler) authorizeSelfOrAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	targetID := chi.URLParam(r, "id")
	if targetID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return "", false
	}

	claims, err := middleware.ClaimsFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewExpiredOrInvalidTokenError())
		return "", false
	}

	if claims.UserID != targetID && claims.Role != model.RoleAdmin {
		writeAPIErrorResponse(w, http.StatusForbidden, forbiddenError())
		return "", false
	}

	return targetID, true
}

// forbiddenError は権限不足時のエラーを返す。
func forbiddenError() *model.APIError {
	return &model.APIError{
		Code:     "FORBIDDEN",
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
	}
}
