// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// userResponse はユーザー情報のレスポンス表現。
// パスワードハッシュは絶対に含めない。
type userResponse struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	LastName       string    `json:"lastName"`
	Role           string    `json:"role"`
	RegisterMethod string    `json:"registerMethod"`
	ProfilePic     string    `json:"profilePic,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// toUserResponse はドメインのUserをレスポンス表現に変換する。
func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		LastName:       u.LastName,
		Role:           string(u.Role),
		RegisterMethod: string(u.RegisterMethod),
		ProfilePic:     u.ProfilePic,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// errorResponseBody はAPIエラーレスポンスの統一フォーマット。
type errorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSONResponse(w, statusCode, errorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層のエラーをHTTPレスポンスにマッピングする。
// APIError以外のエラーと5xx系のAPIErrorは詳細をログのみに記録し、
// クライアントには一般的なメッセージを返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		if statusCode >= 500 {
			slog.Error("internal server error",
				slog.String("code", apiErr.Code),
				slog.String("error", apiErr.Error()),
			)
			writeInternalError(w)
			return
		}
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	writeInternalError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeAlreadyExists:
		return http.StatusConflict
	case model.ErrCodeNoPassword, model.ErrCodeInvalidPassword, model.ErrCodeExpiredOrInvalid:
		return http.StatusUnauthorized
	case model.ErrCodeIssueTokenFailed, model.ErrCodePersistenceFailure, model.ErrCodeHashFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeInternalError は内部サーバーエラーの統一レスポンスを書き込む。
func writeInternalError(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// decodeJSONBody はリクエストボディをJSONとしてデコードする。
func decodeJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
