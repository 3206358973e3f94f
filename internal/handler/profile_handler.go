package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/profilehub/internal/model"
	"github.com/hitoshi/profilehub/internal/profile"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, req profile.UpdateRequest) (*profile.UpdateResult, error)
}

// ProfileHandler はプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
	cookie  SessionCookieWriter
}

// NewProfileHandler はProfileHandlerを生成する。
// cookieはプロフィール更新後に再発行したセッショントークンの書き込みに使う。
func NewProfileHandler(service ProfileServiceInterface, cookie SessionCookieWriter) *ProfileHandler {
	return &ProfileHandler{
		service: service,
		cookie:  cookie,
	}
}

// profileResponse はGET /profileのレスポンス。
type profileResponse struct {
	GoogleID     string    `json:"googleId"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Picture      string    `json:"picture"`
	CustomAvatar string    `json:"customAvatar"`
	Bio          string    `json:"bio"`
	CreatedAt    time.Time `json:"createdAt"`
	LastLogin    time.Time `json:"lastLogin"`
}

// updatedUserResponse はPATCH /profileのレスポンスに含めるユーザー情報。
// pictureは表示用のアバター（カスタムアバター優先）。
type updatedUserResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Bio     string `json:"bio"`
}

// updateProfileRequest はPATCH /profileのリクエストボディ。
// 省略されたフィールドは変更しない。
type updateProfileRequest struct {
	Name         *string `json:"name"`
	Bio          *string `json:"bio"`
	CustomAvatar *string `json:"customAvatar"`
}

// GetProfile はログインユーザーのプロフィールを返す。
// GET /profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		GoogleID:     user.ExternalID,
		Email:        user.Email,
		Name:         user.Name,
		Picture:      user.Picture,
		CustomAvatar: user.CustomAvatar,
		Bio:          user.Bio,
		CreatedAt:    user.CreatedAt,
		LastLogin:    user.LastLogin,
	})
}

// UpdateProfile はログインユーザーのプロフィールを部分更新する。
// PATCH /profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	result, err := h.service.UpdateProfile(r.Context(), userID, profile.UpdateRequest{
		Name:         req.Name,
		Bio:          req.Bio,
		CustomAvatar: req.CustomAvatar,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 表示名やアバターの変更をセッションに反映する
	if result.Token != "" {
		h.cookie.Write(w, result.Token)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user": updatedUserResponse{
			ID:      result.User.ExternalID,
			Email:   result.User.Email,
			Name:    result.User.Name,
			Picture: result.User.AvatarURL(),
			Bio:     result.User.Bio,
		},
	})
}
