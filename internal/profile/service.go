// Package profile はユーザープロフィールの参照・編集のドメインロジックを提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/profilehub/internal/model"
	"github.com/hitoshi/profilehub/internal/repository"
	"github.com/hitoshi/profilehub/internal/security"
	"github.com/hitoshi/profilehub/internal/storage"
)

// SessionIssuer はプロフィール更新後のセッショントークンを再発行する。
type SessionIssuer interface {
	IssueSession(user *model.User) (string, error)
}

// AvatarDeleteRecorder はアバター削除の失敗を記録する。
type AvatarDeleteRecorder interface {
	RecordAvatarDeleteFailure()
}

// UpdateRequest はプロフィールの部分更新リクエスト。nilのフィールドは変更しない。
type UpdateRequest struct {
	Name         *string
	Bio          *string
	CustomAvatar *string
}

// UpdateResult はプロフィール更新の結果。
// Tokenは更新後のプロフィールを反映した新しいセッショントークン。
// 変更がなかった場合は空で、既存のセッションをそのまま使う。
type UpdateResult struct {
	User  *model.User
	Token string
}

// Service はプロフィール管理のサービス層。
type Service struct {
	userRepo  repository.UserRepository
	sanitizer security.TextSanitizer
	avatars   storage.AvatarStore
	sessions  SessionIssuer
	recorder  AvatarDeleteRecorder
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sanitizer security.TextSanitizer,
	avatars storage.AvatarStore,
	sessions SessionIssuer,
	recorder AvatarDeleteRecorder,
) *Service {
	return &Service{
		userRepo:  userRepo,
		sanitizer: sanitizer,
		avatars:   avatars,
		sessions:  sessions,
		recorder:  recorder,
		now:       time.Now,
	}
}

// GetProfile はユーザーのプロフィールを取得する。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByExternalID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateProfile はプロフィールを部分更新し、新しいセッショントークンを発行する。
// 入力の検証はDBに触れる前に行う。
// カスタムアバターが置き換えられた場合、管理バケット上の旧画像を更新成功後に削除する。
// 削除の失敗はログとメトリクスに記録するのみで、呼び出し元には返さない。
func (s *Service) UpdateProfile(ctx context.Context, userID string, req UpdateRequest) (*UpdateResult, error) {
	changes, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	current, err := s.userRepo.FindByExternalID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if current == nil {
		return nil, model.NewUserNotFoundError()
	}

	// 変更なしの場合は更新日時もトークンも据え置く
	if changes.IsEmpty() {
		return &UpdateResult{User: current}, nil
	}

	updated, err := s.userRepo.UpdateProfile(ctx, userID, changes, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if updated == nil {
		return nil, model.NewUserNotFoundError()
	}

	if changes.CustomAvatar != nil && current.CustomAvatar != "" && current.CustomAvatar != *changes.CustomAvatar {
		s.deleteOldAvatar(ctx, userID, current.CustomAvatar)
	}

	token, err := s.sessions.IssueSession(updated)
	if err != nil {
		return nil, err
	}

	return &UpdateResult{User: updated, Token: token}, nil
}

// validate はリクエストを検証し、サニタイズ済みの変更内容を返す。
func (s *Service) validate(req UpdateRequest) (model.ProfileChanges, error) {
	var changes model.ProfileChanges

	if req.Bio != nil {
		if utf8.RuneCountInString(*req.Bio) > model.BioMaxLength {
			return changes, model.NewValidationError(
				fmt.Sprintf("Bio must be %d characters or less", model.BioMaxLength),
			)
		}
		bio := s.sanitizer.Sanitize(*req.Bio)
		changes.Bio = &bio
	}

	if req.Name != nil {
		name := s.sanitizer.Sanitize(*req.Name)
		if name == "" {
			return changes, model.NewValidationError("Name must not be empty")
		}
		changes.Name = &name
	}

	if req.CustomAvatar != nil {
		avatar := strings.TrimSpace(*req.CustomAvatar)
		if avatar != "" && !isHTTPURL(avatar) {
			return changes, model.NewValidationError("customAvatar must be an absolute http(s) URL")
		}
		changes.CustomAvatar = &avatar
	}

	return changes, nil
}

// deleteOldAvatar は管理バケット上の旧アバターを削除する。
func (s *Service) deleteOldAvatar(ctx context.Context, userID, oldURL string) {
	if s.avatars == nil || !s.avatars.IsManaged(oldURL) {
		return
	}

	if err := s.avatars.Delete(ctx, oldURL); err != nil && !errors.Is(err, storage.ErrNotManaged) {
		slog.Warn("failed to delete old avatar",
			slog.String("user_id", userID),
			slog.String("url", oldURL),
			slog.String("error", err.Error()),
		)
		if s.recorder != nil {
			s.recorder.RecordAvatarDeleteFailure()
		}
	}
}

// isHTTPURL はsがホストを持つ絶対http(s) URLかどうかを判定する。
func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
