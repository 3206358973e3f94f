// Package auth はOAuth認証フロー、セッショントークンの発行・検証、セッションCookieを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/profilehub/internal/model"
	"github.com/hitoshi/profilehub/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Picture        string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL time.Duration // セッショントークンの有効期間（固定、延長しない）
}

// LoginResult はOAuthコールバック処理の結果。
type LoginResult struct {
	User  *model.User
	Token string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth    OAuthProvider
	userRepo repository.UserRepository
	codec    *TokenCodec
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	codec *TokenCodec,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:    oauth,
		userRepo: userRepo,
		codec:    codec,
		config:   config,
		now:      time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッショントークンを発行する。
// ユーザーは外部IDをキーにUPSERTされるため、同じIdPアカウントで何度ログインしても
// usersレコードは1件のままとなる。
func (s *Service) HandleCallback(ctx context.Context, code string) (*LoginResult, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. ローカルのユーザーをUPSERT
	user, err := s.upsertUser(ctx, userInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// 3. セッショントークンを発行
	token, err := s.IssueSession(user)
	if err != nil {
		return nil, err
	}

	return &LoginResult{User: user, Token: token}, nil
}

// IssueSession はユーザーのセッショントークンを発行する。
// アバターはカスタムアバターがあればそれを、なければIdPのアバターを使用する。
func (s *Service) IssueSession(user *model.User) (string, error) {
	token, err := s.codec.Issue(SessionClaims{
		SubjectID:   user.ExternalID,
		Email:       user.Email,
		DisplayName: user.Name,
		AvatarURL:   user.AvatarURL(),
	}, s.config.SessionTTL)
	if err != nil {
		return "", fmt.Errorf("failed to issue session token: %w", err)
	}
	return token, nil
}

// upsertUser は外部IDでユーザーを検索し、未登録なら作成、登録済みならログイン情報を更新する。
func (s *Service) upsertUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	existing, err := s.userRepo.FindByExternalID(ctx, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	now := s.now().UTC()

	if existing == nil {
		newUser := &model.User{
			ExternalID: info.ProviderUserID,
			Email:      info.Email,
			Name:       info.Name,
			Picture:    info.Picture,
			CreatedAt:  now,
			UpdatedAt:  now,
			LastLogin:  now,
		}

		err := s.userRepo.Create(ctx, newUser)
		if err == nil {
			slog.Info("new user created",
				slog.String("user_id", newUser.ExternalID),
				slog.String("provider", info.Provider),
			)
			return newUser, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}

		// 同時ログインで先に作成された場合は再取得して更新に回す
		existing, err = s.userRepo.FindByExternalID(ctx, info.ProviderUserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user after conflict: %w", err)
		}
		if existing == nil {
			// 外部IDではなくemailが重複している
			return nil, fmt.Errorf("email is already registered to another account: %w", repository.ErrDuplicate)
		}
	}

	// カスタムアバターが設定済みの場合はIdPのアバターで上書きしない
	var picture *string
	if existing.CustomAvatar == "" && info.Picture != "" {
		picture = &info.Picture
	}

	updated, err := s.userRepo.RecordLogin(ctx, existing.ExternalID, picture, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("user disappeared during login: %s", existing.ExternalID)
	}

	slog.Info("existing user logged in",
		slog.String("user_id", updated.ExternalID),
		slog.String("provider", info.Provider),
	)
	return updated, nil
}
