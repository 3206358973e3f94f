// Package address はユーザーが登録する住所のドメインロジックを提供する。
//
// 住所は常にセッションのユーザーIDを所有者として扱い、
// クライアントから所有者IDを受け取ることはない。
package address

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/profilehub/internal/model"
	"github.com/hitoshi/profilehub/internal/repository"
)

// Service は住所管理のサービス層。
// 作成・更新・削除の成功時は呼び出し元の住所一覧を返す。
type Service struct {
	repo repository.AddressRepository
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.AddressRepository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// List はユーザーの住所一覧を返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Address, error) {
	addresses, err := s.repo.ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	return addresses, nil
}

// Create は住所を作成し、作成後の住所一覧を返す。
func (s *Service) Create(ctx context.Context, userID string, input model.AddressInput) ([]*model.Address, error) {
	normalized, err := validateInput(input)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	address := &model.Address{
		ID:              uuid.New().String(),
		OwnerExternalID: userID,
		Label:           model.AddressLabel(normalized.Label),
		City:            normalized.City,
		State:           normalized.State,
		PostalCode:      normalized.PostalCode,
		Country:         normalized.Country,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Create(ctx, address); err != nil {
		if errors.Is(err, repository.ErrOwnerNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("failed to create address: %w", err)
	}

	return s.List(ctx, userID)
}

// Update は呼び出し元が所有する住所を更新し、更新後の住所一覧を返す。
// 住所が存在しなければ404、他ユーザーの住所であれば403を返す。
func (s *Service) Update(ctx context.Context, userID, addressID string, input model.AddressInput) ([]*model.Address, error) {
	if strings.TrimSpace(addressID) == "" {
		return nil, model.NewValidationError("addressId is required")
	}
	normalized, err := validateInput(input)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, userID, addressID); err != nil {
		return nil, err
	}

	ok, err := s.repo.UpdateForOwner(ctx, &model.Address{
		ID:              addressID,
		OwnerExternalID: userID,
		Label:           model.AddressLabel(normalized.Label),
		City:            normalized.City,
		State:           normalized.State,
		PostalCode:      normalized.PostalCode,
		Country:         normalized.Country,
		UpdatedAt:       s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update address: %w", err)
	}
	if !ok {
		// 確認後に削除された
		return nil, model.NewAddressNotFoundError(addressID)
	}

	return s.List(ctx, userID)
}

// Delete は呼び出し元が所有する住所を削除し、削除後の住所一覧を返す。
// 住所が存在しなければ404、他ユーザーの住所であれば403を返す。
func (s *Service) Delete(ctx context.Context, userID, addressID string) ([]*model.Address, error) {
	if strings.TrimSpace(addressID) == "" {
		return nil, model.NewValidationError("addressId is required")
	}

	if err := s.authorize(ctx, userID, addressID); err != nil {
		return nil, err
	}

	ok, err := s.repo.DeleteForOwner(ctx, addressID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete address: %w", err)
	}
	if !ok {
		return nil, model.NewAddressNotFoundError(addressID)
	}

	return s.List(ctx, userID)
}

// authorize は住所が存在し、userIDが所有者であることを確認する。
func (s *Service) authorize(ctx context.Context, userID, addressID string) error {
	existing, err := s.repo.FindByID(ctx, addressID)
	if err != nil {
		return fmt.Errorf("failed to find address: %w", err)
	}
	if existing == nil {
		return model.NewAddressNotFoundError(addressID)
	}
	if existing.OwnerExternalID != userID {
		return model.NewForbiddenError()
	}
	return nil
}

// validateInput は必須項目とラベルを検証し、前後の空白を除いた入力を返す。
func validateInput(input model.AddressInput) (model.AddressInput, error) {
	normalized := model.AddressInput{
		Label:      strings.TrimSpace(input.Label),
		City:       strings.TrimSpace(input.City),
		State:      strings.TrimSpace(input.State),
		PostalCode: strings.TrimSpace(input.PostalCode),
		Country:    strings.TrimSpace(input.Country),
	}

	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"label", normalized.Label},
		{"city", normalized.City},
		{"state", normalized.State},
		{"postalCode", normalized.PostalCode},
		{"country", normalized.Country},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return normalized, model.NewValidationError("Missing required fields: " + strings.Join(missing, ", "))
	}

	if !model.AddressLabel(normalized.Label).Valid() {
		return normalized, model.NewValidationError("label must be one of Work, Home, Friend, Other")
	}

	return normalized, nil
}
