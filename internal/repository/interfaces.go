// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/profilehub/internal/model"
)

var (
	// ErrDuplicate は一意制約（external_id、email）に違反したことを示す。
	ErrDuplicate = errors.New("duplicate record")
	// ErrOwnerNotFound は住所の所有者となるユーザーが存在しないことを示す。
	ErrOwnerNotFound = errors.New("owner user not found")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByExternalID は外部IDでユーザーを取得する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)

	// Create はユーザーを作成する。
	// external_idまたはemailが既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// RecordLogin は最終ログイン日時を更新する。
	// pictureがnilでなければIdPのアバターURLも更新する。
	// 見つからない場合はnilを返す。
	RecordLogin(ctx context.Context, externalID string, picture *string, at time.Time) (*model.User, error)

	// UpdateProfile はプロフィールを部分更新する。
	// changesのnilフィールドは変更しない。見つからない場合はnilを返す。
	UpdateProfile(ctx context.Context, externalID string, changes model.ProfileChanges, at time.Time) (*model.User, error)
}

// AddressRepository は住所データの永続化インターフェース。
// 更新・削除は所有者IDを条件に含め、他ユーザーの住所を変更できないようにする。
type AddressRepository interface {
	// ListByOwner は所有者の住所一覧を作成日時の昇順で返す。
	ListByOwner(ctx context.Context, ownerExternalID string) ([]*model.Address, error)

	// FindByID は指定IDの住所を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Address, error)

	// Create は住所を作成する。
	// 所有者のユーザーが存在しない場合はErrOwnerNotFoundを返す。
	Create(ctx context.Context, address *model.Address) error

	// UpdateForOwner は所有者が一致する住所を更新する。
	// 更新対象の行が存在した場合にtrueを返す。
	UpdateForOwner(ctx context.Context, address *model.Address) (bool, error)

	// DeleteForOwner は所有者が一致する住所を削除する。
	// 削除対象の行が存在した場合にtrueを返す。
	DeleteForOwner(ctx context.Context, id, ownerExternalID string) (bool, error)
}
