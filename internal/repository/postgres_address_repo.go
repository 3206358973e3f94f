package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/profilehub/internal/model"
)

const addressColumns = `id, owner_external_id, label, city, state, postal_code, country, created_at, updated_at`

// PostgresAddressRepo はPostgreSQLを使用した住所リポジトリ。
type PostgresAddressRepo struct {
	db *sql.DB
}

// NewPostgresAddressRepo はPostgresAddressRepoを生成する。
func NewPostgresAddressRepo(db *sql.DB) *PostgresAddressRepo {
	return &PostgresAddressRepo{db: db}
}

// ListByOwner は所有者の住所一覧を作成日時の昇順で返す。
func (r *PostgresAddressRepo) ListByOwner(ctx context.Context, ownerExternalID string) ([]*model.Address, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+addressColumns+`
		 FROM addresses WHERE owner_external_id = $1
		 ORDER BY created_at ASC, id ASC`,
		ownerExternalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	defer rows.Close()

	addresses := make([]*model.Address, 0)
	for rows.Next() {
		a := &model.Address{}
		if err := rows.Scan(
			&a.ID, &a.OwnerExternalID, &a.Label, &a.City, &a.State, &a.PostalCode, &a.Country,
			&a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		addresses = append(addresses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate addresses: %w", err)
	}
	return addresses, nil
}

// FindByID は指定IDの住所を取得する。
// UUIDとして不正なIDはDBに問い合わせず、見つからない扱いとしてnilを返す。
func (r *PostgresAddressRepo) FindByID(ctx context.Context, id string) (*model.Address, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	a := &model.Address{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE id = $1`,
		id,
	).Scan(
		&a.ID, &a.OwnerExternalID, &a.Label, &a.City, &a.State, &a.PostalCode, &a.Country,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find address by ID: %w", err)
	}
	return a, nil
}

// Create は住所を作成する。
func (r *PostgresAddressRepo) Create(ctx context.Context, a *model.Address) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO addresses (`+addressColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.OwnerExternalID, string(a.Label), a.City, a.State, a.PostalCode, a.Country,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		switch pqErrorCode(err) {
		case pqForeignKeyViolation:
			return fmt.Errorf("failed to insert address: %w", ErrOwnerNotFound)
		case pqUniqueViolation:
			return fmt.Errorf("failed to insert address: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to insert address: %w", err)
	}
	return nil
}

// UpdateForOwner は所有者が一致する住所のラベルと各項目を更新する。
// 成功時はaのCreatedAtをDBの値で上書きする。
func (r *PostgresAddressRepo) UpdateForOwner(ctx context.Context, a *model.Address) (bool, error) {
	if _, err := uuid.Parse(a.ID); err != nil {
		return false, nil
	}

	err := r.db.QueryRowContext(ctx,
		`UPDATE addresses
		 SET label = $3, city = $4, state = $5, postal_code = $6, country = $7, updated_at = $8
		 WHERE id = $1 AND owner_external_id = $2
		 RETURNING created_at`,
		a.ID, a.OwnerExternalID, string(a.Label), a.City, a.State, a.PostalCode, a.Country, a.UpdatedAt,
	).Scan(&a.CreatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update address: %w", err)
	}
	return true, nil
}

// DeleteForOwner は所有者が一致する住所を削除する。
func (r *PostgresAddressRepo) DeleteForOwner(ctx context.Context, id, ownerExternalID string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM addresses WHERE id = $1 AND owner_external_id = $2`,
		id, ownerExternalID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete address: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ AddressRepository = (*PostgresAddressRepo)(nil)
