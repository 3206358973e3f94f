package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/profilehub/internal/model"
)

const userColumns = `external_id, email, name, picture, custom_avatar, bio, created_at, updated_at, last_login`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByExternalID は外部IDでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_id = $1`,
		externalID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by external ID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ExternalID, user.Email, user.Name, user.Picture, user.CustomAvatar, user.Bio,
		user.CreatedAt, user.UpdatedAt, user.LastLogin,
	)
	if err != nil {
		if pqErrorCode(err) == pqUniqueViolation {
			return fmt.Errorf("failed to insert user: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// RecordLogin は最終ログイン日時を更新する。pictureがnilの場合は既存のアバターURLを維持する。
func (r *PostgresUserRepo) RecordLogin(ctx context.Context, externalID string, picture *string, at time.Time) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET picture = COALESCE($2, picture), last_login = $3, updated_at = $3
		 WHERE external_id = $1
		 RETURNING `+userColumns,
		externalID, nullableString(picture), at,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	return user, nil
}

// UpdateProfile はプロフィールを部分更新し、更新後のユーザーを返す。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, externalID string, changes model.ProfileChanges, at time.Time) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET name = COALESCE($2, name),
		     bio = COALESCE($3, bio),
		     custom_avatar = COALESCE($4, custom_avatar),
		     updated_at = $5
		 WHERE external_id = $1
		 RETURNING `+userColumns,
		externalID,
		nullableString(changes.Name),
		nullableString(changes.Bio),
		nullableString(changes.CustomAvatar),
		at,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ExternalID, &user.Email, &user.Name, &user.Picture, &user.CustomAvatar, &user.Bio,
		&user.CreatedAt, &user.UpdatedAt, &user.LastLogin,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// nullableString はnilをSQLのNULLに変換する。
func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
