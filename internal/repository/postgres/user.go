// Package postgres implements sqlx-backed repositories.
package postgres

import (
	"context"
	"database/sql"

	"skycast/internal/domain"
	"skycast/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, email, password_hash, name, role, device_id, share_data, created_at, updated_at`

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (
			id, email, password_hash, name, role, share_data, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Name, user.Role,
		user.ShareData, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create user")
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `SELECT` + userColumns + ` FROM users WHERE id = $1`

	err := r.db.GetContext(ctx, &user, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find user")
	}
	return &user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	query := `SELECT` + userColumns + ` FROM users WHERE email = LOWER($1)`

	err := r.db.GetContext(ctx, &user, query, email)
	if err == sql.ErrNoRows {
		return nil, errors.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find user")
	}
	return &user, nil
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = LOWER($1))`

	err := r.db.GetContext(ctx, &exists, query, email)
	if err != nil {
		return false, errors.Wrap(err, "failed to check user existence")
	}
	return exists, nil
}

// UpdateSettings persists the mutable profile fields.
func (r *UserRepository) UpdateSettings(ctx context.Context, id uuid.UUID, name string, shareData bool) (*domain.User, error) {
	var user domain.User
	query := `
		UPDATE users SET
			name = $1,
			share_data = $2,
			updated_at = NOW()
		WHERE id = $3
		RETURNING` + userColumns

	err := r.db.GetContext(ctx, &user, query, name, shareData, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to update settings")
	}
	return &user, nil
}

// SetDeviceID updates the device back-reference; nil clears it. The device
// row is the source of truth for ownership, this pointer is derived data.
func (r *UserRepository) SetDeviceID(ctx context.Context, id uuid.UUID, deviceID *uuid.UUID) error {
	query := `
		UPDATE users SET
			device_id = $1,
			updated_at = NOW()
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, deviceID, id)
	return errors.Wrap(err, "failed to set device reference")
}
