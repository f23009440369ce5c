package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository keeps kiosk devices and their refresh tokens in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertDevice registers deviceID; registering twice is not an error.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id) VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, device_id, expires_at) VALUES ($1, $2, $3)
	`, token, deviceID, expiresAt)
	return err
}

// RevokeRefreshToken marks token revoked and reports whether it was still
// live. Exactly one concurrent caller sees true for a given token.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string, now time.Time) (bool, error) {
	var deviceID string
	err := r.db.QueryRowContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND NOT revoked AND expires_at > $2
		RETURNING device_id
	`, token, now).Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
