package auth

import (
	"context"
	"strings"
	"time"

	"classattend/internal/apperr"
)

// TokenStore is the persistence Devices needs.
type TokenStore interface {
	UpsertDevice(ctx context.Context, deviceID string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
	RevokeRefreshToken(ctx context.Context, token string, now time.Time) (bool, error)
}

// Devices registers kiosks and rotates their refresh tokens.
type Devices struct {
	store    TokenStore
	settings Settings
	now      func() time.Time
}

func NewDevices(store TokenStore, s Settings) *Devices {
	return &Devices{store: store, settings: s, now: time.Now}
}

// Register records deviceID and returns its first token pair.
func (d *Devices) Register(ctx context.Context, deviceID string) (TokenPair, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return TokenPair{}, apperr.BadRequestf("device_id is required")
	}
	if err := d.store.UpsertDevice(ctx, deviceID); err != nil {
		return TokenPair{}, apperr.Wrap(err, "register device")
	}
	return d.issue(ctx, deviceID)
}

// Refresh exchanges a live refresh token for a new pair. The presented token
// is revoked, so it works once.
func (d *Devices) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, apperr.BadRequestf("refresh_token is required")
	}
	claims, err := Parse(refreshToken, UseRefresh, d.settings)
	if err != nil {
		return TokenPair{}, apperr.BadRequestf("invalid refresh token")
	}
	ok, err := d.store.RevokeRefreshToken(ctx, refreshToken, d.now())
	if err != nil {
		return TokenPair{}, apperr.Wrap(err, "revoke refresh token")
	}
	if !ok {
		return TokenPair{}, apperr.BadRequestf("refresh token revoked or expired")
	}
	return d.issue(ctx, claims.Subject)
}

func (d *Devices) issue(ctx context.Context, deviceID string) (TokenPair, error) {
	pair, err := Issue(deviceID, RoleDevice, d.settings, d.now())
	if err != nil {
		return TokenPair{}, apperr.Wrap(err, "issue tokens")
	}
	if err := d.store.SaveRefreshToken(ctx, deviceID, pair.RefreshToken, pair.RefreshExp); err != nil {
		return TokenPair{}, apperr.Wrap(err, "save refresh token")
	}
	return pair, nil
}
