// Package vault provides secure on-device storage for token material. The
// file-backed implementation seals values at rest; on platforms without
// durable secure storage the explicit policy is to degrade to an in-memory
// vault that never persists (see Memory).
package vault

import (
	"context"
	"strconv"
	"time"

	"github.com/glucolog/glucolog/internal/errs"
	"github.com/glucolog/glucolog/internal/model"
)

// Well-known vault keys.
const (
	KeyAccessToken   = "access_token"
	KeyRefreshToken  = "refresh_token"
	KeyExpiresAt     = "expires_at"
	KeyUserID        = "user_id"
	KeyRotationCount = "rotation_count"
)

// Vault is a secure key-value store for token material.
type Vault interface {
	// Set stores a value under key.
	Set(ctx context.Context, key, value string) error
	// SetAll stores every pair in one write: either all pairs land or
	// none do.
	SetAll(ctx context.Context, pairs map[string]string) error
	// Get returns the value for key, errs.ErrNotFound if absent.
	Get(ctx context.Context, key string) (string, error)
	// Remove deletes a key; absent keys are not an error.
	Remove(ctx context.Context, key string) error
	// Clear removes every stored key. A no-op on an empty vault.
	Clear(ctx context.Context) error
	// Durable reports whether values survive process restart.
	Durable() bool
}

// StoreRecord writes every TokenRecord field under its well-known key in a
// single vault write, so a session is never observable half-stored.
func StoreRecord(ctx context.Context, v Vault, rec model.TokenRecord) error {
	return v.SetAll(ctx, map[string]string{
		KeyAccessToken:   rec.AccessToken,
		KeyRefreshToken:  rec.RefreshToken,
		KeyExpiresAt:     rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
		KeyUserID:        rec.UserID,
		KeyRotationCount: strconv.Itoa(rec.RotationCount),
	})
}

// LoadRecord reads the TokenRecord back, errs.ErrNoToken when no access
// token is stored.
func LoadRecord(ctx context.Context, v Vault) (model.TokenRecord, error) {
	access, err := v.Get(ctx, KeyAccessToken)
	if err != nil {
		return model.TokenRecord{}, errs.ErrNoToken
	}
	rec := model.TokenRecord{AccessToken: access}
	if rt, err := v.Get(ctx, KeyRefreshToken); err == nil {
		rec.RefreshToken = rt
	}
	if uid, err := v.Get(ctx, KeyUserID); err == nil {
		rec.UserID = uid
	}
	if raw, err := v.Get(ctx, KeyExpiresAt); err == nil {
		if t, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
			rec.ExpiresAt = t
		}
	}
	if raw, err := v.Get(ctx, KeyRotationCount); err == nil {
		if n, perr := strconv.Atoi(raw); perr == nil {
			rec.RotationCount = n
		}
	}
	return rec, nil
}
