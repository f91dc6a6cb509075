package api

import (
	"context"
	"encoding/hex"
	"errors"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/glucolog/glucolog/internal/errs"
	"github.com/glucolog/glucolog/internal/model"
	"github.com/glucolog/glucolog/internal/vault"
)

// fallbackAccessTTL is assumed when the backend token carries no exp claim.
const fallbackAccessTTL = 15 * time.Minute

// tokenResponse is the backend token endpoint payload. No refresh token is
// issued; refresh is simulated client-side.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login authenticates against POST /token, then fetches the profile and
// composes a unified AuthResult. The network leg is retried once before
// surfacing, per the interactive-caller policy; application rejections are
// never retried.
func (c *Client) Login(ctx context.Context, username, password string) (model.AuthResult, error) {
	var tok tokenResponse
	backoff := retry.WithMaxRetries(1, retry.NewConstant(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		form := url.Values{}
		form.Set("username", username)
		form.Set("password", password)
		if err := c.doForm(ctx, "/token", form, &tok); err != nil {
			if errors.Is(err, errs.ErrNetwork) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return model.AuthResult{}, err
	}

	profile, err := c.GetProfile(ctx, tok.AccessToken)
	if err != nil {
		return model.AuthResult{}, err
	}
	switch {
	case profile.Blocked:
		return model.AuthResult{}, errs.ErrAccountDisabled
	case profile.State == "pending":
		return model.AuthResult{}, errs.ErrAccountPending
	}

	expiresAt := tokenExpiry(tok.AccessToken)
	rec := model.TokenRecord{
		AccessToken: tok.AccessToken,
		ExpiresAt:   expiresAt,
		UserID:      profile.DNI,
	}
	if c.vault.Durable() {
		// Opaque client-held refresh token; validated against vault state on
		// every simulated rotation.
		raw, err := vault.RandBytes(32)
		if err != nil {
			return model.AuthResult{}, err
		}
		rec.RefreshToken = hex.EncodeToString(raw)
	}
	if err := vault.StoreRecord(ctx, c.vault, rec); err != nil {
		return model.AuthResult{}, err
	}

	c.log.Info("login ok", zap.String("user", profile.DNI), zap.Time("expires", expiresAt))
	return model.AuthResult{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresIn:    time.Until(expiresAt),
		User:         profile,
	}, nil
}

// GetProfile fetches GET /users/me. A 401 surfaces as ErrInvalidCredentials
// so the caller can refresh or re-login.
func (c *Client) GetProfile(ctx context.Context, accessToken string) (model.UserProfile, error) {
	var p model.UserProfile
	if err := c.doJSON(ctx, "GET", "/users/me", accessToken, nil, &p); err != nil {
		return model.UserProfile{}, err
	}
	return p, nil
}

// Register creates an account via POST /users/. Outside the sync-critical
// path.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.doJSON(ctx, "POST", "/users/", "", req, nil)
}

// RegisterRequest is the registration payload.
type RegisterRequest struct {
	DNI      string `json:"dni"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AccessToken returns the current vault access token, errs.ErrNoToken when
// absent.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	rec, err := vault.LoadRecord(ctx, c.vault)
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

// ShouldRefresh reports whether a proactive refresh is due: only on
// platforms with persisted tokens, and only once the remaining lifetime
// drops below the threshold. Without a persisted token it is always false.
func (c *Client) ShouldRefresh(ctx context.Context) bool {
	if !c.vault.Durable() {
		return false
	}
	rec, err := vault.LoadRecord(ctx, c.vault)
	if err != nil || rec.RefreshToken == "" {
		return false
	}
	return time.Until(rec.ExpiresAt) <= c.refreshThreshold
}

// Refresh performs a client-simulated rotation: it validates the presented
// refresh token against vault state, enforces the rotation ceiling, and
// mints a fresh access token with a new expiry. Concurrent callers collapse
// into a single rotation and share its result. ErrRotationExhausted is not
// retryable; the caller must force a full re-login.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.AuthResult, error) {
	v, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		return c.refreshLocked(ctx, refreshToken)
	})
	if err != nil {
		return model.AuthResult{}, err
	}
	return v.(model.AuthResult), nil
}

func (c *Client) refreshLocked(ctx context.Context, refreshToken string) (model.AuthResult, error) {
	rec, err := vault.LoadRecord(ctx, c.vault)
	if err != nil {
		return model.AuthResult{}, errs.ErrNoToken
	}
	if rec.RefreshToken == "" || rec.RefreshToken != refreshToken {
		return model.AuthResult{}, errs.ErrInvalidRefreshToken
	}
	if rec.RotationCount >= c.maxRotations {
		// Ceiling hit: nothing is written; the session is over.
		c.log.Warn("rotation ceiling reached", zap.Int("rotations", rec.RotationCount))
		return model.AuthResult{}, errs.ErrRotationExhausted
	}

	now := time.Now()
	expiresAt := now.Add(fallbackAccessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   rec.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signKey)
	if err != nil {
		return model.AuthResult{}, err
	}

	rec.AccessToken = signed
	rec.ExpiresAt = expiresAt
	rec.RotationCount++
	if err := vault.StoreRecord(ctx, c.vault, rec); err != nil {
		return model.AuthResult{}, err
	}

	c.log.Info("token rotated", zap.Int("rotation", rec.RotationCount), zap.Time("expires", expiresAt))
	return model.AuthResult{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresIn:    time.Until(expiresAt),
	}, nil
}

// RefreshSession rotates using the refresh token currently in the vault.
// Used by the sync engine on a 401; interactive callers pass their own
// token through Refresh.
func (c *Client) RefreshSession(ctx context.Context) (model.AuthResult, error) {
	rec, err := vault.LoadRecord(ctx, c.vault)
	if err != nil {
		return model.AuthResult{}, errs.ErrNoToken
	}
	if rec.RefreshToken == "" {
		return model.AuthResult{}, errs.ErrInvalidRefreshToken
	}
	return c.Refresh(ctx, rec.RefreshToken)
}

// Logout clears every token key from the vault. A no-op when nothing is
// stored, and never a network call.
func (c *Client) Logout(ctx context.Context) error {
	return c.vault.Clear(ctx)
}

// tokenExpiry extracts the exp claim without verifying the signature (the
// backend signed it; the client only needs the timestamp).
func tokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	_, _, err := parser.ParseUnverified(token, &claims)
	if err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Now().Add(fallbackAccessTTL)
}
