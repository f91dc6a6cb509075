// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Storage and lookup sentinels.
var (
	// ErrNotFound indicates the requested entity does not exist locally.
	ErrNotFound = errors.New("not found")

	// ErrStorage indicates a local store I/O failure (quota, corruption).
	// Not retryable; callers surface it to the user.
	ErrStorage = errors.New("storage failure")
)

// Network and backend sentinels.
var (
	// ErrNetwork indicates a transient connectivity failure or timeout.
	// Retryable with backoff by the sync engine.
	ErrNetwork = errors.New("network unreachable")

	// ErrServer indicates a 5xx backend response. Retryable with backoff.
	ErrServer = errors.New("server error")

	// ErrValidation indicates the backend rejected a malformed payload (4xx).
	// Never retried automatically.
	ErrValidation = errors.New("validation rejected")

	// ErrConflict indicates backend state diverged from the local assumption
	// (entity already modified or transitioned remotely).
	ErrConflict = errors.New("remote conflict")
)

// Authentication sentinels.
var (
	// ErrInvalidCredentials indicates rejected username/password or an
	// expired/invalid access token.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountPending indicates the account exists but awaits approval.
	ErrAccountPending = errors.New("account pending approval")

	// ErrAccountDisabled indicates the account is blocked server-side.
	ErrAccountDisabled = errors.New("account disabled")

	// ErrUserNotFound indicates no account exists for the given identity.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidRefreshToken indicates the presented refresh token does not
	// match vault state.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrRotationExhausted indicates the refresh rotation ceiling was hit.
	// Fatal for the session: forces logout and halts sync until re-login.
	ErrRotationExhausted = errors.New("token rotation exhausted")

	// ErrNoToken indicates no token record is present in the vault.
	ErrNoToken = errors.New("no stored token")
)

// Vault sentinels.
var (
	// ErrVaultUnavailable indicates the platform offers no durable secure
	// storage and persistence was refused.
	ErrVaultUnavailable = errors.New("secure storage unavailable")
)
