package auth

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidCredentials is returned when a user provides incorrect authentication credentials.
	ErrInvalidCredentials = errors.New("invalid username/email or password")
	// ErrAccountLocked is returned when an account is temporarily locked after repeated failed logins.
	ErrAccountLocked = errors.New("account is temporarily locked")
	// ErrAccountDisabled is returned when the account exists but has been deactivated.
	ErrAccountDisabled = errors.New("account is disabled")
	// ErrTokenExpired is returned when a token's own expiry has passed.
	ErrTokenExpired = errors.New("token has expired")
	// ErrTokenInvalid is returned for malformed tokens, bad signatures and wrong algorithms.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenRevoked is returned when a token has been explicitly revoked.
	ErrTokenRevoked = errors.New("token has been revoked")
	// ErrRateLimited is returned when the caller exceeded a rate limit.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrValidation is returned for password policy or input format violations.
	ErrValidation = errors.New("validation failed")
	// ErrCapacityExceeded is returned when a user has reached the maximum number of active API keys.
	ErrCapacityExceeded = errors.New("maximum number of active API keys reached")
	// ErrNotFound is returned when a user, key or token record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUserExists is returned when registering with an email or username that is already taken.
	ErrUserExists = errors.New("user with this email or username already exists")
)

// Kind is the wire name of an authentication failure, stable across the API boundary.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindAccountLocked      Kind = "account_locked"
	KindAccountDisabled    Kind = "account_disabled"
	KindTokenExpired       Kind = "token_expired"
	KindTokenInvalid       Kind = "token_invalid"
	KindRateLimited        Kind = "rate_limited"
	KindPermissionDenied   Kind = "permission_denied"
	KindValidation         Kind = "validation_error"
	KindCapacityExceeded   Kind = "capacity_exceeded"
	KindNotFound           Kind = "not_found"
	KindUnknown            Kind = "unknown_error"
)

// HTTPStatus maps a failure kind to its response status. Credential-phase
// failures, locked and disabled accounts included, answer 401; 403 is
// reserved for authenticated identities that lack a right. Only KindUnknown
// surfaces as a server error.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidCredentials, KindAccountLocked, KindAccountDisabled,
		KindTokenExpired, KindTokenInvalid:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindValidation, KindCapacityExceeded:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// KindOf maps a core error to its wire kind. Unexpected errors are downgraded
// to KindUnknown so internal detail never crosses the boundary.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return KindAccountLocked
	case errors.Is(err, ErrAccountDisabled):
		return KindAccountDisabled
	case errors.Is(err, ErrTokenExpired):
		return KindTokenExpired
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenRevoked):
		return KindTokenInvalid
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUserExists):
		return KindValidation
	case errors.Is(err, ErrCapacityExceeded):
		return KindCapacityExceeded
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindUnknown
	}
}
