package auth

import (
	"errors"
	"net/http"
	"testing"
)

func TestKindHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		// Anything that fails the credential phase answers 401, locked
		// and disabled accounts included.
		{KindInvalidCredentials, http.StatusUnauthorized},
		{KindAccountLocked, http.StatusUnauthorized},
		{KindAccountDisabled, http.StatusUnauthorized},
		{KindTokenExpired, http.StatusUnauthorized},
		{KindTokenInvalid, http.StatusUnauthorized},
		// 403 is reserved for authenticated identities missing a right.
		{KindPermissionDenied, http.StatusForbidden},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindValidation, http.StatusBadRequest},
		{KindCapacityExceeded, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.kind.HTTPStatus(); got != tc.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{ErrInvalidCredentials, KindInvalidCredentials},
		{ErrAccountLocked, KindAccountLocked},
		{ErrAccountDisabled, KindAccountDisabled},
		{ErrTokenExpired, KindTokenExpired},
		{ErrTokenInvalid, KindTokenInvalid},
		{ErrTokenRevoked, KindTokenInvalid},
		{ErrRateLimited, KindRateLimited},
		{ErrValidation, KindValidation},
		{ErrUserExists, KindValidation},
		{ErrCapacityExceeded, KindCapacityExceeded},
		{ErrNotFound, KindNotFound},
		{errors.New("disk on fire"), KindUnknown},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
