package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var (
	ErrPasswordTooShort = errors.New("password is too short")
	ErrPasswordTooLong  = errors.New("password is too long")
	ErrMissingUppercase = errors.New("password must contain at least one uppercase letter")
	ErrMissingLowercase = errors.New("password must contain at least one lowercase letter")
	ErrMissingNumber    = errors.New("password must contain at least one number")
	ErrMissingSpecial   = errors.New("password must contain at least one special character")
)

type PasswordPolicy struct {
	MinLength        int
	MaxLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumbers   bool
	RequireSpecial   bool
}

// DefaultPasswordPolicy returns the stock policy: 8+ characters with mixed
// case and a digit; special characters optional.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		MaxLength:        128,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumbers:   true,
		RequireSpecial:   false,
	}
}

type PasswordValidator struct {
	policy PasswordPolicy
}

func NewPasswordValidator(policy PasswordPolicy) *PasswordValidator {
	if policy.MaxLength == 0 {
		policy.MaxLength = 128
	}
	return &PasswordValidator{policy: policy}
}

func (v *PasswordValidator) Policy() PasswordPolicy {
	return v.policy
}

// Validate checks the password against every policy rule and returns all
// violations at once, so callers can render one consolidated message.
func (v *PasswordValidator) Validate(password string) []error {
	var violations []error

	if len(password) < v.policy.MinLength {
		violations = append(violations, ErrPasswordTooShort)
	}
	if len(password) > v.policy.MaxLength {
		violations = append(violations, ErrPasswordTooLong)
	}

	var (
		hasUpper   bool
		hasLower   bool
		hasNumber  bool
		hasSpecial bool
	)

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if v.policy.RequireUppercase && !hasUpper {
		violations = append(violations, ErrMissingUppercase)
	}
	if v.policy.RequireLowercase && !hasLower {
		violations = append(violations, ErrMissingLowercase)
	}
	if v.policy.RequireNumbers && !hasNumber {
		violations = append(violations, ErrMissingNumber)
	}
	if v.policy.RequireSpecial && !hasSpecial {
		violations = append(violations, ErrMissingSpecial)
	}

	return violations
}

// Join renders a violation list as one semicolon-separated message.
func Join(violations []error) string {
	if len(violations) == 0 {
		return ""
	}
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.Error())
	}
	return strings.Join(parts, "; ")
}

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]{3,50}$`)
)

// ValidEmail reports whether the email has a plausible address shape.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidUsername reports whether the username is 3-50 characters of
// alphanumerics, underscores and hyphens.
func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}
