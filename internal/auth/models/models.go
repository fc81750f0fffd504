package models

import (
	"time"
)

// AuthProvider identifies how a user's credentials are verified.
type AuthProvider string

const (
	ProviderLocal    AuthProvider = "local"
	ProviderExternal AuthProvider = "external"
)

// Permission is one entry of the fixed permission enumeration.
type Permission string

const (
	PermissionRead           Permission = "read"
	PermissionWrite          Permission = "write"
	PermissionAdmin          Permission = "admin"
	PermissionUserManagement Permission = "user_management"
)

// AvailablePermissions lists every permission an API key may be scoped to.
func AvailablePermissions() []string {
	return []string{
		string(PermissionRead),
		string(PermissionWrite),
		string(PermissionAdmin),
		string(PermissionUserManagement),
	}
}

type User struct {
	ID                     int64        `json:"id"`
	Username               string       `json:"username,omitempty"`
	Email                  string       `json:"email"`
	DisplayName            string       `json:"display_name"`
	AuthProvider           AuthProvider `json:"auth_provider"`
	PasswordHash           string       `json:"-"`
	IsActive               bool         `json:"is_active"`
	IsAdmin                bool         `json:"is_admin"`
	PasswordChangeRequired bool         `json:"password_change_required"`
	FailedLoginCount       int          `json:"-"`
	LockedUntil            *time.Time   `json:"-"`
	LastLoginAt            *time.Time   `json:"last_login_at,omitempty"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

// IsLocked reports whether the account is inside a lockout window. Lockout
// expiry is lazy: no sweeper clears locked_until, it simply stops mattering.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// CanLogin reports whether the account may authenticate at all.
func (u *User) CanLogin(now time.Time) bool {
	return u.IsActive && !u.IsLocked(now)
}

// Permissions derives the user's permission set from the admin flag. Session
// identities have no per-user permission storage: read and write are granted
// to every user, admin and user_management only to admins.
func (u *User) Permissions() []string {
	perms := []string{string(PermissionRead), string(PermissionWrite)}
	if u.IsAdmin {
		perms = append(perms, string(PermissionAdmin), string(PermissionUserManagement))
	}
	return perms
}

// HasPermission reports whether the derived permission set contains perm.
func (u *User) HasPermission(perm string) bool {
	for _, p := range u.Permissions() {
		if p == perm {
			return true
		}
	}
	return false
}

type Session struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	JTI          string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    time.Time  `json:"expires_at"`
	IPAddress    string     `json:"ip_address,omitempty"`
	UserAgent    string     `json:"user_agent,omitempty"`
	IsActive     bool       `json:"is_active"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsExpired reports whether the session's expiry has passed.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsValid reports the session invariant: active and not expired.
func (s *Session) IsValid(now time.Time) bool {
	return s.IsActive && !s.IsExpired(now)
}

type ApiKey struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	KeyHash     string     `json:"-"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsExpired reports whether the key has an expiry and it has passed.
func (k *ApiKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// IsValid reports the key invariant: active and (no expiry or expiry in the future).
func (k *ApiKey) IsValid(now time.Time) bool {
	return k.IsActive && !k.IsExpired(now)
}

// EffectivePermissions returns the key's stored permission list, defaulting
// to read-only when none were stored.
func (k *ApiKey) EffectivePermissions() []string {
	if len(k.Permissions) == 0 {
		return []string{string(PermissionRead)}
	}
	return k.Permissions
}

type PasswordReset struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Token     string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	IPAddress string     `json:"ip_address,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsValid reports the reset-token invariant: unused and not expired.
func (p *PasswordReset) IsValid(now time.Time) bool {
	return p.UsedAt == nil && now.Before(p.ExpiresAt)
}

type AuditLog struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Status    string    `json:"status"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenPair is the caller-visible product of a successful login or refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"-"`
	JTI          string    `json:"-"`
	SessionID    int64     `json:"-"`
}
