package provider

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	"github.com/jslitzker/forgeboard/internal/auth/audit"
	"github.com/jslitzker/forgeboard/internal/auth/database"
	"github.com/jslitzker/forgeboard/internal/auth/models"
	"github.com/jslitzker/forgeboard/internal/auth/token"
	"github.com/jslitzker/forgeboard/internal/auth/validation"
	"github.com/jslitzker/forgeboard/internal/notify"
)

// Config holds credential-security settings for the local provider.
type Config struct {
	MaxLoginAttempts int           // Failed attempts before lockout.
	LockoutDuration  time.Duration // How long a lockout lasts.
	ResetTokenTTL    time.Duration // Password reset token lifetime.
}

func DefaultConfig() Config {
	return Config{
		MaxLoginAttempts: 5,
		LockoutDuration:  5 * time.Minute,
		ResetTokenTTL:    time.Hour,
	}
}

// Local authenticates users against bcrypt password hashes stored in the
// credential store, and owns registration, password change and reset flows.
type Local struct {
	db       *database.SQLiteDB
	cfg      Config
	policy   *validation.PasswordValidator
	notifier notify.Notifier
	audit    audit.Recorder
	logger   *zap.Logger
}

func NewLocal(
	db *database.SQLiteDB,
	cfg Config,
	policy *validation.PasswordValidator,
	notifier notify.Notifier,
	recorder audit.Recorder,
	logger *zap.Logger,
) *Local {
	def := DefaultConfig()
	if cfg.MaxLoginAttempts == 0 {
		cfg.MaxLoginAttempts = def.MaxLoginAttempts
	}
	if cfg.LockoutDuration == 0 {
		cfg.LockoutDuration = def.LockoutDuration
	}
	if cfg.ResetTokenTTL == 0 {
		cfg.ResetTokenTTL = def.ResetTokenTTL
	}
	return &Local{db: db, cfg: cfg, policy: policy, notifier: notifier, audit: recorder, logger: logger}
}

func (p *Local) Policy() *validation.PasswordValidator {
	return p.policy
}

// VerifyPassword compares a candidate against the stored hash. It returns
// false, never an error, when the user is not local or has no hash; bcrypt's
// comparison is constant time with respect to the candidate.
func (p *Local) VerifyPassword(user *models.User, candidate string) bool {
	if user.AuthProvider != models.ProviderLocal || user.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(candidate)) == nil
}

// SetPassword validates the policy and replaces the user's hash.
func (p *Local) SetPassword(user *models.User, newPassword string) error {
	if user.AuthProvider != models.ProviderLocal {
		return autherr.ErrValidation
	}
	if violations := p.policy.Validate(newPassword); len(violations) > 0 {
		return autherr.ErrValidation
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hash)
	return p.db.UpdateUserPassword(user.ID, user.PasswordHash)
}

// Authenticate runs the login state machine. Lockout and disablement are
// reported distinctly from bad credentials on purpose; every other rejection
// collapses into the generic invalid-credentials answer.
func (p *Local) Authenticate(usernameOrEmail, password, ip, userAgent string) autherr.Result {
	if usernameOrEmail == "" || password == "" {
		return autherr.Failure(autherr.ErrInvalidCredentials, "username/email and password are required")
	}

	user, err := p.lookup(usernameOrEmail)
	if err != nil || user.AuthProvider != models.ProviderLocal {
		p.audit.Record(audit.EventLoginFailed, nil, "failure", ip, userAgent,
			map[string]string{"reason": "unknown_user"})
		return autherr.Failure(autherr.ErrInvalidCredentials, "invalid username/email or password")
	}

	now := time.Now()
	if user.IsLocked(now) {
		p.audit.Record(audit.EventLoginFailed, &user.ID, "failure", ip, userAgent,
			map[string]string{"reason": "locked"})
		return autherr.Failure(autherr.ErrAccountLocked, "account is locked, try again later")
	}

	if !user.IsActive {
		p.audit.Record(audit.EventLoginFailed, &user.ID, "failure", ip, userAgent,
			map[string]string{"reason": "disabled"})
		return autherr.Failure(autherr.ErrAccountDisabled, "account is disabled")
	}

	if !p.VerifyPassword(user, password) {
		user.FailedLoginCount++
		if user.FailedLoginCount >= p.cfg.MaxLoginAttempts {
			lockUntil := now.Add(p.cfg.LockoutDuration)
			user.LockedUntil = &lockUntil
		}
		if err := p.db.UpdateLoginState(user); err != nil {
			p.logger.Error("failed-login counter update failed", zap.Int64("user_id", user.ID), zap.Error(err))
		}

		p.audit.Record(audit.EventLoginFailed, &user.ID, "failure", ip, userAgent,
			map[string]any{"reason": "bad_password", "failed_count": user.FailedLoginCount})

		if user.IsLocked(now) {
			return autherr.Failure(autherr.ErrAccountLocked, "account is locked, try again later")
		}
		return autherr.Failure(autherr.ErrInvalidCredentials, "invalid username/email or password")
	}

	// Successful authentication forces Unlocked and zeroes the counter.
	user.FailedLoginCount = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now
	if err := p.db.UpdateLoginState(user); err != nil {
		p.logger.Error("login state update failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	p.audit.Record(audit.EventLogin, &user.ID, "success", ip, userAgent, nil)

	result := autherr.Success(user.ID, user.Username, user.Email, user.DisplayName, user.IsAdmin,
		autherr.SessionIdentity{UserPerms: user.Permissions(), Provider: string(user.AuthProvider)})
	return result
}

func (p *Local) lookup(usernameOrEmail string) (*models.User, error) {
	if strings.Contains(usernameOrEmail, "@") {
		return p.db.GetUserByEmail(usernameOrEmail)
	}
	return p.db.GetUserByUsername(usernameOrEmail)
}

// Register validates input and creates a new local user. The welcome email
// is best effort: a delivery failure never rolls back the registration.
func (p *Local) Register(username, email, password, displayName string, isAdmin bool) (autherr.Result, error) {
	if !validation.ValidEmail(email) {
		return autherr.Failure(autherr.ErrValidation, "invalid email format"), autherr.ErrValidation
	}
	if username != "" && !validation.ValidUsername(username) {
		return autherr.Failure(autherr.ErrValidation, "invalid username format"), autherr.ErrValidation
	}

	if _, err := p.db.GetUserByEmail(email); err == nil {
		return autherr.Failure(autherr.ErrUserExists, "user with this email or username already exists"), autherr.ErrUserExists
	}
	if username != "" {
		if _, err := p.db.GetUserByUsername(username); err == nil {
			return autherr.Failure(autherr.ErrUserExists, "user with this email or username already exists"), autherr.ErrUserExists
		}
	}

	if violations := p.policy.Validate(password); len(violations) > 0 {
		return autherr.Failure(autherr.ErrValidation, validation.Join(violations)), autherr.ErrValidation
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return autherr.Failure(err, "failed to create user"), err
	}

	if displayName == "" {
		displayName = username
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		DisplayName:  displayName,
		AuthProvider: models.ProviderLocal,
		PasswordHash: string(hash),
		IsActive:     true,
		IsAdmin:      isAdmin,
	}
	if err := p.db.CreateUser(user); err != nil {
		// A concurrent registration can slip past the lookups above and
		// land on the UNIQUE index instead.
		if database.IsUniqueViolation(err) {
			return autherr.Failure(autherr.ErrUserExists, "user with this email or username already exists"), autherr.ErrUserExists
		}
		return autherr.Failure(err, "failed to create user"), err
	}

	p.audit.Record(audit.EventRegister, &user.ID, "success", "", "", nil)

	if err := p.notifier.SendWelcome(user.Email, user.DisplayName); err != nil {
		p.logger.Warn("welcome email failed", zap.String("email", user.Email), zap.Error(err))
	}

	return autherr.Success(user.ID, user.Username, user.Email, user.DisplayName, user.IsAdmin,
		autherr.SessionIdentity{UserPerms: user.Permissions(), Provider: string(user.AuthProvider)}), nil
}

// ChangePassword verifies the current password, enforces policy on the new
// one and revokes every other session of the user afterwards.
func (p *Local) ChangePassword(userID int64, currentPassword, newPassword, keepJTI string) error {
	user, err := p.db.GetUserByID(userID)
	if err != nil {
		return autherr.ErrNotFound
	}
	if user.AuthProvider != models.ProviderLocal {
		return autherr.ErrValidation
	}

	if !p.VerifyPassword(user, currentPassword) {
		return autherr.ErrInvalidCredentials
	}

	if violations := p.policy.Validate(newPassword); len(violations) > 0 {
		return autherr.ErrValidation
	}

	if err := p.SetPassword(user, newPassword); err != nil {
		return err
	}

	if _, err := p.db.RevokeUserSessions(userID, keepJTI); err != nil {
		p.logger.Warn("session revocation after password change failed",
			zap.Int64("user_id", userID), zap.Error(err))
	}

	p.audit.Record(audit.EventPasswordChange, &userID, "success", "", "", nil)
	return nil
}

// RequestReset starts a password reset. The caller-visible contract is
// uniform success whether or not the email exists (anti-enumeration); a
// notification failure is logged and swallowed for the same reason.
func (p *Local) RequestReset(email, ip string) error {
	user, err := p.db.GetUserByEmail(email)
	if err != nil || user.AuthProvider != models.ProviderLocal {
		return nil
	}

	// At most one live token per user: invalidate the rest first.
	if _, err := p.db.InvalidateUserResets(user.ID); err != nil {
		p.logger.Error("reset token invalidation failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return nil
	}

	resetToken, err := token.RandomToken(32)
	if err != nil {
		p.logger.Error("reset token generation failed", zap.Error(err))
		return nil
	}

	record := &models.PasswordReset{
		UserID:    user.ID,
		Token:     resetToken,
		ExpiresAt: time.Now().Add(p.cfg.ResetTokenTTL),
		IPAddress: ip,
	}
	if err := p.db.CreatePasswordReset(record); err != nil {
		p.logger.Error("reset token persistence failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return nil
	}

	p.audit.Record(audit.EventResetRequested, &user.ID, "success", ip, "", nil)

	if err := p.notifier.SendPasswordReset(user.Email, user.DisplayName, resetToken); err != nil {
		p.logger.Warn("password reset email failed", zap.String("email", user.Email), zap.Error(err))
	}

	return nil
}

// CompleteReset consumes a valid reset token, sets the new password and
// force-unlocks the account: a completed reset proves mailbox ownership.
func (p *Local) CompleteReset(resetToken, newPassword string) error {
	record, err := p.db.GetPasswordResetByToken(resetToken)
	if err != nil {
		return autherr.ErrTokenInvalid
	}
	if !record.IsValid(time.Now()) {
		return autherr.ErrTokenInvalid
	}

	user, err := p.db.GetUserByID(record.UserID)
	if err != nil || user.AuthProvider != models.ProviderLocal {
		return autherr.ErrTokenInvalid
	}

	if violations := p.policy.Validate(newPassword); len(violations) > 0 {
		return autherr.ErrValidation
	}

	if err := p.SetPassword(user, newPassword); err != nil {
		return err
	}

	user.FailedLoginCount = 0
	user.LockedUntil = nil
	if err := p.db.UpdateLoginState(user); err != nil {
		p.logger.Warn("unlock after reset failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	if err := p.db.MarkResetUsed(record.ID); err != nil {
		return err
	}

	p.audit.Record(audit.EventPasswordReset, &user.ID, "success", "", "", nil)
	return nil
}

// Unlock clears the lockout state explicitly (administrative action).
func (p *Local) Unlock(userID int64) error {
	user, err := p.db.GetUserByID(userID)
	if err != nil {
		return err
	}
	user.FailedLoginCount = 0
	user.LockedUntil = nil
	if err := p.db.UpdateLoginState(user); err != nil {
		return err
	}
	p.audit.Record(audit.EventUserUnlocked, &userID, "success", "", "", nil)
	return nil
}
