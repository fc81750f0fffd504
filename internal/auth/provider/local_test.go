package provider

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	"github.com/jslitzker/forgeboard/internal/auth/audit"
	"github.com/jslitzker/forgeboard/internal/auth/database"
	"github.com/jslitzker/forgeboard/internal/auth/models"
	"github.com/jslitzker/forgeboard/internal/auth/validation"
)

const goodPassword = "Sup3rSecretPw"

// captureNotifier records the last reset token instead of sending mail.
type captureNotifier struct {
	lastResetToken string
	lastEmail      string
}

func (c *captureNotifier) SendPasswordReset(email, _, token string) error {
	c.lastEmail = email
	c.lastResetToken = token
	return nil
}

func (c *captureNotifier) SendWelcome(string, string) error { return nil }

func newTestLocal(t *testing.T, cfg Config) (*Local, *database.SQLiteDB, *captureNotifier) {
	t.Helper()
	db, err := database.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	notifier := &captureNotifier{}
	policy := validation.NewPasswordValidator(validation.DefaultPasswordPolicy())
	local := NewLocal(db, cfg, policy, notifier, audit.NopRecorder{}, zap.NewNop())
	return local, db, notifier
}

func registerTestUser(t *testing.T, local *Local) autherr.Result {
	t.Helper()
	res, err := local.Register("alice", "alice@example.com", goodPassword, "Alice", false)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return res
}

func TestRegisterAndAuthenticate(t *testing.T) {
	local, db, _ := newTestLocal(t, DefaultConfig())
	res := registerTestUser(t, local)
	if !res.Ok || res.Username != "alice" {
		t.Fatalf("register result: %+v", res)
	}

	// Username login.
	got := local.Authenticate("alice", goodPassword, "192.0.2.1", "agent")
	if !got.Ok {
		t.Fatalf("authenticate: %v (%s)", got.ErrKind, got.Message)
	}
	if got.UserID != res.UserID || got.Email != "alice@example.com" {
		t.Errorf("result = %+v", got)
	}

	// Email login, case-insensitive.
	if got := local.Authenticate("ALICE@example.com", goodPassword, "", ""); !got.Ok {
		t.Errorf("email login failed: %+v", got)
	}

	user, err := db.GetUserByID(res.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.LastLoginAt == nil {
		t.Error("last_login_at not stamped")
	}
	if user.PasswordHash == goodPassword {
		t.Error("password stored in clear")
	}
}

func TestRegisterRejections(t *testing.T) {
	local, _, _ := newTestLocal(t, DefaultConfig())
	registerTestUser(t, local)

	if _, err := local.Register("", "not-an-email", goodPassword, "", false); !errors.Is(err, autherr.ErrValidation) {
		t.Errorf("bad email: %v", err)
	}
	if _, err := local.Register("ab", "ab@example.com", goodPassword, "", false); !errors.Is(err, autherr.ErrValidation) {
		t.Errorf("short username: %v", err)
	}
	if _, err := local.Register("bob", "bob@example.com", "weak", "", false); !errors.Is(err, autherr.ErrValidation) {
		t.Errorf("weak password: %v", err)
	}
	// Duplicate email is reported distinctly.
	if _, err := local.Register("alice2", "alice@example.com", goodPassword, "", false); !errors.Is(err, autherr.ErrUserExists) {
		t.Errorf("dup email: %v", err)
	}
	if _, err := local.Register("alice", "fresh@example.com", goodPassword, "", false); !errors.Is(err, autherr.ErrUserExists) {
		t.Errorf("dup username: %v", err)
	}
}

// Simultaneous registrations for one email can pass the existence lookups
// and collide on the unique index instead; the loser must still report
// ErrUserExists, not an internal error.
func TestRegisterConcurrentDuplicates(t *testing.T) {
	local, _, _ := newTestLocal(t, DefaultConfig())

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := local.Register(fmt.Sprintf("racer%d", n), "racer@example.com", goodPassword, "", false)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, autherr.ErrUserExists):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestAuthenticateRejectsEmptyAndUnknown(t *testing.T) {
	local, _, _ := newTestLocal(t, DefaultConfig())

	if res := local.Authenticate("", "", "", ""); res.Ok || res.ErrKind != autherr.KindInvalidCredentials {
		t.Errorf("empty: %+v", res)
	}
	// Unknown users get the same generic answer as a bad password.
	if res := local.Authenticate("ghost", goodPassword, "", ""); res.Ok || res.ErrKind != autherr.KindInvalidCredentials {
		t.Errorf("unknown: %+v", res)
	}
}

func TestAuthenticateRejectsDisabled(t *testing.T) {
	local, db, _ := newTestLocal(t, DefaultConfig())
	res := registerTestUser(t, local)

	user, err := db.GetUserByID(res.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	user.IsActive = false
	if err := db.UpdateUser(user); err != nil {
		t.Fatalf("disable: %v", err)
	}

	if got := local.Authenticate("alice", goodPassword, "", ""); got.Ok || got.ErrKind != autherr.KindAccountDisabled {
		t.Errorf("result = %+v", got)
	}
}

func TestLockoutStateMachine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLoginAttempts = 3
	cfg.LockoutDuration = 5 * time.Minute
	local, db, _ := newTestLocal(t, cfg)
	res := registerTestUser(t, local)

	// Attempts below the threshold report bad credentials.
	for i := 0; i < 2; i++ {
		got := local.Authenticate("alice", "wrong-password", "", "")
		if got.Ok || got.ErrKind != autherr.KindInvalidCredentials {
			t.Fatalf("attempt %d: %+v", i+1, got)
		}
	}

	// The attempt that trips the threshold reports the lock, not bad credentials.
	got := local.Authenticate("alice", "wrong-password", "", "")
	if got.Ok || got.ErrKind != autherr.KindAccountLocked {
		t.Fatalf("locking attempt: %+v", got)
	}

	// While locked, even the correct password is rejected.
	got = local.Authenticate("alice", goodPassword, "", "")
	if got.Ok || got.ErrKind != autherr.KindAccountLocked {
		t.Fatalf("locked login: %+v", got)
	}

	// Expire the lock: expiry is lazy, nothing clears the column.
	user, err := db.GetUserByID(res.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	past := time.Now().Add(-time.Second)
	user.LockedUntil = &past
	if err := db.UpdateLoginState(user); err != nil {
		t.Fatalf("expire lock: %v", err)
	}

	got = local.Authenticate("alice", goodPassword, "", "")
	if !got.Ok {
		t.Fatalf("login after lock expiry: %+v", got)
	}

	// Success zeroed the counter and cleared the lock.
	user, err = db.GetUserByID(res.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.FailedLoginCount != 0 || user.LockedUntil != nil {
		t.Errorf("state not reset: count=%d locked_until=%v", user.FailedLoginCount, user.LockedUntil)
	}
}

func TestUnlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLoginAttempts = 1
	local, db, _ := newTestLocal(t, cfg)
	res := registerTestUser(t, local)

	if got := local.Authenticate("alice", "wrong", "", ""); got.ErrKind != autherr.KindAccountLocked {
		t.Fatalf("expected immediate lock: %+v", got)
	}
	if err := local.Unlock(res.UserID); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	user, err := db.GetUserByID(res.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.FailedLoginCount != 0 || user.LockedUntil != nil {
		t.Errorf("unlock left state: count=%d locked_until=%v", user.FailedLoginCount, user.LockedUntil)
	}
	if got := local.Authenticate("alice", goodPassword, "", ""); !got.Ok {
		t.Errorf("login after unlock: %+v", got)
	}
}

func TestChangePassword(t *testing.T) {
	local, db, _ := newTestLocal(t, DefaultConfig())
	res := registerTestUser(t, local)

	if err := local.ChangePassword(res.UserID, "wrong", "An0therGoodPw", ""); !errors.Is(err, autherr.ErrInvalidCredentials) {
		t.Errorf("wrong current password: %v", err)
	}
	if err := local.ChangePassword(res.UserID, goodPassword, "weak", ""); !errors.Is(err, autherr.ErrValidation) {
		t.Errorf("weak new password: %v", err)
	}
	if err := local.ChangePassword(res.UserID, goodPassword, "An0therGoodPw", "keep-jti"); err != nil {
		t.Fatalf("change password: %v", err)
	}

	if got := local.Authenticate("alice", goodPassword, "", ""); got.Ok {
		t.Error("old password still works")
	}
	if got := local.Authenticate("alice", "An0therGoodPw", "", ""); !got.Ok {
		t.Errorf("new password rejected: %+v", got)
	}

	// Other sessions were swept.
	sessions, err := db.ListUserSessions(res.UserID, true)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	for _, s := range sessions {
		if s.JTI != "keep-jti" {
			t.Errorf("session %q survived password change", s.JTI)
		}
	}
}

func TestRequestResetIsUniform(t *testing.T) {
	local, db, _ := newTestLocal(t, DefaultConfig())
	res := registerTestUser(t, local)

	// Unknown addresses get the same nil answer as known ones.
	if err := local.RequestReset("nobody@example.com", ""); err != nil {
		t.Errorf("unknown address: %v", err)
	}
	if err := local.RequestReset("alice@example.com", "192.0.2.1"); err != nil {
		t.Errorf("known address: %v", err)
	}

	// A second request invalidates the first token: at most one live token.
	if err := local.RequestReset("alice@example.com", ""); err != nil {
		t.Errorf("second request: %v", err)
	}
	n, err := db.InvalidateUserResets(res.UserID)
	if err != nil {
		t.Fatalf("counting live tokens: %v", err)
	}
	if n != 1 {
		t.Errorf("found %d live tokens, want 1", n)
	}
}

func TestCompleteReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLoginAttempts = 1
	local, _, notifier := newTestLocal(t, cfg)
	registerTestUser(t, local)

	// Lock the account first; the reset must clear it.
	if got := local.Authenticate("alice", "wrong", "", ""); got.ErrKind != autherr.KindAccountLocked {
		t.Fatalf("expected lock: %+v", got)
	}

	if err := local.RequestReset("alice@example.com", ""); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	// The raw token only leaves the system by email.
	resetToken := notifier.lastResetToken
	if resetToken == "" {
		t.Fatal("no reset token delivered")
	}

	if err := local.CompleteReset(resetToken, "weak"); !errors.Is(err, autherr.ErrValidation) {
		t.Errorf("weak password: %v", err)
	}
	if err := local.CompleteReset("no-such-token", "An0therGoodPw"); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Errorf("bad token: %v", err)
	}
	if err := local.CompleteReset(resetToken, "An0therGoodPw"); err != nil {
		t.Fatalf("complete reset: %v", err)
	}

	// Token is single-use.
	if err := local.CompleteReset(resetToken, "YetAn0therPw"); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Errorf("token replay: %v", err)
	}

	// The account is unlocked and the new password works.
	if got := local.Authenticate("alice", "An0therGoodPw", "", ""); !got.Ok {
		t.Errorf("login after reset: %+v", got)
	}
}

func TestCompleteResetRejectsExpiredToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResetTokenTTL = time.Hour
	local, db, notifier := newTestLocal(t, cfg)
	res := registerTestUser(t, local)

	if err := local.RequestReset("alice@example.com", ""); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	liveToken := notifier.lastResetToken

	// A directly planted token with a past expiry.
	expired := &models.PasswordReset{
		UserID:    res.UserID,
		Token:     "expired-token",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := db.CreatePasswordReset(expired); err != nil {
		t.Fatalf("create expired reset: %v", err)
	}
	if err := local.CompleteReset("expired-token", "An0therGoodPw"); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Errorf("expired token: %v", err)
	}
	// The live one still works.
	if err := local.CompleteReset(liveToken, "An0therGoodPw"); err != nil {
		t.Errorf("live token: %v", err)
	}
}
