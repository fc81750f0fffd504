package session

import (
	"testing"
	"time"

	"go.uber.org/zap"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	"github.com/jslitzker/forgeboard/internal/auth/database"
	"github.com/jslitzker/forgeboard/internal/auth/models"
	"github.com/jslitzker/forgeboard/internal/auth/token"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T, cfg Config) (*Manager, *database.SQLiteDB) {
	t.Helper()
	db, err := database.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewManager(db, token.NewCodec(testSecret), cfg, zap.NewNop()), db
}

func newTestUser(t *testing.T, db *database.SQLiteDB, admin bool) *models.User {
	t.Helper()
	user := &models.User{
		Username:     "alice",
		Email:        "alice@example.com",
		DisplayName:  "Alice",
		AuthProvider: models.ProviderLocal,
		PasswordHash: "$2a$10$fakehash",
		IsActive:     true,
		IsAdmin:      admin,
	}
	if err := db.CreateUser(user); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return user
}

func TestCreateAndValidate(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, false)

	pair, err := mgr.Create(user, "192.0.2.1", "test-agent")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("token type = %q", pair.TokenType)
	}

	res := mgr.Validate(pair.AccessToken)
	if !res.Ok {
		t.Fatalf("validate failed: %v (%s)", res.ErrKind, res.Message)
	}
	if res.UserID != user.ID || res.Email != "alice@example.com" {
		t.Errorf("unexpected result: %+v", res)
	}

	id, ok := res.Identity.(autherr.SessionIdentity)
	if !ok {
		t.Fatalf("identity type %T", res.Identity)
	}
	if id.SessionID != pair.SessionID || id.JTI != pair.JTI {
		t.Errorf("identity = %+v", id)
	}
	if id.Method() != autherr.MethodSession {
		t.Errorf("method = %q", id.Method())
	}
	perms := id.Permissions()
	if len(perms) != 2 || perms[0] != "read" || perms[1] != "write" {
		t.Errorf("permissions = %v", perms)
	}
}

func TestValidateRejectsRevokedSession(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, false)

	pair, err := mgr.Create(user, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Revoke(pair.AccessToken); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// The token is still cryptographically live; revocation must win.
	res := mgr.Validate(pair.AccessToken)
	if res.Ok {
		t.Fatal("revoked session validated")
	}
	if res.ErrKind != autherr.KindTokenExpired {
		t.Errorf("kind = %q", res.ErrKind)
	}
}

func TestValidateRejectsUnknownSession(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, false)

	// A well-signed token whose jti was never registered.
	orphan, err := token.NewCodec(testSecret).Issue(user, "never-registered", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	res := mgr.Validate(orphan)
	if res.Ok || res.ErrKind != autherr.KindTokenInvalid {
		t.Errorf("result = %+v", res)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())
	res := mgr.Validate("not-a-token")
	if res.Ok || res.ErrKind != autherr.KindTokenInvalid {
		t.Errorf("result = %+v", res)
	}
}

func TestValidateRejectsRefreshAsAccess(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, false)

	pair, err := mgr.Create(user, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res := mgr.Validate(pair.RefreshToken)
	if res.Ok {
		t.Fatal("refresh token accepted as access token")
	}
	if res.ErrKind != autherr.KindTokenInvalid {
		t.Errorf("kind = %q", res.ErrKind)
	}
}

func TestValidateRejectsDisabledUser(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, false)

	pair, err := mgr.Create(user, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	user.IsActive = false
	if err := db.UpdateUser(user); err != nil {
		t.Fatalf("disable user: %v", err)
	}

	res := mgr.Validate(pair.AccessToken)
	if res.Ok || res.ErrKind != autherr.KindAccountDisabled {
		t.Errorf("result = %+v", res)
	}
}

func TestValidateExtendsSlidingExpiry(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, false)

	pair, err := mgr.Create(user, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Age the session into the extension window.
	nearExpiry := time.Now().Add(10 * time.Minute)
	if err := db.ExtendSession(pair.SessionID, nearExpiry); err != nil {
		t.Fatalf("aging session: %v", err)
	}

	if res := mgr.Validate(pair.AccessToken); !res.Ok {
		t.Fatalf("validate failed: %+v", res)
	}

	record, err := db.GetSessionByJTI(pair.JTI)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if record.ExpiresAt.Sub(time.Now()) < 23*time.Hour {
		t.Errorf("expiry not extended: %v", record.ExpiresAt)
	}
}

func TestValidateDoesNotExtendOutsideWindow(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, false)

	pair, err := mgr.Create(user, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before, err := db.GetSessionByJTI(pair.JTI)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}

	if res := mgr.Validate(pair.AccessToken); !res.Ok {
		t.Fatalf("validate failed: %+v", res)
	}

	after, err := db.GetSessionByJTI(pair.JTI)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !after.ExpiresAt.Equal(before.ExpiresAt) {
		t.Errorf("expiry moved from %v to %v", before.ExpiresAt, after.ExpiresAt)
	}
}

func TestRefreshRotation(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, false)

	pair, err := mgr.Create(user, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	next, err := mgr.Refresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Error("refresh token not rotated")
	}
	if next.SessionID != pair.SessionID {
		t.Errorf("refresh created a new session: %d != %d", next.SessionID, pair.SessionID)
	}

	// The old refresh token is single-use.
	if _, err := mgr.Refresh(pair.RefreshToken); err != autherr.ErrTokenInvalid {
		t.Errorf("replayed refresh: err = %v", err)
	}
	// The rotated one works.
	if _, err := mgr.Refresh(next.RefreshToken); err != nil {
		t.Errorf("rotated refresh: %v", err)
	}
	// New access token validates.
	if res := mgr.Validate(next.AccessToken); !res.Ok {
		t.Errorf("new access token invalid: %+v", res)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, false)

	pair, err := mgr.Create(user, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := mgr.Refresh(pair.AccessToken); err != autherr.ErrTokenInvalid {
		t.Errorf("access token accepted for refresh: err = %v", err)
	}
}

func TestRefreshDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RefreshEnabled = false
	mgr, db := newTestManager(t, cfg)
	user := newTestUser(t, db, false)

	pair, err := mgr.Create(user, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if pair.RefreshToken != "" {
		t.Error("refresh token issued while disabled")
	}
	if _, err := mgr.Refresh("anything"); err != autherr.ErrTokenInvalid {
		t.Errorf("err = %v", err)
	}
}

func TestRevokeAllSparesCurrent(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, false)

	first, err := mgr.Create(user, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := mgr.Create(user, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := mgr.RevokeAll(user.ID, second.JTI)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 1 {
		t.Errorf("revoked %d, want 1", n)
	}

	if res := mgr.Validate(first.AccessToken); res.Ok {
		t.Error("revoked session still validates")
	}
	if res := mgr.Validate(second.AccessToken); !res.Ok {
		t.Errorf("spared session rejected: %+v", res)
	}

	sessions, err := mgr.List(user.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("got %d active sessions, want 1", len(sessions))
	}
}

func TestClipLongUserAgent(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, false)

	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	pair, err := mgr.Create(user, "192.0.2.1", string(long))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	record, err := db.GetSessionByJTI(pair.JTI)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(record.UserAgent) != maxUserAgentLen {
		t.Errorf("user agent length = %d, want %d", len(record.UserAgent), maxUserAgentLen)
	}
}
