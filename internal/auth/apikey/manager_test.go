package apikey

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	"github.com/jslitzker/forgeboard/internal/auth/database"
	"github.com/jslitzker/forgeboard/internal/auth/models"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *database.SQLiteDB) {
	t.Helper()
	db, err := database.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewManager(db, cfg, zap.NewNop()), db
}

func newTestUser(t *testing.T, db *database.SQLiteDB, email string, admin bool) *models.User {
	t.Helper()
	user := &models.User{
		Email:        email,
		DisplayName:  "Test User",
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
	user := newTestUser(t, db, "keys@example.com", false)

	key, raw, err := mgr.Create(user.ID, "ci-deploy", nil, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(raw, KeyPrefix) {
		t.Errorf("raw key %q missing prefix", raw)
	}
	if key.KeyHash == raw || key.KeyHash != HashKey(raw) {
		t.Error("stored hash must be the SHA-256 of the raw key")
	}
	if len(key.Permissions) != 1 || key.Permissions[0] != "read" {
		t.Errorf("default permissions = %v", key.Permissions)
	}
	if key.ExpiresAt != nil {
		t.Error("expected no expiry by default")
	}

	res := mgr.Validate(raw)
	if !res.Ok {
		t.Fatalf("validate failed: %v (%s)", res.ErrKind, res.Message)
	}
	if res.UserID != user.ID {
		t.Errorf("user id = %d", res.UserID)
	}
	id, ok := res.Identity.(autherr.APIKeyIdentity)
	if !ok {
		t.Fatalf("identity type %T", res.Identity)
	}
	if id.KeyID != key.ID || id.KeyName != "ci-deploy" {
		t.Errorf("identity = %+v", id)
	}
	if id.Method() != autherr.MethodAPIKey {
		t.Errorf("method = %q", id.Method())
	}

	// Usage stamp is best-effort but should land here.
	stored, err := db.GetApiKey(key.ID, user.ID)
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if stored.LastUsedAt == nil {
		t.Error("last_used_at not stamped on validate")
	}
}

func TestCreateEnforcesCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPerUser = 2
	mgr, db := newTestManager(t, cfg)
	user := newTestUser(t, db, "cap@example.com", false)

	for i := 0; i < 2; i++ {
		if _, _, err := mgr.Create(user.ID, "key", nil, 0); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if _, _, err := mgr.Create(user.ID, "one-too-many", nil, 0); !errors.Is(err, autherr.ErrCapacityExceeded) {
		t.Errorf("err = %v", err)
	}

	// Revoking a key frees a slot; the cap never evicts on its own.
	keys, err := mgr.List(user.ID, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := mgr.Revoke(keys[0].ID, user.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, _, err := mgr.Create(user.ID, "fits-now", nil, 0); err != nil {
		t.Errorf("create after revoke: %v", err)
	}
}

func TestCreateValidatesName(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, "name@example.com", false)
	if _, _, err := mgr.Create(user.ID, "   ", nil, 0); !errors.Is(err, autherr.ErrValidation) {
		t.Errorf("err = %v", err)
	}
}

func TestCreateScopesPermissionsToOwner(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, "plain@example.com", false)
	admin := newTestUser(t, db, "admin@example.com", true)

	// A non-admin cannot mint a key carrying the admin permission.
	if _, _, err := mgr.Create(user.ID, "too-broad", []string{"read", "admin"}, 0); !errors.Is(err, autherr.ErrValidation) {
		t.Errorf("err = %v", err)
	}
	// Unknown permission names are rejected outright.
	if _, _, err := mgr.Create(admin.ID, "bogus", []string{"superuser"}, 0); !errors.Is(err, autherr.ErrValidation) {
		t.Errorf("err = %v", err)
	}
	// An admin can.
	key, _, err := mgr.Create(admin.ID, "admin-key", []string{"read", "admin"}, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(key.Permissions) != 2 {
		t.Errorf("permissions = %v", key.Permissions)
	}
}

func TestValidateRejections(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, "rej@example.com", false)

	res := mgr.Validate("no-prefix-here")
	if res.Ok || res.ErrKind != autherr.KindTokenInvalid {
		t.Errorf("bad prefix: %+v", res)
	}

	res = mgr.Validate(KeyPrefix + "unknown-secret")
	if res.Ok || res.ErrKind != autherr.KindTokenInvalid {
		t.Errorf("unknown key: %+v", res)
	}

	key, raw, err := mgr.Create(user.ID, "doomed", nil, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Revoke(key.ID, user.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	res = mgr.Validate(raw)
	if res.Ok || res.ErrKind != autherr.KindTokenInvalid {
		t.Errorf("revoked key: %+v", res)
	}
}

func TestValidateRejectsExpiredKey(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, "exp@example.com", false)

	key, raw, err := mgr.Create(user.ID, "short-lived", nil, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	past := time.Now().Add(-time.Minute)
	key.ExpiresAt = &past
	if err := db.UpdateApiKey(key); err != nil {
		t.Fatalf("backdating expiry: %v", err)
	}

	res := mgr.Validate(raw)
	if res.Ok || res.ErrKind != autherr.KindTokenExpired {
		t.Errorf("expired key: %+v", res)
	}
}

func TestValidateRejectsDisabledOwner(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, "dis@example.com", false)

	_, raw, err := mgr.Create(user.ID, "orphaned", nil, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	user.IsActive = false
	if err := db.UpdateUser(user); err != nil {
		t.Fatalf("disable user: %v", err)
	}

	res := mgr.Validate(raw)
	if res.Ok || res.ErrKind != autherr.KindAccountDisabled {
		t.Errorf("disabled owner: %+v", res)
	}
}

func TestValidateDisabledFeature(t *testing.T) {
	mgr, _ := newTestManager(t, Config{Enabled: false})
	res := mgr.Validate(KeyPrefix + "whatever")
	if res.Ok || res.ErrKind != autherr.KindTokenInvalid {
		t.Errorf("result = %+v", res)
	}
}

func TestUpdateExpirySemantics(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, "upd@example.com", false)

	key, _, err := mgr.Create(user.ID, "mutable", nil, 30)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if key.ExpiresAt == nil {
		t.Fatal("expected expiry")
	}

	// Zero leaves the expiry untouched.
	if err := mgr.Update(key.ID, user.ID, "renamed", nil, 0); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := db.GetApiKey(key.ID, user.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "renamed" {
		t.Errorf("name = %q", got.Name)
	}
	if got.ExpiresAt == nil {
		t.Error("expiry cleared by no-op update")
	}

	// Negative clears it.
	if err := mgr.Update(key.ID, user.ID, "", nil, -1); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = db.GetApiKey(key.ID, user.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ExpiresAt != nil {
		t.Errorf("expiry not cleared: %v", got.ExpiresAt)
	}
	if got.Name != "renamed" {
		t.Errorf("empty name overwrote %q", got.Name)
	}

	// Permission updates stay owner-scoped.
	if err := mgr.Update(key.ID, user.ID, "", []string{"admin"}, 0); !errors.Is(err, autherr.ErrValidation) {
		t.Errorf("err = %v", err)
	}
}

func TestRevokeUnknownKey(t *testing.T) {
	mgr, db := newTestManager(t, DefaultConfig())
	user := newTestUser(t, db, "unk@example.com", false)
	if err := mgr.Revoke(999, user.ID); !errors.Is(err, autherr.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}
