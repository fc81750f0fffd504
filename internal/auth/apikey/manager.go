package apikey

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	"github.com/jslitzker/forgeboard/internal/auth/database"
	"github.com/jslitzker/forgeboard/internal/auth/models"
	"github.com/jslitzker/forgeboard/internal/auth/token"
)

// KeyPrefix tags every raw API key. It is a format marker for cheap
// pre-filtering, not a secret.
const KeyPrefix = "fb_"

// Config holds API key policy settings.
type Config struct {
	Enabled           bool
	MaxPerUser        int // Cap on concurrently active keys per user.
	DefaultExpiryDays int // 0 means keys never expire by default.
}

func DefaultConfig() Config {
	return Config{Enabled: true, MaxPerUser: 5}
}

// Manager owns API key issuance and validation. Only a SHA-256 hash of the
// raw secret is ever stored; the raw key is returned exactly once at creation.
type Manager struct {
	db     *database.SQLiteDB
	cfg    Config
	logger *zap.Logger
}

func NewManager(db *database.SQLiteDB, cfg Config, logger *zap.Logger) *Manager {
	if cfg.MaxPerUser == 0 {
		cfg.MaxPerUser = DefaultConfig().MaxPerUser
	}
	return &Manager{db: db, cfg: cfg, logger: logger}
}

// HashKey returns the storage hash of a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateKey() (string, error) {
	suffix, err := token.RandomToken(32)
	if err != nil {
		return "", err
	}
	return KeyPrefix + suffix, nil
}

// Create issues a new key for the user. Permissions default to read-only and
// must be a subset of both the fixed enumeration and the owner's own derived
// permissions. Creation beyond the per-user cap fails; it never evicts.
func (m *Manager) Create(userID int64, name string, permissions []string, expiresDays int) (*models.ApiKey, string, error) {
	if !m.cfg.Enabled {
		return nil, "", autherr.ErrNotFound
	}
	if strings.TrimSpace(name) == "" {
		return nil, "", autherr.ErrValidation
	}

	user, err := m.db.GetUserByID(userID)
	if err != nil {
		return nil, "", err
	}

	active, err := m.db.CountActiveApiKeys(userID)
	if err != nil {
		return nil, "", err
	}
	if active >= m.cfg.MaxPerUser {
		return nil, "", autherr.ErrCapacityExceeded
	}

	if len(permissions) == 0 {
		permissions = []string{string(models.PermissionRead)}
	} else if !permissionsAllowed(permissions, user) {
		return nil, "", autherr.ErrValidation
	}

	if expiresDays == 0 {
		expiresDays = m.cfg.DefaultExpiryDays
	}
	var expiresAt *time.Time
	if expiresDays > 0 {
		t := time.Now().AddDate(0, 0, expiresDays)
		expiresAt = &t
	}

	raw, err := generateKey()
	if err != nil {
		return nil, "", err
	}

	record := &models.ApiKey{
		UserID:      userID,
		KeyHash:     HashKey(raw),
		Name:        strings.TrimSpace(name),
		Permissions: permissions,
		ExpiresAt:   expiresAt,
		IsActive:    true,
	}
	if err := m.db.CreateApiKey(record); err != nil {
		return nil, "", err
	}

	return record, raw, nil
}

// Validate authenticates a raw API key. The prefix check runs before any
// hashing or lookup; downstream permission checks use the key's stored,
// scoped-down permission list rather than the owner's derived set.
func (m *Manager) Validate(raw string) autherr.Result {
	if !m.cfg.Enabled {
		return autherr.Failure(autherr.ErrTokenInvalid, "API key authentication is disabled")
	}
	if !strings.HasPrefix(raw, KeyPrefix) {
		return autherr.Failure(autherr.ErrTokenInvalid, "invalid API key format")
	}

	key, err := m.db.GetApiKeyByHash(HashKey(raw))
	if err != nil {
		return autherr.Failure(autherr.ErrTokenInvalid, "invalid or expired API key")
	}
	if !key.IsValid(time.Now()) {
		return autherr.Failure(autherr.ErrTokenExpired, "invalid or expired API key")
	}

	user, err := m.db.GetUserByID(key.UserID)
	if err != nil {
		return autherr.Failure(autherr.ErrTokenInvalid, "API key user not found")
	}
	if !user.IsActive {
		return autherr.Failure(autherr.ErrAccountDisabled, "API key user account is disabled")
	}

	// Best effort: a failed touch must not fail the auth call.
	if err := m.db.TouchApiKey(key.ID); err != nil {
		m.logger.Warn("api key usage stamp failed", zap.Int64("api_key_id", key.ID), zap.Error(err))
	}

	identity := autherr.APIKeyIdentity{
		KeyID:    key.ID,
		KeyName:  key.Name,
		KeyPerms: key.EffectivePermissions(),
	}
	if key.ExpiresAt != nil {
		identity.ExpiresAt = key.ExpiresAt.UTC().Format(time.RFC3339)
	}

	return autherr.Success(user.ID, user.Username, user.Email, user.DisplayName, user.IsAdmin, identity)
}

// List returns a user's keys; hashes are never exposed by the model's JSON shape.
func (m *Manager) List(userID int64, activeOnly bool) ([]models.ApiKey, error) {
	return m.db.ListUserApiKeys(userID, activeOnly)
}

// Update edits name, permissions and expiry of a key owned by userID.
// expiresDays < 0 clears the expiry; 0 leaves it untouched.
func (m *Manager) Update(keyID, userID int64, name string, permissions []string, expiresDays int) error {
	key, err := m.db.GetApiKey(keyID, userID)
	if err != nil {
		return err
	}

	if name != "" {
		key.Name = strings.TrimSpace(name)
	}

	if len(permissions) > 0 {
		user, err := m.db.GetUserByID(userID)
		if err != nil {
			return err
		}
		if !permissionsAllowed(permissions, user) {
			return autherr.ErrValidation
		}
		key.Permissions = permissions
	}

	switch {
	case expiresDays > 0:
		t := time.Now().AddDate(0, 0, expiresDays)
		key.ExpiresAt = &t
	case expiresDays < 0:
		key.ExpiresAt = nil
	}

	return m.db.UpdateApiKey(key)
}

// Revoke deactivates one key owned by userID.
func (m *Manager) Revoke(keyID, userID int64) error {
	revoked, err := m.db.RevokeApiKey(keyID, userID)
	if err != nil {
		return err
	}
	if !revoked {
		return autherr.ErrNotFound
	}
	return nil
}

// RevokeAll deactivates every active key of a user, optionally sparing
// excludeID. Returns the number revoked.
func (m *Manager) RevokeAll(userID int64, excludeID int64) (int, error) {
	return m.db.RevokeUserApiKeys(userID, excludeID)
}

// CleanupExpired deactivates keys past their expiry.
func (m *Manager) CleanupExpired() (int, error) {
	return m.db.CleanupExpiredApiKeys()
}

func permissionsAllowed(requested []string, owner *models.User) bool {
	available := models.AvailablePermissions()
	for _, p := range requested {
		if !contains(available, p) || !owner.HasPermission(p) {
			return false
		}
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
