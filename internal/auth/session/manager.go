package session

import (
	"time"

	"go.uber.org/zap"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	"github.com/jslitzker/forgeboard/internal/auth/database"
	"github.com/jslitzker/forgeboard/internal/auth/models"
	"github.com/jslitzker/forgeboard/internal/auth/token"
)

const (
	maxUserAgentLen = 500
	maxIPLen        = 45
)

// Config holds session lifecycle settings.
type Config struct {
	AccessTTL      time.Duration // Access token and session row lifetime.
	RefreshTTL     time.Duration // Refresh token lifetime.
	RefreshEnabled bool          // Whether refresh tokens are issued at all.
	ExtendWithin   time.Duration // Sliding extension window before expiry.
}

// DefaultConfig mirrors the stock deployment: 24h sessions, 7d refresh,
// sliding extension in the final hour.
func DefaultConfig() Config {
	return Config{
		AccessTTL:      24 * time.Hour,
		RefreshTTL:     7 * 24 * time.Hour,
		RefreshEnabled: true,
		ExtendWithin:   time.Hour,
	}
}

// Manager is the session registry: it persists one row per issued token pair
// and is the source of truth for revocation. The signed token is a tamper
// seal and claims carrier, not sole authority.
type Manager struct {
	db     *database.SQLiteDB
	codec  *token.Codec
	cfg    Config
	logger *zap.Logger
}

func NewManager(db *database.SQLiteDB, codec *token.Codec, cfg Config, logger *zap.Logger) *Manager {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultConfig().AccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultConfig().RefreshTTL
	}
	if cfg.ExtendWithin == 0 {
		cfg.ExtendWithin = DefaultConfig().ExtendWithin
	}
	return &Manager{db: db, codec: codec, cfg: cfg, logger: logger}
}

// Create issues a token pair for the user and records the backing session.
func (m *Manager) Create(user *models.User, ipAddress, userAgent string) (*models.TokenPair, error) {
	jti, err := token.NewJTI()
	if err != nil {
		return nil, err
	}

	accessToken, err := m.codec.Issue(user, jti, m.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}

	var refreshToken string
	if m.cfg.RefreshEnabled {
		refreshToken, err = m.codec.IssueRefresh(user.ID, jti, m.cfg.RefreshTTL)
		if err != nil {
			return nil, err
		}
	}

	expiresAt := time.Now().Add(m.cfg.AccessTTL)
	record := &models.Session{
		UserID:       user.ID,
		JTI:          jti,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		IPAddress:    clip(ipAddress, maxIPLen),
		UserAgent:    clip(userAgent, maxUserAgentLen),
		IsActive:     true,
	}
	if err := m.db.CreateSession(record); err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(m.cfg.AccessTTL.Seconds()),
		ExpiresAt:    expiresAt,
		JTI:          jti,
		SessionID:    record.ID,
	}, nil
}

// Validate checks an access token against the registry and the signature.
// The unverified jti lookup runs first: a revoked or expired session is
// rejected in one indexed read without paying for signature verification,
// and revocation holds even while the token itself is cryptographically live.
func (m *Manager) Validate(tokenString string) autherr.Result {
	jti, err := m.codec.PeekJTI(tokenString)
	if err != nil {
		return autherr.Failure(autherr.ErrTokenInvalid, "malformed token")
	}

	record, err := m.db.GetSessionByJTI(jti)
	if err != nil {
		return autherr.Failure(autherr.ErrTokenInvalid, "session not found")
	}

	now := time.Now()
	if !record.IsValid(now) {
		return autherr.Failure(autherr.ErrTokenExpired, "session expired or revoked")
	}

	claims, err := m.codec.Verify(tokenString)
	if err != nil {
		return autherr.Failure(err, "token verification failed")
	}
	if claims.Refresh {
		return autherr.Failure(autherr.ErrTokenInvalid, "refresh token used as access token")
	}

	userID, err := claims.UserID()
	if err != nil || userID != record.UserID {
		return autherr.Failure(autherr.ErrTokenInvalid, "token subject mismatch")
	}

	user, err := m.db.GetUserByID(userID)
	if err != nil {
		return autherr.Failure(autherr.ErrTokenInvalid, "user not found")
	}
	if !user.IsActive {
		return autherr.Failure(autherr.ErrAccountDisabled, "user account is disabled")
	}

	// Sliding expiry: extend when the record is inside the final window.
	if record.ExpiresAt.Sub(now) < m.cfg.ExtendWithin {
		if err := m.db.ExtendSession(record.ID, now.Add(m.cfg.AccessTTL)); err != nil {
			m.logger.Warn("session extension failed", zap.Int64("session_id", record.ID), zap.Error(err))
		}
	}

	return autherr.Success(user.ID, user.Username, user.Email, user.DisplayName, user.IsAdmin,
		authIdentity(record, user))
}

func authIdentity(record *models.Session, user *models.User) autherr.SessionIdentity {
	return autherr.SessionIdentity{
		SessionID: record.ID,
		JTI:       record.JTI,
		ExpiresAt: record.ExpiresAt.UTC().Format(time.RFC3339),
		UserPerms: user.Permissions(),
		Provider:  string(user.AuthProvider),
	}
}

// Refresh exchanges a refresh token for a new pair, rotating the stored
// refresh token so the old one is single-use.
func (m *Manager) Refresh(refreshToken string) (*models.TokenPair, error) {
	if !m.cfg.RefreshEnabled {
		return nil, autherr.ErrTokenInvalid
	}

	claims, err := m.codec.Verify(refreshToken)
	if err != nil {
		return nil, err
	}
	if !claims.Refresh {
		return nil, autherr.ErrTokenInvalid
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, autherr.ErrTokenInvalid
	}

	record, err := m.db.GetSessionByRefreshToken(userID, refreshToken)
	if err != nil {
		return nil, autherr.ErrTokenInvalid
	}
	if !record.IsValid(time.Now()) {
		return nil, autherr.ErrTokenExpired
	}

	user, err := m.db.GetUserByID(userID)
	if err != nil {
		return nil, autherr.ErrTokenInvalid
	}
	if !user.IsActive {
		return nil, autherr.ErrAccountDisabled
	}

	newAccess, err := m.codec.Issue(user, record.JTI, m.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	newRefresh, err := m.codec.IssueRefresh(user.ID, record.JTI, m.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(m.cfg.AccessTTL)
	if err := m.db.RotateSession(record.ID, newRefresh, expiresAt); err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:  newAccess,
		RefreshToken: newRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(m.cfg.AccessTTL.Seconds()),
		ExpiresAt:    expiresAt,
		JTI:          record.JTI,
		SessionID:    record.ID,
	}, nil
}

// Revoke deactivates the session behind the presented token. The jti is read
// without signature verification: revocation of a stolen-but-expired token
// must still work.
func (m *Manager) Revoke(tokenString string) error {
	jti, err := m.codec.PeekJTI(tokenString)
	if err != nil {
		return err
	}

	record, err := m.db.GetSessionByJTI(jti)
	if err != nil {
		return err
	}

	return m.db.RevokeSession(record.ID)
}

// RevokeAll deactivates every active session of a user, optionally sparing
// the session identified by excludeJTI. Returns the number revoked.
func (m *Manager) RevokeAll(userID int64, excludeJTI string) (int, error) {
	return m.db.RevokeUserSessions(userID, excludeJTI)
}

// List returns a user's active sessions.
func (m *Manager) List(userID int64) ([]models.Session, error) {
	return m.db.ListUserSessions(userID, true)
}

// CleanupExpired flips the active flag on expired sessions. Idempotent and
// safe to run concurrently with validation.
func (m *Manager) CleanupExpired() (int, error) {
	return m.db.CleanupExpiredSessions()
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
