package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	"github.com/jslitzker/forgeboard/internal/auth/models"
)

// Schema for the SQLite database defining users, sessions, api_keys,
// password_resets and audit_logs. Child tables cascade on user deletion;
// soft-disable via is_active is the normal lifecycle.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE,                         -- Optional, unique when present.
    email TEXT NOT NULL UNIQUE COLLATE NOCASE,    -- Case-insensitive unique email.
    display_name TEXT NOT NULL,
    auth_provider TEXT NOT NULL,                  -- 'local' or 'external'.
    password_hash TEXT,                           -- Present only for local users.
    is_active INTEGER NOT NULL DEFAULT 1,
    is_admin INTEGER NOT NULL DEFAULT 0,
    password_change_required INTEGER NOT NULL DEFAULT 0,
    failed_login_count INTEGER NOT NULL DEFAULT 0,
    locked_until DATETIME,                        -- If set, user is locked until this time.
    last_login_at DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    jti TEXT UNIQUE NOT NULL,                     -- Revocation-lookup identifier.
    refresh_token TEXT,
    expires_at DATETIME NOT NULL,
    ip_address TEXT,
    user_agent TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    revoked_at DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS api_keys (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    key_hash TEXT UNIQUE NOT NULL,                -- SHA-256 of the raw secret.
    name TEXT NOT NULL,
    permissions TEXT,                             -- JSON list of permission strings.
    last_used_at DATETIME,
    expires_at DATETIME,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS password_resets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    token TEXT UNIQUE NOT NULL,
    expires_at DATETIME NOT NULL,
    used_at DATETIME,                             -- Null until consumed.
    ip_address TEXT,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS audit_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER,
    action TEXT NOT NULL,
    resource TEXT NOT NULL,
    status TEXT NOT NULL,
    ip_address TEXT,
    user_agent TEXT,
    details TEXT,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_jti ON sessions(jti);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
CREATE INDEX IF NOT EXISTS idx_api_keys_user_id ON api_keys(user_id);
CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash);
CREATE INDEX IF NOT EXISTS idx_api_keys_expires_at ON api_keys(expires_at);
CREATE INDEX IF NOT EXISTS idx_password_resets_user_id ON password_resets(user_id);
CREATE INDEX IF NOT EXISTS idx_password_resets_token ON password_resets(token);
CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at);
`

type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens the database at dbPath, enables foreign keys and ensures
// the schema exists. Use ":memory:" for an ephemeral database in tests.
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer; a single pooled connection avoids
	// SQLITE_BUSY under concurrent writes and keeps :memory: databases
	// on one handle.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// User methods

// CreateUser inserts a new user and fills in its generated ID.
func (s *SQLiteDB) CreateUser(user *models.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	res, err := s.db.Exec(`
        INSERT INTO users (
            username, email, display_name, auth_provider, password_hash,
            is_active, is_admin, password_change_required, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, nullString(user.Username), user.Email, user.DisplayName, user.AuthProvider,
		nullString(user.PasswordHash), user.IsActive, user.IsAdmin,
		user.PasswordChangeRequired, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return err
	}

	user.ID, err = res.LastInsertId()
	return err
}

const userColumns = `id, username, email, display_name, auth_provider, password_hash,
        is_active, is_admin, password_change_required, failed_login_count,
        locked_until, last_login_at, created_at, updated_at`

func scanUserRow(scan func(dest ...any) error) (*models.User, error) {
	var user models.User
	var username, passwordHash sql.NullString
	var lockedUntil, lastLogin sql.NullTime
	err := scan(
		&user.ID, &username, &user.Email, &user.DisplayName, &user.AuthProvider,
		&passwordHash, &user.IsActive, &user.IsAdmin, &user.PasswordChangeRequired,
		&user.FailedLoginCount, &lockedUntil, &lastLogin,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Username = username.String
	user.PasswordHash = passwordHash.String
	user.LockedUntil = timePtr(lockedUntil)
	user.LastLoginAt = timePtr(lastLogin)
	return &user, nil
}

func (s *SQLiteDB) scanUser(row *sql.Row) (*models.User, error) {
	user, err := scanUserRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, autherr.ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by its primary key.
func (s *SQLiteDB) GetUserByID(id int64) (*models.User, error) {
	return s.scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *SQLiteDB) GetUserByEmail(email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteDB) GetUserByUsername(username string) (*models.User, error) {
	return s.scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

// UpdateLoginState persists the mutable login-attempt fields: failed counter,
// lockout timestamp and last successful login.
func (s *SQLiteDB) UpdateLoginState(user *models.User) error {
	_, err := s.db.Exec(`
        UPDATE users SET
            failed_login_count = ?,
            locked_until = ?,
            last_login_at = ?,
            updated_at = ?
        WHERE id = ?
    `, user.FailedLoginCount, user.LockedUntil, user.LastLoginAt, time.Now(), user.ID)
	return err
}

// UpdateUserPassword replaces the password hash and clears the forced-change flag.
func (s *SQLiteDB) UpdateUserPassword(userID int64, passwordHash string) error {
	_, err := s.db.Exec(`
        UPDATE users SET
            password_hash = ?,
            password_change_required = 0,
            updated_at = ?
        WHERE id = ?
    `, passwordHash, time.Now(), userID)
	return err
}

// UpdateUser persists administrative edits to a user record.
func (s *SQLiteDB) UpdateUser(user *models.User) error {
	_, err := s.db.Exec(`
        UPDATE users SET
            username = ?,
            display_name = ?,
            is_active = ?,
            is_admin = ?,
            password_change_required = ?,
            updated_at = ?
        WHERE id = ?
    `, nullString(user.Username), user.DisplayName, user.IsActive, user.IsAdmin,
		user.PasswordChangeRequired, time.Now(), user.ID)
	return err
}

// ListUsers retrieves all users ordered by ID.
func (s *SQLiteDB) ListUsers() ([]models.User, error) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUserRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// CountUsers returns the total number of user rows.
func (s *SQLiteDB) CountUsers() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// Session methods

// CreateSession inserts a new session record and fills in its generated ID.
func (s *SQLiteDB) CreateSession(session *models.Session) error {
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	res, err := s.db.Exec(`
        INSERT INTO sessions (
            user_id, jti, refresh_token, expires_at, ip_address,
            user_agent, is_active, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, session.UserID, session.JTI, nullString(session.RefreshToken),
		session.ExpiresAt, nullString(session.IPAddress), nullString(session.UserAgent),
		session.IsActive, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return err
	}

	session.ID, err = res.LastInsertId()
	return err
}

const sessionColumns = `id, user_id, jti, refresh_token, expires_at, ip_address,
        user_agent, is_active, revoked_at, created_at, updated_at`

func scanSessionRow(scan func(dest ...any) error) (*models.Session, error) {
	var session models.Session
	var refreshToken, ip, ua sql.NullString
	var revokedAt sql.NullTime
	err := scan(
		&session.ID, &session.UserID, &session.JTI, &refreshToken,
		&session.ExpiresAt, &ip, &ua, &session.IsActive, &revokedAt,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	session.RefreshToken = refreshToken.String
	session.IPAddress = ip.String
	session.UserAgent = ua.String
	session.RevokedAt = timePtr(revokedAt)
	return &session, nil
}

func (s *SQLiteDB) scanSession(row *sql.Row) (*models.Session, error) {
	session, err := scanSessionRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, autherr.ErrNotFound
		}
		return nil, err
	}
	return session, nil
}

// GetSessionByJTI retrieves a session by its revocation identifier.
func (s *SQLiteDB) GetSessionByJTI(jti string) (*models.Session, error) {
	return s.scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE jti = ?`, jti))
}

// GetSessionByRefreshToken retrieves an active session owned by userID that
// holds the given refresh token.
func (s *SQLiteDB) GetSessionByRefreshToken(userID int64, refreshToken string) (*models.Session, error) {
	return s.scanSession(s.db.QueryRow(`
        SELECT `+sessionColumns+` FROM sessions
        WHERE user_id = ? AND refresh_token = ? AND is_active = 1
    `, userID, refreshToken))
}

// ExtendSession pushes the session expiry forward (sliding expiry).
func (s *SQLiteDB) ExtendSession(sessionID int64, expiresAt time.Time) error {
	_, err := s.db.Exec(`
        UPDATE sessions SET expires_at = ?, updated_at = ? WHERE id = ?
    `, expiresAt, time.Now(), sessionID)
	return err
}

// RotateSession replaces the refresh token and expiry after a refresh. The
// old refresh token becomes unusable immediately.
func (s *SQLiteDB) RotateSession(sessionID int64, refreshToken string, expiresAt time.Time) error {
	_, err := s.db.Exec(`
        UPDATE sessions SET refresh_token = ?, expires_at = ?, updated_at = ? WHERE id = ?
    `, refreshToken, expiresAt, time.Now(), sessionID)
	return err
}

// RevokeSession deactivates a single session.
func (s *SQLiteDB) RevokeSession(sessionID int64) error {
	now := time.Now()
	_, err := s.db.Exec(`
        UPDATE sessions SET is_active = 0, revoked_at = ?, updated_at = ? WHERE id = ?
    `, now, now, sessionID)
	return err
}

// RevokeUserSessions deactivates every active session of a user, optionally
// sparing the session identified by excludeJTI. Returns the number revoked.
func (s *SQLiteDB) RevokeUserSessions(userID int64, excludeJTI string) (int, error) {
	now := time.Now()
	res, err := s.db.Exec(`
        UPDATE sessions SET is_active = 0, revoked_at = ?, updated_at = ?
        WHERE user_id = ? AND is_active = 1 AND jti != ?
    `, now, now, userID, excludeJTI)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListUserSessions retrieves a user's sessions, newest first.
func (s *SQLiteDB) ListUserSessions(userID int64, activeOnly bool) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session, err := scanSessionRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// CleanupExpiredSessions deactivates sessions whose expiry has passed. Only
// ever flips the active flag, so it is safe to run alongside live validation.
func (s *SQLiteDB) CleanupExpiredSessions() (int, error) {
	now := time.Now()
	res, err := s.db.Exec(`
        UPDATE sessions SET is_active = 0, revoked_at = ?, updated_at = ?
        WHERE expires_at < ? AND is_active = 1
    `, now, now, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SessionStats reports aggregate session counts.
func (s *SQLiteDB) SessionStats() (map[string]int, error) {
	stats := map[string]int{}
	var total, active, expired int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE is_active = 1`).Scan(&active); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE is_active = 1 AND expires_at < ?`, time.Now()).Scan(&expired); err != nil {
		return nil, err
	}
	stats["total_sessions"] = total
	stats["active_sessions"] = active
	stats["expired_sessions"] = expired
	stats["inactive_sessions"] = total - active
	return stats, nil
}

// API key methods

// CreateApiKey inserts a new API key record and fills in its generated ID.
func (s *SQLiteDB) CreateApiKey(key *models.ApiKey) error {
	now := time.Now()
	key.CreatedAt = now
	key.UpdatedAt = now

	perms, err := json.Marshal(key.Permissions)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
        INSERT INTO api_keys (
            user_id, key_hash, name, permissions, expires_at,
            is_active, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `, key.UserID, key.KeyHash, key.Name, string(perms), key.ExpiresAt,
		key.IsActive, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		return err
	}

	key.ID, err = res.LastInsertId()
	return err
}

const apiKeyColumns = `id, user_id, key_hash, name, permissions, last_used_at,
        expires_at, is_active, created_at, updated_at`

func scanApiKeyRow(scan func(dest ...any) error) (*models.ApiKey, error) {
	var key models.ApiKey
	var perms sql.NullString
	var lastUsed, expires sql.NullTime
	err := scan(
		&key.ID, &key.UserID, &key.KeyHash, &key.Name, &perms,
		&lastUsed, &expires, &key.IsActive,
		&key.CreatedAt, &key.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	key.LastUsedAt = timePtr(lastUsed)
	key.ExpiresAt = timePtr(expires)
	if perms.Valid && perms.String != "" {
		// Malformed permission JSON degrades to the read-only default.
		if err := json.Unmarshal([]byte(perms.String), &key.Permissions); err != nil {
			key.Permissions = nil
		}
	}
	return &key, nil
}

// GetApiKeyByHash retrieves an active API key by its secret hash.
func (s *SQLiteDB) GetApiKeyByHash(keyHash string) (*models.ApiKey, error) {
	row := s.db.QueryRow(`
        SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ? AND is_active = 1
    `, keyHash)
	key, err := scanApiKeyRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, autherr.ErrNotFound
		}
		return nil, err
	}
	return key, nil
}

// GetApiKey retrieves an API key by ID, scoped to its owner.
func (s *SQLiteDB) GetApiKey(keyID, userID int64) (*models.ApiKey, error) {
	row := s.db.QueryRow(`
        SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ? AND user_id = ?
    `, keyID, userID)
	key, err := scanApiKeyRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, autherr.ErrNotFound
		}
		return nil, err
	}
	return key, nil
}

// ListUserApiKeys retrieves a user's API keys, newest first.
func (s *SQLiteDB) ListUserApiKeys(userID int64, activeOnly bool) ([]models.ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []models.ApiKey
	for rows.Next() {
		key, err := scanApiKeyRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *key)
	}
	return keys, rows.Err()
}

// UpdateApiKey persists name, permission and expiry edits.
func (s *SQLiteDB) UpdateApiKey(key *models.ApiKey) error {
	perms, err := json.Marshal(key.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
        UPDATE api_keys SET name = ?, permissions = ?, expires_at = ?, updated_at = ?
        WHERE id = ?
    `, key.Name, string(perms), key.ExpiresAt, time.Now(), key.ID)
	return err
}

// TouchApiKey stamps the last-used timestamp.
func (s *SQLiteDB) TouchApiKey(keyID int64) error {
	_, err := s.db.Exec(`
        UPDATE api_keys SET last_used_at = ?, updated_at = ? WHERE id = ?
    `, time.Now(), time.Now(), keyID)
	return err
}

// RevokeApiKey deactivates a key, scoped to its owner. Reports whether a row
// was actually revoked.
func (s *SQLiteDB) RevokeApiKey(keyID, userID int64) (bool, error) {
	res, err := s.db.Exec(`
        UPDATE api_keys SET is_active = 0, updated_at = ?
        WHERE id = ? AND user_id = ? AND is_active = 1
    `, time.Now(), keyID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RevokeUserApiKeys deactivates every active key of a user, optionally
// sparing excludeID. Returns the number revoked.
func (s *SQLiteDB) RevokeUserApiKeys(userID int64, excludeID int64) (int, error) {
	res, err := s.db.Exec(`
        UPDATE api_keys SET is_active = 0, updated_at = ?
        WHERE user_id = ? AND is_active = 1 AND id != ?
    `, time.Now(), userID, excludeID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountActiveApiKeys counts a user's active keys, for the per-user cap.
func (s *SQLiteDB) CountActiveApiKeys(userID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`
        SELECT COUNT(*) FROM api_keys WHERE user_id = ? AND is_active = 1
    `, userID).Scan(&count)
	return count, err
}

// CleanupExpiredApiKeys deactivates keys whose expiry has passed.
func (s *SQLiteDB) CleanupExpiredApiKeys() (int, error) {
	res, err := s.db.Exec(`
        UPDATE api_keys SET is_active = 0, updated_at = ?
        WHERE expires_at IS NOT NULL AND expires_at < ? AND is_active = 1
    `, time.Now(), time.Now())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Password reset methods

// CreatePasswordReset inserts a new reset token record.
func (s *SQLiteDB) CreatePasswordReset(reset *models.PasswordReset) error {
	reset.CreatedAt = time.Now()
	res, err := s.db.Exec(`
        INSERT INTO password_resets (user_id, token, expires_at, ip_address, created_at)
        VALUES (?, ?, ?, ?, ?)
    `, reset.UserID, reset.Token, reset.ExpiresAt, nullString(reset.IPAddress), reset.CreatedAt)
	if err != nil {
		return err
	}
	reset.ID, err = res.LastInsertId()
	return err
}

// GetPasswordResetByToken retrieves a reset record by its opaque token.
func (s *SQLiteDB) GetPasswordResetByToken(token string) (*models.PasswordReset, error) {
	var reset models.PasswordReset
	var ip sql.NullString
	var usedAt sql.NullTime
	err := s.db.QueryRow(`
        SELECT id, user_id, token, expires_at, used_at, ip_address, created_at
        FROM password_resets WHERE token = ?
    `, token).Scan(
		&reset.ID, &reset.UserID, &reset.Token, &reset.ExpiresAt,
		&usedAt, &ip, &reset.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, autherr.ErrNotFound
		}
		return nil, err
	}
	reset.IPAddress = ip.String
	reset.UsedAt = timePtr(usedAt)
	return &reset, nil
}

// MarkResetUsed stamps a reset token as consumed.
func (s *SQLiteDB) MarkResetUsed(resetID int64) error {
	_, err := s.db.Exec(`
        UPDATE password_resets SET used_at = ? WHERE id = ? AND used_at IS NULL
    `, time.Now(), resetID)
	return err
}

// InvalidateUserResets marks every outstanding reset token of a user as used,
// keeping the at-most-one-live-token invariant. Returns the number invalidated.
func (s *SQLiteDB) InvalidateUserResets(userID int64) (int, error) {
	res, err := s.db.Exec(`
        UPDATE password_resets SET used_at = ? WHERE user_id = ? AND used_at IS NULL
    `, time.Now(), userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CleanupExpiredResets marks expired, unused reset tokens as used.
func (s *SQLiteDB) CleanupExpiredResets() (int, error) {
	res, err := s.db.Exec(`
        UPDATE password_resets SET used_at = ? WHERE expires_at < ? AND used_at IS NULL
    `, time.Now(), time.Now())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Audit log methods

// CreateAuditLog appends an audit record.
func (s *SQLiteDB) CreateAuditLog(log *models.AuditLog) error {
	_, err := s.db.Exec(`
        INSERT INTO audit_logs (
            user_id, action, resource, status, ip_address, user_agent, details, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `, log.UserID, log.Action, log.Resource, log.Status,
		nullString(log.IPAddress), nullString(log.UserAgent),
		nullString(log.Details), time.Now())
	return err
}

// ListAuditLogs retrieves the most recent audit records.
func (s *SQLiteDB) ListAuditLogs(limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
        SELECT id, user_id, action, resource, status, ip_address, user_agent, details, created_at
        FROM audit_logs ORDER BY created_at DESC, id DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var log models.AuditLog
		var ip, ua, details sql.NullString
		err := rows.Scan(
			&log.ID, &log.UserID, &log.Action, &log.Resource, &log.Status,
			&ip, &ua, &details, &log.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		log.IPAddress = ip.String
		log.UserAgent = ua.String
		log.Details = details.String
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// IsUniqueViolation reports whether err is a UNIQUE constraint failure, the
// error an insert racing a duplicate produces after pre-checks have passed.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
