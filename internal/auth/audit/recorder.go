package audit

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/jslitzker/forgeboard/internal/auth/database"
	"github.com/jslitzker/forgeboard/internal/auth/models"
)

// Event names recorded by the auth core.
const (
	EventLogin          = "login"
	EventLoginFailed    = "login_failed"
	EventLogout         = "logout"
	EventRegister       = "register"
	EventPasswordChange = "password_change"
	EventPasswordReset  = "password_reset"
	EventResetRequested = "password_reset_requested"
	EventTokenRefresh   = "token_refresh"
	EventApiKeyCreated  = "api_key_created"
	EventApiKeyRevoked  = "api_key_revoked"
	EventUserUnlocked   = "user_unlocked"
)

// Recorder is the append-only sink for authentication-relevant events.
type Recorder interface {
	Record(action string, userID *int64, status, ip, userAgent string, details any)
}

// DBRecorder persists audit events asynchronously; a failed write is logged
// and dropped rather than failing the authentication path.
type DBRecorder struct {
	db     *database.SQLiteDB
	logger *zap.Logger
}

func NewDBRecorder(db *database.SQLiteDB, logger *zap.Logger) *DBRecorder {
	return &DBRecorder{db: db, logger: logger}
}

func (r *DBRecorder) Record(action string, userID *int64, status, ip, userAgent string, details any) {
	var detailsJSON string
	if details != nil {
		if buf, err := json.Marshal(details); err == nil {
			detailsJSON = string(buf)
		}
	}

	entry := &models.AuditLog{
		UserID:    userID,
		Action:    action,
		Resource:  "authentication",
		Status:    status,
		IPAddress: ip,
		UserAgent: userAgent,
		Details:   detailsJSON,
	}

	go func() {
		if err := r.db.CreateAuditLog(entry); err != nil {
			r.logger.Error("audit log write failed", zap.String("action", action), zap.Error(err))
		}
	}()
}

// NopRecorder discards events. Used in tests.
type NopRecorder struct{}

func (NopRecorder) Record(string, *int64, string, string, string, any) {}
