package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	"github.com/jslitzker/forgeboard/internal/auth/apikey"
	"github.com/jslitzker/forgeboard/internal/auth/audit"
	"github.com/jslitzker/forgeboard/internal/auth/database"
	"github.com/jslitzker/forgeboard/internal/auth/provider"
	"github.com/jslitzker/forgeboard/internal/auth/session"
)

// Handler bundles the auth core's HTTP endpoints. Every collaborator is
// injected through the constructor.
type Handler struct {
	db       *database.SQLiteDB
	provider *provider.Local
	sessions *session.Manager
	apiKeys  *apikey.Manager
	audit    audit.Recorder
	logger   *zap.Logger
}

func New(
	db *database.SQLiteDB,
	local *provider.Local,
	sessions *session.Manager,
	apiKeys *apikey.Manager,
	recorder audit.Recorder,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		db:       db,
		provider: local,
		sessions: sessions,
		apiKeys:  apiKeys,
		audit:    recorder,
		logger:   logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["success"] = true
	writeJSON(w, http.StatusOK, payload)
}

func writeKind(w http.ResponseWriter, kind autherr.Kind, message string) {
	writeJSON(w, kind.HTTPStatus(), map[string]any{
		"success":       false,
		"error":         string(kind),
		"error_message": message,
	})
}

func writeFailure(w http.ResponseWriter, res autherr.Result) {
	writeKind(w, res.ErrKind, res.Message)
}

// writeErr maps a core error to its wire kind. Unknown errors are logged and
// reported without detail.
func (h *Handler) writeErr(w http.ResponseWriter, err error, message string) {
	kind := autherr.KindOf(err)
	if kind == autherr.KindUnknown {
		h.logger.Error("internal error", zap.Error(err))
		writeKind(w, kind, "internal error")
		return
	}
	if message == "" {
		message = err.Error()
	}
	writeKind(w, kind, message)
}

func decode(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

// bearerRequest reports the raw bearer token of the request, empty when the
// request authenticated some other way.
func bearerRequest(r *http.Request) string {
	const prefix = "Bearer "
	authz := r.Header.Get("Authorization")
	if len(authz) > len(prefix) && authz[:len(prefix)] == prefix {
		return authz[len(prefix):]
	}
	return ""
}
