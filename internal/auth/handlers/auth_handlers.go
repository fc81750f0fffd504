package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	"github.com/jslitzker/forgeboard/internal/auth/audit"
	authmw "github.com/jslitzker/forgeboard/internal/auth/middleware"
	"github.com/jslitzker/forgeboard/internal/auth/ratelimit"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates a username-or-email plus password and opens a session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		writeKind(w, autherr.KindValidation, err.Error())
		return
	}

	ip := ratelimit.ClientIP(r)
	ua := r.UserAgent()

	res := h.provider.Authenticate(req.Username, req.Password, ip, ua)
	if !res.Ok {
		writeFailure(w, res)
		return
	}

	user, err := h.db.GetUserByID(res.UserID)
	if err != nil {
		h.writeErr(w, err, "")
		return
	}

	tokens, err := h.sessions.Create(user, ip, ua)
	if err != nil {
		h.logger.Error("session creation failed", zap.Int64("user_id", user.ID), zap.Error(err))
		writeKind(w, autherr.KindUnknown, "internal error")
		return
	}

	writeOK(w, map[string]any{
		"tokens": tokens,
		"user":   user,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a single-use refresh token for a fresh token pair.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil || req.RefreshToken == "" {
		writeKind(w, autherr.KindValidation, "refresh_token is required")
		return
	}

	tokens, err := h.sessions.Refresh(req.RefreshToken)
	if err != nil {
		h.writeErr(w, err, "")
		return
	}

	writeOK(w, map[string]any{"tokens": tokens})
}

// Logout revokes the session behind the presented bearer token. Revocation
// of an already-expired token still succeeds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerRequest(r)
	if token == "" {
		writeKind(w, autherr.KindTokenInvalid, "bearer token required")
		return
	}

	if err := h.sessions.Revoke(token); err != nil {
		h.writeErr(w, err, "")
		return
	}

	if res, ok := authmw.FromContext(r.Context()); ok && res.Ok {
		h.audit.Record(audit.EventLogout, &res.UserID, "success", ratelimit.ClientIP(r), r.UserAgent(), nil)
	}

	writeOK(w, map[string]any{"message": "logged out"})
}

// Me reports the authenticated caller's profile, method and permissions.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	res, ok := authmw.FromContext(r.Context())
	if !ok || !res.Ok {
		writeKind(w, autherr.KindTokenInvalid, "authentication required")
		return
	}

	user, err := h.db.GetUserByID(res.UserID)
	if err != nil {
		h.writeErr(w, err, "")
		return
	}

	payload := map[string]any{"user": user}
	if res.Identity != nil {
		payload["auth_method"] = string(res.Identity.Method())
		payload["permissions"] = res.Identity.Permissions()
		payload["identity"] = res.Identity
	}
	writeOK(w, payload)
}

type registerRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// Register creates a new local account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		writeKind(w, autherr.KindValidation, err.Error())
		return
	}

	res, err := h.provider.Register(req.Username, req.Email, req.Password, req.DisplayName, false)
	if err != nil {
		if errors.Is(err, autherr.ErrUserExists) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"success":       false,
				"error":         string(autherr.KindValidation),
				"error_message": res.Message,
			})
			return
		}
		writeFailure(w, res)
		return
	}

	user, dbErr := h.db.GetUserByID(res.UserID)
	if dbErr != nil {
		h.writeErr(w, dbErr, "")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": user})
}

// PasswordRequirements publishes the password policy so clients can validate
// before submitting.
func (h *Handler) PasswordRequirements(w http.ResponseWriter, r *http.Request) {
	policy := h.provider.Policy().Policy()
	writeOK(w, map[string]any{
		"requirements": map[string]any{
			"min_length":        policy.MinLength,
			"max_length":        policy.MaxLength,
			"require_uppercase": policy.RequireUppercase,
			"require_lowercase": policy.RequireLowercase,
			"require_numbers":   policy.RequireNumbers,
			"require_special":   policy.RequireSpecial,
		},
	})
}
