package handlers

import (
	"net/http"
	"strconv"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
)

// ListUsers reports all accounts. Admin only; routing enforces that.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.db.ListUsers()
	if err != nil {
		h.writeErr(w, err, "")
		return
	}
	writeOK(w, map[string]any{"users": users})
}

type createUserRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}

// CreateUser provisions an account on someone's behalf, optionally as admin.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decode(r, &req); err != nil {
		writeKind(w, autherr.KindValidation, err.Error())
		return
	}

	res, err := h.provider.Register(req.Username, req.Email, req.Password, req.DisplayName, req.IsAdmin)
	if err != nil {
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

type updateUserRequest struct {
	DisplayName *string `json:"display_name"`
	IsActive    *bool   `json:"is_active"`
	IsAdmin     *bool   `json:"is_admin"`
}

// UpdateUser edits account flags. Deactivating an account also revokes its
// sessions and API keys so access ends immediately, not at token expiry.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeKind(w, autherr.KindValidation, "invalid user id")
		return
	}

	var req updateUserRequest
	if err := decode(r, &req); err != nil {
		writeKind(w, autherr.KindValidation, err.Error())
		return
	}

	user, err := h.db.GetUserByID(userID)
	if err != nil {
		h.writeErr(w, err, "")
		return
	}

	deactivated := false
	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}
	if req.IsActive != nil {
		deactivated = user.IsActive && !*req.IsActive
		user.IsActive = *req.IsActive
	}
	if req.IsAdmin != nil {
		user.IsAdmin = *req.IsAdmin
	}

	if err := h.db.UpdateUser(user); err != nil {
		h.writeErr(w, err, "")
		return
	}

	if deactivated {
		if _, err := h.sessions.RevokeAll(user.ID, ""); err != nil {
			h.writeErr(w, err, "")
			return
		}
		if _, err := h.apiKeys.RevokeAll(user.ID, 0); err != nil {
			h.writeErr(w, err, "")
			return
		}
	}

	writeOK(w, map[string]any{"user": user})
}

// UnlockUser clears an account's lockout state.
func (h *Handler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeKind(w, autherr.KindValidation, "invalid user id")
		return
	}

	if err := h.provider.Unlock(userID); err != nil {
		h.writeErr(w, err, "")
		return
	}

	writeOK(w, map[string]any{"message": "user unlocked"})
}

// AuditLogs returns the most recent audit entries, newest first.
func (h *Handler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	logs, err := h.db.ListAuditLogs(limit)
	if err != nil {
		h.writeErr(w, err, "")
		return
	}
	writeOK(w, map[string]any{"audit_logs": logs})
}

// Stats reports aggregate counts for the operator dashboard.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	userCount, err := h.db.CountUsers()
	if err != nil {
		h.writeErr(w, err, "")
		return
	}

	sessionStats, err := h.db.SessionStats()
	if err != nil {
		h.writeErr(w, err, "")
		return
	}

	writeOK(w, map[string]any{
		"users":    userCount,
		"sessions": sessionStats,
	})
}
