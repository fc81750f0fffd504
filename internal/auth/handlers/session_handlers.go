package handlers

import (
	"net/http"
	"strconv"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	authmw "github.com/jslitzker/forgeboard/internal/auth/middleware"
)

// ListSessions reports the caller's active sessions. Token material never
// leaves the registry; only metadata is rendered.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	res, _ := authmw.FromContext(r.Context())

	sessions, err := h.sessions.List(res.UserID)
	if err != nil {
		h.writeErr(w, err, "")
		return
	}

	current := int64(0)
	if sid, ok := res.Identity.(autherr.SessionIdentity); ok {
		current = sid.SessionID
	}

	items := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, map[string]any{
			"id":         s.ID,
			"ip_address": s.IPAddress,
			"user_agent": s.UserAgent,
			"created_at": s.CreatedAt,
			"expires_at": s.ExpiresAt,
			"current":    s.ID == current,
		})
	}

	writeOK(w, map[string]any{"sessions": items})
}

// RevokeSession revokes one of the caller's sessions by id.
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	res, _ := authmw.FromContext(r.Context())

	sessionID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeKind(w, autherr.KindValidation, "invalid session id")
		return
	}

	sessions, err := h.sessions.List(res.UserID)
	if err != nil {
		h.writeErr(w, err, "")
		return
	}

	for _, s := range sessions {
		if s.ID == sessionID {
			if err := h.db.RevokeSession(s.ID); err != nil {
				h.writeErr(w, err, "")
				return
			}
			writeOK(w, map[string]any{"message": "session revoked"})
			return
		}
	}

	writeKind(w, autherr.KindNotFound, "session not found")
}

// RevokeOtherSessions revokes every session of the caller except the current one.
func (h *Handler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	res, _ := authmw.FromContext(r.Context())

	keepJTI := ""
	if sid, ok := res.Identity.(autherr.SessionIdentity); ok {
		keepJTI = sid.JTI
	}

	revoked, err := h.sessions.RevokeAll(res.UserID, keepJTI)
	if err != nil {
		h.writeErr(w, err, "")
		return
	}

	writeOK(w, map[string]any{"revoked": revoked})
}
