package handlers

import (
	"net/http"
	"strconv"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	"github.com/jslitzker/forgeboard/internal/auth/audit"
	authmw "github.com/jslitzker/forgeboard/internal/auth/middleware"
	"github.com/jslitzker/forgeboard/internal/auth/ratelimit"
)

// ListAPIKeys reports the caller's API keys. Hashes are never rendered.
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	res, _ := authmw.FromContext(r.Context())

	activeOnly := r.URL.Query().Get("all") != "true"
	keys, err := h.apiKeys.List(res.UserID, activeOnly)
	if err != nil {
		h.writeErr(w, err, "")
		return
	}

	writeOK(w, map[string]any{"api_keys": keys})
}

type createAPIKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	ExpiresDays int      `json:"expires_days"`
}

// CreateAPIKey mints a new key for the caller. The raw secret appears in
// this response and nowhere else; only its hash is stored.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	res, _ := authmw.FromContext(r.Context())

	var req createAPIKeyRequest
	if err := decode(r, &req); err != nil || req.Name == "" {
		writeKind(w, autherr.KindValidation, "name is required")
		return
	}

	record, raw, err := h.apiKeys.Create(res.UserID, req.Name, req.Permissions, req.ExpiresDays)
	if err != nil {
		h.writeErr(w, err, "")
		return
	}

	h.audit.Record(audit.EventApiKeyCreated, &res.UserID, "success",
		ratelimit.ClientIP(r), r.UserAgent(), map[string]any{"api_key_id": record.ID, "name": record.Name})

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"api_key": record,
		"key":     raw,
	})
}

type updateAPIKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	ExpiresDays *int     `json:"expires_days"`
}

// UpdateAPIKey renames or rescopes one of the caller's keys. The secret is
// immutable; rotation means revoke and create.
func (h *Handler) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	res, _ := authmw.FromContext(r.Context())

	keyID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeKind(w, autherr.KindValidation, "invalid api key id")
		return
	}

	var req updateAPIKeyRequest
	if err := decode(r, &req); err != nil {
		writeKind(w, autherr.KindValidation, err.Error())
		return
	}

	expiresDays := 0
	if req.ExpiresDays != nil {
		expiresDays = *req.ExpiresDays
		if expiresDays == 0 {
			expiresDays = -1 // explicit zero clears the expiry
		}
	}

	if err := h.apiKeys.Update(keyID, res.UserID, req.Name, req.Permissions, expiresDays); err != nil {
		h.writeErr(w, err, "")
		return
	}

	key, err := h.db.GetApiKey(keyID, res.UserID)
	if err != nil {
		h.writeErr(w, err, "")
		return
	}
	writeOK(w, map[string]any{"api_key": key})
}

// RevokeAPIKey deactivates one of the caller's keys.
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	res, _ := authmw.FromContext(r.Context())

	keyID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeKind(w, autherr.KindValidation, "invalid api key id")
		return
	}

	if err := h.apiKeys.Revoke(keyID, res.UserID); err != nil {
		h.writeErr(w, err, "")
		return
	}

	h.audit.Record(audit.EventApiKeyRevoked, &res.UserID, "success",
		ratelimit.ClientIP(r), r.UserAgent(), map[string]any{"api_key_id": keyID})

	writeOK(w, map[string]any{"message": "api key revoked"})
}
