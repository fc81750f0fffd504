package handlers

import (
	"net/http"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	authmw "github.com/jslitzker/forgeboard/internal/auth/middleware"
	"github.com/jslitzker/forgeboard/internal/auth/ratelimit"
)

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword starts a password reset. The response is identical whether
// or not the address belongs to an account.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decode(r, &req); err != nil || req.Email == "" {
		writeKind(w, autherr.KindValidation, "email is required")
		return
	}

	_ = h.provider.RequestReset(req.Email, ratelimit.ClientIP(r))

	writeOK(w, map[string]any{
		"message": "if the email address exists, a password reset link has been sent",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ResetPassword consumes a reset token and sets the new password.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decode(r, &req); err != nil || req.Token == "" || req.NewPassword == "" {
		writeKind(w, autherr.KindValidation, "token and new_password are required")
		return
	}

	if err := h.provider.CompleteReset(req.Token, req.NewPassword); err != nil {
		h.writeErr(w, err, "")
		return
	}

	writeOK(w, map[string]any{"message": "password has been reset"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword changes the authenticated user's password and revokes every
// other session of the user. API key callers are rejected: only a session
// proves knowledge of the current password context.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	res, ok := authmw.FromContext(r.Context())
	if !ok || !res.Ok {
		writeKind(w, autherr.KindTokenInvalid, "authentication required")
		return
	}

	sid, ok := res.Identity.(autherr.SessionIdentity)
	if !ok {
		writeKind(w, autherr.KindValidation, "password change requires a session, not an API key")
		return
	}

	var req changePasswordRequest
	if err := decode(r, &req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		writeKind(w, autherr.KindValidation, "current_password and new_password are required")
		return
	}

	if err := h.provider.ChangePassword(res.UserID, req.CurrentPassword, req.NewPassword, sid.JTI); err != nil {
		h.writeErr(w, err, "")
		return
	}

	writeOK(w, map[string]any{"message": "password changed"})
}
