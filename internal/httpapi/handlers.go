// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/gate"
)

// userView is the public JSON form of a user.
type userView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toUserView(u *auth.User) userView {
	return userView{
		ID:        u.ID.String(),
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (h *Handler) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Bienvenue"})
}

func (h *Handler) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
}

func (h *Handler) handleAbort(status int, msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status, map[string]string{"error": msg})
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	password := r.FormValue("password")
	if email == "" || password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "email and password are required"})
		return
	}

	user, err := h.svc.Register(r.Context(), email, password)
	switch {
	case errors.Is(err, auth.ErrAlreadyExists):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "email already registered"})
		return
	case errors.Is(err, auth.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "email and password are required"})
		return
	case err != nil:
		h.internalError(w, r, "register failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": user.Email, "message": "user created"})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	user, token, err := h.svc.Login(r.Context(), r.FormValue("email"), r.FormValue("password"))
	if errors.Is(err, auth.ErrAuthenticationFailed) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}
	if err != nil {
		h.internalError(w, r, "login failed", err)
		return
	}
	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]string{"email": user.Email, "message": "logged in"})
}

// currentUser resolves the session cookie. The bool is false when the
// response has already been written.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	user, err := h.svc.ResolveCurrentUser(r.Context(), h.gate.SessionToken(r))
	if err != nil {
		h.internalError(w, r, "session resolution failed", err)
		return nil, false
	}
	if user == nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
		return nil, false
	}
	return user, true
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.Logout(r.Context(), user.ID); err != nil {
		h.internalError(w, r, "logout failed", err)
		return
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": user.Email})
}

func (h *Handler) handleIssueReset(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	token, err := h.svc.IssueResetToken(r.Context(), email)
	if errors.Is(err, auth.ErrNotFound) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
		return
	}
	if err != nil {
		h.internalError(w, r, "reset token issue failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": auth.NormalizeEmail(email), "reset_token": token})
}

func (h *Handler) handleConsumeReset(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	token := r.FormValue("reset_token")
	password := r.FormValue("new_password")
	if email == "" || token == "" || password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "email, reset_token and new_password are required"})
		return
	}

	err := h.svc.ConsumeResetToken(r.Context(), token, password)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
		return
	case errors.Is(err, auth.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "new_password is required"})
		return
	case err != nil:
		h.internalError(w, r, "password reset failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": auth.NormalizeEmail(email), "message": "Password updated"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	n, ok, err := h.svc.CountUsers(r.Context())
	if err != nil {
		h.internalError(w, r, "user count failed", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]int{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"users": n})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user := gate.UserFromContext(r.Context())
	if user == nil {
		h.handleNotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(user))
}

func (h *Handler) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	if email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email missing"})
		return
	}
	password := r.FormValue("password")
	if password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password missing"})
		return
	}

	if _, err := h.svc.UserByEmail(r.Context(), email); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no user found for this email"})
			return
		}
		h.internalError(w, r, "user lookup failed", err)
		return
	}

	user, token, err := h.svc.Login(r.Context(), email, password)
	if errors.Is(err, auth.ErrAuthenticationFailed) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "wrong password"})
		return
	}
	if err != nil {
		h.internalError(w, r, "login failed", err)
		return
	}
	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, toUserView(user))
}

func (h *Handler) handleAPILogout(w http.ResponseWriter, r *http.Request) {
	destroyed, err := h.svc.DestroySession(r.Context(), h.gate.SessionToken(r))
	if err != nil {
		h.internalError(w, r, "logout failed", err)
		return
	}
	if !destroyed {
		writeJSON(w, http.StatusNotFound, false)
		return
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{})
}
