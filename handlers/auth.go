package handlers

import (
	"net/http"
	"time"

	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/services"
)

type meResponse struct {
	User    *models.User `json:"user"`
	Credits float64      `json:"credits"`
}

// Signup handles POST /api/auth/signup.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var input services.SignupInput
	if err := h.decode(w, r, &input, false); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.svc.Users.Signup(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.setSession(w, session)
	respond(w, http.StatusCreated, "account created", session)
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var input services.LoginInput
	if err := h.decode(w, r, &input, false); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.svc.Users.Login(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.setSession(w, session)
	respond(w, http.StatusOK, "logged in", session)
}

// Logout handles POST /api/auth/logout by expiring the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.Auth.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.Auth.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	respond(w, http.StatusOK, "logged out", nil)
}

// Me handles GET /api/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	balance, err := h.svc.Credits.Balance(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "ok", meResponse{User: user, Credits: balance})
}

func (h *Handler) setSession(w http.ResponseWriter, session *services.AuthSession) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.Auth.CookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cfg.Auth.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
