package api

import (
	"net/http"

	"github.com/todo-1m/tms/internal/app/identity"
	"github.com/todo-1m/tms/internal/platform/auth"
)

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.decode(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, err := h.Identity.Register(r.Context(), identity.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	pair, err := h.Identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pair)
}

// handleRefresh takes the refresh token from the JSON body, falling back to the bearer header.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := h.decode(r, &req, true); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	token := req.RefreshToken
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}
	pair, err := h.Identity.Refresh(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if err := h.Identity.Logout(r.Context(), token); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := h.decode(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	if err := h.Identity.ChangePassword(r.Context(), u.Username, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
