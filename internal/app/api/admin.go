package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Identity.ListUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := h.decode(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, err := h.Identity.SetRole(r.Context(), req.UserID, req.Role)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

func (h *Handler) handleSetActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userID")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req activeRequest
	if err := h.decode(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, err := h.Identity.SetActive(r.Context(), id, *req.Active)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

func (h *Handler) handleListRevocations(w http.ResponseWriter, r *http.Request) {
	username := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "username")))
	records, err := h.Revocations.ListForUser(r.Context(), username)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}
