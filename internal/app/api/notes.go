package api

import (
	"net/http"

	"github.com/todo-1m/tms/internal/app/notes"
)

func pageParams(r *http.Request, defSize int) (int, int, error) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		return 0, 0, err
	}
	size, err := queryInt(r, "size", defSize)
	if err != nil {
		return 0, 0, err
	}
	return page, size, nil
}

func (h *Handler) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := h.decode(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	note, err := h.Notes.Create(r.Context(), u.ID, req.Title, req.Content)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, note)
}

func (h *Handler) handleListNotes(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r, notes.DefaultPageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	result, err := h.Notes.ListMine(r.Context(), u.ID, page, size)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "noteID")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	note, err := h.Notes.Get(r.Context(), u.ID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, note)
}

func (h *Handler) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "noteID")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req noteRequest
	if err := h.decode(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	note, err := h.Notes.Update(r.Context(), u.ID, id, req.Title, req.Content)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, note)
}

func (h *Handler) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "noteID")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	if err := h.Notes.Delete(r.Context(), u.ID, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAdminListNotes(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r, notes.DefaultPageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	result, err := h.Notes.ListAll(r.Context(), page, size)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}
