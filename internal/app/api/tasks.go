package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/todo-1m/tms/internal/app/tasks"
)

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest(name + " must be a positive integer")
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(name + " must be an integer")
	}
	return v, nil
}

func (req taskRequest) input() tasks.Input {
	return tasks.Input{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
	}
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := h.decode(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	task, err := h.Tasks.Create(r.Context(), u.ID, req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, task)
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	size, err := queryInt(r, "size", tasks.DefaultPageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	result, err := h.Tasks.List(r.Context(), u.ID, page, size)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	task, err := h.Tasks.Get(r.Context(), u.ID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req taskRequest
	if err := h.decode(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	task, err := h.Tasks.Update(r.Context(), u.ID, id, req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleSetTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req taskStatusRequest
	if err := h.decode(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	task, err := h.Tasks.SetStatus(r.Context(), u.ID, id, req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	if err := h.Tasks.Delete(r.Context(), u.ID, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
