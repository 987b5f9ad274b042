// Package api is the HTTP surface of the task service: routing, the authentication gate,
// request validation and the mapping of service errors onto the JSON error envelope.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/todo-1m/tms/internal/app/analytics"
	"github.com/todo-1m/tms/internal/app/identity"
	"github.com/todo-1m/tms/internal/app/insights"
	"github.com/todo-1m/tms/internal/app/notes"
	"github.com/todo-1m/tms/internal/app/revocation"
	"github.com/todo-1m/tms/internal/app/tasks"
	"github.com/todo-1m/tms/internal/errs"
	"github.com/todo-1m/tms/internal/platform/auth"
	"github.com/todo-1m/tms/internal/platform/logging"
	"github.com/todo-1m/tms/internal/platform/metrics"
	"go.uber.org/zap"
)

var errInvalidJSON = errs.New(errs.ErrInvalidInput, "invalid JSON payload")

func badRequest(msg string) error {
	return errs.New(errs.ErrInvalidInput, msg)
}

// RevocationStore is the part of the revocation registry the HTTP layer reads.
type RevocationStore interface {
	IsBlocked(ctx context.Context, token string) (bool, error)
	ListForUser(ctx context.Context, username string) ([]revocation.Record, error)
}

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Deps struct {
	Identity    *identity.Service
	Users       *identity.UserCache
	Tokens      *auth.Manager
	Revocations RevocationStore
	Tasks       *tasks.Service
	Notes       *notes.Service
	Analytics   *analytics.Service
	Insights    *insights.Service
	Readiness   map[string]ReadinessCheck
	// FailOpen lets requests through when the revocation registry errors.
	FailOpen bool
	Location *time.Location
	Log      *zap.Logger
}

type Handler struct {
	Deps
	Now func() time.Time

	validate *validator.Validate
}

func NewHandler(deps Deps) *Handler {
	deps.Log = logging.OrNop(deps.Log)
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &Handler{
		Deps:     deps,
		Now:      func() time.Time { return time.Now().UTC() },
		validate: newValidator(),
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestID)
	r.Use(h.recoverer)
	r.Use(h.accessLog)
	r.Use(h.authGate)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	r.Handle("/metrics", metrics.Handler())

	r.Post("/api/auth/register", h.handleRegister)
	r.Post("/api/auth/login", h.handleLogin)
	r.Post("/api/auth/refresh", h.handleRefresh)
	r.Post("/api/auth/refresh/", h.handleRefresh)

	r.Group(func(authR chi.Router) {
		authR.Use(h.requireAuth)

		authR.Post("/api/auth/logout", h.handleLogout)
		authR.Post("/api/auth/password", h.handleChangePassword)

		authR.Route("/api/tasks", func(tr chi.Router) {
			tr.Post("/", h.handleCreateTask)
			tr.Get("/", h.handleListTasks)

			tr.Get("/ai/summary", h.handleAISummary)
			tr.Get("/ai/overdue-risk", h.handleOverdueRisks)
			tr.Get("/ai/overdue-risk/{taskID}", h.handleOverdueRisk)
			tr.Get("/ai/recommendation", h.handleRecommendation)
			tr.Get("/ai/patterns", h.handlePatterns)

			tr.Get("/{taskID}", h.handleGetTask)
			tr.Put("/{taskID}", h.handleUpdateTask)
			tr.Patch("/{taskID}", h.handleSetTaskStatus)
			tr.Delete("/{taskID}", h.handleDeleteTask)
		})

		authR.Route("/api/notes", func(nr chi.Router) {
			nr.Post("/", h.handleCreateNote)
			nr.Get("/", h.handleListNotes)
			nr.Get("/{noteID}", h.handleGetNote)
			nr.Put("/{noteID}", h.handleUpdateNote)
			nr.Delete("/{noteID}", h.handleDeleteNote)
		})

		authR.Get("/api/analytics/daily", h.handleDailyStats)
		authR.Get("/api/analytics/range", h.handleStatsRange)

		authR.Route("/api/admin", func(ar chi.Router) {
			ar.Use(h.requireRole(identity.RoleAdmin))
			ar.Get("/users", h.handleListUsers)
			ar.Post("/users/role", h.handleSetRole)
			ar.Post("/users/{userID}/active", h.handleSetActive)
			ar.Get("/users/{username}/revocations", h.handleListRevocations)
			ar.Get("/notes", h.handleAdminListNotes)
		})
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.Readiness))
	for name, check := range h.Readiness {
		if err := check(ctx); err != nil {
			h.Log.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	h.writeJSON(w, status, checks)
}
