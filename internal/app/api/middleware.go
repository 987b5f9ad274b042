package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nuid"
	"github.com/todo-1m/tms/internal/app/identity"
	"github.com/todo-1m/tms/internal/platform/auth"
	"github.com/todo-1m/tms/internal/platform/metrics"
	"go.uber.org/zap"
)

const (
	refreshPath = "/api/auth/refresh"

	msgTokenInvalidated     = "Token has been invalidated. Please log in again."
	msgTokenUnverifiable    = "Token could not be verified. Please try again."
	msgRefreshNotAllowed    = "Refresh token cannot be used to access this resource."
	msgAuthenticationNeeded = "Full authentication is required to access this resource."
	msgAccessDenied         = "Access denied."
)

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = nuid.Next()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.Log.Error("panic serving request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestIDFrom(r.Context())),
					zap.Any("panic", rec),
					zap.Stack("stack"))
				h.writeError(w, r, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		metrics.ObserveSince(metrics.HTTPDuration.WithLabelValues(route, r.Method), start)

		h.Log.Info("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestIDFrom(r.Context())))
	})
}

// authGate attaches a principal for valid access tokens. It rejects revoked tokens and refresh
// tokens used outside the refresh endpoint; every other request passes through unauthenticated
// and is left to requireAuth.
func (h *Handler) authGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFrom(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		blocked, err := h.Revocations.IsBlocked(r.Context(), token)
		if err != nil {
			if !h.FailOpen {
				h.Log.Warn("revocation check failed, rejecting request", zap.String("path", r.URL.Path), zap.Error(err))
				h.writeError(w, r, http.StatusUnauthorized, msgTokenUnverifiable)
				return
			}
			h.Log.Warn("revocation check failed, continuing", zap.String("path", r.URL.Path), zap.Error(err))
		}
		if blocked {
			h.writeError(w, r, http.StatusUnauthorized, msgTokenInvalidated)
			return
		}

		switch {
		case h.Tokens.IsType(token, auth.TokenRefresh):
			if !strings.HasPrefix(r.URL.Path, refreshPath) {
				h.writeError(w, r, http.StatusUnauthorized, msgRefreshNotAllowed)
				return
			}
			next.ServeHTTP(w, r)
		case h.Tokens.IsType(token, auth.TokenAccess):
			username, err := h.Tokens.Subject(token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			u, err := h.Users.Get(r.Context(), username)
			if err != nil || !u.Active {
				if err != nil && statusFor(err) == http.StatusInternalServerError {
					h.Log.Warn("principal lookup failed", zap.String("username", username), zap.Error(err))
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), u)))
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFrom(r.Context()); !ok {
			h.writeError(w, r, http.StatusUnauthorized, msgAuthenticationNeeded)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requireRole(role identity.Role) func(http.Handler) http.Handler {
	authority := "ROLE_" + string(role)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, _ := PrincipalFrom(r.Context())
			for _, a := range u.Authorities() {
				if a == authority {
					next.ServeHTTP(w, r)
					return
				}
			}
			h.writeError(w, r, http.StatusForbidden, msgAccessDenied)
		})
	}
}
