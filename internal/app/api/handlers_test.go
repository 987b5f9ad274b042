package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/todo-1m/tms/internal/app/analytics"
	"github.com/todo-1m/tms/internal/app/identity"
	"github.com/todo-1m/tms/internal/app/insights"
	"github.com/todo-1m/tms/internal/app/revocation"
	"github.com/todo-1m/tms/internal/app/tasks"
)

func TestRegister_Errors(t *testing.T) {
	f := newFixture(t)
	f.register("alice")

	rec := f.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "ALICE", "email": "other@x", "password": "pw",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "username already exists", decodeEnvelope(t, rec).Message)

	rec = f.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "bob", "email": "alice@x", "password": "pw",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/register", "", map[string]string{"username": "bob", "email": "bob@x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "password is required", decodeEnvelope(t, rec).Message)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", nil)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid JSON payload", decodeEnvelope(t, rec).Message)
}

func TestLogin_BadCredentials(t *testing.T) {
	f := newFixture(t)
	f.register("alice")

	rec := f.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, identity.ErrInvalidCredentials.Error(), decodeEnvelope(t, rec).Message)
}

func TestRefresh_MissingToken(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/auth/refresh", "", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Missing refresh token", decodeEnvelope(t, rec).Message)
}

func TestTasks_CRUD(t *testing.T) {
	f := newFixture(t)
	f.register("alice")
	f.register("bob")
	alice := f.login("alice")
	bob := f.login("bob")

	due := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	task := f.createTask(alice.Token, map[string]any{"title": "plan", "priority": "HIGH", "dueDate": due})
	require.Equal(t, tasks.PriorityHigh, task.Priority)
	require.True(t, due.Equal(*task.DueDate))
	path := fmt.Sprintf("/api/tasks/%d", task.ID)

	rec := f.do(http.MethodGet, path, bob.Token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	require.Equal(t, "task not found", env.Message)
	require.Equal(t, path, env.Path)
	require.False(t, env.Timestamp.IsZero())

	rec = f.do(http.MethodPut, path, alice.Token, map[string]any{"title": "plan v2", "status": "IN_PROGRESS"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated tasks.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, "plan v2", updated.Title)
	require.Equal(t, tasks.StatusInProgress, updated.Status)

	rec = f.do(http.MethodPatch, path, alice.Token, map[string]string{"status": "DONE"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/tasks?page=0&size=10", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page tasks.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, int64(1), page.Total)

	rec = f.do(http.MethodGet, "/api/tasks?size=abc", alice.Token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/tasks/xyz", alice.Token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/tasks", alice.Token, map[string]any{"title": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "title is required", decodeEnvelope(t, rec).Message)

	rec = f.do(http.MethodDelete, path, alice.Token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(http.MethodDelete, path, alice.Token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalytics_Endpoints(t *testing.T) {
	f := newFixture(t)
	f.register("alice")
	pair := f.login("alice")
	f.stats.Put(analytics.DailyStats{Date: "2026-01-10", Created: 2, Completed: 1})
	f.stats.Put(analytics.DailyStats{Date: "2026-01-12", Created: 1})

	rec := f.do(http.MethodGet, "/api/analytics/daily?date=2026-01-10", pair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var s analytics.DailyStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	require.Equal(t, int64(2), s.Created)

	rec = f.do(http.MethodGet, "/api/analytics/daily?date=2026-01-11", pair.Token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/api/analytics/daily?date=yesterday", pair.Token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/analytics/range?from=2026-01-01&to=2026-01-31", pair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []analytics.DailyStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)

	rec = f.do(http.MethodGet, "/api/analytics/range?from=2026-02-01&to=2026-01-01", pair.Token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAI_Endpoints(t *testing.T) {
	f := newFixture(t)
	f.register("alice")
	pair := f.login("alice")
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	f.handler.Now = func() time.Time { return now }
	f.handler.Analytics.Now = func() time.Time { return now }

	f.stats.Put(analytics.DailyStats{Date: "2026-03-09", Created: 3, Completed: 2})

	f.llm.reply = "Productive day."
	rec := f.do(http.MethodGet, "/api/tasks/ai/summary?date=2026-03-09", pair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary summaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, summaryResponse{Date: "2026-03-09", Summary: "Productive day."}, summary)

	f.llm.err = errors.New("model down")
	rec = f.do(http.MethodGet, "/api/tasks/ai/summary?date=2026-03-09", pair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, "AI summary unavailable. Completed 2 tasks today. Created 3 new tasks.", summary.Summary)

	rec = f.do(http.MethodGet, "/api/tasks/ai/summary?date=2026-03-08", pair.Token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	tomorrow := now.AddDate(0, 0, 1)
	first := f.createTask(pair.Token, map[string]any{"title": "a", "dueDate": tomorrow})
	second := f.createTask(pair.Token, map[string]any{"title": "b", "dueDate": tomorrow})

	f.llm.err = nil
	f.llm.reply = fmt.Sprintf("%d,%d", second.ID, first.ID)
	rec = f.do(http.MethodGet, "/api/tasks/ai/recommendation", pair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ranked []tasks.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ranked))
	require.Len(t, ranked, 2)
	require.Equal(t, second.ID, ranked[0].ID)

	f.llm.reply = "0.8"
	rec = f.do(http.MethodGet, fmt.Sprintf("/api/tasks/ai/overdue-risk/%d", first.ID), pair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var risk insights.Risk
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &risk))
	require.Equal(t, insights.RiskHigh, risk.RiskLevel)

	rec = f.do(http.MethodGet, "/api/tasks/ai/overdue-risk", pair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var risks []insights.Risk
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &risks))
	require.Len(t, risks, 2)

	rec = f.do(http.MethodGet, "/api/tasks/ai/patterns?days=0", pair.Token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	f.llm.reply = "Mondays are busiest."
	rec = f.do(http.MethodGet, "/api/tasks/ai/patterns?days=7", pair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var found []insights.Insight
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
	require.Len(t, found, 1)
	require.Equal(t, insights.PatternSummaryType, found[0].Type)
	require.Equal(t, "Mondays are busiest.", found[0].Description)
}

func TestAdmin_Endpoints(t *testing.T) {
	f := newFixture(t)
	admin := f.register("root")
	bob := f.register("bob")
	_, err := f.identity.SetRole(t.Context(), admin.ID, "ADMIN")
	require.NoError(t, err)
	rootPair := f.login("root")
	bobPair := f.login("bob")

	rec := f.do(http.MethodGet, "/api/admin/users", rootPair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users []identity.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 2)
	require.NotContains(t, rec.Body.String(), "passwordHash")

	rec = f.do(http.MethodPost, "/api/admin/users/role", rootPair.Token, map[string]any{"userId": bob.ID, "role": "WIZARD"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/admin/users/role", rootPair.Token, map[string]any{"userId": bob.ID, "role": "ADMIN"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodGet, "/api/admin/users", bobPair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, "role change must be visible on the next request")

	rec = f.do(http.MethodPost, fmt.Sprintf("/api/admin/users/%d/active", bob.ID), rootPair.Token, map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, fmt.Sprintf("/api/admin/users/%d/active", bob.ID), rootPair.Token, map[string]any{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodGet, "/api/tasks", bobPair.Token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/logout", rootPair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	other := f.login("root")
	rec = f.do(http.MethodGet, "/api/admin/users/root/revocations", other.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []revocation.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	require.Equal(t, "root", records[0].Username)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	f.register("alice")
	pair := f.login("alice")

	rec := f.do(http.MethodPost, "/api/auth/password", pair.Token, map[string]string{"currentPassword": "bad", "newPassword": "new"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/password", pair.Token, map[string]string{"currentPassword": "pw", "newPassword": "new"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "pw"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "new"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = f.do(http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	f.mr.SetError("LOADING")
	defer f.mr.SetError("")
	rec = f.do(http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoverer_ReturnsEnvelope(t *testing.T) {
	f := newFixture(t)
	h := f.handler.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeEnvelope(t, rec)
	require.Equal(t, "Internal server error", env.Message)
	require.Equal(t, "/x", env.Path)
}

func TestListTasks_RejectsOverflowingPage(t *testing.T) {
	f := newFixture(t)
	f.register("alice")
	pair := f.login("alice")
	f.createTask(pair.Token, map[string]any{"title": "only"})

	for _, page := range []string{"500000000000000000", "922337203685477581"} {
		rec := f.do(http.MethodGet, "/api/tasks?page="+page+"&size=20", pair.Token, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, page)
		require.Equal(t, "page is out of range", decodeEnvelope(t, rec).Message)
	}
}

func TestRegister_RejectsPatternCharactersInUsername(t *testing.T) {
	f := newFixture(t)
	f.register("bob")

	for _, name := range []string{"b*", "b?b", "[ab]ob", "b:c"} {
		rec := f.do(http.MethodPost, "/api/auth/register", "", map[string]string{
			"username": name, "email": "x" + fmt.Sprint(len(name)) + "@x", "password": "pw",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
		require.Equal(t, identity.ErrUsernameFormat.Error(), decodeEnvelope(t, rec).Message)
	}
}
