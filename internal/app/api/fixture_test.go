package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/todo-1m/tms/internal/app/analytics"
	"github.com/todo-1m/tms/internal/app/identity"
	"github.com/todo-1m/tms/internal/app/insights"
	"github.com/todo-1m/tms/internal/app/notes"
	"github.com/todo-1m/tms/internal/app/pipeline"
	"github.com/todo-1m/tms/internal/app/revocation"
	"github.com/todo-1m/tms/internal/app/tasks"
	"github.com/todo-1m/tms/internal/contracts"
	"github.com/todo-1m/tms/internal/eventbus"
	"github.com/todo-1m/tms/internal/platform/auth"
	"github.com/todo-1m/tms/internal/platform/config"
	"github.com/todo-1m/tms/internal/testutil"
)

const (
	testSecret    = "0123456789abcdef0123456789abcdef"
	recorderGroup = "test-recorder"
)

type stubLLM struct {
	mu    sync.Mutex
	reply string
	err   error
}

func (s *stubLLM) Complete(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reply, s.err
}

type eventRecorder struct {
	mu     sync.Mutex
	events []contracts.TaskEvent
}

func (r *eventRecorder) handle(_ context.Context, e contracts.TaskEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// kinds lists the event types seen for taskID, with the removal reason in parentheses.
func (r *eventRecorder) kinds(taskID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Payload.TaskID != taskID {
			continue
		}
		kind := string(e.Type)
		if e.Payload.RemovalReason != "" {
			kind += "(" + string(e.Payload.RemovalReason) + ")"
		}
		out = append(out, kind)
	}
	return out
}

func (r *eventRecorder) forTask(taskID int64) []contracts.TaskEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []contracts.TaskEvent
	for _, e := range r.events {
		if e.Payload.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	t        *testing.T
	handler  *Handler
	router   http.Handler
	mr       *miniredis.Miniredis
	tokens   *auth.Manager
	identity *identity.Service
	stats    *testutil.Stats
	bus      *eventbus.MemoryBus
	recorder *eventRecorder
	llm      *stubLLM
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	tokens, err := auth.NewManager(testSecret, 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)
	registry := revocation.NewRegistry(rdb, tokens, time.Second)

	userRepo := testutil.NewUsers()
	users := identity.NewUserCache(userRepo, 100, time.Minute)
	identitySvc := identity.NewService(userRepo, users, tokens, registry, nil)

	bus := eventbus.NewMemoryBus(4, 10*time.Millisecond, nil)
	taskSvc := tasks.NewService(testutil.NewTasks(), tasks.NewEmitter(bus, time.Second, nil))
	stats := testutil.NewStats()
	llm := &stubLLM{reply: "ok"}
	insightSvc := insights.NewService(llm, nil)

	cfg := config.Config{
		Events: config.EventsConfig{
			AnalyticsGroup:    "tms-analytics-service",
			NotificationGroup: "tms-notification-service",
			LoggerGroup:       "tms-event-logger",
		},
		LLM: config.LLMConfig{EnrichmentWorkers: 1, EnrichmentQueue: 16, Timeout: time.Second},
	}
	p := pipeline.New(cfg, pipeline.Deps{
		Bus:        bus,
		Stats:      stats,
		Users:      users,
		Summarizer: insightSvc,
		Location:   time.UTC,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	recorder := &eventRecorder{}
	require.NoError(t, bus.Subscribe(ctx, recorderGroup, recorder.handle))

	t.Cleanup(func() {
		cancel()
		<-done
		_ = rdb.Close()
	})

	h := NewHandler(Deps{
		Identity:    identitySvc,
		Users:       users,
		Tokens:      tokens,
		Revocations: registry,
		Tasks:       taskSvc,
		Notes:       notes.NewService(testutil.NewNotes()),
		Analytics:   analytics.NewService(stats, time.UTC),
		Insights:    insightSvc,
		Readiness: map[string]ReadinessCheck{
			"redis": registry.Ping,
		},
		Location: time.UTC,
	})
	return &fixture{
		t:        t,
		handler:  h,
		router:   h.Router(),
		mr:       mr,
		tokens:   tokens,
		identity: identitySvc,
		stats:    stats,
		bus:      bus,
		recorder: recorder,
		llm:      llm,
	}
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) register(username string) identity.User {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username, "email": username + "@x", "password": "pw",
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	var u identity.User
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &u))
	return u
}

func (f *fixture) login(username string) identity.TokenPair {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": username, "password": "pw"})
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	var pair identity.TokenPair
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &pair))
	return pair
}

func (f *fixture) createTask(token string, body map[string]any) tasks.Task {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/tasks", token, body)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	var task tasks.Task
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &task))
	return task
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func (f *fixture) today() analytics.DailyStats {
	f.t.Helper()
	s, err := f.stats.FindDaily(context.Background(), analytics.Day(time.Now(), time.UTC))
	if err != nil {
		return analytics.DailyStats{}
	}
	return s
}
