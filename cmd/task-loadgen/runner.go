package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tms_loadgen_requests_total",
		Help: "HTTP requests sent by the load generator.",
	}, []string{"endpoint", "method", "status", "outcome"})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tms_loadgen_actions_total",
		Help: "User actions executed by the load generator.",
	}, []string{"action", "outcome"})

	virtualUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tms_loadgen_virtual_users",
		Help: "Virtual users currently sending actions.",
	})
)

var errUnauthorized = errors.New("unauthorized")

type tokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type taskResponse struct {
	ID int64 `json:"id"`
}

type simulatedUser struct {
	Index    int
	Username string
	Password string

	mu     sync.Mutex
	tokens tokenPair
	tasks  []int64
}

type runner struct {
	cfg    config
	runID  string
	client *http.Client
	log    *zap.Logger

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
	activeVUs       atomic.Int64
}

func newRunner(cfg config, log *zap.Logger) *runner {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Users * 4,
		MaxIdleConnsPerHost: cfg.Users * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &runner{
		cfg:    cfg,
		runID:  strconv.FormatInt(time.Now().UTC().UnixNano(), 36),
		client: &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		log:    log,
	}
}

func (r *runner) waitForReady(ctx context.Context) error {
	wait := r.cfg.StartupWait
	if wait <= 0 {
		wait = 2 * time.Minute
	}
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.APIBase+"/readyz", nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) setupUsers(ctx context.Context) []*simulatedUser {
	var (
		mu    sync.Mutex
		users = make([]*simulatedUser, 0, r.cfg.Users)
		g     errgroup.Group
	)
	g.SetLimit(r.cfg.SetupConcurrency)
	for i := 0; i < r.cfg.Users; i++ {
		g.Go(func() error {
			u, err := r.setupUser(ctx, i)
			if err != nil {
				r.log.Warn("user setup failed", zap.Int("index", i), zap.Error(err))
				return nil
			}
			mu.Lock()
			users = append(users, u)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	r.log.Info("user setup complete", zap.Int("ready", len(users)), zap.Int("failed", r.cfg.Users-len(users)))
	return users
}

func (r *runner) setupUser(ctx context.Context, idx int) (*simulatedUser, error) {
	u := &simulatedUser{
		Index:    idx,
		Username: fmt.Sprintf("load-%s-%04d", r.runID, idx),
		Password: r.cfg.Password,
	}
	_, err := r.requestJSON(ctx, "register", http.MethodPost, "/api/auth/register", map[string]string{
		"username": u.Username,
		"email":    u.Username + "@load.local",
		"password": u.Password,
	}, "", nil, http.StatusCreated, http.StatusConflict)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", u.Username, err)
	}
	var pair tokenPair
	if _, err := r.requestJSON(ctx, "login", http.MethodPost, "/api/auth/login", map[string]string{
		"username": u.Username,
		"password": u.Password,
	}, "", &pair, http.StatusOK); err != nil {
		return nil, fmt.Errorf("login %s: %w", u.Username, err)
	}
	if pair.Token == "" || pair.RefreshToken == "" {
		return nil, fmt.Errorf("empty token pair for %s", u.Username)
	}
	u.tokens = pair
	return u, nil
}

func (r *runner) run(ctx context.Context, users []*simulatedUser) {
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runUser(ctx, u, len(users))
		}()
	}
	wg.Wait()
}

func (r *runner) runUser(ctx context.Context, u *simulatedUser, total int) {
	if r.cfg.RampUp > 0 && total > 0 {
		delay := time.Duration(float64(r.cfg.RampUp) / float64(total) * float64(u.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	virtualUsers.Inc()
	r.activeVUs.Add(1)
	defer virtualUsers.Dec()
	defer r.activeVUs.Add(-1)

	perSecond := r.cfg.ActionsPerUserPerSec
	if perSecond <= 0 {
		perSecond = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(u.Index)))
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		r.runAction(ctx, u, rng)
	}
}

func (r *runner) runAction(ctx context.Context, u *simulatedUser, rng *rand.Rand) {
	taskID, hasTask := u.randomTask(rng)
	choice := rng.Float64()
	switch {
	case !hasTask || choice < 0.45:
		r.act(ctx, u, "create", func(token string) error { return r.createTask(ctx, u, rng, token) })
	case choice < 0.65:
		r.act(ctx, u, "update", func(token string) error { return r.updateTask(ctx, taskID, rng, token) })
	case choice < 0.80:
		r.act(ctx, u, "complete", func(token string) error { return r.setStatus(ctx, u, taskID, "COMPLETED", token) })
	case choice < 0.90:
		r.act(ctx, u, "delete", func(token string) error { return r.deleteTask(ctx, u, taskID, token) })
	default:
		r.act(ctx, u, "list", func(token string) error {
			_, err := r.requestJSON(ctx, "list_tasks", http.MethodGet, "/api/tasks?size=20", nil, token, nil, http.StatusOK)
			return err
		})
	}
}

// act runs fn with the user's access token, refreshing the pair once when the token was rejected.
func (r *runner) act(ctx context.Context, u *simulatedUser, action string, fn func(token string) error) {
	err := fn(u.accessToken())
	if errors.Is(err, errUnauthorized) {
		if rerr := r.refresh(ctx, u); rerr != nil {
			err = rerr
		} else {
			err = fn(u.accessToken())
		}
	}
	if err != nil {
		actionsTotal.WithLabelValues(action, "error").Inc()
		return
	}
	actionsTotal.WithLabelValues(action, "success").Inc()
}

func (r *runner) refresh(ctx context.Context, u *simulatedUser) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	var pair tokenPair
	if _, err := r.requestJSON(ctx, "refresh", http.MethodPost, "/api/auth/refresh", map[string]string{
		"refreshToken": u.tokens.RefreshToken,
	}, "", &pair, http.StatusOK); err != nil {
		return fmt.Errorf("refresh %s: %w", u.Username, err)
	}
	u.tokens = pair
	return nil
}

func (r *runner) createTask(ctx context.Context, u *simulatedUser, rng *rand.Rand, token string) error {
	var created taskResponse
	due := time.Now().UTC().AddDate(0, 0, rng.IntN(7))
	if _, err := r.requestJSON(ctx, "create_task", http.MethodPost, "/api/tasks", map[string]any{
		"title":    fmt.Sprintf("Load task %d", rng.IntN(1_000_000)),
		"priority": []string{"LOW", "MEDIUM", "HIGH"}[rng.IntN(3)],
		"dueDate":  due,
	}, token, &created, http.StatusCreated); err != nil {
		return err
	}
	u.addTask(created.ID)
	return nil
}

func (r *runner) updateTask(ctx context.Context, taskID int64, rng *rand.Rand, token string) error {
	_, err := r.requestJSON(ctx, "update_task", http.MethodPut, fmt.Sprintf("/api/tasks/%d", taskID), map[string]any{
		"title":  fmt.Sprintf("Updated load task %d", rng.IntN(1_000_000)),
		"status": "IN_PROGRESS",
	}, token, nil, http.StatusOK)
	return err
}

func (r *runner) setStatus(ctx context.Context, u *simulatedUser, taskID int64, status, token string) error {
	if _, err := r.requestJSON(ctx, "patch_task", http.MethodPatch, fmt.Sprintf("/api/tasks/%d", taskID), map[string]string{
		"status": status,
	}, token, nil, http.StatusOK); err != nil {
		return err
	}
	u.removeTask(taskID)
	return nil
}

func (r *runner) deleteTask(ctx context.Context, u *simulatedUser, taskID int64, token string) error {
	_, err := r.requestJSON(ctx, "delete_task", http.MethodDelete, fmt.Sprintf("/api/tasks/%d", taskID), nil, token, nil, http.StatusNoContent, http.StatusNotFound)
	if err != nil {
		return err
	}
	u.removeTask(taskID)
	return nil
}

func (r *runner) requestJSON(ctx context.Context, endpoint, method, path string, payload any, token string, out any, expected ...int) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.APIBase+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, method, "0", "error").Inc()
		r.requestsError.Add(1)
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	status := strconv.Itoa(resp.StatusCode)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, method, status, "error").Inc()
		r.requestsError.Add(1)
		return resp.StatusCode, err
	}
	for _, want := range expected {
		if resp.StatusCode != want {
			continue
		}
		requestsTotal.WithLabelValues(endpoint, method, status, "success").Inc()
		r.requestsSuccess.Add(1)
		if out != nil && len(raw) > 0 {
			return resp.StatusCode, json.Unmarshal(raw, out)
		}
		return resp.StatusCode, nil
	}

	requestsTotal.WithLabelValues(endpoint, method, status, "error").Inc()
	r.requestsError.Add(1)
	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, errUnauthorized
	}
	return resp.StatusCode, fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(raw), 240))
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.log.Info("progress",
				zap.Int64("success_requests", r.requestsSuccess.Load()),
				zap.Int64("error_requests", r.requestsError.Load()),
				zap.Int64("active_vus", r.activeVUs.Load()),
			)
		}
	}
}

func (u *simulatedUser) accessToken() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tokens.Token
}

func (u *simulatedUser) addTask(id int64) {
	if id <= 0 {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tasks = append(u.tasks, id)
}

func (u *simulatedUser) randomTask(rng *rand.Rand) (int64, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.tasks) == 0 {
		return 0, false
	}
	return u.tasks[rng.IntN(len(u.tasks))], true
}

func (u *simulatedUser) removeTask(id int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, existing := range u.tasks {
		if existing != id {
			continue
		}
		u.tasks[i] = u.tasks[len(u.tasks)-1]
		u.tasks = u.tasks[:len(u.tasks)-1]
		return
	}
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max] + "..."
}
