// Package enrichment runs best-effort language model work for completed tasks off the consumer path.
package enrichment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/todo-1m/tms/internal/app/analytics"
	"github.com/todo-1m/tms/internal/app/identity"
	"github.com/todo-1m/tms/internal/platform/logging"
	"github.com/todo-1m/tms/internal/platform/metrics"
	"go.uber.org/zap"
)

type Job struct {
	OwnerID int64
	EventID string
}

type UserLookup interface {
	GetByID(ctx context.Context, userID int64) (identity.User, error)
}

type StatsLookup interface {
	FindDaily(ctx context.Context, day time.Time) (analytics.DailyStats, error)
}

type Summarizer interface {
	DailySummary(ctx context.Context, user identity.User, stats analytics.DailyStats) (string, error)
}

type Options struct {
	Workers   int
	QueueSize int
	// Timeout bounds one job end to end, the model call included.
	Timeout  time.Duration
	Location *time.Location
}

// Worker drains a bounded queue with a fixed pool. Submit never blocks; a full queue drops the job.
type Worker struct {
	Users      UserLookup
	Stats      StatsLookup
	Summarizer Summarizer
	Now        func() time.Time
	Log        *zap.Logger

	opts   Options
	queue  chan Job
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewWorker(users UserLookup, stats StatsLookup, summarizer Summarizer, opts Options, log *zap.Logger) *Worker {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Worker{
		Users:      users,
		Stats:      stats,
		Summarizer: summarizer,
		Now:        time.Now,
		Log:        logging.OrNop(log),
		opts:       opts,
		queue:      make(chan Job, opts.QueueSize),
	}
}

// Start launches the pool. Jobs still queued when ctx is cancelled are drained without running.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.opts.Workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for job := range w.queue {
				if ctx.Err() != nil {
					metrics.EnrichmentJobs.WithLabelValues("dropped").Inc()
					continue
				}
				w.run(ctx, job)
			}
		}()
	}
}

func (w *Worker) Submit(ownerID int64, eventID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		metrics.EnrichmentJobs.WithLabelValues("dropped").Inc()
		return false
	}
	select {
	case w.queue <- Job{OwnerID: ownerID, EventID: eventID}:
		return true
	default:
		metrics.EnrichmentJobs.WithLabelValues("dropped").Inc()
		return false
	}
}

// Stop refuses new jobs, lets the pool finish what is queued and waits for it.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Worker) run(ctx context.Context, job Job) {
	fields := []zap.Field{zap.String("event_id", job.EventID), zap.Int64("owner_id", job.OwnerID)}
	defer func() {
		if r := recover(); r != nil {
			metrics.EnrichmentJobs.WithLabelValues("failed").Inc()
			w.Log.Error("enrichment job panicked", append(fields, zap.Any("panic", r), zap.Stack("stack"))...)
		}
	}()

	if w.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.Timeout)
		defer cancel()
	}

	result, err := w.enrich(ctx, job, fields)
	metrics.EnrichmentJobs.WithLabelValues(result).Inc()
	if err != nil {
		w.Log.Warn("enrichment failed", append(fields, zap.String("result", result), zap.Error(err))...)
	}
}

func (w *Worker) enrich(ctx context.Context, job Job, fields []zap.Field) (string, error) {
	user, err := w.Users.GetByID(ctx, job.OwnerID)
	if err != nil {
		return "failed", err
	}
	stats, err := w.Stats.FindDaily(ctx, analytics.Day(w.Now(), w.opts.Location))
	if errors.Is(err, analytics.ErrStatsNotFound) {
		w.Log.Debug("no stats for today, skipping enrichment", fields...)
		return "skipped", nil
	}
	if err != nil {
		return "failed", err
	}
	summary, err := w.Summarizer.DailySummary(ctx, user, stats)
	if err != nil {
		return "failed", err
	}
	w.Log.Info("daily summary generated",
		append(fields, zap.String("username", user.Username), zap.String("date", stats.Date), zap.String("summary", summary))...)
	return "done", nil
}
