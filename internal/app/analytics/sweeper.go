package analytics

import (
	"context"
	"time"

	"github.com/todo-1m/tms/internal/platform/logging"
	"go.uber.org/zap"
)

// Sweeper periodically removes dedup records older than Retention.
// Retention must exceed the longest redelivery window of the bus, or a late redelivery is counted twice.
type Sweeper struct {
	Repo      Repository
	Retention time.Duration
	Interval  time.Duration
	Now       func() time.Time
	Log       *zap.Logger
}

func NewSweeper(repo Repository, retention, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{
		Repo:      repo,
		Retention: retention,
		Interval:  interval,
		Now:       time.Now,
		Log:       logging.OrNop(log),
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	return s.Repo.PruneProcessed(ctx, s.Now().Add(-s.Retention))
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		n, err := s.Sweep(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			s.Log.Warn("processed events sweep failed", zap.Error(err))
		case n > 0:
			s.Log.Info("processed events pruned", zap.Int64("rows", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
