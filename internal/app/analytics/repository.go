package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/todo-1m/tms/internal/platform/dbpool"
)

const DateLayout = "2006-01-02"

// DailyStats holds the counters for one calendar date.
type DailyStats struct {
	Date            string    `json:"date"`
	Created         int64     `json:"created"`
	Completed       int64     `json:"completed"`
	RemovedTotal    int64     `json:"removedTotal"`
	RemovedDeleted  int64     `json:"removedDeleted"`
	RemovedCanceled int64     `json:"removedCanceled"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Delta is the increment one event contributes to a day's counters.
type Delta struct {
	Created         int64
	Completed       int64
	RemovedTotal    int64
	RemovedDeleted  int64
	RemovedCanceled int64
}

func (d Delta) IsZero() bool {
	return d == Delta{}
}

// Apply adds d to s.
func (s *DailyStats) Apply(d Delta) {
	s.Created += d.Created
	s.Completed += d.Completed
	s.RemovedTotal += d.RemovedTotal
	s.RemovedDeleted += d.RemovedDeleted
	s.RemovedCanceled += d.RemovedCanceled
}

type Repository interface {
	// ApplyDelta records eventID as processed by group and adds d to day's row in one transaction.
	// It reports false without touching the counters when the event was already processed.
	ApplyDelta(ctx context.Context, group, eventID string, day time.Time, d Delta) (bool, error)
	FindDaily(ctx context.Context, day time.Time) (DailyStats, error)
	FindRange(ctx context.Context, from, to time.Time) ([]DailyStats, error)
	// PruneProcessed deletes dedup records processed before the cutoff and returns how many went.
	PruneProcessed(ctx context.Context, before time.Time) (int64, error)
}

type PostgresRepository struct {
	Pool dbpool.Pool
	Now  func() time.Time
}

func NewPostgresRepository(pool dbpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		Pool: pool,
		Now:  func() time.Time { return time.Now().UTC() },
	}
}

const markProcessedSQL = `
INSERT INTO processed_events (group_id, event_id, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (group_id, event_id) DO NOTHING`

const pruneProcessedSQL = `DELETE FROM processed_events WHERE processed_at < $1`

const upsertDailyStatsSQL = `
INSERT INTO task_daily_stats (stat_date, created_count, completed_count, removed_total, removed_deleted, removed_canceled, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (stat_date) DO UPDATE SET
  created_count    = task_daily_stats.created_count + EXCLUDED.created_count,
  completed_count  = task_daily_stats.completed_count + EXCLUDED.completed_count,
  removed_total    = task_daily_stats.removed_total + EXCLUDED.removed_total,
  removed_deleted  = task_daily_stats.removed_deleted + EXCLUDED.removed_deleted,
  removed_canceled = task_daily_stats.removed_canceled + EXCLUDED.removed_canceled,
  updated_at       = EXCLUDED.updated_at`

const statsColumns = `stat_date, created_count, completed_count, removed_total, removed_deleted, removed_canceled, created_at, updated_at`

const selectDailyStatsSQL = `SELECT ` + statsColumns + ` FROM task_daily_stats WHERE stat_date = $1`

const selectStatsRangeSQL = `
SELECT ` + statsColumns + ` FROM task_daily_stats
WHERE stat_date >= $1 AND stat_date <= $2
ORDER BY stat_date`

func scanStats(row pgx.Row) (DailyStats, error) {
	var (
		s   DailyStats
		day time.Time
	)
	if err := row.Scan(&day, &s.Created, &s.Completed, &s.RemovedTotal, &s.RemovedDeleted, &s.RemovedCanceled, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DailyStats{}, ErrStatsNotFound
		}
		return DailyStats{}, err
	}
	s.Date = day.Format(DateLayout)
	return s, nil
}

func (r *PostgresRepository) ApplyDelta(ctx context.Context, group, eventID string, day time.Time, d Delta) (bool, error) {
	applied := false
	err := dbpool.InTx(ctx, r.Pool, func(tx pgx.Tx) error {
		now := r.Now()
		tag, err := tx.Exec(ctx, markProcessedSQL, group, eventID, now)
		if err != nil {
			return fmt.Errorf("mark event processed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, upsertDailyStatsSQL,
			day, d.Created, d.Completed, d.RemovedTotal, d.RemovedDeleted, d.RemovedCanceled, now,
		); err != nil {
			return fmt.Errorf("upsert daily stats: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *PostgresRepository) FindDaily(ctx context.Context, day time.Time) (DailyStats, error) {
	return scanStats(r.Pool.QueryRow(ctx, selectDailyStatsSQL, day))
}

func (r *PostgresRepository) FindRange(ctx context.Context, from, to time.Time) ([]DailyStats, error) {
	rows, err := r.Pool.Query(ctx, selectStatsRangeSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("query stats range: %w", err)
	}
	defer rows.Close()

	out := []DailyStats{}
	for rows.Next() {
		s, err := scanStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) PruneProcessed(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.Pool.Exec(ctx, pruneProcessedSQL, before)
	if err != nil {
		return 0, fmt.Errorf("prune processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}
