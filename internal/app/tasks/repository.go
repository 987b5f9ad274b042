package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/todo-1m/tms/internal/platform/dbpool"
)

type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

type Task struct {
	ID          int64      `json:"id"`
	OwnerID     int64      `json:"ownerId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Page struct {
	Items []Task `json:"items"`
	Page  int    `json:"page"`
	Size  int    `json:"size"`
	Total int64  `json:"total"`
}

// Repository scopes every read and write to the owning user.
type Repository interface {
	Create(ctx context.Context, task Task) (Task, error)
	Get(ctx context.Context, ownerID, taskID int64) (Task, error)
	List(ctx context.Context, ownerID int64, page, size int) ([]Task, int64, error)
	ListOpen(ctx context.Context, ownerID int64) ([]Task, error)
	ListOpenDueBetween(ctx context.Context, ownerID int64, from, to time.Time) ([]Task, error)
	// Update locks the row, applies fn to a copy and writes the result in one transaction.
	// It returns the state before and after the change.
	Update(ctx context.Context, ownerID, taskID int64, fn func(*Task) error) (before, after Task, err error)
	Delete(ctx context.Context, ownerID, taskID int64) (Task, error)
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

const taskColumns = `id, owner_id, title, description, status, priority, due_date, created_at, updated_at`

const insertTaskSQL = `
INSERT INTO task (owner_id, title, description, status, priority, due_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
RETURNING ` + taskColumns

const selectTaskSQL = `SELECT ` + taskColumns + ` FROM task WHERE id = $1 AND owner_id = $2`

const selectTaskForUpdateSQL = selectTaskSQL + ` FOR UPDATE`

const listTasksSQL = `
SELECT ` + taskColumns + ` FROM task
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`

const countTasksSQL = `SELECT count(*) FROM task WHERE owner_id = $1`

const listOpenTasksSQL = `
SELECT ` + taskColumns + ` FROM task
WHERE owner_id = $1 AND status IN ('OPEN', 'IN_PROGRESS')
ORDER BY due_date NULLS LAST, id`

const listOpenDueBetweenSQL = `
SELECT ` + taskColumns + ` FROM task
WHERE owner_id = $1 AND status IN ('OPEN', 'IN_PROGRESS')
  AND due_date >= $2 AND due_date < $3
ORDER BY due_date, id`

const updateTaskSQL = `
UPDATE task
SET title = $3, description = $4, status = $5, priority = $6, due_date = $7, updated_at = $8
WHERE id = $1 AND owner_id = $2`

const deleteTaskSQL = `DELETE FROM task WHERE id = $1 AND owner_id = $2 RETURNING ` + taskColumns

func scanTask(row pgx.Row) (Task, error) {
	var (
		t        Task
		status   string
		priority string
		due      pgtype.Timestamptz
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &status, &priority, &due, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, err
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)
	if due.Valid {
		d := due.Time.UTC()
		t.DueDate = &d
	}
	return t, nil
}

func scanTasks(rows pgx.Rows) ([]Task, error) {
	defer rows.Close()
	out := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Create(ctx context.Context, task Task) (Task, error) {
	created, err := scanTask(r.Pool.QueryRow(ctx, insertTaskSQL,
		task.OwnerID, task.Title, task.Description, string(task.Status), string(task.Priority), task.DueDate, r.Now()))
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) Get(ctx context.Context, ownerID, taskID int64) (Task, error) {
	return scanTask(r.Pool.QueryRow(ctx, selectTaskSQL, taskID, ownerID))
}

func (r *PostgresRepository) List(ctx context.Context, ownerID int64, page, size int) ([]Task, int64, error) {
	var total int64
	if err := r.Pool.QueryRow(ctx, countTasksSQL, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	rows, err := r.Pool.Query(ctx, listTasksSQL, ownerID, size, page*size)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	items, err := scanTasks(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *PostgresRepository) ListOpen(ctx context.Context, ownerID int64) ([]Task, error) {
	rows, err := r.Pool.Query(ctx, listOpenTasksSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}
	return scanTasks(rows)
}

func (r *PostgresRepository) ListOpenDueBetween(ctx context.Context, ownerID int64, from, to time.Time) ([]Task, error) {
	rows, err := r.Pool.Query(ctx, listOpenDueBetweenSQL, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list tasks due: %w", err)
	}
	return scanTasks(rows)
}

func (r *PostgresRepository) Update(ctx context.Context, ownerID, taskID int64, fn func(*Task) error) (before, after Task, err error) {
	err = dbpool.InTx(ctx, r.Pool, func(tx pgx.Tx) error {
		current, err := scanTask(tx.QueryRow(ctx, selectTaskForUpdateSQL, taskID, ownerID))
		if err != nil {
			return err
		}
		next := current
		if err := fn(&next); err != nil {
			return err
		}
		next.ID, next.OwnerID, next.CreatedAt = current.ID, current.OwnerID, current.CreatedAt
		next.UpdatedAt = r.Now()
		if _, err := tx.Exec(ctx, updateTaskSQL,
			taskID, ownerID, next.Title, next.Description, string(next.Status), string(next.Priority), next.DueDate, next.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		before, after = current, next
		return nil
	})
	if err != nil {
		return Task{}, Task{}, err
	}
	return before, after, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, ownerID, taskID int64) (Task, error) {
	var deleted Task
	err := dbpool.InTx(ctx, r.Pool, func(tx pgx.Tx) error {
		t, err := scanTask(tx.QueryRow(ctx, deleteTaskSQL, taskID, ownerID))
		if err != nil {
			return err
		}
		deleted = t
		return nil
	})
	return deleted, err
}
