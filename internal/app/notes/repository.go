package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/todo-1m/tms/internal/platform/dbpool"
)

type Note struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"ownerId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type Page struct {
	Items []Note `json:"items"`
	Page  int    `json:"page"`
	Size  int    `json:"size"`
	Total int64  `json:"total"`
}

// Repository reads and writes notes. Every method except ListAll is scoped to the owner.
type Repository interface {
	Create(ctx context.Context, note Note) (Note, error)
	Get(ctx context.Context, ownerID, noteID int64) (Note, error)
	ListByOwner(ctx context.Context, ownerID int64, page, size int) ([]Note, int64, error)
	ListAll(ctx context.Context, page, size int) ([]Note, int64, error)
	Update(ctx context.Context, ownerID, noteID int64, title, content string) (Note, error)
	Delete(ctx context.Context, ownerID, noteID int64) error
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

const noteColumns = `id, owner_id, title, content, created_at`

const insertNoteSQL = `
INSERT INTO note (owner_id, title, content, created_at)
VALUES ($1, $2, $3, $4)
RETURNING ` + noteColumns

const selectNoteSQL = `SELECT ` + noteColumns + ` FROM note WHERE id = $1 AND owner_id = $2`

const listOwnerNotesSQL = `
SELECT ` + noteColumns + ` FROM note
WHERE owner_id = $1
ORDER BY id DESC
LIMIT $2 OFFSET $3`

const countOwnerNotesSQL = `SELECT count(*) FROM note WHERE owner_id = $1`

const listAllNotesSQL = `
SELECT ` + noteColumns + ` FROM note
ORDER BY id DESC
LIMIT $1 OFFSET $2`

const countAllNotesSQL = `SELECT count(*) FROM note`

const updateNoteSQL = `
UPDATE note SET title = $3, content = $4
WHERE id = $1 AND owner_id = $2
RETURNING ` + noteColumns

const deleteNoteSQL = `DELETE FROM note WHERE id = $1 AND owner_id = $2`

func scanNote(row pgx.Row) (Note, error) {
	var n Note
	if err := row.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Content, &n.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Note{}, ErrNoteNotFound
		}
		return Note{}, err
	}
	return n, nil
}

func (r *PostgresRepository) list(ctx context.Context, countSQL, listSQL string, countArgs []any, page, size int) ([]Note, int64, error) {
	var total int64
	if err := r.Pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notes: %w", err)
	}
	rows, err := r.Pool.Query(ctx, listSQL, append(countArgs, size, page*size)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()
	items := []Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *PostgresRepository) Create(ctx context.Context, note Note) (Note, error) {
	created, err := scanNote(r.Pool.QueryRow(ctx, insertNoteSQL, note.OwnerID, note.Title, note.Content, r.Now()))
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) Get(ctx context.Context, ownerID, noteID int64) (Note, error) {
	return scanNote(r.Pool.QueryRow(ctx, selectNoteSQL, noteID, ownerID))
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID int64, page, size int) ([]Note, int64, error) {
	return r.list(ctx, countOwnerNotesSQL, listOwnerNotesSQL, []any{ownerID}, page, size)
}

func (r *PostgresRepository) ListAll(ctx context.Context, page, size int) ([]Note, int64, error) {
	return r.list(ctx, countAllNotesSQL, listAllNotesSQL, nil, page, size)
}

func (r *PostgresRepository) Update(ctx context.Context, ownerID, noteID int64, title, content string) (Note, error) {
	return scanNote(r.Pool.QueryRow(ctx, updateNoteSQL, noteID, ownerID, title, content))
}

func (r *PostgresRepository) Delete(ctx context.Context, ownerID, noteID int64) error {
	tag, err := r.Pool.Exec(ctx, deleteNoteSQL, noteID, ownerID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoteNotFound
	}
	return nil
}
