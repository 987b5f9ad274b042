package notes

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var noteCols = []string{"id", "owner_id", "title", "content", "created_at"}

func newMockRepo(t *testing.T, now time.Time) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	repo := NewPostgresRepository(mock)
	repo.Now = func() time.Time { return now }
	return repo, mock
}

func TestPostgresRepository_Create(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo, mock := newMockRepo(t, now)

	mock.ExpectQuery(`INSERT INTO note`).
		WithArgs(int64(1), "groceries", "milk", now).
		WillReturnRows(pgxmock.NewRows(noteCols).AddRow(int64(9), int64(1), "groceries", "milk", now))

	n, err := repo.Create(context.Background(), Note{OwnerID: 1, Title: "groceries", Content: "milk"})
	require.NoError(t, err)
	require.Equal(t, int64(9), n.ID)
	require.Equal(t, now, n.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListAllPagesNewestFirst(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo, mock := newMockRepo(t, now)

	mock.ExpectQuery(`SELECT count\(\*\) FROM note`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(12)))
	mock.ExpectQuery(`ORDER BY id DESC\s+LIMIT \$1 OFFSET \$2`).
		WithArgs(10, 10).
		WillReturnRows(pgxmock.NewRows(noteCols).
			AddRow(int64(2), int64(1), "b", "", now).
			AddRow(int64(1), int64(3), "a", "", now))

	items, total, err := repo.ListAll(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(12), total)
	require.Len(t, items, 2)
	require.Equal(t, int64(2), items[0].ID)
	require.Equal(t, int64(3), items[1].OwnerID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListByOwnerScopesQuery(t *testing.T) {
	repo, mock := newMockRepo(t, time.Now())

	mock.ExpectQuery(`SELECT count\(\*\) FROM note WHERE owner_id = \$1`).
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(`WHERE owner_id = \$1\s+ORDER BY id DESC\s+LIMIT \$2 OFFSET \$3`).
		WithArgs(int64(4), 5, 0).
		WillReturnRows(pgxmock.NewRows(noteCols))

	items, total, err := repo.ListByOwner(context.Background(), 4, 0, 5)
	require.NoError(t, err)
	require.Zero(t, total)
	require.NotNil(t, items)
	require.Empty(t, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetAndUpdateNotFound(t *testing.T) {
	repo, mock := newMockRepo(t, time.Now())

	mock.ExpectQuery(`SELECT .+ FROM note WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(int64(5), int64(1)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`UPDATE note SET title = \$3, content = \$4`).
		WithArgs(int64(5), int64(1), "t", "c").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), 1, 5)
	require.ErrorIs(t, err, ErrNoteNotFound)
	_, err = repo.Update(context.Background(), 1, 5, "t", "c")
	require.ErrorIs(t, err, ErrNoteNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_DeleteMissingNote(t *testing.T) {
	repo, mock := newMockRepo(t, time.Now())

	mock.ExpectExec(`DELETE FROM note WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(int64(5), int64(1)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.ErrorIs(t, repo.Delete(context.Background(), 1, 5), ErrNoteNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
