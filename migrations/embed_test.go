package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFS_ContainsOrderedGooseFiles(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.Equal(t, []string{"00001_users.sql", "00002_tasks.sql", "00003_analytics.sql", "00004_notes.sql"}, names)

	for _, name := range names {
		body, err := fs.ReadFile(FS, name)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(string(body), "-- +goose Up"), name)
		require.Contains(t, string(body), "-- +goose Down", name)
	}
}
