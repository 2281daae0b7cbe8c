package importfeeds

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"reddot-watch/feedcache/internal/database"
	"reddot-watch/feedcache/internal/storage"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "feedcache.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestImportItems(t *testing.T) {
	db := newTestDB(t)
	csvData := `title,url,published_at,language,topic_l1,video_duration_seconds
First,https://example.com/1,2025-03-01T10:00:00Z,en,science,
Clip,https://example.com/2,2025-03-01T11:00:00Z,en,science,95
Dup,https://example.com/1,2025-03-01T12:00:00Z,en,,
Bad date,https://example.com/3,yesterday,en,,

No url,,2025-03-01T12:00:00Z,en,,
`
	summary, err := NewImporter(db).ImportItems(context.Background(), strings.NewReader(csvData))
	require.NoError(t, err)
	require.Equal(t, 5, summary.Total)
	require.Equal(t, 2, summary.Imported)
	require.Len(t, summary.Errors, 3)
	require.Contains(t, summary.Errors[0], "duplicate URL")
	require.Contains(t, summary.Errors[1], "invalid published_at")
	require.Contains(t, summary.Errors[2], "empty URL")

	var mediaKind string
	var duration int64
	require.NoError(t, db.QueryRow(
		`SELECT media_kind, video_duration_seconds FROM feed_items WHERE url = ?`, "https://example.com/2",
	).Scan(&mediaKind, &duration))
	require.Equal(t, "video", mediaKind)
	require.Equal(t, int64(95), duration)
}

func TestImportItemsMissingColumn(t *testing.T) {
	db := newTestDB(t)
	_, err := NewImporter(db).ImportItems(context.Background(), strings.NewReader("title,url\nA,https://example.com/a\n"))
	require.ErrorContains(t, err, "required column 'published_at'")
}

func TestImportUsersFile(t *testing.T) {
	db := newTestDB(t)
	path := filepath.Join(t.TempDir(), "users.csv")
	require.NoError(t, os.WriteFile(path, []byte(`user_id,status,onboarding_completed,active_preferences
alice,,,
bob,suspended,true,1
carol,active,false,1
dave,active,true,0
alice,,,
`), 0o644))

	summary, err := NewImporter(db).ImportUsersFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 5, summary.Total)
	require.Equal(t, 4, summary.Imported)
	require.Len(t, summary.Errors, 1)

	repo := storage.NewRepository(db)
	active, err := repo.ListActiveUsers(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "dave"}, active)
}
