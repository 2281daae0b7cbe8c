package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reddot-watch/feedcache/internal/database"
	"reddot-watch/feedcache/internal/models"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*database.DB, *Repository) {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "feedcache.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, NewRepository(db)
}

func insertItem(t *testing.T, db *database.DB, item models.FeedItem) models.FeedItem {
	t.Helper()
	if item.URL == "" {
		item.URL = fmt.Sprintf("https://example.com/%d", time.Now().UnixNano())
	}
	if item.PublishedAt.IsZero() {
		item.PublishedAt = baseTime
	}
	require.NoError(t, db.InsertFeedItem(context.Background(), &item))
	return item
}

func insertItems(t *testing.T, db *database.DB, n int) []models.FeedItem {
	t.Helper()
	items := make([]models.FeedItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, insertItem(t, db, models.FeedItem{
			Title:       fmt.Sprintf("item %d", i),
			URL:         fmt.Sprintf("https://example.com/items/%d", i),
			PublishedAt: baseTime.Add(time.Duration(i) * time.Minute),
		}))
	}
	return items
}

func cacheRows(userID string, items []models.FeedItem, scores []float64, expiresAt time.Time) []models.CacheRow {
	rows := make([]models.CacheRow, 0, len(scores))
	for i, score := range scores {
		rows = append(rows, models.CacheRow{
			UserID:    userID,
			ItemID:    items[i].ID,
			Score:     score,
			Reason:    fmt.Sprintf("score %.1f", score),
			ExpiresAt: expiresAt,
		})
	}
	return rows
}
