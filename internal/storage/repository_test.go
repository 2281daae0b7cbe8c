package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reddot-watch/feedcache/internal/models"
	"reddot-watch/feedcache/internal/pagination"
)

func TestFetchPageOrdersAndFiltersExpired(t *testing.T) {
	db, repo := newTestRepo(t)
	ctx := context.Background()
	items := insertItems(t, db, 6)

	fresh := baseTime.Add(time.Hour)
	require.NoError(t, repo.UpsertRows(ctx, cacheRows("42", items[:5], []float64{5, 9, 7, 8, 6}, fresh)))
	require.NoError(t, repo.UpsertRows(ctx, cacheRows("42", items[5:], []float64{100}, baseTime.Add(-time.Minute))))
	require.NoError(t, repo.UpsertRows(ctx, cacheRows("other", items[:1], []float64{50}, fresh)))

	page, err := repo.FetchPage(ctx, PageQuery{UserID: "42", Limit: 10, Now: baseTime})
	require.NoError(t, err)

	var scores []float64
	for _, item := range page {
		scores = append(scores, item.Score)
	}
	require.Equal(t, []float64{9, 8, 7, 6, 5}, scores)
	require.Equal(t, "score 9.0", page[0].Reason)
	require.True(t, items[1].PublishedAt.Equal(page[0].PublishedAt))
}

func TestFetchPageBreaksTies(t *testing.T) {
	db, repo := newTestRepo(t)
	ctx := context.Background()

	older := insertItem(t, db, models.FeedItem{Title: "older", URL: "https://e.com/a", PublishedAt: baseTime})
	newerLow := insertItem(t, db, models.FeedItem{Title: "newer-low-id", URL: "https://e.com/b", PublishedAt: baseTime.Add(time.Hour)})
	newerHigh := insertItem(t, db, models.FeedItem{Title: "newer-high-id", URL: "https://e.com/c", PublishedAt: baseTime.Add(time.Hour)})

	expires := baseTime.Add(24 * time.Hour)
	require.NoError(t, repo.UpsertRows(ctx, []models.CacheRow{
		{UserID: "u", ItemID: older.ID, Score: 1, ExpiresAt: expires},
		{UserID: "u", ItemID: newerLow.ID, Score: 1, ExpiresAt: expires},
		{UserID: "u", ItemID: newerHigh.ID, Score: 1, ExpiresAt: expires},
	}))

	first, err := repo.FetchPage(ctx, PageQuery{UserID: "u", Limit: 1, Now: baseTime})
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, newerHigh.ID, first[0].ID)

	after := pagination.Cursor{Score: first[0].Score, PublishedAt: first[0].PublishedAt, ID: first[0].ID}
	rest, err := repo.FetchPage(ctx, PageQuery{UserID: "u", Limit: 5, Now: baseTime, After: &after})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, newerLow.ID, rest[0].ID)
	require.Equal(t, older.ID, rest[1].ID)
}

func TestFetchPageFilters(t *testing.T) {
	db, repo := newTestRepo(t)
	ctx := context.Background()

	en := insertItem(t, db, models.FeedItem{Title: "en", URL: "https://e.com/en", Language: "en", TopicL1: "science", TopicL2: "space"})
	de := insertItem(t, db, models.FeedItem{Title: "de", URL: "https://e.com/de", Language: "de", TopicL1: "science", TopicL2: "space"})
	enOther := insertItem(t, db, models.FeedItem{Title: "en-sport", URL: "https://e.com/en2", Language: "en", TopicL1: "sport",
		MediaKind: models.MediaKindVideo, Video: &models.Video{DurationSeconds: 30}})

	expires := baseTime.Add(time.Hour)
	require.NoError(t, repo.UpsertRows(ctx, cacheRows("u", []models.FeedItem{en, de, enOther}, []float64{3, 2, 1}, expires)))

	page, err := repo.FetchPage(ctx, PageQuery{UserID: "u", Limit: 10, Now: baseTime, Language: "en"})
	require.NoError(t, err)
	require.Len(t, page, 2)

	page, err = repo.FetchPage(ctx, PageQuery{UserID: "u", Limit: 10, Now: baseTime, TopicL1: "science", TopicL2: "space"})
	require.NoError(t, err)
	require.Len(t, page, 2)

	page, err = repo.FetchPage(ctx, PageQuery{UserID: "u", Limit: 10, Now: baseTime, Language: "en", TopicL1: "sport"})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.NotNil(t, page[0].Video)
	require.Equal(t, int64(30), page[0].Video.DurationSeconds)
}

func TestUpsertKeepsOneRowPerPair(t *testing.T) {
	db, repo := newTestRepo(t)
	ctx := context.Background()
	items := insertItems(t, db, 3)

	expires := baseTime.Add(time.Hour)
	require.NoError(t, repo.UpsertRows(ctx, cacheRows("u", items, []float64{1, 2, 3}, expires)))
	require.NoError(t, repo.UpsertRows(ctx, cacheRows("u", items[:2], []float64{10, 20}, expires.Add(time.Hour))))

	rows, err := repo.ListRows(ctx, "u")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, 10.0, rows[0].Score)
	require.Equal(t, 20.0, rows[1].Score)
	require.Equal(t, 3.0, rows[2].Score)
	require.True(t, rows[0].ExpiresAt.Equal(expires.Add(time.Hour)))
}

func TestCountDeleteAndPurge(t *testing.T) {
	db, repo := newTestRepo(t)
	ctx := context.Background()
	items := insertItems(t, db, 5)

	require.NoError(t, repo.UpsertRows(ctx, cacheRows("u", items[:3], []float64{1, 2, 3}, baseTime.Add(time.Hour))))
	require.NoError(t, repo.UpsertRows(ctx, cacheRows("u", items[3:], []float64{4, 5}, baseTime)))
	require.NoError(t, repo.UpsertRows(ctx, cacheRows("v", items[:1], []float64{1}, baseTime.Add(time.Hour))))

	count, err := repo.CountValid(ctx, "u", baseTime)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	purged, err := repo.PurgeExpired(ctx, baseTime)
	require.NoError(t, err)
	require.Equal(t, int64(2), purged)

	deleted, err := repo.DeleteForUser(ctx, "u")
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	deleted, err = repo.DeleteForUser(ctx, "u")
	require.NoError(t, err)
	require.Zero(t, deleted)

	count, err = repo.CountValid(ctx, "v", baseTime)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestStorageErrorWraps(t *testing.T) {
	db, repo := newTestRepo(t)
	require.NoError(t, db.Close())

	_, err := repo.CountValid(context.Background(), "u", baseTime)
	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	require.Equal(t, "count valid rows", storageErr.Op)
}
