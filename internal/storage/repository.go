package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"reddot-watch/feedcache/internal/database"
	"reddot-watch/feedcache/internal/models"
	"reddot-watch/feedcache/internal/pagination"
)

// StorageError wraps any failure talking to the cache store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// PageQuery selects one page of a user's valid cache rows.
type PageQuery struct {
	UserID string
	Limit  int
	// After is exclusive; nil starts from the top of the ranking.
	After *pagination.Cursor
	Now   time.Time

	Language string
	TopicL1  string
	TopicL2  string
}

// CacheStore is the read/write surface over per-user ranking rows.
type CacheStore interface {
	FetchPage(ctx context.Context, q PageQuery) ([]models.RankedItem, error)
	CountValid(ctx context.Context, userID string, now time.Time) (int, error)
	UpsertRows(ctx context.Context, rows []models.CacheRow) error
	DeleteForUser(ctx context.Context, userID string) (int64, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// UserDirectory answers which users a regeneration sweep should target.
type UserDirectory interface {
	FindUsersNeedingRegeneration(ctx context.Context, minValidRows, batchLimit int, now time.Time) ([]string, error)
	ListActiveUsers(ctx context.Context) ([]string, error)
}

var (
	_ CacheStore    = (*Repository)(nil)
	_ UserDirectory = (*Repository)(nil)
)

// Repository implements CacheStore and UserDirectory using sqlx.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new repository instance.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

type rankedRow struct {
	ID            int64          `db:"id"`
	Title         string         `db:"title"`
	URL           string         `db:"url"`
	Source        string         `db:"source"`
	Language      string         `db:"language"`
	TopicL1       string         `db:"topic_l1"`
	TopicL2       string         `db:"topic_l2"`
	TopicL3       string         `db:"topic_l3"`
	MediaKind     string         `db:"media_kind"`
	VideoDuration sql.NullInt64  `db:"video_duration_seconds"`
	VideoThumb    sql.NullString `db:"video_thumbnail_url"`
	PublishedAt   int64          `db:"published_at"`
	Score         float64        `db:"score"`
	Reason        sql.NullString `db:"reason"`
}

func (r rankedRow) toModel() models.RankedItem {
	item := models.RankedItem{
		FeedItem: models.FeedItem{
			ID:          r.ID,
			Title:       r.Title,
			URL:         r.URL,
			Source:      r.Source,
			Language:    r.Language,
			TopicL1:     r.TopicL1,
			TopicL2:     r.TopicL2,
			TopicL3:     r.TopicL3,
			MediaKind:   r.MediaKind,
			PublishedAt: time.Unix(0, r.PublishedAt).UTC(),
		},
		Score:  r.Score,
		Reason: r.Reason.String,
	}
	if r.VideoDuration.Valid || r.VideoThumb.Valid {
		item.Video = &models.Video{
			DurationSeconds: r.VideoDuration.Int64,
			ThumbnailURL:    r.VideoThumb.String,
		}
	}
	return item
}

// FetchPage returns up to q.Limit valid rows strictly after q.After, ordered by
// score desc, published_at desc, id desc.
func (r *Repository) FetchPage(ctx context.Context, q PageQuery) ([]models.RankedItem, error) {
	if q.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", q.Limit)
	}

	var query strings.Builder
	query.WriteString(`
		SELECT i.id, i.title, i.url, i.source, i.language, i.topic_l1, i.topic_l2, i.topic_l3,
			i.media_kind, i.video_duration_seconds, i.video_thumbnail_url, i.published_at,
			c.score, c.reason
		FROM feed_cache c
		JOIN feed_items i ON i.id = c.item_id
		WHERE c.user_id = ? AND c.expires_at > ?`)
	args := []any{q.UserID, q.Now.UTC().UnixNano()}

	if q.Language != "" {
		query.WriteString(` AND i.language = ?`)
		args = append(args, q.Language)
	}
	if q.TopicL1 != "" {
		query.WriteString(` AND i.topic_l1 = ?`)
		args = append(args, q.TopicL1)
	}
	if q.TopicL2 != "" {
		query.WriteString(` AND i.topic_l2 = ?`)
		args = append(args, q.TopicL2)
	}

	if q.After != nil {
		// Strictly after the cursor in descending order.
		published := q.After.PublishedAt.UTC().UnixNano()
		query.WriteString(` AND (c.score < ?
			OR (c.score = ? AND i.published_at < ?)
			OR (c.score = ? AND i.published_at = ? AND i.id < ?))`)
		args = append(args,
			q.After.Score,
			q.After.Score, published,
			q.After.Score, published, q.After.ID)
	}

	query.WriteString(` ORDER BY c.score DESC, i.published_at DESC, i.id DESC LIMIT ?`)
	args = append(args, q.Limit)

	var rows []rankedRow
	if err := r.db.SelectContext(ctx, &rows, query.String(), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.RankedItem{}, nil
		}
		return nil, storageErr("fetch page", err)
	}

	items := make([]models.RankedItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toModel())
	}
	return items, nil
}

// CountValid counts the user's rows that have not expired at now. Rows whose item
// is missing from the catalog are not counted since FetchPage can never return them.
func (r *Repository) CountValid(ctx context.Context, userID string, now time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM feed_cache c
		JOIN feed_items i ON i.id = c.item_id
		WHERE c.user_id = ? AND c.expires_at > ?`,
		userID, now.UTC().UnixNano())
	if err != nil {
		return 0, storageErr("count valid rows", err)
	}
	return count, nil
}

// UpsertRows writes rows in a single transaction. An existing (user, item) row is
// overwritten, so at most one row per pair ever exists.
func (r *Repository) UpsertRows(ctx context.Context, rows []models.CacheRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("begin upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO feed_cache (user_id, item_id, score, reason, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, item_id) DO UPDATE SET
			score = excluded.score,
			reason = excluded.reason,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`)
	if err != nil {
		return storageErr("prepare upsert", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixNano()
	for _, row := range rows {
		reason := sql.NullString{String: row.Reason, Valid: row.Reason != ""}
		if _, err := stmt.ExecContext(ctx,
			row.UserID, row.ItemID, row.Score, reason, row.ExpiresAt.UTC().UnixNano(), now,
		); err != nil {
			return storageErr("upsert row", fmt.Errorf("user %s item %d: %w", row.UserID, row.ItemID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit upsert", err)
	}
	return nil
}

// ListRows returns every row stored for the user, expired or not, ordered by item id.
func (r *Repository) ListRows(ctx context.Context, userID string) ([]models.CacheRow, error) {
	var raw []struct {
		UserID    string         `db:"user_id"`
		ItemID    int64          `db:"item_id"`
		Score     float64        `db:"score"`
		Reason    sql.NullString `db:"reason"`
		ExpiresAt int64          `db:"expires_at"`
	}
	err := r.db.SelectContext(ctx, &raw, `
		SELECT user_id, item_id, score, reason, expires_at
		FROM feed_cache WHERE user_id = ? ORDER BY item_id`, userID)
	if err != nil {
		return nil, storageErr("list rows", err)
	}

	rows := make([]models.CacheRow, 0, len(raw))
	for _, row := range raw {
		rows = append(rows, models.CacheRow{
			UserID:    row.UserID,
			ItemID:    row.ItemID,
			Score:     row.Score,
			Reason:    row.Reason.String,
			ExpiresAt: time.Unix(0, row.ExpiresAt).UTC(),
		})
	}
	return rows, nil
}

// DeleteForUser hard-deletes every row of the user. Deleting an empty set is a no-op.
func (r *Repository) DeleteForUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM feed_cache WHERE user_id = ?`, userID)
	if err != nil {
		return 0, storageErr("delete user rows", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("delete user rows", err)
	}
	return deleted, nil
}

// PurgeExpired physically removes rows that expired at or before now.
func (r *Repository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM feed_cache WHERE expires_at <= ?`, now.UTC().UnixNano())
	if err != nil {
		return 0, storageErr("purge expired rows", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("purge expired rows", err)
	}
	return purged, nil
}
