package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"reddot-watch/feedcache/internal/database/migrations"
	"reddot-watch/feedcache/internal/models"
)

// DB wraps the sqlx handle shared by the cache store and the fixture importers.
type DB struct {
	*sqlx.DB
}

// NewDB opens the SQLite file described by cfg. Read-write handles apply pending
// migrations before returning; read-only handles only ping.
func NewDB(cfg *Config) (*DB, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." && !cfg.ReadOnly {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for database: %w", err)
		}
	}

	mode := modeStr(cfg.ReadOnly)
	logger := log.With().Str("path", cfg.DBPath).Str("mode", mode).Logger()

	db, err := sqlx.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(positiveOr(cfg.MaxOpenConns, defaultMaxOpenConns))
	db.SetMaxIdleConns(positiveOr(cfg.MaxIdleConns, defaultMaxIdleConns))
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db (%s): %w", mode, err)
	}

	if !cfg.ReadOnly {
		set, err := migrations.Embedded()
		if err == nil {
			err = migrations.Up(ctx, db, set)
		}
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	logger.Info().Msg("Database ready")
	return &DB{db}, nil
}

// dsn builds a go-sqlite3 connection string. WAL keeps feed reads from blocking
// on regeneration writes. Every pragma is applied per connection.
func dsn(cfg *Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	cacheKiB := positiveOr(cfg.PageCacheKiB, defaultPageCacheKiB)

	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	params.Set("_cache_size", strconv.Itoa(-cacheKiB))
	params.Set("_foreign_keys", "true")
	if cfg.ReadOnly {
		params.Set("mode", "ro")
		params.Set("_query_only", "true")
	}
	return "file:" + cfg.DBPath + "?" + params.Encode()
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func modeStr(readOnly bool) string {
	if readOnly {
		return "read-only"
	}
	return "read-write"
}

// InsertFeedItem adds a catalog item and sets item.ID to the new row id.
// Catalog rows belong to the ingestion pipeline; this exists for fixtures and tooling.
func (db *DB) InsertFeedItem(ctx context.Context, item *models.FeedItem) error {
	var duration sql.NullInt64
	var thumbnail sql.NullString
	if item.Video != nil {
		duration = sql.NullInt64{Int64: item.Video.DurationSeconds, Valid: true}
		thumbnail = sql.NullString{String: item.Video.ThumbnailURL, Valid: item.Video.ThumbnailURL != ""}
	}
	mediaKind := item.MediaKind
	if mediaKind == "" {
		mediaKind = models.MediaKindArticle
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO feed_items (title, url, source, language, topic_l1, topic_l2, topic_l3,
			media_kind, video_duration_seconds, video_thumbnail_url, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.Title, item.URL, item.Source, item.Language,
		item.TopicL1, item.TopicL2, item.TopicL3,
		mediaKind, duration, thumbnail,
		item.PublishedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert feed item %s: %w", item.URL, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read feed item id: %w", err)
	}
	item.ID = id
	item.MediaKind = mediaKind
	return nil
}

// InsertUser adds a user record together with preference sets; activePreferences of
// them are marked active. Like InsertFeedItem, this is fixture tooling.
func (db *DB) InsertUser(ctx context.Context, user models.User, preferences, activePreferences int) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	status := user.Status
	if status == "" {
		status = models.UserStatusActive
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, status, onboarding_completed) VALUES (?, ?, ?)`,
		user.ID, status, user.OnboardingCompleted,
	); err != nil {
		return fmt.Errorf("failed to insert user %s: %w", user.ID, err)
	}

	for i := 0; i < preferences; i++ {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_preferences (user_id, name, active) VALUES (?, ?, ?)`,
			user.ID, fmt.Sprintf("preference-%d", i+1), i < activePreferences,
		); err != nil {
			return fmt.Errorf("failed to insert preference for user %s: %w", user.ID, err)
		}
	}

	return tx.Commit()
}
