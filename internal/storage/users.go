package storage

import (
	"context"
	"time"

	"reddot-watch/feedcache/internal/models"
)

// FindUsersNeedingRegeneration lists users with at least one active preference set and
// fewer than minValidRows unexpired cache rows, ordered by id, at most batchLimit.
// Only rows that join the catalog count, matching what FetchPage can serve.
func (r *Repository) FindUsersNeedingRegeneration(ctx context.Context, minValidRows, batchLimit int, now time.Time) ([]string, error) {
	users := []string{}
	err := r.db.SelectContext(ctx, &users, `
		SELECT u.id
		FROM users u
		WHERE EXISTS (
				SELECT 1 FROM user_preferences p
				WHERE p.user_id = u.id AND p.active = 1
			)
			AND (
				SELECT COUNT(*) FROM feed_cache c
				JOIN feed_items i ON i.id = c.item_id
				WHERE c.user_id = u.id AND c.expires_at > ?
			) < ?
		ORDER BY u.id
		LIMIT ?`,
		now.UTC().UnixNano(), minValidRows, batchLimit)
	if err != nil {
		return nil, storageErr("find stale users", err)
	}
	return users, nil
}

// ListActiveUsers lists every active user that finished onboarding, ordered by id.
func (r *Repository) ListActiveUsers(ctx context.Context) ([]string, error) {
	users := []string{}
	err := r.db.SelectContext(ctx, &users, `
		SELECT id FROM users
		WHERE onboarding_completed = 1 AND status = ?
		ORDER BY id`, models.UserStatusActive)
	if err != nil {
		return nil, storageErr("list active users", err)
	}
	return users, nil
}
