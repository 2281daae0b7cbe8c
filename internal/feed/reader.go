// Package feed serves a user's precomputed ranking page by page and accumulates
// pages into a client session.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/feedcache/internal/metrics"
	"reddot-watch/feedcache/internal/models"
	"reddot-watch/feedcache/internal/pagination"
	"reddot-watch/feedcache/internal/storage"
)

const (
	DefaultLimit = 30
	MaxLimit     = 100
)

var (
	ErrInvalidLimit = fmt.Errorf("limit must be between 1 and %d", MaxLimit)
	ErrMissingUser  = errors.New("user id is required")
)

// Filters optionally narrow a feed. Empty fields match everything.
type Filters struct {
	Language string
	TopicL1  string
	TopicL2  string
}

// Request asks for one page. An empty Cursor starts from the top; a zero Limit uses DefaultLimit.
type Request struct {
	UserID  string
	Cursor  string
	Filters Filters
	Limit   int
}

// Page is one slice of a ranked feed. NextCursor is nil at the end of the feed.
type Page struct {
	Items      []models.RankedItem `json:"items"`
	NextCursor *string             `json:"next_cursor,omitempty"`
}

// Pager fetches pages of a ranked feed, locally or over the network.
type Pager interface {
	FetchPage(ctx context.Context, req Request) (*Page, error)
}

var _ Pager = (*Reader)(nil)

// Reader is the keyset pagination engine over the cache store. It only reads.
type Reader struct {
	store storage.CacheStore
	now   func() time.Time
}

// NewReader creates a reader. A nil now uses time.Now.
func NewReader(store storage.CacheStore, now func() time.Time) *Reader {
	if now == nil {
		now = time.Now
	}
	return &Reader{store: store, now: now}
}

// FetchPage returns up to req.Limit valid rows strictly after req.Cursor.
// A cursor that does not decode restarts from the first page.
func (r *Reader) FetchPage(ctx context.Context, req Request) (*Page, error) {
	if req.UserID == "" {
		return nil, ErrMissingUser
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 0 || limit > MaxLimit {
		return nil, ErrInvalidLimit
	}

	q := storage.PageQuery{
		UserID:   req.UserID,
		Limit:    limit + 1, // one extra row tells us whether another page exists
		Now:      r.now(),
		Language: req.Filters.Language,
		TopicL1:  req.Filters.TopicL1,
		TopicL2:  req.Filters.TopicL2,
	}
	if req.Cursor != "" {
		cursor, err := pagination.DecodeCursor(req.Cursor)
		if err != nil {
			metrics.MalformedCursors.Inc()
			log.Warn().Err(err).Str("user_id", req.UserID).Msg("Ignoring malformed cursor, restarting from first page")
		} else {
			q.After = &cursor
		}
	}

	items, err := r.store.FetchPage(ctx, q)
	if err != nil {
		metrics.FeedPageRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	page := &Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		next := pagination.EncodeCursor(last.Score, last.PublishedAt, last.ID)
		page.NextCursor = &next
		metrics.FeedPageRequests.WithLabelValues("ok").Inc()
	} else {
		metrics.FeedPageRequests.WithLabelValues("end").Inc()
	}
	return page, nil
}
