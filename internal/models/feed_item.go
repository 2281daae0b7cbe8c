package models

import "time"

// Media kinds stored in feed_items.media_kind.
const (
	MediaKindArticle = "article"
	MediaKindVideo   = "video"
)

// FeedItem is a catalog entry. Rows are written by the ingestion pipeline and are
// read-only here.
type FeedItem struct {
	ID          int64     `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	URL         string    `db:"url" json:"url"`
	Source      string    `db:"source" json:"source"`
	Language    string    `db:"language" json:"language,omitempty"`
	TopicL1     string    `db:"topic_l1" json:"topic_l1,omitempty"`
	TopicL2     string    `db:"topic_l2" json:"topic_l2,omitempty"`
	TopicL3     string    `db:"topic_l3" json:"topic_l3,omitempty"`
	MediaKind   string    `db:"media_kind" json:"media_kind"`
	Video       *Video    `db:"-" json:"video,omitempty"`
	PublishedAt time.Time `db:"-" json:"published_at"`
}

// Video holds the optional attributes of video items.
type Video struct {
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
}

// RankedItem is a FeedItem as it appears in one user's ranked feed.
type RankedItem struct {
	FeedItem
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}
