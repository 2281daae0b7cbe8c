package models

import "time"

// CacheRow is one precomputed ranking result for a (user, item) pair.
type CacheRow struct {
	UserID    string    `json:"user_id"`
	ItemID    int64     `json:"item_id"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the row may still be served at now.
func (r CacheRow) Valid(now time.Time) bool {
	return r.ExpiresAt.After(now)
}
