package regen

import (
	"context"
	"time"

	"reddot-watch/feedcache/internal/storage"
)

const (
	DefaultMinValidRows = 5
	DefaultBatchLimit   = 50
)

// Detector finds users whose cache is empty or too thin to serve. It never writes.
type Detector struct {
	users storage.UserDirectory
	now   func() time.Time
}

// NewDetector creates a detector. A nil now uses time.Now.
func NewDetector(users storage.UserDirectory, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{users: users, now: now}
}

// FindUsersNeedingRegeneration returns up to batchLimit users, ordered by id, that have
// an active preference set and fewer than minValidRows unexpired rows. Non-positive
// arguments fall back to the defaults.
func (d *Detector) FindUsersNeedingRegeneration(ctx context.Context, minValidRows, batchLimit int) ([]string, error) {
	if minValidRows <= 0 {
		minValidRows = DefaultMinValidRows
	}
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return d.users.FindUsersNeedingRegeneration(ctx, minValidRows, batchLimit, d.now())
}
