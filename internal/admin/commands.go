// Package admin maps operator actions to regeneration jobs and summarizes their results.
package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"reddot-watch/feedcache/internal/feed"
	"reddot-watch/feedcache/internal/regen"
)

const (
	// MaxReportedErrors bounds the error list shown to an operator.
	MaxReportedErrors = 10
	// MaxStaleBatch caps a single stale sweep; operators re-invoke to sweep further.
	MaxStaleBatch = 50
)

var ErrMissingUser = errors.New("user id is required")

// Regenerator runs regeneration jobs. *regen.Orchestrator implements it.
type Regenerator interface {
	Regenerate(ctx context.Context, job regen.Job) regen.Result
}

// Report is what an operator sees after a trigger completes.
type Report struct {
	Trigger    string   `json:"trigger"`
	TotalUsers int      `json:"total_users"`
	Processed  int      `json:"processed"`
	Succeeded  int      `json:"succeeded"`
	ErrorCount int      `json:"error_count"`
	Errors     []string `json:"errors"`
	Truncated  bool     `json:"truncated,omitempty"`
}

// NewReport summarizes a result, keeping the first MaxReportedErrors errors.
func NewReport(result regen.Result) Report {
	report := Report{
		Trigger:    result.Trigger,
		TotalUsers: result.TotalUsers,
		Processed:  result.Processed,
		Succeeded:  result.Succeeded(),
		ErrorCount: len(result.Errors),
		Errors:     result.Errors,
	}
	if report.Errors == nil {
		report.Errors = []string{}
	}
	if len(report.Errors) > MaxReportedErrors {
		report.Errors = report.Errors[:MaxReportedErrors]
		report.Truncated = true
	}
	return report
}

// PartialFailure reports whether any user failed.
func (r Report) PartialFailure() bool {
	return r.ErrorCount > 0
}

func (r Report) String() string {
	return fmt.Sprintf("%s: %d users, %d processed, %d succeeded, %d errors",
		r.Trigger, r.TotalUsers, r.Processed, r.Succeeded, r.ErrorCount)
}

// Commands is the operator trigger surface. Every command runs synchronously and never retries.
type Commands struct {
	regen Regenerator
}

func NewCommands(r Regenerator) *Commands {
	return &Commands{regen: r}
}

// RefreshUser clears and regenerates one user's cache.
func (c *Commands) RefreshUser(ctx context.Context, userID string) (Report, error) {
	if userID == "" {
		return Report{}, ErrMissingUser
	}
	return c.run(ctx, regen.Job{Trigger: regen.Manual{UserID: userID}}), nil
}

// RefreshSession refreshes the session's user and reloads the session from the first
// page so it observes the new rows.
func (c *Commands) RefreshSession(ctx context.Context, s *feed.Session) (Report, error) {
	report, err := c.RefreshUser(ctx, s.UserID())
	if err != nil {
		return report, err
	}
	if _, err := s.Reload(ctx); err != nil {
		return report, fmt.Errorf("reload feed: %w", err)
	}
	return report, nil
}

// RefreshStale regenerates users whose caches are empty or thin. Non-positive
// arguments take the defaults; batchLimit is capped at MaxStaleBatch.
func (c *Commands) RefreshStale(ctx context.Context, minValidRows, batchLimit int) Report {
	if minValidRows <= 0 {
		minValidRows = regen.DefaultMinValidRows
	}
	if batchLimit <= 0 || batchLimit > MaxStaleBatch {
		batchLimit = MaxStaleBatch
	}
	return c.run(ctx, regen.Job{Trigger: regen.SmartTargeted{MinValidRows: minValidRows, BatchLimit: batchLimit}})
}

// RefreshAll regenerates every active user. With force the scorer ignores cache validity.
func (c *Commands) RefreshAll(ctx context.Context, force bool) Report {
	var trigger regen.Trigger = regen.Scheduled{}
	if force {
		trigger = regen.Forced{}
	}
	return c.run(ctx, regen.Job{Trigger: trigger})
}

func (c *Commands) run(ctx context.Context, job regen.Job) Report {
	report := NewReport(c.regen.Regenerate(ctx, job))
	event := log.Info()
	if report.PartialFailure() {
		event = log.Warn().Strs("errors", report.Errors)
	}
	event.
		Str("trigger", report.Trigger).
		Int("total_users", report.TotalUsers).
		Int("processed", report.Processed).
		Int("error_count", report.ErrorCount).
		Msg("Admin command completed")
	return report
}
