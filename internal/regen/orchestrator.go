package regen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/feedcache/internal/metrics"
	"reddot-watch/feedcache/internal/models"
	"reddot-watch/feedcache/internal/scorer"
	"reddot-watch/feedcache/internal/storage"
)

const (
	DefaultGroupSize         = 5
	DefaultBatchDelay        = 2 * time.Second
	DefaultInvocationTimeout = 60 * time.Second
	DefaultCacheTTL          = 6 * time.Hour
	DefaultScorerLimit       = 100
)

// Options tunes an Orchestrator. Zero values take the defaults above.
type Options struct {
	GroupSize         int
	BatchDelay        time.Duration
	InvocationTimeout time.Duration
	CacheTTL          time.Duration
	ScorerLimit       int

	// Now and Sleep replace the wall clock; tests use them to skip the inter-batch delay.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	// OnState observes every state transition of every run.
	OnState func(State)
}

// Orchestrator runs regeneration jobs: it selects users, splits them into groups,
// invokes the scorer concurrently within a group and sequentially across groups,
// writes successful results to the cache store, and reports per-user failures.
type Orchestrator struct {
	store    storage.CacheStore
	users    storage.UserDirectory
	detector *Detector
	scorer   scorer.Scorer
	opts     Options
}

// NewOrchestrator wires an orchestrator over explicit store handles.
func NewOrchestrator(store storage.CacheStore, users storage.UserDirectory, sc scorer.Scorer, opts Options) *Orchestrator {
	if opts.GroupSize <= 0 {
		opts.GroupSize = DefaultGroupSize
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if opts.InvocationTimeout <= 0 {
		opts.InvocationTimeout = DefaultInvocationTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.ScorerLimit <= 0 {
		opts.ScorerLimit = DefaultScorerLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	return &Orchestrator{
		store:    store,
		users:    users,
		detector: NewDetector(users, opts.Now),
		scorer:   sc,
		opts:     opts,
	}
}

// Detector exposes the staleness detector the orchestrator selects with.
func (o *Orchestrator) Detector() *Detector {
	return o.detector
}

type outcome struct {
	userID    string
	attempted bool
	rows      int
	err       error
}

// Regenerate runs job to completion and always returns a Result, even when every
// invocation fails. Failures are reported in Result.Errors.
func (o *Orchestrator) Regenerate(ctx context.Context, job Job) Result {
	start := time.Now()
	label := "unknown"
	if job.Trigger != nil {
		label = job.Trigger.Label()
	}
	result := Result{Trigger: label, Errors: []string{}}
	logger := log.With().Str("trigger", label).Logger()

	metrics.RegenerationRuns.WithLabelValues(label).Inc()
	defer func() {
		metrics.RegenerationDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	o.setState(StateSelecting)
	users, err := o.selectUsers(ctx, job.Trigger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to select users for regeneration")
		result.Errors = append(result.Errors, fmt.Sprintf("selection: %v", err))
		o.setState(StateDone)
		return result
	}
	result.TotalUsers = len(users)
	logger.Info().Int("users", len(users)).Msg("Selected users for regeneration")

	o.setState(StateBatching)
	groups := partition(users, o.opts.GroupSize)

	outcomes := make([]outcome, 0, len(users))
	for i, group := range groups {
		if i > 0 && o.opts.BatchDelay > 0 {
			if err := o.opts.Sleep(ctx, o.opts.BatchDelay); err != nil {
				outcomes = append(outcomes, skipped(groups[i:], err)...)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, skipped(groups[i:], err)...)
			break
		}

		o.setState(StateInvoking)
		logger.Debug().
			Int("group", i+1).
			Int("groups", len(groups)).
			Strs("users", group).
			Msg("Invoking scorer for group")
		outcomes = append(outcomes, o.invokeGroup(ctx, job.Trigger, group)...)
	}

	o.setState(StateAggregating)
	var rowsWritten int
	for _, out := range outcomes {
		if out.attempted {
			result.Processed++
		}
		switch {
		case !out.attempted:
			result.Skipped++
			metrics.RegenerationUsers.WithLabelValues(label, "skipped").Inc()
		case out.err != nil:
			metrics.RegenerationUsers.WithLabelValues(label, "failure").Inc()
		default:
			metrics.RegenerationUsers.WithLabelValues(label, "success").Inc()
		}
		if out.err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", out.userID, out.err))
		}
		rowsWritten += out.rows
	}

	o.setState(StateDone)
	logger.Info().
		Int("total_users", result.TotalUsers).
		Int("processed", result.Processed).
		Int("errors", len(result.Errors)).
		Int("rows_written", rowsWritten).
		Dur("duration", time.Since(start)).
		Msg("Regeneration finished")
	return result
}

func (o *Orchestrator) selectUsers(ctx context.Context, trigger Trigger) ([]string, error) {
	switch t := trigger.(type) {
	case Manual:
		if t.UserID == "" {
			return nil, errors.New("manual job requires a user id")
		}
		return []string{t.UserID}, nil
	case SmartTargeted:
		return o.detector.FindUsersNeedingRegeneration(ctx, t.MinValidRows, t.BatchLimit)
	case Scheduled, Forced:
		return o.users.ListActiveUsers(ctx)
	case nil:
		return nil, errors.New("job has no trigger")
	default:
		return nil, fmt.Errorf("unsupported trigger %T", trigger)
	}
}

// invokeGroup runs one invocation per user concurrently and waits for all of them.
// One user's failure never cancels the others.
func (o *Orchestrator) invokeGroup(ctx context.Context, trigger Trigger, group []string) []outcome {
	results := make([]outcome, len(group))
	var wg sync.WaitGroup
	for i, userID := range group {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = outcome{userID: userID, attempted: true, err: fmt.Errorf("panic: %v", r)}
				}
			}()
			rows, err := o.regenerateUser(ctx, trigger, userID)
			results[i] = outcome{userID: userID, attempted: true, rows: rows, err: err}
		}(i, userID)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) regenerateUser(ctx context.Context, trigger Trigger, userID string) (int, error) {
	logger := log.With().Str("trigger", trigger.Label()).Str("user_id", userID).Logger()

	req := scorer.Request{
		UserID:  userID,
		Trigger: trigger.Label(),
		Limit:   o.opts.ScorerLimit,
	}
	switch trigger.(type) {
	case Manual:
		deleted, err := o.store.DeleteForUser(ctx, userID)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to clear cache before manual refresh")
			return 0, fmt.Errorf("clear cache: %w", err)
		}
		logger.Debug().Int64("deleted", deleted).Msg("Cleared cache before manual refresh")
	case SmartTargeted:
		req.SmartCache = scorer.Bool(true)
	case Forced:
		req.ForceRegeneration = scorer.Bool(true)
	}

	resp, err := o.score(ctx, req)
	if err != nil {
		invErr := scorer.Classify(err)
		logger.Warn().Err(invErr).Str("kind", string(invErr.Kind)).Msg("Scorer invocation failed")
		return 0, invErr
	}
	if resp == nil {
		return 0, &scorer.InvocationError{Kind: scorer.KindScorer, Err: errors.New("empty response")}
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "scorer reported failure"
		}
		logger.Warn().Str("error", msg).Msg("Scorer reported failure")
		return 0, &scorer.InvocationError{Kind: scorer.KindScorer, Err: errors.New(msg)}
	}

	if len(resp.Items) == 0 {
		if resp.CacheItems != nil {
			logger.Debug().Int("cache_items", *resp.CacheItems).Msg("Scorer wrote cache rows itself")
		}
		return 0, nil
	}

	expiresAt := o.opts.Now().Add(o.opts.CacheTTL)
	rows := make([]models.CacheRow, 0, len(resp.Items))
	for _, item := range resp.Items {
		rows = append(rows, models.CacheRow{
			UserID:    userID,
			ItemID:    item.ItemID,
			Score:     item.Score,
			Reason:    item.Reason,
			ExpiresAt: expiresAt,
		})
	}
	if err := o.store.UpsertRows(ctx, rows); err != nil {
		logger.Warn().Err(err).Msg("Failed to write scored rows")
		return 0, fmt.Errorf("write cache: %w", err)
	}
	metrics.CacheRowsWritten.Add(float64(len(rows)))
	logger.Debug().Int("rows", len(rows)).Msg("Wrote scored rows")
	return len(rows), nil
}

// score bounds one scorer call by the invocation timeout. The deferred cancel also
// runs when the scorer panics.
func (o *Orchestrator) score(ctx context.Context, req scorer.Request) (*scorer.Response, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, o.opts.InvocationTimeout)
	defer cancel()
	return o.scorer.Score(invokeCtx, req)
}

func (o *Orchestrator) setState(s State) {
	log.Trace().Str("state", string(s)).Msg("Regeneration state")
	if o.opts.OnState != nil {
		o.opts.OnState(s)
	}
}

// partition splits users into consecutive groups of at most size.
func partition(users []string, size int) [][]string {
	var groups [][]string
	for start := 0; start < len(users); start += size {
		end := start + size
		if end > len(users) {
			end = len(users)
		}
		groups = append(groups, users[start:end])
	}
	return groups
}

func skipped(groups [][]string, cause error) []outcome {
	var out []outcome
	for _, group := range groups {
		for _, userID := range group {
			out = append(out, outcome{userID: userID, err: fmt.Errorf("regeneration canceled: %w", cause)})
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
