package process

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/feedcache/internal/admin"
	"reddot-watch/feedcache/internal/config"
	"reddot-watch/feedcache/internal/metrics"
)

const purgeTimeout = 5 * time.Minute

// Sweeps is the part of the admin surface the sweep loop drives.
type Sweeps interface {
	RefreshStale(ctx context.Context, minValidRows, batchLimit int) admin.Report
	RefreshAll(ctx context.Context, force bool) admin.Report
}

// Purger physically removes expired cache rows.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// SweepConfig configures a Sweeper.
type SweepConfig struct {
	Mode         string
	MinValidRows int
	BatchLimit   int
	Purge        bool
	Now          func() time.Time
}

// Sweeper runs scheduled regeneration sweeps followed by an expired-row purge.
type Sweeper struct {
	sweeps Sweeps
	purger Purger
	cfg    SweepConfig

	cycles     atomic.Int64
	usersSwept atomic.Int64
	failures   atomic.Int64
	purged     atomic.Int64
}

// NewSweeper validates cfg and creates a sweeper.
func NewSweeper(sweeps Sweeps, purger Purger, cfg SweepConfig) (*Sweeper, error) {
	if sweeps == nil {
		return nil, errors.New("sweep commands cannot be nil")
	}
	if cfg.Purge && purger == nil {
		return nil, errors.New("purge enabled without a cache store")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = config.SweepModeStale
	case config.SweepModeStale, config.SweepModeAll:
	default:
		return nil, fmt.Errorf("unknown sweep mode %q", cfg.Mode)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{sweeps: sweeps, purger: purger, cfg: cfg}, nil
}

// Run executes one cycle, then one per interval until ctx is canceled. A zero
// interval runs a single cycle.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		log.Info().Str("mode", s.cfg.Mode).Msg("Running in one-shot mode")
	} else {
		log.Info().Str("mode", s.cfg.Mode).Dur("interval", interval).Msg("Running in periodic mode")
	}

	if err := s.RunCycle(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Sweep cycle canceled by shutdown signal")
			return nil
		}
		return err
	}

	if interval <= 0 {
		log.Info().Msg("One-shot sweep completed, exiting")
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", interval).
		Time("next_run", time.Now().Add(interval)).
		Msg("Waiting for next sweep cycle")

	for {
		select {
		case <-ticker.C:
			log.Info().Msg("Starting scheduled sweep cycle")

			if err := s.RunCycle(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					log.Info().Msg("Sweep cycle canceled by shutdown signal")
					return nil
				}
				log.Error().Err(err).Msg("Sweep cycle failed")
				// Continue to the next cycle rather than exiting
			}

			log.Info().
				Time("next_run", time.Now().Add(interval)).
				Msg("Waiting for next sweep cycle")

		case <-ctx.Done():
			log.Info().Msg("Shutting down periodic sweeps")
			return nil
		}
	}
}

// RunCycle runs a single sweep and, when enabled, purges expired rows. Partial
// regeneration failures are logged, not returned. The sweep has no deadline of its
// own: each scorer call is bounded by the invocation timeout and ctx stops the rest.
func (s *Sweeper) RunCycle(ctx context.Context) error {
	startTime := time.Now()
	var report admin.Report
	if s.cfg.Mode == config.SweepModeAll {
		report = s.sweeps.RefreshAll(ctx, false)
	} else {
		report = s.sweeps.RefreshStale(ctx, s.cfg.MinValidRows, s.cfg.BatchLimit)
	}

	s.cycles.Add(1)
	s.usersSwept.Add(int64(report.Processed))
	s.failures.Add(int64(report.ErrorCount))

	log.Info().
		Str("trigger", report.Trigger).
		Int("total_users", report.TotalUsers).
		Int("succeeded", report.Succeeded).
		Int("error_count", report.ErrorCount).
		Dur("duration", time.Since(startTime)).
		Msg("Sweep cycle finished")

	if err := ctx.Err(); err != nil {
		return err
	}

	if !s.cfg.Purge {
		return nil
	}

	// Run purging as part of the sweep cycle
	purgeCtx, purgeCancel := context.WithTimeout(ctx, purgeTimeout)
	defer purgeCancel()

	purgedCount, err := s.PurgeExpired(purgeCtx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to purge expired cache rows")
	} else if purgedCount > 0 {
		log.Info().Int64("purged_count", purgedCount).Msg("Successfully purged expired cache rows")
	} else {
		log.Info().Msg("No expired cache rows needed purging")
	}
	return nil
}

// PurgeExpired removes rows that expired at or before now.
func (s *Sweeper) PurgeExpired(ctx context.Context) (int64, error) {
	purged, err := s.purger.PurgeExpired(ctx, s.cfg.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired rows: %w", err)
	}
	s.purged.Add(purged)
	metrics.CacheRowsPurged.Add(float64(purged))
	return purged, nil
}

// Stats returns totals since the sweeper was created.
func (s *Sweeper) Stats() (cycles, usersSwept, failures, purged int64) {
	return s.cycles.Load(), s.usersSwept.Load(), s.failures.Load(), s.purged.Load()
}
