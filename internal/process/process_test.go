package process

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reddot-watch/feedcache/internal/admin"
	"reddot-watch/feedcache/internal/config"
)

type fakeSweeps struct {
	stale     []int
	all       int
	deadlines []bool
}

func (f *fakeSweeps) RefreshStale(ctx context.Context, minValidRows, batchLimit int) admin.Report {
	_, ok := ctx.Deadline()
	f.deadlines = append(f.deadlines, ok)
	f.stale = append(f.stale, minValidRows, batchLimit)
	return admin.Report{Trigger: "smart-targeted", TotalUsers: 3, Processed: 3, Succeeded: 2, ErrorCount: 1, Errors: []string{"u3: timeout: context deadline exceeded"}}
}

func (f *fakeSweeps) RefreshAll(ctx context.Context, force bool) admin.Report {
	_, ok := ctx.Deadline()
	f.deadlines = append(f.deadlines, ok)
	f.all++
	return admin.Report{Trigger: "scheduled", TotalUsers: 4, Processed: 4, Succeeded: 4, Errors: []string{}}
}

type fakePurger struct {
	at  []time.Time
	n   int64
	err error
}

func (p *fakePurger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	p.at = append(p.at, now)
	return p.n, p.err
}

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRunCycleStaleModeWithPurge(t *testing.T) {
	sweeps := &fakeSweeps{}
	purger := &fakePurger{n: 12}
	s, err := NewSweeper(sweeps, purger, SweepConfig{
		MinValidRows: 5,
		BatchLimit:   50,
		Purge:        true,
		Now:          func() time.Time { return now },
	})
	require.NoError(t, err)

	require.NoError(t, s.RunCycle(context.Background()))
	require.Equal(t, []int{5, 50}, sweeps.stale)
	require.Zero(t, sweeps.all)
	require.Equal(t, []time.Time{now}, purger.at)

	cycles, users, failures, purged := s.Stats()
	require.Equal(t, int64(1), cycles)
	require.Equal(t, int64(3), users)
	require.Equal(t, int64(1), failures)
	require.Equal(t, int64(12), purged)
}

func TestRunCycleAllModeWithoutPurge(t *testing.T) {
	sweeps := &fakeSweeps{}
	s, err := NewSweeper(sweeps, nil, SweepConfig{Mode: config.SweepModeAll})
	require.NoError(t, err)

	require.NoError(t, s.RunCycle(context.Background()))
	require.Equal(t, 1, sweeps.all)
	require.Empty(t, sweeps.stale)
}

func TestPurgeFailureDoesNotFailCycle(t *testing.T) {
	purger := &fakePurger{err: errors.New("database is locked")}
	s, err := NewSweeper(&fakeSweeps{}, purger, SweepConfig{Purge: true})
	require.NoError(t, err)
	require.NoError(t, s.RunCycle(context.Background()))

	_, err = s.PurgeExpired(context.Background())
	require.ErrorContains(t, err, "database is locked")
}

func TestRunOneShotAndCanceled(t *testing.T) {
	sweeps := &fakeSweeps{}
	s, err := NewSweeper(sweeps, nil, SweepConfig{})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), 0))
	require.Len(t, sweeps.stale, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx, time.Hour))
}

func TestNewSweeperValidation(t *testing.T) {
	_, err := NewSweeper(nil, nil, SweepConfig{})
	require.Error(t, err)
	_, err = NewSweeper(&fakeSweeps{}, nil, SweepConfig{Purge: true})
	require.Error(t, err)
	_, err = NewSweeper(&fakeSweeps{}, nil, SweepConfig{Mode: "sometimes"})
	require.Error(t, err)
}

func TestSweepHasNoFixedDeadline(t *testing.T) {
	for _, mode := range []string{config.SweepModeStale, config.SweepModeAll} {
		sweeps := &fakeSweeps{}
		s, err := NewSweeper(sweeps, nil, SweepConfig{Mode: mode})
		require.NoError(t, err)
		require.NoError(t, s.RunCycle(context.Background()))
		require.Equal(t, []bool{false}, sweeps.deadlines, mode)
	}
}
