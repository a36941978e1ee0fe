// package scheduler runs due auto-update refreshes on a fixed sweep interval.
//
// Each sweep lists the playlists whose next run has passed, advances their next run time and
// then dispatches the refresh in its own goroutine, so a slow playlist never holds up the rest.
// Playlists refreshed by hand within the cooldown window are skipped for that run but still
// rescheduled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/desertthunder/mixtape/internal/tasks"
	"github.com/robfig/cron/v3"
)

// Opts wires a [Scheduler]. Playlists and Refresher are required.
type Opts struct {
	Playlists models.PlaylistStore
	Refresher tasks.Refresher
	Logger    *log.Logger
	Interval  time.Duration // sweep interval, default 1m
	Cooldown  time.Duration // manual refresh cooldown, default 24h
	Now       func() time.Time
}

// Scheduler periodically dispatches auto refreshes.
type Scheduler struct {
	playlists models.PlaylistStore
	refresher tasks.Refresher
	logger    *log.Logger
	interval  time.Duration
	cooldown  time.Duration
	now       func() time.Time

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Due        int
	Dispatched int
	Cooldown   int
	Failed     int
}

// New creates a Scheduler from opts.
func New(opts Opts) (*Scheduler, error) {
	if opts.Playlists == nil || opts.Refresher == nil {
		return nil, fmt.Errorf("%w: scheduler needs a playlist store and a refresher", shared.ErrMissingArgument)
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := opts.Logger.WithPrefix("scheduler")
	return &Scheduler{
		playlists: opts.Playlists,
		refresher: opts.Refresher,
		logger:    logger,
		interval:  opts.Interval,
		cooldown:  opts.Cooldown,
		now:       func() time.Time { return opts.Now().UTC() },
		cron:      cron.New(cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger}))),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start registers the sweep and starts the cron runner.
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		if _, err := s.Sweep(s.ctx); err != nil {
			s.logger.Error("sweep failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep %q: %w", spec, err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "interval", s.interval, "cooldown", s.cooldown)
	return nil
}

// Stop stops sweeping and waits for dispatched refreshes until ctx ends, after which the
// remaining refreshes are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	<-s.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		s.logger.Warn("scheduler stopped with refreshes cancelled")
		return ctx.Err()
	}
}

// Wait blocks until every dispatched refresh has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Sweep evaluates every due playlist once.
//
// The next run is persisted before the refresh is dispatched, so a playlist is never picked up
// twice for the same window whatever the refresh outcome. A playlist whose next run cannot be
// persisted is not dispatched.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	due, err := s.playlists.ListDue(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list due playlists: %w", err)
	}

	res := SweepResult{Due: len(due)}
	for _, spec := range due {
		logger := s.logger.With("playlist", spec.ID)

		next, err := spec.AutoUpdate.NextRun(now)
		if err != nil {
			res.Failed++
			logger.Error("cannot compute next run", "err", err)
			continue
		}
		if err := s.playlists.UpdateNextRunAt(ctx, spec.ID, next); err != nil {
			res.Failed++
			logger.Error("failed to advance next run", "err", err)
			continue
		}

		if spec.InCooldown(now, s.cooldown) {
			res.Cooldown++
			logger.Info("manual refresh within cooldown, skipping", "last_manual", spec.LastManualRefreshAt, "next_run", next)
			continue
		}

		res.Dispatched++
		logger.Debug("dispatching auto refresh", "next_run", next)
		s.dispatch(spec.ID)
	}

	if res.Due > 0 {
		s.logger.Info("sweep finished", "due", res.Due, "dispatched", res.Dispatched, "cooldown", res.Cooldown, "failed", res.Failed)
	}
	return res, nil
}

func (s *Scheduler) dispatch(id string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("auto refresh panicked", "playlist", id, "panic", r)
			}
		}()

		req := tasks.RefreshRequest{PlaylistID: id, Trigger: models.AutoTrigger}
		_, err := s.refresher.Refresh(s.ctx, req, nil)
		switch {
		case err == nil:
		case errors.Is(err, shared.ErrConcurrentRefreshSkipped):
			s.logger.Info("auto refresh skipped, refresh in progress", "playlist", id)
		case errors.Is(err, shared.ErrPartialApplyFailure):
			s.logger.Warn("auto refresh partially applied", "playlist", id, "err", err)
		default:
			s.logger.Error("auto refresh failed", "playlist", id, "err", err)
		}
	}()
}

// cronLogger adapts the application logger to [cron.Logger].
type cronLogger struct{ l *log.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "err", err)...)
}
