package main

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/desertthunder/mixtape/internal/scheduler"
	"github.com/desertthunder/mixtape/internal/server"
	"github.com/urfave/cli/v3"
)

const defaultGrace = 30 * time.Second

// Serve runs the auto-update scheduler next to the HTTP API until ctx is cancelled.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}
	grace := cmd.Duration("grace")

	var sched *scheduler.Scheduler
	if !cmd.Bool("no-scheduler") {
		var err error
		sched, err = scheduler.New(scheduler.Opts{
			Playlists: r.playlists,
			Refresher: r.engine,
			Logger:    r.logger,
			Interval:  r.config.Scheduler.Interval(),
			Cooldown:  r.config.Scheduler.Cooldown(),
		})
		if err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
	}

	addr := net.JoinHostPort(r.config.Server.Host, strconv.Itoa(r.config.Server.Port))
	srv := server.New(addr, r.logger,
		server.NewRefreshHandler(r.gate, r.logger),
		server.NewHealthHandler(r.healthChecks()),
	)

	r.writePlain("→ Serving on http://%s\n", addr)
	serveErr := srv.Run(ctx, grace)

	if sched != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			r.logger.Warn("scheduler did not drain in time", "err", err)
		}
	}
	return serveErr
}

func (r *Runner) healthChecks() map[string]server.Check {
	checks := map[string]server.Check{
		"database": func(ctx context.Context) error {
			return r.db.PingContext(ctx)
		},
	}
	if r.redis != nil {
		checks["locks"] = func(ctx context.Context) error {
			return r.redis.Ping(ctx).Err()
		}
	}
	return checks
}
