package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
	"github.com/alanyoungcy/mirrorbot/internal/engine"
	"github.com/alanyoungcy/mirrorbot/internal/exec"
	"github.com/alanyoungcy/mirrorbot/internal/platform/venue"
	"github.com/alanyoungcy/mirrorbot/internal/registry"
	"github.com/alanyoungcy/mirrorbot/internal/server"
	"github.com/alanyoungcy/mirrorbot/internal/server/handler"
	"github.com/alanyoungcy/mirrorbot/internal/track"
)

// targetLockTTL bounds how long a crashed instance can hold a target before
// another instance may take over.
const targetLockTTL = 12 * time.Hour

// MirrorMode runs the replication engine live: every classified target order
// is fanned out to the active followers. The HTTP server runs alongside when
// enabled.
func (a *App) MirrorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting mirror mode")

	g, ctx := errgroup.WithContext(ctx)

	eng, err := a.startEngine(ctx, g, deps, false)
	if err != nil {
		return fmt.Errorf("mirror mode: %w", err)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// MonitorMode runs the engine in dry-run: orders are streamed, classified,
// and tracked, but never replicated. No chain access or follower keys are
// touched.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	eng, err := a.startEngine(ctx, g, deps, true)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// FullMode runs everything: the live engine, the HTTP server, and the
// outcome archiver when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	eng, err := a.startEngine(ctx, g, deps, false)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	a.startHTTPServer(ctx, g, deps, eng)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// startEngine builds and starts the replication engine, adding a goroutine to
// the errgroup that stops it when the context is cancelled. In live mode it
// first takes a distributed lock per target so two instances never
// double-replicate the same trader.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies, dryRun bool) (*engine.Engine, error) {
	if !dryRun {
		for _, target := range a.cfg.Engine.Targets {
			unlock, err := deps.Locks.Acquire(ctx, "target:"+target, targetLockTTL)
			if err != nil {
				return nil, fmt.Errorf("acquire target lock %s: %w", target, err)
			}
			a.closers = append(a.closers, unlock)
		}
	}

	var executor engine.Executor
	if !dryRun {
		executor = exec.New(deps.Venue, deps.Chain, deps.Vault, a.logger)
	}

	sessionFactory := func(onEvents func([]domain.OrderEvent), onState func(domain.SessionState, int)) engine.Session {
		return venue.NewStreamSession(venue.SessionConfig{
			URL:         a.cfg.Venue.WsHost,
			KeepAlive:   a.cfg.Engine.KeepaliveInterval.Duration,
			BaseDelay:   a.cfg.Engine.ReconnectBaseDelay.Duration,
			MaxAttempts: a.cfg.Engine.MaxReconnectAttempts,
			Backfill:    a.cfg.Engine.WatermarkBuffer.Duration,
		}, onEvents, onState, a.logger)
	}

	eng := engine.New(
		engine.Config{
			Targets:         a.cfg.Engine.Targets,
			ExecTimeout:     a.cfg.Engine.ExecTimeout.Duration,
			CleanupInterval: a.cfg.Engine.CleanupInterval.Duration,
			DryRun:          dryRun,
		},
		engine.Deps{
			NewSession: sessionFactory,
			Registry:   registry.New(deps.Venue, a.logger),
			Tracker:    track.New(a.cfg.Engine.WatermarkBuffer.Duration, a.cfg.Engine.DedupRetention.Duration),
			Followers:  deps.Followers,
			Outcomes:   deps.Outcomes,
			Activity:   deps.Activity,
			Exec:       executor,
			Notifier:   deps.Notifier,
			Logger:     a.logger,
		},
	)

	if err := eng.Start(ctx); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}

	g.Go(func() error {
		<-ctx.Done()
		if err := eng.Stop(); err != nil {
			a.logger.Warn("engine stop", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})

	return eng, nil
}

// startHTTPServer adds the telemetry/management API to the errgroup. It is
// shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) {
	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Status: handler.NewStatusHandler(eng, a.cfg.Mode),
			Bots:   handler.NewBotHandler(deps.Followers, deps.Activity, deps.Vault, a.logger),
		},
		deps.RateLimiter,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiver adds the cold-outcome archiver loop when archiving is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error {
		deps.Archiver.Run(ctx)
		return ctx.Err()
	})
}
