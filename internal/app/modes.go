package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alphadeck/stockpilot/internal/server"
	"github.com/alphadeck/stockpilot/internal/server/handler"
)

// MonitorMode runs the live engine without the allocation surface: the broker
// feed streams quotes, the monitor loop evaluates exits on every interval, and
// the end-of-day scheduler writes snapshots. The HTTP API is started when
// enabled.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startFeed(ctx, g, deps)
	a.startMonitorLoop(ctx, g, deps)
	a.startSnapshotScheduler(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// AllocateMode serves the allocation API with live quotes but no automated
// exit evaluation. Useful on entry days when positions are opened from an
// external screen and monitoring runs elsewhere.
func (a *App) AllocateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting allocate mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startFeed(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// ServerMode serves the HTTP API only: no broker feed, no background loops.
// Monitor ticks can still be triggered through the API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// FullMode starts all subsystems: the broker feed, the monitor loop, the
// end-of-day scheduler, and the HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startFeed(ctx, g, deps)
	a.startMonitorLoop(ctx, g, deps)
	a.startSnapshotScheduler(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// startFeed adds the broker websocket feed to the errgroup when one was
// wired. Without a feed the monitor loop still runs; positions are then
// evaluated against whatever quotes sit in the cache.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Feed == nil {
		a.logger.WarnContext(ctx, "no broker feed wired, price cache will not update")
		return
	}
	g.Go(func() error {
		return deps.Feed.Run(ctx)
	})
}

// startMonitorLoop ticks both strategy pools on the configured interval.
// Tick errors are logged, never fatal: a transient store failure must not
// bring the engine down while positions are open.
func (a *App) startMonitorLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Engine.MonitorInterval.Duration
	if interval <= 0 {
		interval = time.Minute
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if _, err := deps.Monitor.TickAll(ctx); err != nil {
					a.logger.ErrorContext(ctx, "monitor tick failed",
						slog.String("error", err.Error()))
				}
			}
		}
	})
}

// startSnapshotScheduler sleeps until each session close and then runs the
// end-of-day snapshot: invariant check, database snapshot, archival.
func (a *App) startSnapshotScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		for {
			now := time.Now()
			next := deps.Clock.EndOfDay(now)
			a.logger.InfoContext(ctx, "next end-of-day snapshot scheduled",
				slog.Time("at", next))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(next.Sub(now)):
			}

			if err := deps.Snapshots.Run(ctx, time.Now()); err != nil {
				a.logger.ErrorContext(ctx, "end-of-day snapshot failed",
					slog.String("error", err.Error()))
			}
		}
	})
}

// startHTTPServer adds the HTTP API server to the errgroup together with a
// goroutine that shuts it down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Pingers, a.logger),
		Positions:   handler.NewPositionHandler(deps.PositionStore, deps.TradeStore, a.logger),
		Capital:     handler.NewCapitalHandler(deps.Book, deps.SnapshotStore, a.logger),
		Overrides:   handler.NewOverrideHandler(deps.Overrides, a.logger),
		Allocations: handler.NewAllocationHandler(deps.Entries, a.logger),
		Monitor:     handler.NewMonitorHandler(deps.Monitor, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
