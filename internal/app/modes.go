package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	cacheredis "github.com/updownlabs/updown/internal/cache/redis"
	"github.com/updownlabs/updown/internal/notify"
	"github.com/updownlabs/updown/internal/server"
	"github.com/updownlabs/updown/internal/server/handler"
	"github.com/updownlabs/updown/internal/server/ws"
)

// ServerMode runs the HTTP API, the WebSocket hub, and the notification
// watcher. It blocks until the context is cancelled or a component fails.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	a.startServing(ctx, g, deps)

	return g.Wait()
}

// FullMode runs everything ServerMode does plus the periodic settled-market
// archival loop when archiving is enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	a.startServing(ctx, g, deps)

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// ArchiveMode performs a single archival pass over settled markets and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires object storage to be configured")
	}

	n, err := deps.Archiver.ArchiveSettled(ctx)
	if err != nil {
		return fmt.Errorf("app: archival pass: %w", err)
	}
	a.logger.InfoContext(ctx, "archival pass complete", slog.Int("archived", n))
	return nil
}

// startServing registers the HTTP server, WebSocket hub, and notification
// watcher goroutines on the errgroup, according to configuration.
func (a *App) startServing(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, cacheredis.EventChannel, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	if deps.Notifier != nil && deps.SignalBus != nil {
		watcher := notify.NewWatcher(deps.SignalBus, cacheredis.EventChannel, deps.Notifier, a.logger)
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	if !a.cfg.Server.Enabled {
		a.logger.Info("http server disabled by configuration")
		return
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimiter:     deps.RateLimiter,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Markets: handler.NewMarketHandler(deps.Engine, a.logger),
		Trades:  handler.NewTradeHandler(deps.Engine, a.logger),
		Admin:   handler.NewAdminHandler(deps.Engine, a.logger),
		Events:  handler.NewEventHandler(deps.Engine, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "http server starting", slog.Int("port", a.cfg.Server.Port))
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// archiveLoop periodically archives settled markets to object storage until
// the context is cancelled.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	a.logger.InfoContext(ctx, "archive loop starting", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := deps.Archiver.ArchiveSettled(ctx)
			if err != nil {
				a.logger.ErrorContext(ctx, "archival pass failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "archival pass complete", slog.Int("archived", n))
			}
		}
	}
}
