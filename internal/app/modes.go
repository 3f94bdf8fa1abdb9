package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// shutdownGrace bounds how long the HTTP server may take to drain on exit.
const shutdownGrace = 5 * time.Second

// TradeMode runs the full engine with live order placement: market stream,
// scanner, lifecycle manager, push hub, and HTTP server.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runEngine(ctx, deps)
}

// MonitorMode runs the same loop against the paper order backend: spreads are
// scanned and trades walked through the lifecycle, but nothing reaches the
// venue's private API.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode (paper orders)")
	return a.runEngine(ctx, deps)
}

// runEngine starts the hub, the HTTP server, and the engine loop, and blocks
// until the first component fails or the context is cancelled.
func (a *App) runEngine(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})

	if deps.Server != nil {
		g.Go(func() error {
			err := deps.Server.Start()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := deps.Server.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("http server shutdown", slog.String("error", err.Error()))
			}
			return ctx.Err()
		})
	}

	g.Go(func() error {
		return deps.Engine.Run(ctx)
	})

	return g.Wait()
}
