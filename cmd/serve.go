package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Alexzz96/nga-monitor/internal/api"
	"github.com/Alexzz96/nga-monitor/internal/app"
	"github.com/Alexzz96/nga-monitor/internal/scheduler"
)

const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the monitor service",
		Long: `Starts the HTTP API, the schedule-driven check loop, and the
progress pipeline, and runs until interrupted.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		a.Close(closeCtx)
	}()

	server := api.NewServer(
		a.Orchestrator,
		a.Tasks,
		a.Targets,
		a.Pool,
		a.Limiter,
		a.Cfg.Crawler.MaxHistoryPages,
		a.Logger,
	)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		a.Logger.Info("http server listening", zap.Int("port", a.Cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.Cfg.Scheduler.Enabled {
		driver := scheduler.NewDriver(a.Resolver, a.Orchestrator, a.Clock, a.Cfg.Scheduler.Tick(), a.Logger)
		go func() {
			if err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("scheduler: %w", err)
			}
		}()
	} else {
		a.Logger.Warn("scheduler disabled, checks run only on manual trigger")
	}

	select {
	case <-ctx.Done():
		a.Logger.Info("shutdown signal received")
	case err := <-errCh:
		a.Logger.Error("service failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("http server did not shut down cleanly", zap.Error(err))
	}
	return nil
}
