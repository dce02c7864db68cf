// Command mrm-emergency-stop runs the MRM emergency stop operator: it watches
// the driving stack's control commands, and on a takeover request from the
// safety supervisor brings the vehicle to a stop along a jerk-limited ramp.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrm/emergencystop/internal/api"
	"github.com/mrm/emergencystop/internal/config"
	"github.com/mrm/emergencystop/internal/control"
	"github.com/mrm/emergencystop/internal/stream"
	"github.com/mrm/emergencystop/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	logger.Info("configuration loaded", "config", cfg)

	op := control.NewOperator(cfg.Params(), logger)
	hub := stream.NewHub(logger)
	scheduler := control.NewScheduler(op, hub, logger)
	streamHandler := stream.NewHandler(hub, cfg.Stream(), logger)

	srv := api.NewServer(cfg.HTTPAddr, logger, cfg.Auth(), cfg.EnableH2C, op, hub, streamHandler, web.Content)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go scheduler.Start(ctx)

	go func() {
		logger.Info("starting server", "addr", cfg.HTTPAddr, "auth_enabled", cfg.AuthEnabled, "h2c", cfg.EnableH2C)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...", "state", op.State())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
