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

	"github.com/envelopefin/envelope-api/pkg/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	deps, err := InitDependencies(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", slog.Any("error", err))
		os.Exit(1)
	}
	defer deps.DB.Close()

	if err := deps.Scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", slog.Any("error", err))
		os.Exit(1)
	}

	server := newServer(deps)

	go func() {
		logger.Info("http server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown failed", slog.Any("error", err))
	}

	<-deps.Scheduler.Stop().Done()

	// Let in-flight imports finish so no job is stranded in RUNNING.
	if err := deps.WorkerPool.Shutdown(ctx); err != nil {
		logger.Error("worker pool drain failed", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
}
