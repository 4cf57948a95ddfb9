package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-media/pkg/simplemedia/api"
	"github.com/tendant/simple-media/pkg/simplemedia/config"
	"github.com/tendant/simple-media/pkg/simplemedia/sweeper"
)

func main() {
	_ = godotenv.Load()

	serverConfig, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	logger := newLogger(serverConfig.LogLevel, serverConfig.Environment)
	slog.SetDefault(logger)

	ctx := context.Background()
	svc, err := serverConfig.BuildService(ctx, logger, nil)
	if err != nil {
		logger.Error("Failed to build service", "err", err)
		os.Exit(1)
	}

	sweep, err := sweeper.New(svc, serverConfig.SweepSchedule, logger)
	if err != nil {
		logger.Error("Failed to schedule slot sweeper", "err", err)
		os.Exit(1)
	}
	sweep.Start()

	opts := []api.Option{api.WithLogger(logger)}
	if serverConfig.MetricsEnabled {
		opts = append(opts, api.WithMetrics(promhttp.Handler()))
	}
	handler := api.NewHandler(svc, opts...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", handler.Routes())

	httpServer := &http.Server{
		Addr:              ":" + serverConfig.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Simple Media Server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"database", serverConfig.DatabaseType,
			"storage", serverConfig.Storage.Type)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
	if err := sweep.Stop(shutdownCtx); err != nil {
		logger.Warn("Slot sweeper did not stop cleanly", "err", err)
	}
	// Waits for queued transcodes and in-flight notification attempts.
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Warn("Service did not close cleanly", "err", err)
	}

	logger.Info("Server exiting")
}

func newLogger(level, environment string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if environment == "development" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
