package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/spawnhub/internal/config"
	"github.com/dropDatabas3/spawnhub/internal/http/server"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
)

func main() {
	configPath := flag.String("config", envOr("SPAWNHUB_CONFIG", ""), "Path to YAML config (env SPAWNHUB_CONFIG)")
	flag.Parse()

	// .env es opcional
	envErr := godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.L().Fatal("config load", logger.Err(err))
	}

	logger.Init(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.Log.Level,
		Version: cfg.App.Version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.L()
	if envErr != nil {
		log.Debug("no .env file loaded", logger.Err(envErr))
	}

	if err := run(cfg); err != nil {
		log.Fatal("spawnhub stopped", logger.Err(err))
	}
}

func run(cfg *config.Config) error {
	log := logger.L()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.ToContext(ctx, log)

	app, err := server.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Cleanup(); err != nil {
			log.Warn("cleanup", logger.Err(err))
		}
	}()

	if err := app.Hub.Init(ctx); err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	runDone := make(chan error, 1)
	go func() { runDone <- app.Hub.Run(runCtx) }()

	// sin WriteTimeout: /progress es un stream SSE de larga vida
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	srvErr := make(chan error, 1)
	go func() {
		log.Info("spawnhub listening",
			logger.String("addr", cfg.Server.Addr),
			logger.String("base_url", cfg.Server.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	stopServers := false
	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case req := <-app.Hub.ShutdownRequested():
		log.Info("shutdown requested via api", logger.Bool("stop_servers", req.StopServers))
		stopServers = req.StopServers
	case err := <-srvErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(logger.ToContext(context.Background(), log), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", logger.Err(err))
	}
	cancelRun()
	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("background loops", logger.Err(err))
	}
	if err := app.Hub.Shutdown(shutdownCtx, stopServers); err != nil {
		log.Warn("hub shutdown", logger.Err(err))
	}
	log.Info("spawnhub stopped")
	return nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
