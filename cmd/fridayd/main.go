// Command fridayd runs the backend headless behind an HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"friday/internal/config"
	"friday/internal/httpapi"
	"friday/internal/logging"
	"friday/internal/metrics"
	"friday/internal/orchestrator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fridayd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	settings, err := config.NewManager(config.NewJSONStore(cfg.SettingsPath))
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogMode, settings.Get().LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	metrics.MustRegister()

	backend, err := orchestrator.New(ctx, cfg, settings, logger)
	if err != nil {
		return fmt.Errorf("start backend: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewServer(backend, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "library", backend.LibraryRoot())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = backend.Close(context.Background())
		return err
	}

	// Stop taking requests first, then let running jobs observe cancellation.
	logger.Info("shutting down")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	httpCancel()

	jobsCtx, jobsCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer jobsCancel()
	if err := backend.Close(jobsCtx); err != nil {
		logger.Error("backend shutdown", "error", err)
	}
	logger.Info("stopped")
	return nil
}
