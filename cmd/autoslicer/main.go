// Package main provides the entry point for the auto-slicer.
//
// In process mode every pending recording under INPUT_DIR is sliced once and
// the binary exits. In serve mode the controller is exposed over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/autoslicer/internal/bootstrap"
	"github.com/maauso/autoslicer/internal/config"
	"github.com/maauso/autoslicer/internal/server"
)

const (
	modeProcess = "process"
	modeServe   = "serve"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("autoslicer", flag.ContinueOnError)
	mode := fs.String("mode", modeProcess, "run mode: process or serve")
	limit := fs.Int("limit", 0, "maximum recordings to slice in process mode (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting auto-slicer",
		slog.String("mode", *mode),
		slog.String("input_dir", cfg.InputDir),
		slog.String("output_dir", cfg.OutputDir),
		slog.Int("max_slices", cfg.MaxSlices),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case modeProcess:
		return processPending(ctx, deps, *limit, logger)
	case modeServe:
		return serve(ctx, cfg, deps, logger)
	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}
}

func processPending(ctx context.Context, deps *bootstrap.Dependencies, limit int, logger *slog.Logger) error {
	start := time.Now()
	sets, err := deps.Controller.ProcessPending(ctx, limit)
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}

	slices := 0
	for _, s := range sets {
		slices += len(s.Slices)
	}
	logger.Info("batch complete",
		slog.Int("recordings", len(sets)),
		slog.Int("slices", slices),
		slog.Duration("elapsed", time.Since(start)),
	)

	if msg, ok := deps.Controller.LastError(""); ok {
		logger.Warn("some recordings failed", slog.String("last_error", msg))
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, deps *bootstrap.Dependencies, logger *slog.Logger) error {
	handlers := server.NewHandlers(deps.Controller, logger)
	router := server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: []string{"*"},
		Metrics:        deps.Metrics.Handler(),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Batch processing can run long
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
