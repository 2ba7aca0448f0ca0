// Package main provides the deck processor API server entrypoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/deck-processor/cmd/deck-processor-api/handlers"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/config"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/processor"
)

func main() {
	// Missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "deck-processor-api: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Deck processor API exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	rt, err := processor.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize deck processor: %w", err)
	}
	defer rt.Close()

	if err := rt.Service.CheckRenderer(ctx); err != nil {
		logger.Warn().Err(err).Msg("Renderer is not available, jobs will fail until it is installed")
	}
	rt.Service.Start()

	srv := &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler: NewRouter(logger, cfg.Server, rt.Service,
			handlers.Check{Name: "renderer", Run: rt.Service.CheckRenderer},
			handlers.Check{Name: "database", Run: rt.DB.PingContext},
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", srv.Addr).
			Str("version", config.Version).
			Msg("Deck processor API listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.GracefulShutdown)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			_ = srv.Close()
		}
		if stopErr := rt.Service.Stop(true); stopErr != nil {
			logger.Warn().Err(stopErr).Msg("Processing manager did not drain cleanly")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Server stopped")
	return nil
}
