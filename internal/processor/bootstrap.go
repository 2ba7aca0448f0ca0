package processor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/artifacts"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/cache"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/config"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/jobstatus"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/render"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/storage"
)

// Runtime is a fully wired service together with the resources it owns.
type Runtime struct {
	Service *Service
	DB      *sql.DB
	Cache   cache.Client
}

// Close releases the worker pool plus the database and cache connections.
// Stop the service first.
func (r *Runtime) Close() error {
	var errs []error
	if r.Service != nil {
		r.Service.Close()
	}
	if r.Cache != nil {
		errs = append(errs, r.Cache.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}

// Build assembles the production service from configuration.
func Build(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Runtime, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	rt := &Runtime{}

	client, err := cache.NewClientFromConfig(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("create cache client: %w", err)
	}
	rt.Cache = client
	resultCache := cache.NewResultStore(client, logger.WithOperation("cache"), cache.ResultStoreConfig{TTL: cfg.Cache.TTL})

	var opts []jobstatus.Option
	if pub, ok := client.(*cache.RedisClient); ok && cfg.Status.PublishEvents {
		opts = append(opts, jobstatus.WithNotifier(
			jobstatus.NewPublishNotifier(pub, cfg.Status.EventChannel, logger.WithOperation("status-events"))))
	}
	statuses, err := jobstatus.NewStore(cfg.Status.SnapshotDir, logger.WithOperation("job-status"), opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	rt.DB = db

	store, err := artifacts.NewFromConfig(cfg.Artifacts, logger.WithOperation("artifacts"))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("create artifact store: %w", err)
	}

	renderer := render.NewLibreOffice(cfg.Renderer.LibreOfficePath, cfg.Renderer.Timeout, logger.WithOperation("renderer"))

	svc, err := NewService(cfg, Deps{
		Statuses:  statuses,
		Cache:     resultCache,
		Renderer:  renderer,
		Artifacts: store,
		Results:   storage.NewResultRepository(db),
	}, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc

	logger.Info().
		Str("cache_driver", cfg.Cache.Driver).
		Str("database_driver", cfg.Database.Driver).
		Str("artifacts_driver", cfg.Artifacts.Driver).
		Int("max_workers", cfg.Processing.MaxWorkers).
		Msg("Deck processor initialized")
	return rt, nil
}
