// Package app assembles the collaborators shared by the api and worker
// binaries from a loaded config.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/pixelnorm/internal/config"
	"github.com/dunamismax/pixelnorm/internal/encode"
	"github.com/dunamismax/pixelnorm/internal/geometry"
	"github.com/dunamismax/pixelnorm/internal/pipeline"
	"github.com/dunamismax/pixelnorm/internal/presets"
	"github.com/dunamismax/pixelnorm/internal/storage"
	"github.com/dunamismax/pixelnorm/internal/store"
	"github.com/dunamismax/pixelnorm/internal/telemetry"
	"go.uber.org/zap"
)

type jobAndUsageStore interface {
	store.JobStore
	store.UsageStore
}

type App struct {
	Logger   *zap.Logger
	Jobs     jobAndUsageStore
	Storage  *storage.Client
	Presets  *presets.Registry
	Pipeline *pipeline.Pipeline

	closers []func(context.Context) error
}

// New builds the shared runtime for component ("api" or "worker"). Storage
// is left nil when the bucket cannot be prepared; callers decide whether
// that is fatal.
func New(ctx context.Context, cfg config.Config, component string) (*App, error) {
	logger, err := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("component", component))

	a := &App{Logger: logger}

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		Component:    component,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	if err := encode.Startup(); err != nil {
		return nil, fmt.Errorf("start encoder runtime: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		encode.Shutdown()
		return nil
	})

	a.Presets, err = presets.Load(cfg.Pipeline.PresetsFile)
	if err != nil {
		return nil, err
	}

	resampler, err := geometry.NewResampler(cfg.Pipeline.Resampler)
	if err != nil {
		return nil, err
	}
	a.Pipeline = pipeline.New(resampler, encode.New()).WithMaxPixels(cfg.Pipeline.MaxPixels)

	if err := a.openJobStore(ctx, cfg.Database); err != nil {
		return nil, err
	}

	a.openStorage(ctx, cfg.Storage)

	logger.Info("runtime ready",
		zap.String("encoder", a.Pipeline.EncoderBackend()),
		zap.String("resampler", resampler.Name()),
		zap.Int64("max_pixels", cfg.Pipeline.MaxPixels),
		zap.Strings("presets", a.Presets.Names()),
		zap.Bool("object_storage", a.Storage != nil),
	)
	return a, nil
}

func (a *App) openJobStore(ctx context.Context, cfg config.DatabaseConfig) error {
	if cfg.DSN == "" {
		a.Logger.Warn("POSTGRES_DSN not set; jobs are kept in memory")
		a.Jobs = store.NewMemoryJobStore()
		return nil
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		return err
	}
	a.Jobs = pg
	a.closers = append(a.closers, func(context.Context) error { return pg.Close() })
	return nil
}

func (a *App) openStorage(ctx context.Context, cfg config.StorageConfig) {
	client, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Endpoint,
		Access:   cfg.AccessKey,
		Secret:   cfg.SecretKey,
		Bucket:   cfg.Bucket,
		UseSSL:   cfg.UseSSL,
	})
	if err != nil {
		a.Logger.Warn("object storage disabled", zap.Error(err))
		return
	}
	if err := client.EnsureBucket(ctx); err != nil {
		a.Logger.Warn("object storage disabled", zap.String("bucket", cfg.Bucket), zap.Error(err))
		return
	}
	a.Storage = client
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
