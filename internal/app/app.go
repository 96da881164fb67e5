package app

import (
	"context"
	"errors"
	"fmt"

	"depthwatch/config"
	"depthwatch/logger"
	"depthwatch/writer"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger *logger.Log
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, log *logger.Log) *App {
	return &App{Config: cfg, Logger: log}
}

// openSink returns the configured persistence sink. A postgres sink that
// cannot be reached is a startup failure.
func (a *App) openSink(ctx context.Context) (writer.Sink, error) {
	switch a.Config.Storage.Driver {
	case "", "memory":
		return writer.NewMemoryStore(), nil
	case "postgres":
		store, err := writer.OpenPostgres(ctx, a.Config.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open postgres sink: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", a.Config.Storage.Driver)
	}
}

// openPublishers builds the enabled archive publishers. Each publisher that
// needs a background worker is started with ctx.
func (a *App) openPublishers(ctx context.Context) ([]writer.Publisher, error) {
	var publishers []writer.Publisher
	log := a.Logger.WithComponent("app")

	if a.Config.Archive.S3.Enabled {
		archiver, err := writer.NewParquetArchiver(ctx, a.Config.Archive.S3, a.Config.Depthwatch.Version)
		if err != nil {
			return nil, closePublishers(publishers, fmt.Errorf("create s3 archiver: %w", err))
		}
		if err := archiver.Start(ctx); err != nil {
			return nil, closePublishers(publishers, fmt.Errorf("start s3 archiver: %w", err))
		}
		publishers = append(publishers, archiver)
	} else {
		log.Info("S3 archive disabled; skipping parquet archiver")
	}

	if a.Config.Archive.Kafka.Enabled {
		kp, err := writer.NewKafkaPublisher(a.Config.Archive.Kafka)
		if err != nil {
			return nil, closePublishers(publishers, fmt.Errorf("create kafka publisher: %w", err))
		}
		publishers = append(publishers, kp)
	}

	return publishers, nil
}

func closePublishers(publishers []writer.Publisher, cause error) error {
	errs := []error{cause}
	for _, p := range publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
