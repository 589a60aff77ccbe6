// Package fern is a client-resident mirror of a remote entity service:
// a normalized cache of typed entities and bidirectional mutual
// relations, kept consistent through guarded fetches, atomic
// copy-on-write merges, and cascade cleanup on deletion.
package fern

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/snapshot"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/remote"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/syncer"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
	"github.com/Ramsey-B/fern/pkg/tracker"
)

// App wires the full stack: logger, remote client, store, tracker,
// engine, and the optional Kafka, tracing, and snapshot integrations.
type App struct {
	Config *config.Config
	Logger ectologger.Logger
	Engine *syncer.Engine
	Store  *store.Store

	container      ectocontainer.DIContainer
	producer       *kafka.Producer
	db             *database.Instance
	flushLogs      func()
	shutdownTracer func(context.Context) error
}

// New builds an App from environment configuration.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig builds an App from an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, flushLogs, err := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.PrettyLogs})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		flushLogs: flushLogs,
	}

	if cfg.TracingEnabled {
		protocol := "grpc"
		if cfg.OTLPUseHTTP {
			protocol = "http"
		}
		shutdown, err := tracing.Init(ctx, cfg.AppName, exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: protocol,
			Insecure: cfg.OTLPInsecure,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		app.shutdownTracer = shutdown
	}

	relations, err := cfg.Relations()
	if err != nil {
		return nil, fmt.Errorf("failed to parse relation config: %w", err)
	}

	client := remote.NewClient(remote.Config{
		BaseURL: cfg.RemoteBaseURL,
		Timeout: time.Duration(cfg.RemoteTimeoutSeconds) * time.Second,
	}, logger)

	emitter := events.Noop()
	if cfg.KafkaEnabled {
		app.producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		emitter = events.NewKafkaEmitter(app.producer, logger)
	}

	app.Store = store.New(logger)
	app.Engine = syncer.NewEngine(
		logger,
		app.Store,
		tracker.New(logger),
		remote.NewEntityService(client, logger),
		remote.NewMutualService(client, logger),
		relations,
		emitter,
	)

	if cfg.SnapshotsEnabled {
		if err := app.setupSnapshots(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	// Container ids are process global and must be unique, so each app
	// gets its own instead of the shared default.
	containerCfg := ectoinject.DefaultContainerConfig
	containerCfg.ID = fmt.Sprintf("%s-%s", cfg.AppName, uuid.NewString())
	container, err := ectoinject.NewDIContainer(containerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create DI container: %w", err)
	}
	if err := registerInstances(container, app); err != nil {
		return nil, err
	}
	app.container = container

	return app, nil
}

func (a *App) setupSnapshots(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	db, err := database.Connect(ctx, database.Config{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
	if err != nil {
		return err
	}
	a.db = db

	migrations := database.NewMigrationService(logger, database.MigrationConfig{
		FolderPath: cfg.DatabaseMigrationFolderPath,
		Version:    uint(cfg.DatabaseMigrationVersion),
		Force:      cfg.DatabaseMigrationForce,
	})
	if err := migrations.Migrate(cfg.DatabaseName, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	a.Engine.SetSnapshotRepository(snapshot.New(db, logger))
	return nil
}

func registerInstances(container ectocontainer.DIContainer, app *App) error {
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, app.Logger); err != nil {
		return fmt.Errorf("failed to register logger: %w", err)
	}
	if err := ectoinject.RegisterInstance[*store.Store](container, app.Store); err != nil {
		return fmt.Errorf("failed to register store: %w", err)
	}
	if err := ectoinject.RegisterInstance[*syncer.Engine](container, app.Engine); err != nil {
		return fmt.Errorf("failed to register engine: %w", err)
	}
	return nil
}

// Context returns a context carrying the app's DI container, so callers
// deeper in the stack can resolve shared instances with
// ectoinject.GetContext.
func (a *App) Context(ctx context.Context) (context.Context, error) {
	return ectoinject.SetActiveContainer(ctx, a.container.GetContainerID())
}

// Relations exposes the configured relation map.
func (a *App) Relations() (models.RelationConfig, error) {
	return a.Config.Relations()
}

// Close flushes logs and releases the Kafka, database, and tracing
// resources the app owns.
func (a *App) Close(ctx context.Context) error {
	var firstErr error

	if a.producer != nil {
		if err := a.producer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close kafka producer: %w", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close database: %w", err)
		}
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to shut down tracer: %w", err)
		}
	}
	if a.flushLogs != nil {
		a.flushLogs()
	}
	return firstErr
}
