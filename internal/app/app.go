// Package app builds and holds the long-lived services of a run, acting as a
// dependency injection container for the commands.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stream-embed-audit/internal/audit"
	"github.com/JakeFAU/stream-embed-audit/internal/clock/system"
	"github.com/JakeFAU/stream-embed-audit/internal/config"
	"github.com/JakeFAU/stream-embed-audit/internal/id/uuid"
	"github.com/JakeFAU/stream-embed-audit/internal/publisher/pubsub"
	"github.com/JakeFAU/stream-embed-audit/internal/sink"
	"github.com/JakeFAU/stream-embed-audit/internal/storage"
	"github.com/JakeFAU/stream-embed-audit/internal/storage/azure"
	"github.com/JakeFAU/stream-embed-audit/internal/storage/gcs"
	"github.com/JakeFAU/stream-embed-audit/internal/storage/local"
	"github.com/JakeFAU/stream-embed-audit/internal/storage/postgres"
	"github.com/JakeFAU/stream-embed-audit/internal/storage/s3"
)

// Clock supplies the run start time.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// RunStore mirrors matches and records run bookkeeping.
type RunStore interface {
	sink.RecordMirror
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, status string, summary audit.Summary, errMsg *string) error
	Close()
}

// Notifier publishes upload notifications and owns its client.
type Notifier interface {
	sink.Notifier
	Close() error
}

// App holds all the shared, long-lived services for a command.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	uploader storage.Uploader
	runs     RunStore
	notifier Notifier
	clock    Clock
	ids      IDGenerator
	closers  []func() error
}

// Option overrides a service that New would otherwise build from config.
type Option func(*App)

// WithUploader replaces the configured upload provider.
func WithUploader(u storage.Uploader) Option {
	return func(a *App) { a.uploader = u }
}

// WithRunStore replaces the Postgres mirror.
func WithRunStore(r RunStore) Option {
	return func(a *App) { a.runs = r }
}

// WithNotifier replaces the Pub/Sub publisher.
func WithNotifier(n Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(a *App) { a.ids = g }
}

// New creates the services described by cfg. It fails fast when an enabled
// provider cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	logger.Info("Initializing application services...")

	if a.uploader == nil {
		uploader, err := a.buildUploader(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.uploader = uploader
	}

	if a.runs == nil && cfg.Postgres.Enabled {
		logger.Info("Connecting to PostgreSQL...")
		store, err := postgres.New(ctx, postgres.Config{
			DSN:        cfg.Postgres.DSN,
			MatchTable: cfg.Postgres.MatchTable,
			RunTable:   cfg.Postgres.RunTable,
			MaxConns:   cfg.Postgres.MaxConns,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			a.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.runs = store
	}

	if a.notifier == nil && cfg.PubSub.Enabled {
		logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", cfg.PubSub.Topic))
		pub, err := pubsub.Dial(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize pubsub: %w", err)
		}
		a.notifier = pub
	}

	logger.Info("Application services initialized successfully.")
	return a, nil
}

func (a *App) buildUploader(ctx context.Context) (storage.Uploader, error) {
	export := a.cfg.Export
	if !export.Enabled {
		a.logger.Info("Export disabled; result files stay local.")
		return storage.NoOpUploader{}, nil
	}
	a.logger.Info("Using upload provider",
		zap.String("provider", export.Provider),
		zap.String("container", export.Container),
	)
	switch export.Provider {
	case config.ProviderAzure:
		return azure.New(azure.Config{
			StorageAccount: export.StorageAccount,
			ResourceGroup:  export.ResourceGroup,
			ServiceURL:     export.ServiceURL,
		}, a.logger)
	case config.ProviderGCS:
		u, err := gcs.Dial(ctx, gcs.Config{Bucket: export.Container})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, u.Close)
		return u, nil
	case config.ProviderS3:
		return s3.New(s3.Config{
			EndpointURL:     export.S3.Endpoint,
			AccessKeyID:     export.S3.AccessKeyID,
			SecretAccessKey: export.S3.SecretAccessKey,
			Region:          export.S3.Region,
			UseSSL:          export.S3.UseSSL,
			Bucket:          export.Container,
		})
	case config.ProviderLocal:
		return local.New(local.Config{BaseDir: export.LocalDir})
	default:
		return nil, fmt.Errorf("unknown export provider: %s", export.Provider)
	}
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetUploader exposes the configured upload provider.
func (a *App) GetUploader() storage.Uploader {
	return a.uploader
}

// Close shuts down every service in the container.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")
	if a.runs != nil {
		a.runs.Close()
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("Error closing pubsub client", zap.Error(err))
		}
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("Error closing storage client", zap.Error(err))
		}
	}
	// Best-effort flush; stderr sync can fail on some terminals.
	_ = a.logger.Sync()
}
