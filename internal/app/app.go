// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/factcheck-aggregator/internal/article"
	"github.com/JakeFAU/factcheck-aggregator/internal/categorizer"
	"github.com/JakeFAU/factcheck-aggregator/internal/categorizer/openrouter"
	"github.com/JakeFAU/factcheck-aggregator/internal/checkpoint"
	checkpointGCS "github.com/JakeFAU/factcheck-aggregator/internal/checkpoint/gcs"
	checkpointLocal "github.com/JakeFAU/factcheck-aggregator/internal/checkpoint/local"
	"github.com/JakeFAU/factcheck-aggregator/internal/classify"
	"github.com/JakeFAU/factcheck-aggregator/internal/config"
	notifyMemory "github.com/JakeFAU/factcheck-aggregator/internal/notify/memory"
	notifyPubSub "github.com/JakeFAU/factcheck-aggregator/internal/notify/pubsub"
	storageMemory "github.com/JakeFAU/factcheck-aggregator/internal/storage/memory"
	"github.com/JakeFAU/factcheck-aggregator/internal/storage/postgres"
)

// Options carries client settings that tests and emulators override.
type Options struct {
	GCS        []option.ClientOption
	PubSub     []option.ClientOption
	HTTPClient *http.Client
}

// App holds all the shared, long-lived services for the application.
// Services that only some commands need (the checkpoint ledger, the
// categorizer) are built on demand.
type App struct {
	cfg      config.Config
	opts     Options
	logger   *zap.Logger
	store    article.Store
	notifier classify.Notifier

	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	closers      []func()
}

// New creates and initializes an App from cfg. It fails fast if the article
// store or the notifier cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, opts: opts, logger: logger}

	switch cfg.Store.Provider {
	case config.ProviderPostgres:
		logger.Info("Connecting to PostgreSQL", zap.String("table", cfg.DB.Table))
		pg, err := postgres.NewArticleStore(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize article store: %w", err)
		}
		a.store = pg
		a.closers = append(a.closers, pg.Close)
	case config.ProviderMemory:
		logger.Info("Using in-memory article store. Articles are discarded on exit.")
		a.store = storageMemory.NewArticleStore()
	default:
		return nil, fmt.Errorf("unknown store provider: %s", cfg.Store.Provider)
	}

	switch cfg.Notify.Provider {
	case config.ProviderNone, "":
	case config.ProviderMemory:
		a.notifier = notifyMemory.New()
	case config.ProviderPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Notify.ProjectID, opts.PubSub...)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize pubsub client: %w", err)
		}
		a.pubsubClient = client
		notifier := notifyPubSub.New(client.Topic(cfg.Notify.TopicID))
		a.notifier = notifier
		a.closers = append(a.closers, notifier.Stop)
		logger.Info("Publishing run notifications to Pub/Sub", zap.String("topic", cfg.Notify.TopicID))
	default:
		a.Close()
		return nil, fmt.Errorf("unknown notify provider: %s", cfg.Notify.Provider)
	}

	logger.Info("Application services initialized successfully.")
	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the article store.
func (a *App) Store() article.Store {
	return a.store
}

// Notifier returns the run notifier, or nil when notifications are off.
func (a *App) Notifier() classify.Notifier {
	return a.notifier
}

// Ledger builds the checkpoint ledger for the configured backend.
func (a *App) Ledger(ctx context.Context) (*checkpoint.Ledger, error) {
	var backend checkpoint.Backend
	switch a.cfg.Checkpoint.Provider {
	case config.ProviderLocal:
		local, err := checkpointLocal.New(checkpointLocal.Config{Path: a.cfg.Checkpoint.Path})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize checkpoint: %w", err)
		}
		backend = local
	case config.ProviderGCS:
		if a.gcsClient == nil {
			client, err := storage.NewClient(ctx, a.opts.GCS...)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize gcs client: %w", err)
			}
			a.gcsClient = client
		}
		remote, err := checkpointGCS.New(a.gcsClient, checkpointGCS.Config{
			Bucket: a.cfg.Checkpoint.Bucket,
			Object: a.cfg.Checkpoint.Object,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize checkpoint: %w", err)
		}
		backend = remote
	default:
		return nil, fmt.Errorf("unknown checkpoint provider: %s", a.cfg.Checkpoint.Provider)
	}
	return checkpoint.NewLedger(backend, a.logger), nil
}

// Categorizer builds the categorization client.
func (a *App) Categorizer() (categorizer.Categorizer, error) {
	client, err := openrouter.New(a.cfg.Categorizer, a.opts.HTTPClient, a.logger.Named("categorizer"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize categorizer: %w", err)
	}
	return client, nil
}

// Runner assembles a classification runner. cat may be nil to use the
// configured categorizer.
func (a *App) Runner(ctx context.Context, cat categorizer.Categorizer) (*classify.Runner, error) {
	ledger, err := a.Ledger(ctx)
	if err != nil {
		return nil, err
	}
	if cat == nil {
		if cat, err = a.Categorizer(); err != nil {
			return nil, err
		}
	}
	runner, err := classify.NewRunner(classify.Deps{
		Store:       a.store,
		Categorizer: cat,
		Ledger:      ledger,
		Notifier:    a.notifier,
		Logger:      a.logger.Named("classify"),
	}, a.cfg.Classify)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize runner: %w", err)
	}
	return runner, nil
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("Error closing pubsub client", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("Error closing gcs client", zap.Error(err))
		}
		a.gcsClient = nil
	}
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
}
