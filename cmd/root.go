// Package cmd defines and implements the CLI commands for the factcheck executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/factcheck-aggregator/internal/app"
	"github.com/JakeFAU/factcheck-aggregator/internal/article"
	"github.com/JakeFAU/factcheck-aggregator/internal/categorizer"
	"github.com/JakeFAU/factcheck-aggregator/internal/checkpoint"
	"github.com/JakeFAU/factcheck-aggregator/internal/classify"
	"github.com/JakeFAU/factcheck-aggregator/internal/config"
	"github.com/JakeFAU/factcheck-aggregator/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Store() article.Store
	Ledger(ctx context.Context) (*checkpoint.Ledger, error)
	Runner(ctx context.Context, cat categorizer.Categorizer) (*classify.Runner, error)
	Close()
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

// loadConfig is a variable so tests can bypass files and environment.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "factcheck",
		Short: "Ingest and topic-classify fact-check articles.",
		Long: `factcheck maintains a deduplicated collection of fact-check articles,
classifies a stratified sample of them into a fixed topic set through a
language model, and records every outcome in a resumable checkpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyFlagOverrides(cmd, &cfg); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newClassifyCmd(),
		newPopulateCmd(),
		newIngestCmd(),
		newMissingCmd(),
		newServeCmd(),
	)
	return cmd
}

// applyFlagOverrides copies explicitly set command flags over the loaded
// configuration and validates the result again.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	changed := false
	if f := flags.Lookup("num-articles"); f != nil && f.Changed {
		n, err := flags.GetInt("num-articles")
		if err != nil {
			return fmt.Errorf("read --num-articles: %w", err)
		}
		cfg.Classify.NumArticles = n
		changed = true
	}
	if f := flags.Lookup("concurrency"); f != nil && f.Changed {
		n, err := flags.GetInt("concurrency")
		if err != nil {
			return fmt.Errorf("read --concurrency: %w", err)
		}
		cfg.Classify.Concurrency = n
		changed = true
	}
	if f := flags.Lookup("model"); f != nil && f.Changed {
		cfg.Categorizer.Model = f.Value.String()
		changed = true
	}
	if f := flags.Lookup("csv"); f != nil && f.Changed {
		cfg.Checkpoint.Provider = config.ProviderLocal
		cfg.Checkpoint.Path = f.Value.String()
		changed = true
	}
	if f := flags.Lookup("port"); f != nil && f.Changed {
		n, err := flags.GetInt("port")
		if err != nil {
			return fmt.Errorf("read --port: %w", err)
		}
		cfg.Server.Port = n
		changed = true
	}
	if !changed {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. It exits non-zero when the command fails.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		logger, lerr := logging.New(false, "")
		if lerr != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		logger.Fatal("Command execution failed", zap.Error(err))
	}
}
