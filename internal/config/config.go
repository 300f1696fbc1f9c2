// Package config loads and validates aggregator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/factcheck-aggregator/internal/categorizer/openrouter"
	"github.com/JakeFAU/factcheck-aggregator/internal/classify"
	"github.com/JakeFAU/factcheck-aggregator/internal/storage/postgres"
)

// Provider names accepted by the store, checkpoint and notify sections.
const (
	ProviderPostgres = "postgres"
	ProviderMemory   = "memory"
	ProviderLocal    = "local"
	ProviderGCS      = "gcs"
	ProviderPubSub   = "pubsub"
	ProviderNone     = "none"
)

// DefaultCheckpointPath is the checkpoint file used when none is configured.
const DefaultCheckpointPath = "topic_classification_test.csv"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	DB          postgres.Config   `mapstructure:"db"`
	Store       StoreConfig       `mapstructure:"store"`
	Checkpoint  CheckpointConfig  `mapstructure:"checkpoint"`
	Categorizer openrouter.Config `mapstructure:"categorizer"`
	Classify    classify.Config   `mapstructure:"classify"`
	Server      ServerConfig      `mapstructure:"server"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Notify      NotifyConfig      `mapstructure:"notify"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StoreConfig selects the article store implementation.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
}

// CheckpointConfig selects where the classification checkpoint lives.
type CheckpointConfig struct {
	Provider string `mapstructure:"provider"`
	Path     string `mapstructure:"path"`
	Bucket   string `mapstructure:"bucket"`
	Object   string `mapstructure:"object"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig configures the optional Pushgateway used by batch commands.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// NotifyConfig configures run completion notifications.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FACTCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindLegacyEnv keeps the plain variable names deployments already export.
// The prefixed name wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"db.dsn":              {"FACTCHECK_DB_DSN", "DATABASE_URL"},
		"categorizer.api_key": {"FACTCHECK_CATEGORIZER_API_KEY", "OPENROUTER_API_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", postgres.DefaultTable)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("store.provider", ProviderPostgres)
	v.SetDefault("checkpoint.provider", ProviderLocal)
	v.SetDefault("checkpoint.path", DefaultCheckpointPath)
	v.SetDefault("checkpoint.bucket", "")
	v.SetDefault("checkpoint.object", DefaultCheckpointPath)
	v.SetDefault("categorizer.endpoint", openrouter.DefaultEndpoint)
	v.SetDefault("categorizer.model", openrouter.DefaultModel)
	v.SetDefault("categorizer.api_key", "")
	v.SetDefault("categorizer.timeout", openrouter.DefaultTimeout)
	v.SetDefault("categorizer.system_prompt", "")
	v.SetDefault("categorizer.rate_limit.rps", 0)
	v.SetDefault("categorizer.rate_limit.burst", 1)
	v.SetDefault("classify.num_articles", 10)
	v.SetDefault("classify.concurrency", 1)
	v.SetDefault("classify.page_size", 500)
	v.SetDefault("classify.retry.max_attempts", 1)
	v.SetDefault("classify.retry.base_delay", "500ms")
	v.SetDefault("classify.retry.max_delay", "10s")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cache_ttl", "1m")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "factcheck_classify")
	v.SetDefault("notify.provider", ProviderNone)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Store.Provider {
	case ProviderPostgres:
		if strings.TrimSpace(c.DB.DSN) == "" {
			return fmt.Errorf("db.dsn must be set when store.provider is %q", ProviderPostgres)
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("unknown store.provider %q", c.Store.Provider)
	}

	switch c.Checkpoint.Provider {
	case ProviderLocal:
		if strings.TrimSpace(c.Checkpoint.Path) == "" {
			return fmt.Errorf("checkpoint.path must be set when checkpoint.provider is %q", ProviderLocal)
		}
	case ProviderGCS:
		if c.Checkpoint.Bucket == "" || c.Checkpoint.Object == "" {
			return fmt.Errorf("checkpoint.bucket and checkpoint.object must be set when checkpoint.provider is %q", ProviderGCS)
		}
	default:
		return fmt.Errorf("unknown checkpoint.provider %q", c.Checkpoint.Provider)
	}

	if c.Classify.NumArticles <= 0 {
		return fmt.Errorf("classify.num_articles must be > 0")
	}
	if c.Classify.Concurrency <= 0 {
		return fmt.Errorf("classify.concurrency must be > 0")
	}
	if c.Classify.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("classify.retry.max_attempts must be > 0")
	}
	if c.Categorizer.Timeout <= 0 {
		return fmt.Errorf("categorizer.timeout must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}

	switch c.Notify.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderPubSub:
		if c.Notify.ProjectID == "" || c.Notify.TopicID == "" {
			return fmt.Errorf("notify.project_id and notify.topic_id must be set when notify.provider is %q", ProviderPubSub)
		}
	default:
		return fmt.Errorf("unknown notify.provider %q", c.Notify.Provider)
	}
	return nil
}
