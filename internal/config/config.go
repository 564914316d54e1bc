// Package config loads and validates audit configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/stream-embed-audit/internal/audit"
	"github.com/JakeFAU/stream-embed-audit/internal/graph"
	"github.com/JakeFAU/stream-embed-audit/internal/retry"
)

// EnvPrefix prefixes every environment override, e.g. STREAMAUDIT_AUTH_CLIENT_SECRET.
const EnvPrefix = "STREAMAUDIT"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Graph    GraphConfig    `mapstructure:"graph"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Output   OutputConfig   `mapstructure:"output"`
	Export   ExportConfig   `mapstructure:"export"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// GraphConfig controls the API transport.
type GraphConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateBurst      int     `mapstructure:"rate_burst"`
	UserAgent      string  `mapstructure:"user_agent"`
}

// AuthConfig holds the app registration used for client-credentials login.
type AuthConfig struct {
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenURL     string `mapstructure:"token_url"`
}

// CrawlConfig shapes the traversal.
type CrawlConfig struct {
	SiteID      string `mapstructure:"site_id"`
	PageSize    int    `mapstructure:"page_size"`
	ResultSize  int    `mapstructure:"result_size"`
	CacheOwners bool   `mapstructure:"cache_owners"`
}

// RetryConfig bounds the per-call retry counters.
type RetryConfig struct {
	MaxRetries         int `mapstructure:"max_retries"`
	BackoffBaseSeconds int `mapstructure:"backoff_base_seconds"`
}

// OutputConfig places local result files.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// ExportConfig selects where completed files are uploaded.
type ExportConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Provider       string   `mapstructure:"provider"`
	ResourceGroup  string   `mapstructure:"resource_group"`
	StorageAccount string   `mapstructure:"storage_account"`
	ServiceURL     string   `mapstructure:"service_url"`
	Container      string   `mapstructure:"container"`
	Prefix         string   `mapstructure:"prefix"`
	OnFailure      string   `mapstructure:"on_failure"`
	LocalDir       string   `mapstructure:"local_dir"`
	S3             S3Config `mapstructure:"s3"`
}

// S3Config configures the S3-compatible provider.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Region          string `mapstructure:"region"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// PostgresConfig enables the match mirror.
type PostgresConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	DSN        string `mapstructure:"dsn"`
	MatchTable string `mapstructure:"match_table"`
	RunTable   string `mapstructure:"run_table"`
	MaxConns   int32  `mapstructure:"max_conns"`
}

// PubSubConfig enables upload notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig exposes Prometheus metrics while a crawl runs. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Verbose bool `mapstructure:"verbose"`
}

// Export providers.
const (
	ProviderAzure = "azure"
	ProviderGCS   = "gcs"
	ProviderS3    = "s3"
	ProviderLocal = "local"
)

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"site-id":         "crawl.site_id",
	"page-size":       "crawl.page_size",
	"result-size":     "crawl.result_size",
	"cache-owners":    "crawl.cache_owners",
	"export":          "export.enabled",
	"provider":        "export.provider",
	"resource-group":  "export.resource_group",
	"storage-account": "export.storage_account",
	"container":       "export.container",
	"max-retry":       "retry.max_retries",
	"output-dir":      "output.dir",
	"metrics-addr":    "metrics.addr",
	"verbose":         "logging.verbose",
}

// Load builds a Config from defaults, an optional file, the environment and
// flags, in increasing precedence. With an empty path a config.yaml is
// looked up in the working directory and the user's config directory; a
// missing file is not an error.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := bindFlags(v, flags); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.stream-embed-audit")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("graph.base_url", graph.DefaultBaseURL)
	v.SetDefault("graph.timeout_seconds", 60)
	v.SetDefault("graph.rate_limit", 0)
	v.SetDefault("graph.rate_burst", 1)
	v.SetDefault("graph.user_agent", "stream-embed-audit/1.0")
	v.SetDefault("auth.tenant_id", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.token_url", "")
	v.SetDefault("crawl.site_id", "")
	v.SetDefault("crawl.page_size", 200)
	v.SetDefault("crawl.result_size", 5000)
	v.SetDefault("crawl.cache_owners", false)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.backoff_base_seconds", 5)
	v.SetDefault("output.dir", ".")
	v.SetDefault("export.enabled", false)
	v.SetDefault("export.provider", ProviderAzure)
	v.SetDefault("export.resource_group", "")
	v.SetDefault("export.storage_account", "")
	v.SetDefault("export.service_url", "")
	v.SetDefault("export.container", "")
	v.SetDefault("export.prefix", "")
	v.SetDefault("export.on_failure", "abort")
	v.SetDefault("export.local_dir", "")
	v.SetDefault("export.s3.endpoint", "")
	v.SetDefault("export.s3.access_key_id", "")
	v.SetDefault("export.s3.secret_access_key", "")
	v.SetDefault("export.s3.region", "")
	v.SetDefault("export.s3.use_ssl", true)
	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.match_table", "stream_embed_matches")
	v.SetDefault("postgres.run_table", "stream_embed_runs")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.verbose", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.PageSize <= 0 {
		return fmt.Errorf("crawl.page_size must be > 0")
	}
	if c.Crawl.ResultSize < 0 {
		return fmt.Errorf("crawl.result_size must be >= 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Graph.TimeoutSeconds <= 0 {
		return fmt.Errorf("graph.timeout_seconds must be > 0")
	}
	switch c.Export.OnFailure {
	case "abort", "continue":
	default:
		return fmt.Errorf("export.on_failure must be abort or continue, got %q", c.Export.OnFailure)
	}
	if c.Export.Enabled {
		if err := c.Export.validate(); err != nil {
			return err
		}
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn must be set when postgres is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	return nil
}

func (e ExportConfig) validate() error {
	if e.Container == "" {
		return fmt.Errorf("export.container must be set when export is enabled")
	}
	switch e.Provider {
	case ProviderAzure:
		if e.StorageAccount == "" && e.ServiceURL == "" {
			return fmt.Errorf("export.storage_account must be set for the azure provider")
		}
	case ProviderGCS:
	case ProviderS3:
		if e.S3.Endpoint == "" {
			return fmt.Errorf("export.s3.endpoint must be set for the s3 provider")
		}
	case ProviderLocal:
		if e.LocalDir == "" {
			return fmt.Errorf("export.local_dir must be set for the local provider")
		}
	default:
		return fmt.Errorf("unknown export.provider %q", e.Provider)
	}
	return nil
}

// CrawlOptions returns the traversal options for this run.
func (c Config) CrawlOptions() audit.Options {
	return audit.Options{
		SiteID:      c.Crawl.SiteID,
		PageSize:    c.Crawl.PageSize,
		ResultSize:  c.Crawl.ResultSize,
		CacheOwners: c.Crawl.CacheOwners,
	}
}

// RetryOptions returns the per-call retry bounds.
func (c Config) RetryOptions() retry.Options {
	return retry.Options{
		MaxRetries:  c.Retry.MaxRetries,
		BackoffBase: time.Duration(c.Retry.BackoffBaseSeconds) * time.Second,
	}
}

// GraphClientConfig returns the transport settings.
func (c Config) GraphClientConfig() graph.Config {
	return graph.Config{
		BaseURL:   c.Graph.BaseURL,
		Timeout:   time.Duration(c.Graph.TimeoutSeconds) * time.Second,
		RateLimit: c.Graph.RateLimit,
		RateBurst: c.Graph.RateBurst,
		UserAgent: c.Graph.UserAgent,
	}
}

// Credentials returns the client-credentials settings.
func (c Config) Credentials() graph.CredentialsConfig {
	return graph.CredentialsConfig{
		TenantID:     c.Auth.TenantID,
		ClientID:     c.Auth.ClientID,
		ClientSecret: c.Auth.ClientSecret,
		TokenURL:     c.Auth.TokenURL,
	}
}
