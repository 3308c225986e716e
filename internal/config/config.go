// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/feedharvest/internal/crawler"
)

// Expansion backends.
const (
	BackendNewTab = "newtab"
	BackendFrame  = "iframe"
	BackendFetch  = "fetch"
	BackendNone   = "none"
)

// Output backends.
const (
	OutputLocal  = "local"
	OutputGCS    = "gcs"
	OutputS3     = "s3"
	OutputMemory = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Feed      FeedConfig      `mapstructure:"feed"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Expansion ExpansionConfig `mapstructure:"expansion"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Output    OutputConfig    `mapstructure:"output"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// FeedConfig locates the feed and its markup.
type FeedConfig struct {
	URL  string `mapstructure:"url"`
	User string `mapstructure:"user"`
	// SnapshotPath harvests a saved page instead of a live browser.
	SnapshotPath string            `mapstructure:"snapshot_path"`
	Selectors    crawler.Selectors `mapstructure:"selectors"`
}

// CrawlConfig holds the scroll pacing and termination policy.
type CrawlConfig struct {
	ScrollDelayMin      time.Duration `mapstructure:"scroll_delay_min"`
	ScrollDelayMax      time.Duration `mapstructure:"scroll_delay_max"`
	ScrollDistanceMin   int           `mapstructure:"scroll_distance_min"`
	ScrollDistanceMax   int           `mapstructure:"scroll_distance_max"`
	MaxUnchangedScrolls int           `mapstructure:"max_unchanged_scrolls"`
	CheckpointInterval  int           `mapstructure:"checkpoint_interval"`
	FinalFlushTimeout   time.Duration `mapstructure:"final_flush_timeout"`
	// Seed makes scroll distances and delays reproducible; zero seeds from
	// the clock.
	Seed uint64 `mapstructure:"seed"`
}

// ExpansionConfig selects and tunes the truncated-text backend.
type ExpansionConfig struct {
	Backend      string        `mapstructure:"backend"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxRetries   int           `mapstructure:"max_retries"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FetchQPS     float64       `mapstructure:"fetch_qps"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Headless    bool          `mapstructure:"headless"`
	UserAgent   string        `mapstructure:"user_agent"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	RemoteURL   string        `mapstructure:"remote_url"`
	UserDataDir string        `mapstructure:"user_data_dir"`
}

// OutputConfig sets where checkpoints go.
type OutputConfig struct {
	Prefix       string `mapstructure:"prefix"`
	Backend      string `mapstructure:"backend"`
	Dir          string `mapstructure:"dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	S3Bucket     string `mapstructure:"s3_bucket"`
	S3Region     string `mapstructure:"s3_region"`
	S3Endpoint   string `mapstructure:"s3_endpoint"`
	ObjectPrefix string `mapstructure:"object_prefix"`
	ContentType  string `mapstructure:"content_type"`
}

// DBConfig enables the Postgres record mirror when DSN is set.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig enables checkpoint notifications when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the admin HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig names the traced service.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// LoadOption adjusts the Viper instance before the config is decoded.
type LoadOption func(v *viper.Viper) error

// BindFlag lets a command-line flag override key when the flag is set.
func BindFlag(key string, flag *pflag.Flag) LoadOption {
	return func(v *viper.Viper) error {
		if flag == nil {
			return nil
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
		return nil
	}
}

// Load builds a Config from defaults, an optional file, HARVEST_*
// environment variables and bound flags, in increasing precedence.
func Load(path string, opts ...LoadOption) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return Config{}, err
		}
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

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	crawl := crawler.DefaultConfig()
	sel := crawler.DefaultSelectors()

	v.SetDefault("feed.url", "https://x.com/home")
	v.SetDefault("feed.user", crawl.User)
	v.SetDefault("feed.snapshot_path", "")
	v.SetDefault("feed.selectors.article", sel.Article)
	v.SetDefault("feed.selectors.text", sel.Text)
	v.SetDefault("feed.selectors.show_more", sel.ShowMore)
	v.SetDefault("feed.selectors.permalink", sel.Permalink)
	v.SetDefault("feed.selectors.timestamp", sel.Timestamp)
	v.SetDefault("feed.selectors.main_article", sel.MainArticle)

	v.SetDefault("crawl.scroll_delay_min", crawl.DelayMin)
	v.SetDefault("crawl.scroll_delay_max", crawl.DelayMax)
	v.SetDefault("crawl.scroll_distance_min", crawl.ScrollMin)
	v.SetDefault("crawl.scroll_distance_max", crawl.ScrollMax)
	v.SetDefault("crawl.max_unchanged_scrolls", crawl.MaxUnchangedScrolls)
	v.SetDefault("crawl.checkpoint_interval", crawl.CheckpointInterval)
	v.SetDefault("crawl.final_flush_timeout", crawl.FinalFlushTimeout)
	v.SetDefault("crawl.seed", 0)

	v.SetDefault("expansion.backend", BackendNewTab)
	v.SetDefault("expansion.initial_delay", time.Second)
	v.SetDefault("expansion.poll_interval", 500*time.Millisecond)
	v.SetDefault("expansion.max_retries", 10)
	v.SetDefault("expansion.timeout", crawl.ExpansionTimeout)
	v.SetDefault("expansion.fetch_qps", 1.0)

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.nav_timeout", 45*time.Second)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.user_data_dir", "")

	v.SetDefault("output.prefix", crawl.Prefix)
	v.SetDefault("output.backend", OutputLocal)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.s3_bucket", "")
	v.SetDefault("output.s3_region", "")
	v.SetDefault("output.s3_endpoint", "")
	v.SetDefault("output.object_prefix", "")
	v.SetDefault("output.content_type", crawler.DefaultContentType)

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "harvested_records")
	v.SetDefault("db.max_conns", 4)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.service_name", "feedharvest")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Feed.URL == "" && c.Feed.SnapshotPath == "" {
		return fmt.Errorf("feed.url or feed.snapshot_path must be set")
	}
	if c.Feed.Selectors.Article == "" || c.Feed.Selectors.Text == "" {
		return fmt.Errorf("feed.selectors.article and feed.selectors.text must be set")
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	switch c.Expansion.Backend {
	case BackendNewTab, BackendFrame, BackendFetch, BackendNone:
	default:
		return fmt.Errorf("expansion.backend %q is not one of newtab, iframe, fetch, none", c.Expansion.Backend)
	}
	if c.Expansion.MaxRetries <= 0 {
		return fmt.Errorf("expansion.max_retries must be > 0")
	}
	if c.Expansion.PollInterval <= 0 {
		return fmt.Errorf("expansion.poll_interval must be > 0")
	}
	if c.Expansion.FetchQPS < 0 {
		return fmt.Errorf("expansion.fetch_qps must be >= 0")
	}
	if c.Feed.SnapshotPath != "" && (c.Expansion.Backend == BackendNewTab || c.Expansion.Backend == BackendFrame) {
		return fmt.Errorf("expansion.backend %q needs a live browser; use fetch or none with feed.snapshot_path", c.Expansion.Backend)
	}
	switch c.Output.Backend {
	case OutputLocal:
		if c.Output.Dir == "" {
			return fmt.Errorf("output.dir must be set for the local backend")
		}
	case OutputGCS:
		if c.Output.GCSBucket == "" {
			return fmt.Errorf("output.gcs_bucket must be set for the gcs backend")
		}
	case OutputS3:
		if c.Output.S3Bucket == "" {
			return fmt.Errorf("output.s3_bucket must be set for the s3 backend")
		}
	case OutputMemory:
	default:
		return fmt.Errorf("output.backend %q is not one of local, gcs, s3, memory", c.Output.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	return nil
}

// EngineConfig converts the crawl settings into the engine's policy.
func (c Config) EngineConfig() crawler.Config {
	return crawler.Config{
		Prefix:              c.Output.Prefix,
		User:                c.Feed.User,
		DelayMin:            c.Crawl.ScrollDelayMin,
		DelayMax:            c.Crawl.ScrollDelayMax,
		ScrollMin:           c.Crawl.ScrollDistanceMin,
		ScrollMax:           c.Crawl.ScrollDistanceMax,
		MaxUnchangedScrolls: c.Crawl.MaxUnchangedScrolls,
		CheckpointInterval:  c.Crawl.CheckpointInterval,
		ExpansionTimeout:    c.Expansion.Timeout,
		ExpansionBackend:    c.Expansion.Backend,
		FinalFlushTimeout:   c.Crawl.FinalFlushTimeout,
	}
}
