// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Site      SiteConfig      `mapstructure:"site"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Render    RenderConfig    `mapstructure:"render"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	History   HistoryConfig   `mapstructure:"history"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Pacing    PacingConfig    `mapstructure:"pacing"`
	Run       RunConfig       `mapstructure:"run"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SiteConfig identifies the news site being crawled.
type SiteConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Timezone string `mapstructure:"timezone"`
}

// CategoryConfig is one listing endpoint: the depth query id and its label.
type CategoryConfig struct {
	ID    string `mapstructure:"id"`
	Label string `mapstructure:"label"`
}

// DiscoveryConfig governs listing-page link discovery.
type DiscoveryConfig struct {
	ListingPath  string           `mapstructure:"listing_path"`
	Categories   []CategoryConfig `mapstructure:"categories"`
	LinkSelector string           `mapstructure:"link_selector"`
	MaxAttempts  int              `mapstructure:"max_attempts"`
	RetryDelay   time.Duration    `mapstructure:"retry_delay"`
	PageTimeout  time.Duration    `mapstructure:"page_timeout"`
	SettleDelay  time.Duration    `mapstructure:"settle_delay"`
}

// FetchConfig controls detail-page fetch retries and redirect detection.
type FetchConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffUnit       time.Duration `mapstructure:"backoff_unit"`
	PageTimeout       time.Duration `mapstructure:"page_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	RedirectThreshold int           `mapstructure:"redirect_threshold"`
	Indicators        []string      `mapstructure:"indicators"`
	TryVariants       bool          `mapstructure:"try_variants"`
	MobileHost        string        `mapstructure:"mobile_host"`
}

// RenderConfig selects and tunes the render collaborator.
type RenderConfig struct {
	Backend    string `mapstructure:"backend"`
	UserAgent  string `mapstructure:"user_agent"`
	ChromePath string `mapstructure:"chrome_path"`
	Headless   bool   `mapstructure:"headless"`
}

// ExtractConfig holds the per-strategy acceptance floors.
type ExtractConfig struct {
	MinTitleRunes      int `mapstructure:"min_title_runes"`
	StructuredFloor    int `mapstructure:"structured_floor"`
	DOMFloor           int `mapstructure:"dom_floor"`
	TextFloor          int `mapstructure:"text_floor"`
	RecoveryFloor      int `mapstructure:"recovery_floor"`
	StructuredMaxDepth int `mapstructure:"structured_max_depth"`
}

// HistoryConfig selects where accepted records are persisted.
type HistoryConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// NATSConfig describes the JetStream connection and stream.
type NATSConfig struct {
	URL      string        `mapstructure:"url"`
	Stream   string        `mapstructure:"stream"`
	Subjects []string      `mapstructure:"subjects"`
	MaxMsgs  int64         `mapstructure:"max_msgs"`
	MaxBytes int64         `mapstructure:"max_bytes"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// PubSubConfig holds Google Cloud Pub/Sub settings.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// PublisherConfig selects the downstream sink.
type PublisherConfig struct {
	Backend      string        `mapstructure:"backend"`
	Subject      string        `mapstructure:"subject"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	ProbeOnStart bool          `mapstructure:"probe_on_start"`
	NATS         NATSConfig    `mapstructure:"nats"`
	PubSub       PubSubConfig  `mapstructure:"pubsub"`
}

// ArchiveConfig controls the optional rendered-HTML snapshot archive.
type ArchiveConfig struct {
	Backend       string `mapstructure:"backend"`
	Dir           string `mapstructure:"dir"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	IncludeFailed bool   `mapstructure:"include_failed"`
}

// PacingConfig keeps detail fetches polite.
type PacingConfig struct {
	BatchSize  int           `mapstructure:"batch_size"`
	BatchPause time.Duration `mapstructure:"batch_pause"`
	RPS        float64       `mapstructure:"rps"`
	Burst      int           `mapstructure:"burst"`
}

// RunConfig bounds a single pipeline pass.
type RunConfig struct {
	Deadline time.Duration `mapstructure:"deadline"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLSCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://www.cls.cn")
	v.SetDefault("site.timezone", "Asia/Shanghai")

	v.SetDefault("discovery.listing_path", "/depth?id=%s")
	v.SetDefault("discovery.categories", []map[string]any{
		{"id": "1000", "label": "头条"},
		{"id": "1003", "label": "A股"},
		{"id": "1007", "label": "环球"},
	})
	v.SetDefault("discovery.link_selector", `a[href*="/detail/"]`)
	v.SetDefault("discovery.max_attempts", 3)
	v.SetDefault("discovery.retry_delay", 3*time.Second)
	v.SetDefault("discovery.page_timeout", 60*time.Second)
	v.SetDefault("discovery.settle_delay", 8*time.Second)

	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_unit", 2*time.Second)
	v.SetDefault("fetch.page_timeout", 90*time.Second)
	v.SetDefault("fetch.settle_delay", 12*time.Second)
	v.SetDefault("fetch.redirect_threshold", 3)
	v.SetDefault("fetch.try_variants", true)
	v.SetDefault("fetch.mobile_host", "m.cls.cn")

	v.SetDefault("render.backend", "chromedp")
	v.SetDefault("render.user_agent", "")
	v.SetDefault("render.headless", true)

	v.SetDefault("extract.min_title_runes", 5)
	v.SetDefault("extract.structured_floor", 50)
	v.SetDefault("extract.dom_floor", 100)
	v.SetDefault("extract.text_floor", 30)
	v.SetDefault("extract.recovery_floor", 30)
	v.SetDefault("extract.structured_max_depth", 10)

	v.SetDefault("history.backend", "jsonl")
	v.SetDefault("history.path", "data/cls.json")
	v.SetDefault("history.table", "cls_articles")

	v.SetDefault("publisher.backend", "nats")
	v.SetDefault("publisher.subject", "news.cls")
	v.SetDefault("publisher.max_attempts", 1)
	v.SetDefault("publisher.retry_backoff", 500*time.Millisecond)
	v.SetDefault("publisher.probe_on_start", true)
	v.SetDefault("publisher.nats.url", "nats://localhost:4222")
	v.SetDefault("publisher.nats.stream", "NEWS_STREAM")
	v.SetDefault("publisher.nats.subjects", []string{"news.>"})
	v.SetDefault("publisher.nats.max_msgs", 10000)
	v.SetDefault("publisher.nats.max_bytes", 100*1024*1024)
	v.SetDefault("publisher.nats.max_age", 7*24*time.Hour)

	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.dir", "data/snapshots")
	v.SetDefault("archive.prefix", "cls")

	v.SetDefault("pacing.batch_size", 3)
	v.SetDefault("pacing.batch_pause", 3*time.Second)
	v.SetDefault("pacing.rps", 0)
	v.SetDefault("pacing.burst", 1)

	v.SetDefault("run.deadline", 30*time.Minute)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.validateSite(); err != nil {
		return err
	}
	if len(c.Discovery.Categories) == 0 {
		return fmt.Errorf("discovery.categories must not be empty")
	}
	for i, cat := range c.Discovery.Categories {
		if cat.ID == "" || cat.Label == "" {
			return fmt.Errorf("discovery.categories[%d] requires id and label", i)
		}
	}
	if !strings.Contains(c.Discovery.ListingPath, "%s") {
		return fmt.Errorf("discovery.listing_path must contain %%s")
	}
	if c.Discovery.MaxAttempts <= 0 {
		return fmt.Errorf("discovery.max_attempts must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.PageTimeout <= 0 {
		return fmt.Errorf("fetch.page_timeout must be > 0")
	}
	if c.Fetch.RedirectThreshold <= 0 {
		return fmt.Errorf("fetch.redirect_threshold must be > 0")
	}
	if c.Extract.MinTitleRunes <= 0 {
		return fmt.Errorf("extract.min_title_runes must be > 0")
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	if c.Pacing.BatchSize < 0 || c.Pacing.BatchPause < 0 {
		return fmt.Errorf("pacing.batch_size and pacing.batch_pause must be >= 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

func (c Config) validateSite() error {
	u, err := url.Parse(c.Site.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site.base_url must be an absolute URL")
	}
	return nil
}

func (c Config) validateBackends() error {
	switch c.Render.Backend {
	case "chromedp", "static":
	default:
		return fmt.Errorf("render.backend %q must be chromedp or static", c.Render.Backend)
	}
	switch c.History.Backend {
	case "jsonl":
		if c.History.Path == "" {
			return fmt.Errorf("history.path must be set for the jsonl backend")
		}
	case "sqlite":
		if c.History.Path == "" {
			return fmt.Errorf("history.path must be set for the sqlite backend")
		}
	case "postgres":
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("history.backend %q must be jsonl, sqlite or postgres", c.History.Backend)
	}
	switch c.Publisher.Backend {
	case "nats":
		if c.Publisher.NATS.URL == "" || c.Publisher.NATS.Stream == "" {
			return fmt.Errorf("publisher.nats.url and publisher.nats.stream must be set")
		}
	case "pubsub":
		if c.Publisher.PubSub.ProjectID == "" || c.Publisher.PubSub.TopicName == "" {
			return fmt.Errorf("publisher.pubsub.project_id and publisher.pubsub.topic_name must be set")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("publisher.backend %q must be nats, pubsub, memory or none", c.Publisher.Backend)
	}
	if c.Publisher.Backend != "none" && c.Publisher.Subject == "" {
		return fmt.Errorf("publisher.subject must be set")
	}
	switch c.Archive.Backend {
	case "none", "memory":
	case "local":
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set for the local backend")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q must be none, memory, local or gcs", c.Archive.Backend)
	}
	return nil
}

// ListingURL builds the listing URL for a category.
func (c Config) ListingURL(cat CategoryConfig) string {
	return strings.TrimRight(c.Site.BaseURL, "/") + fmt.Sprintf(c.Discovery.ListingPath, cat.ID)
}
