// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix namespaces environment overrides, e.g. HARVESTER_CATALOG_CATEGORY.
const EnvPrefix = "HARVESTER"

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Output   OutputConfig   `mapstructure:"output"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"db"`
	Manifest ManifestConfig `mapstructure:"manifest"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// CatalogConfig locates the catalog and the slice of it to harvest.
type CatalogConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Category string `mapstructure:"category"`
	// StartPage is inclusive, EndPage exclusive. EndPage 0 means "discover".
	StartPage int `mapstructure:"start_page"`
	EndPage   int `mapstructure:"end_page"`
	// IDStart/IDEnd select item ids [IDStart, IDEnd) directly instead of
	// walking the listing. Both zero disables id mode.
	IDStart int `mapstructure:"id_start"`
	IDEnd   int `mapstructure:"id_end"`
}

// OutputConfig sets where assets and the manifest land. Directories are
// absolute once Load returns.
type OutputConfig struct {
	DestDir       string `mapstructure:"dest_dir"`
	BooksDir      string `mapstructure:"books_dir"`
	ImagesDir     string `mapstructure:"images_dir"`
	ManifestPath  string `mapstructure:"manifest_path"`
	SkipImages    bool   `mapstructure:"skip_images"`
	SkipDocuments bool   `mapstructure:"skip_documents"`
}

// CrawlerConfig governs the worker pool.
type CrawlerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	UserAgent   string `mapstructure:"user_agent"`
}

// HTTPConfig configures the HTTP client and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
	MaxBodyBytes     int `mapstructure:"max_body_bytes"`
	MaxRedirects     int `mapstructure:"max_redirects"`
}

// LoggingConfig toggles zap development features and verbosity.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DBConfig controls the optional Postgres book index.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ManifestConfig controls manifest formatting and the optional GCS mirror.
type ManifestConfig struct {
	Indent    int    `mapstructure:"indent"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// PubSubConfig holds metadata for the run-completed notification.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// NewViper returns a Viper instance with defaults and environment binding in
// place, ready for flags to be bound onto it.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return FromViper(NewViper(), path)
}

// FromViper reads the optional config file into v, then unmarshals,
// normalizes and validates the result.
func FromViper(v *viper.Viper, path string) (Config, error) {
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
	if err := cfg.resolvePaths(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.base_url", "https://tululu.org/")
	v.SetDefault("catalog.category", "55")
	v.SetDefault("catalog.start_page", 1)
	v.SetDefault("catalog.end_page", 0)
	v.SetDefault("catalog.id_start", 0)
	v.SetDefault("catalog.id_end", 0)
	v.SetDefault("output.dest_dir", "media")
	v.SetDefault("output.books_dir", "")
	v.SetDefault("output.images_dir", "")
	v.SetDefault("output.manifest_path", "")
	v.SetDefault("output.skip_images", false)
	v.SetDefault("output.skip_documents", false)
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.user_agent", "catalog-harvester/0.1")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 0)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.max_body_bytes", 64<<20)
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "books")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("manifest.indent", 0)
	v.SetDefault("manifest.gcs_bucket", "")
	v.SetDefault("manifest.gcs_prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	base, err := url.Parse(c.Catalog.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return fmt.Errorf("catalog.base_url must be an absolute http(s) url")
	}
	if strings.TrimSpace(c.Catalog.Category) == "" {
		return fmt.Errorf("catalog.category is required")
	}
	if c.Catalog.StartPage < 1 {
		return fmt.Errorf("catalog.start_page must be >= 1")
	}
	if c.Catalog.EndPage != 0 && c.Catalog.EndPage < c.Catalog.StartPage {
		return fmt.Errorf("catalog.end_page must be 0 or >= catalog.start_page")
	}
	if c.Catalog.IDStart < 0 || c.Catalog.IDEnd < c.Catalog.IDStart {
		return fmt.Errorf("catalog.id_end must be >= catalog.id_start >= 0")
	}
	if strings.TrimSpace(c.Output.DestDir) == "" {
		return fmt.Errorf("output.dest_dir is required")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be > 0")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	if c.Manifest.Indent < 0 {
		return fmt.Errorf("manifest.indent must be >= 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// resolvePaths fills derived output paths and makes all of them absolute.
func (c *Config) resolvePaths() error {
	dest, err := filepath.Abs(c.Output.DestDir)
	if err != nil {
		return fmt.Errorf("resolve output.dest_dir: %w", err)
	}
	c.Output.DestDir = dest
	resolve := func(p *string, fallback string) error {
		if strings.TrimSpace(*p) == "" {
			*p = filepath.Join(dest, fallback)
			return nil
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
		return nil
	}
	if err := resolve(&c.Output.BooksDir, "books"); err != nil {
		return err
	}
	if err := resolve(&c.Output.ImagesDir, "images"); err != nil {
		return err
	}
	return resolve(&c.Output.ManifestPath, "books.json")
}

// IDMode reports whether items are addressed by id range instead of listing.
func (c Config) IDMode() bool {
	return c.Catalog.IDEnd > c.Catalog.IDStart
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ManifestIndent renders the configured indentation width.
func (c Config) ManifestIndent() string {
	return strings.Repeat(" ", c.Manifest.Indent)
}
