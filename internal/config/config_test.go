package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Catalog.Category != "55" || cfg.Catalog.StartPage != 1 || cfg.Catalog.EndPage != 0 {
		t.Fatalf("unexpected catalog defaults: %+v", cfg.Catalog)
	}
	if cfg.Crawler.Concurrency != 1 {
		t.Fatalf("expected sequential default, got %d", cfg.Crawler.Concurrency)
	}
	if cfg.HTTP.MaxRetries != 0 {
		t.Fatalf("expected no retries by default, got %d", cfg.HTTP.MaxRetries)
	}
	if !filepath.IsAbs(cfg.Output.DestDir) {
		t.Fatalf("expected absolute dest dir, got %q", cfg.Output.DestDir)
	}
	if cfg.Output.BooksDir != filepath.Join(cfg.Output.DestDir, "books") {
		t.Fatalf("unexpected books dir %q", cfg.Output.BooksDir)
	}
	if cfg.Output.ImagesDir != filepath.Join(cfg.Output.DestDir, "images") {
		t.Fatalf("unexpected images dir %q", cfg.Output.ImagesDir)
	}
	if cfg.Output.ManifestPath != filepath.Join(cfg.Output.DestDir, "books.json") {
		t.Fatalf("unexpected manifest path %q", cfg.Output.ManifestPath)
	}
	if cfg.IDMode() {
		t.Fatal("id mode must be off by default")
	}
	if got := cfg.RequestTimeout(); got != 15*time.Second {
		t.Fatalf("expected 15s timeout, got %v", got)
	}
	if cfg.ManifestIndent() != "" {
		t.Fatalf("expected compact manifest by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
catalog:
  base_url: https://catalog.test/
  category: "66"
  start_page: 3
  end_page: 7
output:
  dest_dir: ` + filepath.Join(dir, "media") + `
  manifest_path: ` + filepath.Join(dir, "json", "books.json") + `
  skip_images: true
crawler:
  concurrency: 6
  user_agent: real-agent
http:
  timeout_seconds: 45
  max_retries: 2
logging:
  development: false
  level: debug
server:
  enabled: true
  port: 9090
manifest:
  indent: 2
  gcs_bucket: bucket
pubsub:
  project_id: proj
  topic_name: harvests
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Catalog.BaseURL != "https://catalog.test/" || cfg.Catalog.Category != "66" {
		t.Fatalf("expected catalog overrides, got %+v", cfg.Catalog)
	}
	if cfg.Catalog.StartPage != 3 || cfg.Catalog.EndPage != 7 {
		t.Fatalf("expected page range 3-7, got %+v", cfg.Catalog)
	}
	if cfg.Output.BooksDir != filepath.Join(dir, "media", "books") {
		t.Fatalf("unexpected books dir %q", cfg.Output.BooksDir)
	}
	if cfg.Output.ManifestPath != filepath.Join(dir, "json", "books.json") {
		t.Fatalf("unexpected manifest path %q", cfg.Output.ManifestPath)
	}
	if !cfg.Output.SkipImages || cfg.Output.SkipDocuments {
		t.Fatalf("unexpected skip flags: %+v", cfg.Output)
	}
	if cfg.Crawler.Concurrency != 6 || cfg.HTTP.MaxRetries != 2 {
		t.Fatalf("expected crawler overrides to apply")
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if !cfg.Server.Enabled || cfg.Server.Port != 9090 {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.ManifestIndent() != "  " || cfg.Manifest.GCSBucket != "bucket" {
		t.Fatalf("expected manifest overrides, got %+v", cfg.Manifest)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_CATALOG_CATEGORY", "77")
	t.Setenv("HARVESTER_CRAWLER_CONCURRENCY", "3")
	t.Setenv("HARVESTER_OUTPUT_SKIP_DOCUMENTS", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Catalog.Category != "77" || cfg.Crawler.Concurrency != 3 || !cfg.Output.SkipDocuments {
		t.Fatalf("expected env overrides, got %+v %+v %+v", cfg.Catalog, cfg.Crawler, cfg.Output)
	}
}

func TestFromViperFlagStyleOverride(t *testing.T) {
	t.Parallel()

	v := NewViper()
	v.Set("catalog.id_start", 1)
	v.Set("catalog.id_end", 11)
	cfg, err := FromViper(v, "")
	if err != nil {
		t.Fatalf("FromViper() error = %v", err)
	}
	if !cfg.IDMode() {
		t.Fatal("expected id mode")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Catalog: CatalogConfig{BaseURL: "https://catalog.test/", Category: "55", StartPage: 1},
		Output:  OutputConfig{DestDir: "media"},
		Crawler: CrawlerConfig{Concurrency: 1},
		HTTP:    HTTPConfig{TimeoutSeconds: 10, MaxBodyBytes: 1024},
		Logging: LoggingConfig{Level: "info"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config must be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "relative base url", mutate: func(c *Config) { c.Catalog.BaseURL = "/l55/" }, want: "catalog.base_url"},
		{name: "ftp base url", mutate: func(c *Config) { c.Catalog.BaseURL = "ftp://catalog.test/" }, want: "catalog.base_url"},
		{name: "missing category", mutate: func(c *Config) { c.Catalog.Category = " " }, want: "catalog.category"},
		{name: "zero start page", mutate: func(c *Config) { c.Catalog.StartPage = 0 }, want: "catalog.start_page"},
		{name: "end before start", mutate: func(c *Config) { c.Catalog.StartPage, c.Catalog.EndPage = 5, 3 }, want: "catalog.end_page"},
		{name: "inverted id range", mutate: func(c *Config) { c.Catalog.IDStart, c.Catalog.IDEnd = 10, 2 }, want: "catalog.id_end"},
		{name: "missing dest", mutate: func(c *Config) { c.Output.DestDir = "" }, want: "output.dest_dir"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "negative retries", mutate: func(c *Config) { c.HTTP.MaxRetries = -1 }, want: "http.max_retries"},
		{name: "invalid body limit", mutate: func(c *Config) { c.HTTP.MaxBodyBytes = 0 }, want: "http.max_body_bytes"},
		{name: "invalid level", mutate: func(c *Config) { c.Logging.Level = "loud" }, want: "logging.level"},
		{name: "server without port", mutate: func(c *Config) { c.Server.Enabled = true }, want: "server.port"},
		{name: "negative indent", mutate: func(c *Config) { c.Manifest.Indent = -1 }, want: "manifest.indent"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "harvests" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
