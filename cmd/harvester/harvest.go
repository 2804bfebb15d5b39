package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/logging"
)

// flagKeys maps flags onto the config keys they override.
var flagKeys = map[string]string{
	"start-page":  "catalog.start_page",
	"end-page":    "catalog.end_page",
	"category":    "catalog.category",
	"dest-folder": "output.dest_dir",
	"skip-imgs":   "output.skip_images",
	"skip-txt":    "output.skip_documents",
	"concurrency": "crawler.concurrency",
	"log-level":   "logging.level",
	"serve":       "server.enabled",
}

func newHarvestCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest a page range of the catalog",
		Long: `Walks listing pages [start-page, end-page) of the configured category,
or the item ids given with --ids, and records every book that has both a
detail page and a text document. When --end-page is omitted the last page
is read from the listing's page navigation.`,
		Example: `  harvester harvest --start-page 1 --end-page 5 --dest-folder media
  harvester harvest --ids 1-10 --skip-imgs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, v)
		},
	}

	f := cmd.Flags()
	f.Int("start-page", 1, "first listing page to harvest (inclusive)")
	f.Int("end-page", 0, "listing page to stop at (exclusive); 0 discovers the last page")
	f.String("category", "", "catalog category id (defaults to catalog.category)")
	f.String("dest-folder", "media", "root folder for books/ and images/")
	f.String("json-path", "", "folder for books.json (defaults to --dest-folder)")
	f.Bool("skip-imgs", false, "do not download covers")
	f.Bool("skip-txt", false, "do not download text documents")
	f.Int("concurrency", 1, "items processed at once")
	f.String("ids", "", "harvest an inclusive item id range such as 1-10 instead of the listing")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.Bool("serve", false, "expose progress, metrics and health endpoints while harvesting")

	for name, key := range flagKeys {
		_ = v.BindPFlag(key, f.Lookup(name))
	}
	return cmd
}

func runHarvest(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadConfig(cmd, v)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	harvester, err := app.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize harvester: %w", err)
	}
	defer harvester.Close()

	res, err := harvester.Run(cmd.Context())
	if res.ManifestWritten {
		fmt.Fprintf(cmd.OutOrStdout(), "recorded %d books, skipped %d; manifest %s\n",
			res.Report.Recorded, res.Report.SkippedTotal(), cfg.Output.ManifestPath)
	} else if err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "no books recorded; manifest left untouched")
	}
	return err
}

// loadConfig applies flags that do not map one-to-one onto config keys, then
// resolves and validates the merged configuration.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (config.Config, error) {
	f := cmd.Flags()
	if f.Changed("json-path") {
		dir, _ := f.GetString("json-path")
		v.Set("output.manifest_path", filepath.Join(dir, "books.json"))
	}
	if f.Changed("ids") {
		raw, _ := f.GetString("ids")
		start, end, err := parseIDRange(raw)
		if err != nil {
			return config.Config{}, err
		}
		v.Set("catalog.id_start", start)
		v.Set("catalog.id_end", end+1)
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.FromViper(v, path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// parseIDRange parses "first-last" (inclusive) or a single id.
func parseIDRange(raw string) (int, int, error) {
	first, last, found := strings.Cut(strings.TrimSpace(raw), "-")
	if !found {
		last = first
	}
	start, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, 0, fmt.Errorf("--ids: invalid first id %q", first)
	}
	end, err := strconv.Atoi(strings.TrimSpace(last))
	if err != nil {
		return 0, 0, fmt.Errorf("--ids: invalid last id %q", last)
	}
	if start < 1 || end < start {
		return 0, 0, fmt.Errorf("--ids: range %q must satisfy 1 <= first <= last", raw)
	}
	return start, end, nil
}
