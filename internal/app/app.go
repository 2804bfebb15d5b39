// Package app wires the harvester's long-lived services from a validated
// config and runs one harvest with them.
package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"path/filepath"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-harvester/internal/api"
	"github.com/JakeFAU/catalog-harvester/internal/assets"
	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/clock/system"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/catalog-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-harvester/internal/hash/sha256"
	"github.com/JakeFAU/catalog-harvester/internal/id/uuid"
	"github.com/JakeFAU/catalog-harvester/internal/manifest"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/parser"
	memorypublisher "github.com/JakeFAU/catalog-harvester/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/catalog-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-harvester/internal/storage/gcs"
	"github.com/JakeFAU/catalog-harvester/internal/storage/local"
	"github.com/JakeFAU/catalog-harvester/internal/storage/postgres"
	"github.com/JakeFAU/catalog-harvester/internal/worker"
)

// DefaultTopic names the completion topic when no Pub/Sub topic is configured.
const DefaultTopic = "harvest.completed"

const shutdownTimeout = 10 * time.Second

// RunCompleted is published once per run, after the manifest is written.
type RunCompleted struct {
	RunID          string         `json:"run_id"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	Recorded       int            `json:"recorded"`
	Skipped        map[string]int `json:"skipped"`
	PagesSkipped   int            `json:"pages_skipped"`
	Interrupted    bool           `json:"interrupted"`
	ManifestPath   string         `json:"manifest_path,omitempty"`
	ManifestSHA256 string         `json:"manifest_sha256,omitempty"`
	ManifestBytes  int64          `json:"manifest_bytes,omitempty"`
}

// Result is what a finished harvest leaves behind.
type Result struct {
	Report          crawler.Report
	ManifestWritten bool
	ManifestSHA256  string
}

// App holds every service one harvest needs.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	paginator  *catalog.Paginator
	dispatcher *dispatcher.Dispatcher
	manifest   *manifest.Writer
	records    *postgres.BookStore
	publisher  crawler.Publisher
	topic      string
	hasher     *sha256.Hasher
	server     *http.Server
	closers    []func()
}

// Build constructs the App. Optional backends (Postgres, GCS, Pub/Sub, the
// status server) are only created when configured. On error everything
// already opened is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{
		cfg:    cfg,
		logger: logger,
		hasher: sha256.New(),
		topic:  cfg.PubSub.TopicName,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	base := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.RequestTimeout(),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		MaxRedirects: cfg.HTTP.MaxRedirects,
	}, logger.Named("fetcher"))
	policy := crawler.NewExponentialRetryPolicy(
		cfg.HTTP.MaxRetries,
		time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
	)
	fetcher := crawler.NewRetryingFetcher(base, policy, logger.Named("retry"))

	a.paginator, err = catalog.New(catalog.Config{
		BaseURL:  cfg.Catalog.BaseURL,
		Category: cfg.Catalog.Category,
	}, fetcher, logger.Named("catalog"))
	if err != nil {
		return nil, fmt.Errorf("build paginator: %w", err)
	}

	files, err := local.NewRoots(cfg.Output.BooksDir, cfg.Output.ImagesDir)
	if err != nil {
		return nil, fmt.Errorf("open asset store: %w", err)
	}
	acquirer, err := assets.New(assets.Config{BaseURL: cfg.Catalog.BaseURL}, fetcher, files, logger.Named("assets"))
	if err != nil {
		return nil, fmt.Errorf("build asset acquirer: %w", err)
	}

	var records crawler.RecordStore
	if cfg.DB.DSN != "" {
		a.records, err = postgres.NewBookStore(ctx, postgres.BookStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open book index: %w", err)
		}
		a.closers = append(a.closers, a.records.Close)
		if err := a.records.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure book index schema: %w", err)
		}
		records = a.records
		logger.Info("book index enabled", zap.String("table", cfg.DB.Table))
	}

	w := worker.New(parser.New(fetcher, logger.Named("parser")), acquirer, records, worker.Config{
		ImagesDir:     cfg.Output.ImagesDir,
		BooksDir:      cfg.Output.BooksDir,
		SkipImages:    cfg.Output.SkipImages,
		SkipDocuments: cfg.Output.SkipDocuments,
	}, logger.Named("worker"))

	dispatchCfg := dispatcher.Config{Concurrency: cfg.Crawler.Concurrency}
	if records != nil {
		dispatchCfg.OnStart = records.StartRun
	}
	a.dispatcher = dispatcher.New(w, uuid.New(), system.New(), dispatchCfg, logger.Named("dispatcher"))

	manifestCfg := manifest.Config{Indent: cfg.ManifestIndent()}
	if cfg.Manifest.GCSBucket != "" {
		client, clientErr := storage.NewClient(ctx)
		if clientErr != nil {
			return nil, fmt.Errorf("create gcs client: %w", clientErr)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		mirror, mirrorErr := gcs.New(client, gcs.Config{Bucket: cfg.Manifest.GCSBucket, Prefix: cfg.Manifest.GCSPrefix})
		if mirrorErr != nil {
			return nil, fmt.Errorf("build manifest mirror: %w", mirrorErr)
		}
		manifestCfg.Mirror = mirror
		manifestCfg.MirrorPath = filepath.Base(cfg.Output.ManifestPath)
		logger.Info("manifest mirror enabled", zap.String("bucket", cfg.Manifest.GCSBucket))
	}
	a.manifest = manifest.New(manifestCfg, logger.Named("manifest"))

	if cfg.PubSub.TopicName != "" {
		client, clientErr := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if clientErr != nil {
			return nil, fmt.Errorf("create pubsub client: %w", clientErr)
		}
		pub := pubsubpublisher.New(client)
		a.closers = append(a.closers, pub.Close, func() { _ = client.Close() })
		a.publisher = pub
	} else {
		a.publisher = memorypublisher.New()
		a.topic = DefaultTopic
	}

	if cfg.Server.Enabled {
		a.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewServer(a.dispatcher, logger.Named("api")).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

// Run harvests the configured slice of the catalog, writes the manifest and
// announces the run. An interrupted or failed run still writes the records it
// finished, and the returned error reports why the run stopped.
func (a *App) Run(ctx context.Context) (Result, error) {
	var g errgroup.Group
	serveCtx, stopServe := context.WithCancel(ctx)
	if a.server != nil {
		g.Go(func() error { return a.serve(serveCtx) })
	}
	defer func() {
		stopServe()
		if err := g.Wait(); err != nil {
			a.logger.Warn("status server stopped with error", zap.Error(err))
		}
	}()

	items, err := a.items(ctx)
	if err != nil {
		return Result{}, err
	}

	report, runErr := a.dispatcher.Run(ctx, items)
	// Finalization must survive the cancellation that interrupted the run.
	finalCtx := context.WithoutCancel(ctx)

	if a.records != nil && report.RunID != "" {
		if err := a.records.FinishRun(finalCtx, report, runErr); err != nil {
			a.logger.Warn("book index run update failed", zap.String("run_id", report.RunID), zap.Error(err))
		}
	}

	result := Result{Report: report}
	if report.RunID == "" {
		return result, runErr
	}

	path := a.cfg.Output.ManifestPath
	written, writeErr := a.manifest.Write(finalCtx, report.Records, path)
	result.ManifestWritten = written
	if writeErr != nil {
		writeErr = fmt.Errorf("write manifest: %w", writeErr)
	}

	event := RunCompleted{
		RunID:        report.RunID,
		StartedAt:    report.StartedAt,
		FinishedAt:   report.FinishedAt,
		Recorded:     report.Recorded,
		Skipped:      make(map[string]int, len(report.Skipped)),
		PagesSkipped: report.PagesSkipped,
		Interrupted:  runErr != nil,
	}
	for reason, n := range report.Skipped {
		event.Skipped[string(reason)] = n
	}
	if written {
		digest, size, hashErr := a.hasher.HashFile(path)
		if hashErr != nil {
			a.logger.Warn("manifest digest failed", zap.String("path", path), zap.Error(hashErr))
		} else {
			result.ManifestSHA256 = digest
			event.ManifestPath = path
			event.ManifestSHA256 = digest
			event.ManifestBytes = size
		}
		a.logger.Info("manifest written",
			zap.String("path", path),
			zap.Int("records", len(report.Records)),
			zap.String("sha256", digest),
		)
	}

	msgID, pubErr := a.publisher.Publish(finalCtx, a.topic, event)
	if pubErr != nil {
		a.logger.Warn("run notification failed", zap.String("topic", a.topic), zap.Error(pubErr))
	} else {
		a.logger.Debug("run notification published", zap.String("topic", a.topic), zap.String("message_id", msgID))
	}

	return result, errors.Join(runErr, writeErr)
}

// items picks the discovery mode: an explicit id range, or the listing walk
// with the end page discovered from the first listing page when unset.
func (a *App) items(ctx context.Context) (iter.Seq2[crawler.ItemRef, error], error) {
	c := a.cfg.Catalog
	if a.cfg.IDMode() {
		a.logger.Info("harvesting item id range", zap.Int("id_start", c.IDStart), zap.Int("id_end", c.IDEnd))
		return a.paginator.IDs(c.IDStart, c.IDEnd), nil
	}
	end := c.EndPage
	if end == 0 {
		last, err := a.paginator.DiscoverLastPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover last page: %w", err)
		}
		end = last
	}
	a.logger.Info("harvesting listing pages", zap.Int("start_page", c.StartPage), zap.Int("end_page", end))
	return a.paginator.Items(ctx, c.StartPage, end), nil
}

// serve runs the status server until ctx is done.
func (a *App) serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("status server started", zap.String("addr", a.server.Addr))
		errCh <- a.server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown: %w", err)
		}
		return nil
	}
}

// Progress exposes the dispatcher's live counters.
func (a *App) Progress() dispatcher.Progress {
	return a.dispatcher.Progress()
}

// Close releases every opened backend in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
