// Package worker runs the per-item harvest pipeline:
// Discovered → MetadataFetched → AssetsAcquired → Recorded, or Skipped.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	ImagesDir     string
	BooksDir      string
	SkipImages    bool
	SkipDocuments bool
}

// Worker drives items from discovery to a terminal state.
type Worker struct {
	parser  crawler.PageParser
	assets  crawler.AssetAcquirer
	records crawler.RecordStore
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker. records may be nil.
func New(
	parser crawler.PageParser,
	assets crawler.AssetAcquirer,
	records crawler.RecordStore,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		parser:  parser,
		assets:  assets,
		records: records,
		cfg:     cfg,
		logger:  logger,
	}
}

// Callbacks observe the items a worker takes from the queue. Either field
// may be nil.
type Callbacks struct {
	// Started is called once an item is dequeued and about to be processed.
	Started func(crawler.ItemRef)
	// Done receives every outcome. A non-nil error is fatal for the run.
	Done func(crawler.Outcome, error)
}

// Run consumes the queue until it is closed or ctx ends. Once ctx is done no
// further item is started, and anything still queued is dropped. An item
// already started runs to a terminal state regardless of ctx. A fatal error
// is reported through Done and stops this worker.
func (w *Worker) Run(ctx context.Context, runID string, queue crawler.Queue, cb Callbacks) {
	workCtx := context.WithoutCancel(ctx)
	for {
		ref, err := queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, crawler.ErrQueueClosed) && ctx.Err() == nil {
				w.logger.Error("queue dequeue failed", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			w.logger.Debug("item dropped after cancellation", zap.String("run_id", runID), zap.String("item_id", ref.ID))
			return
		}
		if cb.Started != nil {
			cb.Started(ref)
		}
		metrics.IncActiveWorkers()
		outcome, fatal := w.Process(workCtx, runID, ref)
		metrics.DecActiveWorkers()
		if cb.Done != nil {
			cb.Done(outcome, fatal)
		}
		if fatal != nil {
			return
		}
	}
}

// Process runs the full pipeline for one item. Item-level failures (not
// found, network, parse) end in a Skipped outcome and a nil error; anything
// else is returned as a fatal error for the run.
func (w *Worker) Process(ctx context.Context, runID string, ref crawler.ItemRef) (crawler.Outcome, error) {
	log := w.logger.With(zap.String("run_id", runID), zap.String("item_id", ref.ID))
	outcome := crawler.Outcome{Ref: ref, State: crawler.StateDiscovered}
	log.Debug("item state", zap.String("state", string(outcome.State)), zap.String("url", ref.URL))

	meta, err := w.parser.Parse(ctx, ref)
	if err != nil {
		return w.stop(log, outcome, err)
	}
	outcome.State = crawler.StateMetadataFetched
	log.Debug("item state", zap.String("state", string(outcome.State)), zap.String("title", meta.Title))

	var documentPath, coverPath string
	if !w.cfg.SkipDocuments {
		documentPath, err = w.assets.AcquireDocument(ctx, ref.ID, w.cfg.BooksDir, meta.Title)
		if err != nil {
			return w.stop(log, outcome, err)
		}
	}
	if !w.cfg.SkipImages {
		coverPath, err = w.assets.AcquireBinary(ctx, meta.CoverURL, w.cfg.ImagesDir)
		if err != nil {
			return w.stop(log, outcome, err)
		}
	}
	outcome.State = crawler.StateAssetsAcquired
	log.Debug("item state", zap.String("state", string(outcome.State)))

	outcome.Record = crawler.NewBookRecord(meta, coverPath, documentPath)
	if w.records != nil {
		if err := w.records.SaveBook(ctx, runID, ref, outcome.Record); err != nil {
			metrics.ObserveRecordStoreError()
			log.Warn("record store write failed", zap.Error(err))
		}
	}
	outcome.State = crawler.StateRecorded
	metrics.ObserveItem(string(crawler.StateRecorded))
	log.Debug("item state", zap.String("state", string(outcome.State)))
	return outcome, nil
}

// stop turns err into a Skipped outcome when it is item-granular, and into a
// fatal error otherwise.
func (w *Worker) stop(log *zap.Logger, outcome crawler.Outcome, err error) (crawler.Outcome, error) {
	reason := crawler.Classify(err)
	if reason == crawler.SkipNone {
		log.Error("item failed fatally", zap.String("state", string(outcome.State)), zap.Error(err))
		outcome.Err = err
		return outcome, fmt.Errorf("item %s: %w", outcome.Ref.ID, err)
	}
	outcome.State = crawler.StateSkipped
	outcome.Reason = reason
	outcome.Err = err
	metrics.ObserveItem(string(reason))

	level := zapcore.InfoLevel
	if reason == crawler.SkipParse {
		level = zapcore.WarnLevel
	}
	if ce := log.Check(level, "item skipped"); ce != nil {
		ce.Write(zap.String("reason", string(reason)), zap.String("url", outcome.Ref.URL), zap.Error(err))
	}
	return outcome, nil
}
