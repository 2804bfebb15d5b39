// Package dispatcher fans discovered items out to a bounded worker pool and
// reassembles the results in discovery order.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/queue/memory"
	"github.com/JakeFAU/catalog-harvester/internal/worker"
)

// Run states reported by Progress.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateFinished = "finished"
)

// Config controls the pool.
type Config struct {
	// Concurrency is the number of items processed at once. 1 reproduces a
	// strictly sequential crawl.
	Concurrency int
	// OnStart, when set, is called once the run ID is known and before any
	// item is discovered. An error aborts the run.
	OnStart func(ctx context.Context, runID string, startedAt time.Time) error
}

// Progress is a point-in-time view of a run.
type Progress struct {
	RunID        string    `json:"run_id"`
	State        string    `json:"state"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	Discovered   int64     `json:"discovered"`
	InFlight     int64     `json:"in_flight"`
	Recorded     int64     `json:"recorded"`
	Skipped      int64     `json:"skipped"`
	PagesSkipped int64     `json:"pages_skipped"`
}

// Dispatcher owns one run at a time.
type Dispatcher struct {
	worker *worker.Worker
	ids    crawler.IDGenerator
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger

	mu        sync.RWMutex
	runID     string
	state     string
	startedAt time.Time

	discovered   atomic.Int64
	inFlight     atomic.Int64
	recorded     atomic.Int64
	skipped      atomic.Int64
	pagesSkipped atomic.Int64
}

// New creates a Dispatcher.
func New(
	w *worker.Worker,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		worker: w,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
		state:  StateIdle,
	}
}

type result struct {
	outcome crawler.Outcome
	fatal   error
}

// Run consumes items until the sequence ends, ctx is canceled or a worker
// reports a fatal error. Items a worker has started always reach a terminal
// state, even after cancellation, while items still queued at that point are
// dropped. When OnStart fails nothing was started and the report is empty.
// The report lists recorded books
// in discovery order. The returned error is the first fatal worker error, or
// the context error when the run was interrupted.
func (d *Dispatcher) Run(ctx context.Context, items iter.Seq2[crawler.ItemRef, error]) (crawler.Report, error) {
	runID, err := d.ids.NewID()
	if err != nil {
		return crawler.Report{}, fmt.Errorf("generate run id: %w", err)
	}
	report := crawler.Report{
		RunID:     runID,
		StartedAt: d.clock.Now(),
		Skipped:   map[crawler.SkipReason]int{},
	}
	log := d.logger.With(zap.String("run_id", runID))
	if d.cfg.OnStart != nil {
		if err := d.cfg.OnStart(ctx, runID, report.StartedAt); err != nil {
			return crawler.Report{}, fmt.Errorf("start run: %w", err)
		}
	}

	d.begin(runID, report.StartedAt)
	defer d.finish()

	log.Info("run started", zap.Int("concurrency", d.cfg.Concurrency))

	intakeCtx, stopIntake := context.WithCancel(ctx)
	defer stopIntake()

	queue := memory.NewQueue(d.cfg.Concurrency)
	results := make(chan result, d.cfg.Concurrency)

	var wg sync.WaitGroup
	for range d.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker.Run(intakeCtx, runID, queue, worker.Callbacks{
				Started: func(crawler.ItemRef) { d.inFlight.Add(1) },
				Done: func(o crawler.Outcome, fatal error) {
					d.inFlight.Add(-1)
					results <- result{outcome: o, fatal: fatal}
				},
			})
		}()
	}

	var (
		outcomes []crawler.Outcome
		fatalErr error
	)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for r := range results {
			outcomes = append(outcomes, r.outcome)
			switch {
			case r.fatal != nil:
				if fatalErr == nil {
					fatalErr = r.fatal
					stopIntake()
				}
			case r.outcome.State == crawler.StateRecorded:
				d.recorded.Add(1)
			case r.outcome.State == crawler.StateSkipped:
				d.skipped.Add(1)
			}
		}
	}()

	report.PagesSkipped = d.feed(intakeCtx, log, items, queue)
	queue.Close()
	wg.Wait()
	close(results)
	<-collected

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Ref.Index < outcomes[j].Ref.Index })
	report.Outcomes = outcomes
	report.Records = []crawler.BookRecord{}
	for _, o := range outcomes {
		switch o.State {
		case crawler.StateRecorded:
			report.Records = append(report.Records, o.Record)
			report.Recorded++
		case crawler.StateSkipped:
			report.Skipped[o.Reason]++
		}
	}
	report.FinishedAt = d.clock.Now()

	log.Info("run finished",
		zap.Int("recorded", report.Recorded),
		zap.Int("skipped", report.SkippedTotal()),
		zap.Int("skipped_not_found", report.Skipped[crawler.SkipNotFound]),
		zap.Int("skipped_network", report.Skipped[crawler.SkipNetwork]),
		zap.Int("skipped_parse", report.Skipped[crawler.SkipParse]),
		zap.Int("pages_skipped", report.PagesSkipped),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)

	if fatalErr != nil {
		return report, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run interrupted: %w", err)
	}
	return report, nil
}

// feed moves items from the sequence into the queue and returns the number
// of listing pages that had to be skipped.
func (d *Dispatcher) feed(
	ctx context.Context,
	log *zap.Logger,
	items iter.Seq2[crawler.ItemRef, error],
	queue crawler.Queue,
) int {
	pagesSkipped := 0
	for ref, err := range items {
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			var pageErr *crawler.PageError
			if errors.As(err, &pageErr) {
				log.Warn("listing page skipped", zap.Int("page", pageErr.Page), zap.Error(pageErr.Err))
			} else {
				log.Warn("discovery error", zap.Error(err))
			}
			pagesSkipped++
			d.pagesSkipped.Add(1)
			metrics.ObservePageSkipped()
			continue
		}
		if err := queue.Enqueue(ctx, ref); err != nil {
			break
		}
		d.discovered.Add(1)
	}
	return pagesSkipped
}

func (d *Dispatcher) begin(runID string, startedAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runID = runID
	d.state = StateRunning
	d.startedAt = startedAt
	d.discovered.Store(0)
	d.inFlight.Store(0)
	d.recorded.Store(0)
	d.skipped.Store(0)
	d.pagesSkipped.Store(0)
}

func (d *Dispatcher) finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateFinished
}

// Progress returns live counters for the current or last run.
func (d *Dispatcher) Progress() Progress {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Progress{
		RunID:        d.runID,
		State:        d.state,
		StartedAt:    d.startedAt,
		Discovered:   d.discovered.Load(),
		InFlight:     d.inFlight.Load(),
		Recorded:     d.recorded.Load(),
		Skipped:      d.skipped.Load(),
		PagesSkipped: d.pagesSkipped.Load(),
	}
}
