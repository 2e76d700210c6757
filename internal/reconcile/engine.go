package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"endpoint-reconciler/internal/models"
	"endpoint-reconciler/internal/retry"
	"endpoint-reconciler/internal/runtrack"
	"endpoint-reconciler/internal/snsclient"
	"endpoint-reconciler/internal/telemetry"
)

// Store is the slice of the persistent store the engine drives.
type Store interface {
	// FetchRecords returns up to limit records with ordinal strictly
	// greater than afterID, ordered ascending.
	FetchRecords(ctx context.Context, src models.SourceTable, afterID int64, limit int) ([]models.Record, error)
	// PersistBatch stores a batch's outcomes and the updated run row as
	// one transactional unit. Re-persisting the same batch is a no-op
	// thanks to the (run_id, record_id) uniqueness guard.
	PersistBatch(ctx context.Context, run models.Run, outcomes []models.Outcome) error
}

// EndpointClient performs the remote status/delete protocol.
type EndpointClient interface {
	CheckStatus(ctx context.Context, arn string) (snsclient.EndpointAttributes, error)
	DeleteEndpoint(ctx context.Context, arn string) error
}

// Retrier wraps one remote call with the retry policy, returning the
// transient retries consumed and the final error.
type Retrier interface {
	Do(ctx context.Context, op func(ctx context.Context) error) (int, error)
}

// Pacer spaces out batches to stay under remote rate limits. cost is the
// number of remote calls the next batch will issue.
type Pacer interface {
	Pause(ctx context.Context, cost int) error
}

// Config tunes one engine invocation.
type Config struct {
	Mode             string
	Source           models.SourceTable
	ChunkSize        int
	BatchSize        int
	ConcurrencyLimit int
	// RecordLimit caps how many records this invocation processes.
	// Zero means run to exhaustion.
	RecordLimit int64
	BatchPause  time.Duration
	// DryRun makes the delete mode check instead of delete, reporting
	// what would be removed.
	DryRun bool
}

// Summary is the final report of an engine invocation.
type Summary struct {
	RunID     string                  `json:"run_id"`
	Mode      string                  `json:"mode"`
	DryRun    bool                    `json:"dry_run,omitempty"`
	Total     int64                   `json:"total_processed"`
	Counts    map[models.Status]int64 `json:"counts"`
	Retries   int64                   `json:"transient_retries"`
	Batches   int                     `json:"batches"`
	Chunks    int                     `json:"chunks"`
	Watermark int64                   `json:"watermark"`
	Exhausted bool                    `json:"exhausted"`
	Elapsed   time.Duration           `json:"elapsed"`
}

// Engine composes the tracker, chunker, retry controller, and classifier
// into the chunk→batch→record pipeline. One engine drives one run.
type Engine struct {
	cfg     Config
	store   Store
	tracker *runtrack.Tracker
	client  EndpointClient
	retrier Retrier
	pacer   Pacer
	log     *slog.Logger
}

// New builds an engine. pacer may be nil, in which case a fixed
// BatchPause sleep is used between batches.
func New(cfg Config, store Store, tracker *runtrack.Tracker, client EndpointClient, retrier Retrier, pacer Pacer, log *slog.Logger) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = cfg.BatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, store: store, tracker: tracker, client: client, retrier: retrier, pacer: pacer, log: log}
}

// persistAttempts bounds wholesale batch re-persistence before the run
// aborts. Persistence is the commit boundary, so giving up leaves no
// partial state.
const persistAttempts = 3

// Run drives the pipeline until source exhaustion, the record limit, or
// cancellation. Cancellation is honored at batch boundaries only;
// in-flight remote calls finish first.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	sum := Summary{
		RunID:  e.tracker.Run().ID,
		Mode:   e.cfg.Mode,
		DryRun: e.cfg.DryRun,
		Counts: make(map[models.Status]int64),
	}

	e.log.Info("run loop starting",
		"run_id", sum.RunID, "mode", sum.Mode, "dry_run", sum.DryRun,
		"watermark", e.tracker.Watermark(),
		"chunk_size", e.cfg.ChunkSize, "batch_size", e.cfg.BatchSize)

	// Remote calls and persistence run on a context the stop signal
	// cannot cancel: an in-flight batch must finish and commit, and the
	// signal is honored at the next boundary check.
	callCtx := context.WithoutCancel(ctx)

	for {
		// Boundary between chunks is also a stop point.
		if err := ctx.Err(); err != nil {
			return e.finish(sum, start), err
		}

		fetch := e.cfg.ChunkSize
		if e.cfg.RecordLimit > 0 {
			remaining := e.cfg.RecordLimit - sum.Total
			if remaining <= 0 {
				break
			}
			if remaining < int64(fetch) {
				fetch = int(remaining)
			}
		}

		records, err := e.store.FetchRecords(ctx, e.cfg.Source, e.tracker.Watermark(), fetch)
		if err != nil {
			return e.finish(sum, start), fmt.Errorf("fetch chunk after %d: %w", e.tracker.Watermark(), err)
		}
		if len(records) == 0 {
			if err := e.tracker.Exhaust(callCtx); err != nil {
				return e.finish(sum, start), err
			}
			sum.Exhausted = true
			break
		}
		sum.Chunks++
		telemetry.ChunkCounter.Inc()

		for i, batch := range splitBatches(records, e.cfg.BatchSize) {
			// Stop signal is only honored here, between batches.
			if err := ctx.Err(); err != nil {
				return e.finish(sum, start), err
			}
			if i > 0 || sum.Batches > 0 {
				if err := e.pause(ctx, len(batch)); err != nil {
					return e.finish(sum, start), err
				}
			}

			batchNum := e.tracker.NextBatchNumber()
			outcomes, err := e.processBatch(callCtx, batchNum, batch)
			if err != nil {
				return e.finish(sum, start), fmt.Errorf("batch %d: %w", batchNum, err)
			}
			if err := e.persistBatch(callCtx, outcomes); err != nil {
				return e.finish(sum, start), fmt.Errorf("persist batch %d: %w", batchNum, err)
			}
			e.tracker.Advance(outcomes)
			sum.Batches++
			telemetry.BatchCounter.Inc()
			telemetry.WatermarkGauge.Set(float64(e.tracker.Watermark()))

			for _, o := range outcomes {
				sum.Total++
				sum.Counts[o.Status]++
				sum.Retries += int64(o.RetryCount)
				telemetry.OutcomeCounter.WithLabelValues(string(o.Status)).Inc()
				if o.RetryCount > 0 {
					telemetry.RetryCounter.Add(float64(o.RetryCount))
				}
			}

			e.log.Debug("batch persisted",
				"run_id", sum.RunID, "batch", batchNum,
				"size", len(outcomes), "watermark", e.tracker.Watermark())
		}

		if len(records) < fetch {
			// Short chunk: the source is exhausted, do not ask again.
			if err := e.tracker.Exhaust(callCtx); err != nil {
				return e.finish(sum, start), err
			}
			sum.Exhausted = true
			break
		}
	}

	sum = e.finish(sum, start)
	e.log.Info("run loop finished",
		"run_id", sum.RunID, "total", sum.Total, "batches", sum.Batches,
		"chunks", sum.Chunks, "watermark", sum.Watermark,
		"exhausted", sum.Exhausted, "elapsed", sum.Elapsed)
	return sum, nil
}

func (e *Engine) finish(sum Summary, start time.Time) Summary {
	sum.Watermark = e.tracker.Watermark()
	sum.Elapsed = time.Since(start)
	return sum
}

// processBatch fans a batch out over a bounded worker pool and joins
// before returning. Per-record failures become ERROR outcomes; only
// credential-level failures and cancellation abort the batch, leaving it
// unpersisted for the next resume.
func (e *Engine) processBatch(ctx context.Context, batchNum int, records []models.Record) ([]models.Outcome, error) {
	conc := e.cfg.ConcurrencyLimit
	if conc > len(records) {
		conc = len(records)
	}

	type job struct {
		idx int
		rec models.Record
	}
	jobs := make(chan job)
	outcomes := make([]models.Outcome, len(records))

	var (
		wg        sync.WaitGroup
		fatalOnce sync.Once
		fatal     error
	)
	for w := 0; w < conc; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				out, err := e.processRecord(ctx, batchNum, j.rec)
				if err != nil {
					fatalOnce.Do(func() { fatal = err })
					continue
				}
				outcomes[j.idx] = out
			}
		}()
	}
	for i, rec := range records {
		jobs <- job{idx: i, rec: rec}
	}
	close(jobs)
	wg.Wait()

	if fatal != nil {
		return nil, fatal
	}
	return outcomes, nil
}

func (e *Engine) processRecord(ctx context.Context, batchNum int, rec models.Record) (models.Outcome, error) {
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	deleting := e.cfg.Mode == models.ModeDelete && !e.cfg.DryRun

	var attrs snsclient.EndpointAttributes
	retries, err := e.retrier.Do(ctx, func(ctx context.Context) error {
		if deleting {
			return e.client.DeleteEndpoint(ctx, rec.ARN)
		}
		var cerr error
		attrs, cerr = e.client.CheckStatus(ctx, rec.ARN)
		return cerr
	})
	if err != nil && fatalToRun(err) {
		return models.Outcome{}, fmt.Errorf("record %d: %w", rec.ID, err)
	}

	var v Verdict
	if deleting {
		v = ClassifyDelete(err)
	} else {
		v = ClassifyCheck(attrs, err)
	}

	return models.Outcome{
		RunID:       e.tracker.Run().ID,
		RecordID:    rec.ID,
		EndpointARN: rec.ARN,
		Status:      v.Status,
		Reason:      v.Reason,
		ErrorDetail: v.ErrorDetail,
		RetryCount:  retries,
		BatchNumber: batchNum,
		RecordedAt:  time.Now().UTC(),
	}, nil
}

// fatalToRun separates run-level failures from per-record ones. A record
// that cannot be checked is an ERROR outcome; a grant that cannot be
// acquired, or a cancelled context, stops the run.
func fatalToRun(err error) bool {
	return errors.Is(err, retry.ErrCredentials) ||
		errors.Is(err, retry.ErrRefreshBudget) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// persistBatch commits a batch wholesale, retrying the whole unit on
// failure. Re-insertion is idempotent, so a retry after a partial write
// cannot duplicate outcomes.
func (e *Engine) persistBatch(ctx context.Context, outcomes []models.Outcome) error {
	run := e.tracker.Run()
	run.State = models.RunActive

	var lastErr error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if attempt > 1 {
			telemetry.PersistRetryCount.Inc()
			if err := sleepCtx(ctx, time.Duration(attempt)*500*time.Millisecond); err != nil {
				return err
			}
		}
		lastErr = e.store.PersistBatch(ctx, run, outcomes)
		if lastErr == nil {
			return nil
		}
		e.log.Warn("batch persistence failed, retrying wholesale",
			"run_id", run.ID, "attempt", attempt, "error", lastErr)
	}
	return lastErr
}

func (e *Engine) pause(ctx context.Context, cost int) error {
	if e.pacer != nil {
		return e.pacer.Pause(ctx, cost)
	}
	if e.cfg.BatchPause <= 0 {
		return nil
	}
	return sleepCtx(ctx, e.cfg.BatchPause)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
