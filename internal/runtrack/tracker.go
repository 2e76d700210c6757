package runtrack

import (
	"context"
	"fmt"
	"time"

	"endpoint-reconciler/internal/models"
)

// Store is the slice of the persistent store the tracker needs.
type Store interface {
	CreateRun(ctx context.Context, run models.Run) error
	GetRun(ctx context.Context, runID string) (models.Run, error)
	GetWatermark(ctx context.Context, runID string) (models.Watermark, error)
	MarkExhausted(ctx context.Context, runID string) error
}

// ResumeError reports why a run could not be resumed.
type ResumeError struct {
	RunID  string
	Reason string
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("cannot resume run %s: %s", e.RunID, e.Reason)
}

// Tracker owns the run identity, the last-processed-ordinal watermark,
// and the resume decision. The watermark only moves forward, and only
// after a batch's outcomes are durably persisted.
type Tracker struct {
	store Store
	run   models.Run

	watermark int64
	processed int64
}

// StartNew mints a fresh run and persists it in the starting state.
func StartNew(ctx context.Context, store Store, mode string, source models.SourceTable) (*Tracker, error) {
	now := time.Now().UTC()
	run := models.Run{
		ID:        NewRunID(now),
		Mode:      mode,
		Source:    source,
		State:     models.RunStarting,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &Tracker{store: store, run: run}, nil
}

// Resume recovers a prior run. The watermark is re-derived from the
// store, never trusted from memory, so a crash after persistence but
// before bookkeeping loses nothing. It fails with ResumeError when the
// run has no recorded outcomes or is already exhausted.
func Resume(ctx context.Context, store Store, runID string) (*Tracker, error) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if run.State == models.RunExhausted {
		return nil, &ResumeError{RunID: runID, Reason: "run is already fully processed"}
	}
	wm, err := store.GetWatermark(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load watermark for %s: %w", runID, err)
	}
	if wm.OutcomeCount == 0 {
		return nil, &ResumeError{RunID: runID, Reason: "run has no recorded outcomes"}
	}
	run.State = models.RunActive
	return &Tracker{
		store:     store,
		run:       run,
		watermark: wm.MaxRecordID,
		processed: wm.OutcomeCount,
	}, nil
}

// Run returns a copy of the run this tracker owns.
func (t *Tracker) Run() models.Run { return t.run }

// Watermark is the highest ordinal covered by persisted outcomes.
func (t *Tracker) Watermark() int64 { return t.watermark }

// Processed is the outcome count for this run, including any recovered
// on resume.
func (t *Tracker) Processed() int64 { return t.processed }

// NextBatchNumber increments and returns the run's batch counter.
// Batch numbers are strictly increasing for audit purposes.
func (t *Tracker) NextBatchNumber() int {
	t.run.BatchCount++
	return t.run.BatchCount
}

// Advance moves the watermark past a persisted batch. Callers must only
// invoke this after the batch's outcomes are durably stored.
func (t *Tracker) Advance(outcomes []models.Outcome) {
	t.run.State = models.RunActive
	for _, o := range outcomes {
		if o.RecordID > t.watermark {
			t.watermark = o.RecordID
		}
	}
	t.processed += int64(len(outcomes))
}

// Exhaust marks the run fully processed, both in memory and in the store.
func (t *Tracker) Exhaust(ctx context.Context) error {
	t.run.State = models.RunExhausted
	if err := t.store.MarkExhausted(ctx, t.run.ID); err != nil {
		return fmt.Errorf("mark run %s exhausted: %w", t.run.ID, err)
	}
	return nil
}
