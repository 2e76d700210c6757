package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"endpoint-reconciler/internal/models"
)

// ErrRunNotFound reports a run id with no row.
var ErrRunNotFound = errors.New("run not found")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateRun inserts a fresh run row.
func (s *Store) CreateRun(ctx context.Context, run models.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reconciliation_runs
			(run_id, mode, source_table, id_column, arn_column, state, batch_count, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, run.ID, run.Mode, run.Source.Table, run.Source.IDColumn, run.Source.ARNColumn,
		run.State, run.BatchCount, run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (models.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, mode, source_table, id_column, arn_column, state, batch_count, started_at, updated_at
		FROM reconciliation_runs WHERE run_id = $1
	`, runID)

	var run models.Run
	err := row.Scan(&run.ID, &run.Mode, &run.Source.Table, &run.Source.IDColumn,
		&run.Source.ARNColumn, &run.State, &run.BatchCount, &run.StartedAt, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return models.Run{}, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}

// MarkExhausted records that a run processed its final chunk.
func (s *Store) MarkExhausted(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reconciliation_runs SET state = $2, updated_at = NOW() WHERE run_id = $1
	`, runID, models.RunExhausted)
	return err
}

// ListRuns returns run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, mode, source_table, id_column, arn_column, state, batch_count, started_at, updated_at
		FROM reconciliation_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var run models.Run
		if err := rows.Scan(&run.ID, &run.Mode, &run.Source.Table, &run.Source.IDColumn,
			&run.Source.ARNColumn, &run.State, &run.BatchCount, &run.StartedAt, &run.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetWatermark derives a run's resume cursor from its persisted outcomes.
func (s *Store) GetWatermark(ctx context.Context, runID string) (models.Watermark, error) {
	var wm models.Watermark
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(record_id), 0), COUNT(*)
		FROM endpoint_outcomes WHERE run_id = $1
	`, runID).Scan(&wm.MaxRecordID, &wm.OutcomeCount)
	if err != nil {
		return models.Watermark{}, fmt.Errorf("query watermark: %w", err)
	}
	return wm, nil
}

// RunStats aggregates a run's outcome counts by status.
func (s *Store) RunStats(ctx context.Context, runID string) (map[models.Status]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM endpoint_outcomes WHERE run_id = $1 GROUP BY status
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[models.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan run stats: %w", err)
		}
		stats[models.Status(status)] = n
	}
	return stats, rows.Err()
}

// FetchRecords reads the next chunk of source rows with ordinal strictly
// greater than afterID, ascending. The source table and columns come from
// operator configuration, so identifiers are sanitized before
// interpolation.
func (s *Store) FetchRecords(ctx context.Context, src models.SourceTable, afterID int64, limit int) ([]models.Record, error) {
	q := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s > $1 ORDER BY %s ASC LIMIT $2`,
		pgx.Identifier{src.IDColumn}.Sanitize(),
		pgx.Identifier{src.ARNColumn}.Sanitize(),
		pgx.Identifier{src.Table}.Sanitize(),
		pgx.Identifier{src.IDColumn}.Sanitize(),
		pgx.Identifier{src.IDColumn}.Sanitize(),
	)
	rows, err := s.pool.Query(ctx, q, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query source records: %w", err)
	}
	defer rows.Close()

	records := make([]models.Record, 0, limit)
	for rows.Next() {
		var rec models.Record
		if err := rows.Scan(&rec.ID, &rec.ARN); err != nil {
			return nil, fmt.Errorf("scan source record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PersistBatch writes a batch's outcomes and the updated run row in one
// transaction. Outcome inserts are guarded by the (run_id, record_id)
// primary key, so wholesale re-persistence after a failure is idempotent.
func (s *Store) PersistBatch(ctx context.Context, run models.Run, outcomes []models.Outcome) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	for _, o := range outcomes {
		_, err := tx.Exec(ctx, `
			INSERT INTO endpoint_outcomes
				(run_id, record_id, endpoint_arn, status, reason, error_detail, retry_count, batch_number, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (run_id, record_id) DO NOTHING
		`, o.RunID, o.RecordID, o.EndpointARN, string(o.Status), o.Reason,
			textOrNil(o.ErrorDetail), o.RetryCount, o.BatchNumber, o.RecordedAt)
		if err != nil {
			return fmt.Errorf("insert outcome %d: %w", o.RecordID, err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE reconciliation_runs SET state = $2, batch_count = $3, updated_at = NOW()
		WHERE run_id = $1
	`, run.ID, run.State, run.BatchCount)
	if err != nil {
		return fmt.Errorf("update run row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func textOrNil(v *string) pgtype.Text {
	if v == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *v, Valid: true}
}
