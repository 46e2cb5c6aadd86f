package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shelfsync/shelfsync/internal/model"
	"github.com/shelfsync/shelfsync/internal/service"
)

// GetLastSuccessfulRun returns the checkpoint for one source, or nil when
// the source has never completed a run. Incremental syncs fetch only
// records changed after this point; a source that failed last run keeps
// its older checkpoint and so naturally retries the gap next run.
func (s *SQLiteStorage) GetLastSuccessfulRun(ctx context.Context, source model.Source) (*service.RunCheckpoint, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		cp   service.RunCheckpoint
		src  string
		date string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT source, run_id, date, completed_at, records
		FROM run_checkpoints
		WHERE source = ?
	`, string(source)).Scan(&src, &cp.RunID, &date, &cp.CompletedAt, &cp.Records)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run checkpoint: %w", err)
	}

	cp.Source = model.Source(src)
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint date %q: %w", date, err)
	}
	cp.Date = parsed
	return &cp, nil
}

// SaveRunCheckpoint upserts the per-source checkpoint after a successful
// contribution to a run.
func (s *SQLiteStorage) SaveRunCheckpoint(ctx context.Context, checkpoint *service.RunCheckpoint) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if err := validateDate(checkpoint.Date, "checkpoint date"); err != nil {
		return err
	}

	completedAt := checkpoint.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_checkpoints (source, run_id, date, completed_at, records)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source) DO UPDATE SET
			run_id = excluded.run_id,
			date = excluded.date,
			completed_at = excluded.completed_at,
			records = excluded.records
	`, string(checkpoint.Source), checkpoint.RunID, dateKey(checkpoint.Date), completedAt, checkpoint.Records)
	if err != nil {
		return fmt.Errorf("failed to save run checkpoint: %w", err)
	}
	return nil
}
