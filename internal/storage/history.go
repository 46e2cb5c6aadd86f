package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shelfsync/shelfsync/internal/model"
	"github.com/shelfsync/shelfsync/internal/service"
)

// SaveMatchHistory appends one audit entry. The history table is write-only
// from the engine's perspective; nothing reads it back during a run.
func (s *SQLiteStorage) SaveMatchHistory(ctx context.Context, entry *model.MatchHistory) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("history entry cannot be nil")
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO match_history (created_at, run_id, date, source, identifier, strategy, entity_type, entity_id, confidence, success, reason, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, createdAt, entry.RunID, dateKey(entry.Date), string(entry.Source), entry.Identifier,
		string(entry.Strategy), string(entry.EntityType), entry.EntityID,
		entry.Confidence, entry.Success, entry.Reason, entry.Duration.Microseconds())
	if err != nil {
		return fmt.Errorf("failed to save match history: %w", err)
	}
	return nil
}

// SaveRunSummary persists one row per source for the run, which is what
// the match-rate report reads.
func (s *SQLiteStorage) SaveRunSummary(ctx context.Context, summary *service.SyncSummary) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if summary == nil {
		return fmt.Errorf("summary cannot be nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for source, stats := range summary.PerSource {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO source_run_stats (run_id, date, source, matched, unmatched, avg_confidence, failed, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, summary.RunID, dateKey(summary.Date), string(source),
			stats.Matched, stats.Unmatched, stats.AvgConfidence, stats.Failed, stats.Error); err != nil {
			return fmt.Errorf("failed to save run stats for %s: %w", source, err)
		}
	}

	return tx.Commit()
}

// GetMatchRateSummary returns the latest per-source match stats recorded
// for the date.
func (s *SQLiteStorage) GetMatchRateSummary(ctx context.Context, date time.Time) (map[model.Source]service.MatchRateStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, matched, unmatched, avg_confidence
		FROM source_run_stats s
		WHERE date = ?
		  AND id = (
			SELECT MAX(id) FROM source_run_stats
			WHERE date = s.date AND source = s.source
		  )
	`, dateKey(date))
	if err != nil {
		return nil, fmt.Errorf("failed to query match rate summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[model.Source]service.MatchRateStats)
	for rows.Next() {
		var (
			source string
			stats  service.MatchRateStats
		)
		if err := rows.Scan(&source, &stats.Matched, &stats.Unmatched, &stats.AvgConfidence); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		out[model.Source(source)] = stats
	}
	return out, rows.Err()
}
