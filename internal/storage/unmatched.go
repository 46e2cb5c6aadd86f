package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shelfsync/shelfsync/internal/model"
)

// RecordUnmatched upserts a failed match keyed by (source, identifier).
// A fresh failure inserts attempt_count = 1; a repeat bumps the counter and
// replaces the stored raw metrics with the latest. The conflict target is
// the partial unique index over unresolved rows, so the whole operation is
// a single atomic statement and safe under concurrent matching workers.
func (s *SQLiteStorage) RecordUnmatched(ctx context.Context, source model.Source, identifier string, identifierType model.IdentifierType, metrics model.SourceMetrics) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(identifier, "identifier"); err != nil {
		return err
	}

	raw, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to encode raw metrics: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO unmatched_metrics (source, identifier, identifier_type, raw_metrics, attempt_count, resolved, first_seen, last_seen)
		VALUES (?, ?, ?, ?, 1, 0, ?, ?)
		ON CONFLICT (source, identifier) WHERE resolved = 0
		DO UPDATE SET
			attempt_count = attempt_count + 1,
			identifier_type = excluded.identifier_type,
			raw_metrics = excluded.raw_metrics,
			last_seen = excluded.last_seen
	`, string(source), identifier, string(identifierType), string(raw), now, now)
	if err != nil {
		return fmt.Errorf("failed to record unmatched metric: %w", err)
	}
	return nil
}

// ResolveUnmatched marks the active row for (source, identifier) resolved.
// Called when a later run matches the identifier algorithmically or a
// manual mapping now covers it. Resolving an unknown identifier is a no-op.
func (s *SQLiteStorage) ResolveUnmatched(ctx context.Context, source model.Source, identifier string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(identifier, "identifier"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE unmatched_metrics
		SET resolved = 1, last_seen = ?
		WHERE source = ? AND identifier = ? AND resolved = 0
	`, time.Now().UTC(), string(source), identifier)
	if err != nil {
		return fmt.Errorf("failed to resolve unmatched metric: %w", err)
	}
	return nil
}

// ResolveUnmatchedAllSources resolves the identifier for every source.
// Used when a manual mapping is created, since mappings are not scoped to
// one source.
func (s *SQLiteStorage) ResolveUnmatchedAllSources(ctx context.Context, identifier string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(identifier, "identifier"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE unmatched_metrics
		SET resolved = 1, last_seen = ?
		WHERE identifier = ? AND resolved = 0
	`, time.Now().UTC(), identifier)
	if err != nil {
		return fmt.Errorf("failed to resolve unmatched metric: %w", err)
	}
	return nil
}

// GetTopUnmatched returns unresolved rows ordered by attempt count
// descending, for the review queue.
func (s *SQLiteStorage) GetTopUnmatched(ctx context.Context, limit int) ([]model.UnmatchedMetric, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, identifier, identifier_type, raw_metrics, attempt_count, resolved, first_seen, last_seen
		FROM unmatched_metrics
		WHERE resolved = 0
		ORDER BY attempt_count DESC, last_seen DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unmatched metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.UnmatchedMetric
	for rows.Next() {
		var (
			m          model.UnmatchedMetric
			source     string
			identType  string
			rawMetrics string
		)
		if err := rows.Scan(&m.ID, &source, &m.Identifier, &identType, &rawMetrics, &m.AttemptCount, &m.Resolved, &m.FirstSeen, &m.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan unmatched row: %w", err)
		}
		m.Source = model.Source(source)
		m.IdentifierType = model.IdentifierType(identType)
		if rawMetrics != "" {
			if err := json.Unmarshal([]byte(rawMetrics), &m.RawMetrics); err != nil {
				return nil, fmt.Errorf("failed to decode raw metrics: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
