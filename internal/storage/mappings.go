package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shelfsync/shelfsync/internal/common"
	"github.com/shelfsync/shelfsync/internal/model"
)

// CreateManualMapping inserts a new mapping. An empty ID gets a generated
// UUID; zero timestamps default to now. The new mapping also resolves any
// outstanding unmatched rows for the identifier.
func (s *SQLiteStorage) CreateManualMapping(ctx context.Context, mapping *model.ManualMapping) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMapping(mapping); err != nil {
		return err
	}

	if mapping.ID == "" {
		mapping.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = now
	}
	if mapping.Active && mapping.ActivatedAt.IsZero() {
		mapping.ActivatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO manual_mappings (id, source_identifier, entity_type, entity_id, active, created_by, created_at, activated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, mapping.ID, mapping.SourceIdentifier, string(mapping.EntityType), mapping.EntityID,
		mapping.Active, mapping.CreatedBy, mapping.CreatedAt, mapping.ActivatedAt); err != nil {
		return fmt.Errorf("failed to insert manual mapping: %w", err)
	}

	if mapping.Active {
		if _, err := tx.ExecContext(ctx, `
			UPDATE unmatched_metrics
			SET resolved = 1, last_seen = ?
			WHERE identifier = ? AND resolved = 0
		`, now, mapping.SourceIdentifier); err != nil {
			return fmt.Errorf("failed to resolve unmatched rows for mapping: %w", err)
		}
	}

	return tx.Commit()
}

// DeactivateManualMapping turns a mapping off without deleting it.
func (s *SQLiteStorage) DeactivateManualMapping(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE manual_mappings SET active = 0 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate mapping: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deactivation result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mapping %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// GetActiveMappings returns every active mapping, oldest activation first.
// Conflict resolution (newest activation wins per identifier) happens in
// the matcher, which also audits the losers.
func (s *SQLiteStorage) GetActiveMappings(ctx context.Context) ([]model.ManualMapping, error) {
	return s.queryMappings(ctx, `WHERE active = 1`)
}

// ListManualMappings returns every mapping, active or not.
func (s *SQLiteStorage) ListManualMappings(ctx context.Context) ([]model.ManualMapping, error) {
	return s.queryMappings(ctx, ``)
}

func (s *SQLiteStorage) queryMappings(ctx context.Context, where string) ([]model.ManualMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_identifier, entity_type, entity_id, active, COALESCE(created_by, ''), created_at, activated_at
		FROM manual_mappings
	`+where+`
		ORDER BY activated_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query manual mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ManualMapping
	for rows.Next() {
		var (
			m          model.ManualMapping
			entityType string
		)
		if err := rows.Scan(&m.ID, &m.SourceIdentifier, &entityType, &m.EntityID, &m.Active, &m.CreatedBy, &m.CreatedAt, &m.ActivatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mapping row: %w", err)
		}
		m.EntityType = model.EntityType(entityType)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetManualMapping returns one mapping by id.
func (s *SQLiteStorage) GetManualMapping(ctx context.Context, id string) (*model.ManualMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var (
		m          model.ManualMapping
		entityType string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_identifier, entity_type, entity_id, active, COALESCE(created_by, ''), created_at, activated_at
		FROM manual_mappings
		WHERE id = ?
	`, id).Scan(&m.ID, &m.SourceIdentifier, &entityType, &m.EntityID, &m.Active, &m.CreatedBy, &m.CreatedAt, &m.ActivatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mapping %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	m.EntityType = model.EntityType(entityType)
	return &m, nil
}
