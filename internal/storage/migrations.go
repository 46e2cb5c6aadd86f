package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS integrated_metrics (
					entity_type TEXT NOT NULL,
					entity_id TEXT NOT NULL,
					date TEXT NOT NULL,
					search_metrics TEXT,
					traffic_metrics TEXT,
					market_metrics TEXT,
					direct_metrics TEXT,
					search_confidence REAL DEFAULT 0,
					traffic_confidence REAL DEFAULT 0,
					market_confidence REAL DEFAULT 0,
					is_aggregated INTEGER DEFAULT 0,
					child_count INTEGER DEFAULT 0,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (entity_type, entity_id, date)
				)`,
				`CREATE INDEX idx_integrated_metrics_date ON integrated_metrics(date)`,

				`CREATE TABLE IF NOT EXISTS unmatched_metrics (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					source TEXT NOT NULL,
					identifier TEXT NOT NULL,
					identifier_type TEXT NOT NULL,
					raw_metrics TEXT,
					attempt_count INTEGER NOT NULL DEFAULT 1,
					resolved INTEGER NOT NULL DEFAULT 0,
					first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
					last_seen DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				// The partial unique index is what makes the dedup upsert atomic:
				// at most one unresolved row per (source, identifier).
				`CREATE UNIQUE INDEX idx_unmatched_active ON unmatched_metrics(source, identifier) WHERE resolved = 0`,
				`CREATE INDEX idx_unmatched_attempts ON unmatched_metrics(attempt_count DESC)`,

				`CREATE TABLE IF NOT EXISTS manual_mappings (
					id TEXT PRIMARY KEY,
					source_identifier TEXT NOT NULL,
					entity_type TEXT NOT NULL,
					entity_id TEXT NOT NULL,
					active INTEGER NOT NULL DEFAULT 1,
					created_by TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					activated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_manual_mappings_identifier ON manual_mappings(source_identifier)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add match history for auditing",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS match_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					run_id TEXT,
					date TEXT,
					source TEXT NOT NULL,
					identifier TEXT NOT NULL,
					strategy TEXT,
					entity_type TEXT,
					entity_id TEXT,
					confidence REAL DEFAULT 0,
					success INTEGER NOT NULL DEFAULT 0,
					reason TEXT,
					duration_us INTEGER DEFAULT 0
				)`,
				`CREATE INDEX idx_match_history_identifier ON match_history(source, identifier)`,
				`CREATE INDEX idx_match_history_run ON match_history(run_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Add run checkpoints and per-source run stats",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS run_checkpoints (
					source TEXT PRIMARY KEY,
					run_id TEXT NOT NULL,
					date TEXT NOT NULL,
					completed_at DATETIME NOT NULL,
					records INTEGER DEFAULT 0
				)`,
				`CREATE TABLE IF NOT EXISTS source_run_stats (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL,
					date TEXT NOT NULL,
					source TEXT NOT NULL,
					matched INTEGER DEFAULT 0,
					unmatched INTEGER DEFAULT 0,
					avg_confidence REAL DEFAULT 0,
					failed INTEGER DEFAULT 0,
					error TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_source_run_stats_date ON source_run_stats(date, source)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// Migrate runs all pending migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_versions table: %w", err)
	}

	var current int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_versions (version, description) VALUES (?, ?)`,
			m.Version, m.Description); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}

		slog.Info("Applied migration", "version", m.Version, "description", m.Description)
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
