package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shelfsync/shelfsync/internal/model"
)

// ReplaceIntegratedMetrics replaces every row for the date with the given
// set inside one transaction. Re-running with the same input leaves the
// table byte-identical, which is what makes sync runs safely repeatable.
func (s *SQLiteStorage) ReplaceIntegratedMetrics(ctx context.Context, date time.Time, rows []model.IntegratedMetric) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDate(date, "date"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM integrated_metrics WHERE date = ?`, dateKey(date)); err != nil {
		return fmt.Errorf("failed to clear metrics for date: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO integrated_metrics (
			entity_type, entity_id, date,
			search_metrics, traffic_metrics, market_metrics, direct_metrics,
			search_confidence, traffic_confidence, market_confidence,
			is_aggregated, child_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range rows {
		row := &rows[i]
		search, err := marshalBlock(row.Search)
		if err != nil {
			return err
		}
		traffic, err := marshalBlock(row.Traffic)
		if err != nil {
			return err
		}
		market, err := marshalBlock(row.Market)
		if err != nil {
			return err
		}
		direct, err := marshalDirect(row.Direct)
		if err != nil {
			return err
		}

		if _, err := stmt.ExecContext(ctx,
			string(row.EntityType), row.EntityID, dateKey(date),
			search, traffic, market, direct,
			row.SearchConfidence, row.TrafficConfidence, row.MarketConfidence,
			row.IsAggregated, row.ChildCount,
		); err != nil {
			return fmt.Errorf("failed to insert metric row for %s/%s: %w", row.EntityType, row.EntityID, err)
		}
	}

	return tx.Commit()
}

// GetIntegratedMetrics returns the rows for one entity over a date range,
// oldest first.
func (s *SQLiteStorage) GetIntegratedMetrics(ctx context.Context, entityType model.EntityType, entityID string, start, end time.Time) ([]model.IntegratedMetric, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(entityID, "entityID"); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date %v is before start date %v", end, start)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, date,
		       search_metrics, traffic_metrics, market_metrics, direct_metrics,
		       search_confidence, traffic_confidence, market_confidence,
		       is_aggregated, child_count
		FROM integrated_metrics
		WHERE entity_type = ? AND entity_id = ? AND date >= ? AND date <= ?
		ORDER BY date
	`, string(entityType), entityID, dateKey(start), dateKey(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMetricRows(rows)
}

// GetMetricsForDate returns every row for the date. Incremental runs load
// this as the aggregation baseline.
func (s *SQLiteStorage) GetMetricsForDate(ctx context.Context, date time.Time) ([]model.IntegratedMetric, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, date,
		       search_metrics, traffic_metrics, market_metrics, direct_metrics,
		       search_confidence, traffic_confidence, market_confidence,
		       is_aggregated, child_count
		FROM integrated_metrics
		WHERE date = ?
		ORDER BY entity_type, entity_id
	`, dateKey(date))
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics for date: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMetricRows(rows)
}

func scanMetricRows(rows *sql.Rows) ([]model.IntegratedMetric, error) {
	var out []model.IntegratedMetric
	for rows.Next() {
		var (
			row                             model.IntegratedMetric
			entityType, date                string
			search, traffic, market, direct sql.NullString
		)
		if err := rows.Scan(
			&entityType, &row.EntityID, &date,
			&search, &traffic, &market, &direct,
			&row.SearchConfidence, &row.TrafficConfidence, &row.MarketConfidence,
			&row.IsAggregated, &row.ChildCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan metric row: %w", err)
		}

		row.EntityType = model.EntityType(entityType)
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse metric date %q: %w", date, err)
		}
		row.Date = parsed

		if err := unmarshalBlock(search, &row.Search); err != nil {
			return nil, err
		}
		if err := unmarshalBlock(traffic, &row.Traffic); err != nil {
			return nil, err
		}
		if err := unmarshalBlock(market, &row.Market); err != nil {
			return nil, err
		}
		if direct.Valid && direct.String != "" {
			if err := json.Unmarshal([]byte(direct.String), &row.Direct); err != nil {
				return nil, fmt.Errorf("failed to decode direct metrics: %w", err)
			}
		}

		out = append(out, row)
	}
	return out, rows.Err()
}

// marshalBlock serializes a metric block pointer, mapping nil to SQL NULL.
func marshalBlock(block any) (any, error) {
	switch v := block.(type) {
	case *model.SearchMetrics:
		if v == nil {
			return nil, nil
		}
	case *model.TrafficMetrics:
		if v == nil {
			return nil, nil
		}
	case *model.MarketMetrics:
		if v == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(block)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metric block: %w", err)
	}
	return string(data), nil
}

func marshalDirect(direct model.SourceMetrics) (any, error) {
	if direct.IsEmpty() {
		return nil, nil
	}
	data, err := json.Marshal(direct)
	if err != nil {
		return nil, fmt.Errorf("failed to encode direct metrics: %w", err)
	}
	return string(data), nil
}

func unmarshalBlock[T any](raw sql.NullString, dst **T) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var block T
	if err := json.Unmarshal([]byte(raw.String), &block); err != nil {
		return fmt.Errorf("failed to decode metric block: %w", err)
	}
	*dst = &block
	return nil
}
