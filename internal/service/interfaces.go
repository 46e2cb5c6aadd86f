// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/shelfsync/shelfsync/internal/model"
)

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Integrated metric operations
	ReplaceIntegratedMetrics(ctx context.Context, date time.Time, rows []model.IntegratedMetric) error
	GetIntegratedMetrics(ctx context.Context, entityType model.EntityType, entityID string, start, end time.Time) ([]model.IntegratedMetric, error)
	GetMetricsForDate(ctx context.Context, date time.Time) ([]model.IntegratedMetric, error)

	// Unmatched tracking
	RecordUnmatched(ctx context.Context, source model.Source, identifier string, identifierType model.IdentifierType, metrics model.SourceMetrics) error
	ResolveUnmatched(ctx context.Context, source model.Source, identifier string) error
	GetTopUnmatched(ctx context.Context, limit int) ([]model.UnmatchedMetric, error)

	// Manual mappings
	CreateManualMapping(ctx context.Context, mapping *model.ManualMapping) error
	DeactivateManualMapping(ctx context.Context, id string) error
	GetActiveMappings(ctx context.Context) ([]model.ManualMapping, error)
	ListManualMappings(ctx context.Context) ([]model.ManualMapping, error)

	// Match history (append-only audit trail)
	SaveMatchHistory(ctx context.Context, entry *model.MatchHistory) error

	// Run summaries, persisted once per sync for reporting
	SaveRunSummary(ctx context.Context, summary *SyncSummary) error

	// Run checkpoints, one per source, for incremental syncs
	GetLastSuccessfulRun(ctx context.Context, source model.Source) (*RunCheckpoint, error)
	SaveRunCheckpoint(ctx context.Context, checkpoint *RunCheckpoint) error

	// Reporting
	GetMatchRateSummary(ctx context.Context, date time.Time) (map[model.Source]MatchRateStats, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// CatalogProvider returns a read-only catalog snapshot for a point in time.
type CatalogProvider interface {
	GetSnapshot(ctx context.Context) (*Snapshot, error)
}

// Snapshot is the catalog state loaded at the start of a run and discarded
// when the run ends. BaseURL is the storefront origin used to resolve node
// paths into full URLs; it may be empty when the provider does not know it.
type Snapshot struct {
	BaseURL  string
	Nodes    []model.CatalogNode
	Products []model.Product
}

// MetricSource yields external records for a processing date. A fetch
// failure is a source-level error; individual records never fail.
type MetricSource interface {
	Name() model.Source
	// Fetch returns records for the date. When since is non-nil the source
	// may return only records changed after that instant (incremental mode);
	// sources that cannot filter return everything.
	Fetch(ctx context.Context, date time.Time, since *time.Time) ([]model.ExternalRecord, error)
}

// RunCheckpoint records the last successful sync for one source.
type RunCheckpoint struct {
	Source      model.Source
	RunID       string
	Date        time.Time
	CompletedAt time.Time
	Records     int
}

// RunState tracks where a sync run is in its lifecycle.
type RunState string

// Run states, in order.
const (
	RunIdle        RunState = "idle"
	RunLoading     RunState = "loading"
	RunMatching    RunState = "matching"
	RunAggregating RunState = "aggregating"
	RunPersisting  RunState = "persisting"
	RunCompleted   RunState = "completed"
	RunFailed      RunState = "failed"
)

// SyncMode selects how much work a run redoes.
type SyncMode string

// Sync modes.
const (
	ModeFull        SyncMode = "full"
	ModeIncremental SyncMode = "incremental"
)

// SourceStats summarizes one source's contribution to a run.
type SourceStats struct {
	Matched       int
	Unmatched     int
	AvgConfidence float64
	Failed        bool
	Error         string
}

// MatchRateStats is the persisted per-source match-rate view for a date.
type MatchRateStats struct {
	Matched       int
	Unmatched     int
	AvgConfidence float64
}

// SyncSummary is returned by every run, even a fully failed one.
type SyncSummary struct {
	RunID            string
	Date             time.Time
	Mode             SyncMode
	State            RunState
	PerSource        map[model.Source]SourceStats
	MatchRate        float64
	ConfidenceBands  map[string]int // "0.6-0.7", "0.7-0.8", "0.8-0.9", "0.9-1.0"
	ValidationErrors []model.TreeValidationError
	RowsPersisted    int
	Duration         time.Duration
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
