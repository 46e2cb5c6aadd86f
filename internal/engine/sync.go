// Package engine orchestrates a sync run: load the catalog, fetch external
// metrics, match them to entities, roll them up the tree, persist the result.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/common"
	"github.com/shelfsync/shelfsync/internal/match"
	"github.com/shelfsync/shelfsync/internal/model"
	"github.com/shelfsync/shelfsync/internal/service"
)

// Config holds tuning options for the sync engine.
type Config struct {
	FetchTimeout time.Duration // per-source fetch budget
	MatchWorkers int
	Parallelism  int // aggregation fan-out per tree level
	Retry        service.RetryOptions
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		FetchTimeout: 2 * time.Minute,
		MatchWorkers: 8,
		Parallelism:  4,
		Retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// ProgressFunc reports matching progress to the caller.
type ProgressFunc func(done, total int)

// Engine coordinates one sync run at a time.
type Engine struct {
	storage  service.Storage
	provider service.CatalogProvider
	sources  []service.MetricSource
	config   Config
	progress ProgressFunc

	mu      sync.Mutex
	running bool
	state   service.RunState
}

// New creates a sync engine with default configuration.
func New(storage service.Storage, provider service.CatalogProvider, sources []service.MetricSource) *Engine {
	return NewWithConfig(storage, provider, sources, DefaultConfig())
}

// NewWithConfig creates a sync engine with custom configuration.
func NewWithConfig(storage service.Storage, provider service.CatalogProvider, sources []service.MetricSource, config Config) *Engine {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 2 * time.Minute
	}
	if config.MatchWorkers <= 0 {
		config.MatchWorkers = 8
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 4
	}
	return &Engine{
		storage:  storage,
		provider: provider,
		sources:  sources,
		config:   config,
		state:    service.RunIdle,
	}
}

// SetProgress registers a callback invoked as records are matched.
func (e *Engine) SetProgress(fn ProgressFunc) {
	e.progress = fn
}

// State returns the current run state.
func (e *Engine) State() service.RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s service.RunState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// fetchResult is one source's outcome from the concurrent fetch phase.
type fetchResult struct {
	source  model.Source
	records []model.ExternalRecord
	err     error
}

// Sync executes one run for the given processing date. It always returns a
// summary, even when the run fails; the error reports whether the run as a
// whole succeeded. A second concurrent call fails with ErrRunInProgress.
func (e *Engine) Sync(ctx context.Context, date time.Time, mode service.SyncMode) (summary *service.SyncSummary, err error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, common.ErrRunInProgress
	}
	e.running = true
	e.state = service.RunLoading
	e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
		}
		e.mu.Lock()
		e.running = false
		if err != nil {
			e.state = service.RunFailed
		} else {
			e.state = service.RunCompleted
		}
		e.mu.Unlock()

		if summary != nil {
			if err != nil {
				summary.State = service.RunFailed
			} else {
				summary.State = service.RunCompleted
			}
		}
	}()

	start := time.Now()
	summary = &service.SyncSummary{
		RunID:           uuid.NewString(),
		Date:            date,
		Mode:            mode,
		State:           service.RunLoading,
		PerSource:       make(map[model.Source]service.SourceStats),
		ConfidenceBands: make(map[string]int),
	}

	slog.Info("Starting sync run",
		"run_id", summary.RunID,
		"date", date.Format("2006-01-02"),
		"mode", mode)

	// Load the catalog snapshot and build the run's immutable index.
	snapshot, err := e.provider.GetSnapshot(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load catalog snapshot: %w", err)
	}

	idx, err := catalog.BuildIndex(snapshot)
	if err != nil {
		return summary, fmt.Errorf("failed to build catalog index: %w", err)
	}
	summary.ValidationErrors = idx.ValidationErrors()
	for _, ve := range summary.ValidationErrors {
		slog.Warn("Catalog validation error",
			"reason", ve.Reason,
			"node", ve.NodeID,
			"affected", len(ve.AffectedIDs))
	}

	mappings, conflicts, err := e.loadMappings(ctx, summary, date)
	if err != nil {
		return summary, err
	}
	if len(conflicts) > 0 {
		slog.Warn("Resolved manual mapping conflicts", "count", len(conflicts))
	}

	// Fetch all sources concurrently. A source failure never stops the run;
	// its stats carry the error and its checkpoint does not advance.
	results := e.fetchAll(ctx, date, mode)

	e.setState(service.RunMatching)
	matcher := match.NewMatcher(idx, mappings)
	seeds, touched := e.matchAll(ctx, summary, matcher, results)

	// With every source down there is nothing to persist, and replacing the
	// date's rows would erase what a previous run computed. Fail the run and
	// keep the stored data.
	if len(results) > 0 && !anyFetched(results) {
		return summary, fmt.Errorf("all %d sources failed to fetch: %w", len(results), common.ErrSourceFetch)
	}

	e.setState(service.RunAggregating)
	rows, err := e.aggregate(ctx, idx, date, mode, seeds, touched)
	if err != nil {
		return summary, err
	}

	e.setState(service.RunPersisting)
	if err := e.storage.ReplaceIntegratedMetrics(ctx, date, rows); err != nil {
		return summary, fmt.Errorf("failed to persist metrics: %w", err)
	}
	summary.RowsPersisted = len(rows)

	// Checkpoints advance only for sources that fetched successfully.
	for _, res := range results {
		if res.err != nil {
			continue
		}
		checkpoint := &service.RunCheckpoint{
			Source:      res.source,
			RunID:       summary.RunID,
			Date:        date,
			CompletedAt: time.Now().UTC(),
			Records:     len(res.records),
		}
		if err := e.storage.SaveRunCheckpoint(ctx, checkpoint); err != nil {
			slog.Warn("Failed to save run checkpoint", "source", res.source, "error", err)
		}
	}

	summary.Duration = time.Since(start)
	if err := e.storage.SaveRunSummary(ctx, summary); err != nil {
		slog.Warn("Failed to save run summary", "error", err)
	}

	slog.Info("Sync run complete",
		"run_id", summary.RunID,
		"rows", summary.RowsPersisted,
		"match_rate", fmt.Sprintf("%.1f%%", summary.MatchRate*100),
		"duration", summary.Duration)

	return summary, nil
}

// loadMappings loads active manual mappings and resolves duplicates, writing
// an audit entry for every losing mapping.
func (e *Engine) loadMappings(ctx context.Context, summary *service.SyncSummary, date time.Time) (map[string]model.ManualMapping, []model.ManualMapping, error) {
	active, err := e.storage.GetActiveMappings(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load manual mappings: %w", err)
	}

	resolved, conflicts := match.ResolveMappingConflicts(active)
	for _, loser := range conflicts {
		entry := &model.MatchHistory{
			RunID:      summary.RunID,
			Date:       date,
			Identifier: loser.SourceIdentifier,
			Strategy:   model.StrategyManual,
			EntityType: loser.EntityType,
			EntityID:   loser.EntityID,
			Success:    false,
			Reason:     "superseded by a newer active mapping",
		}
		if err := e.storage.SaveMatchHistory(ctx, entry); err != nil {
			slog.Warn("Failed to record mapping conflict", "mapping", loser.ID, "error", err)
		}
	}
	return resolved, conflicts, nil
}

func anyFetched(results []fetchResult) bool {
	for _, res := range results {
		if res.err == nil {
			return true
		}
	}
	return false
}

// fetchAll fetches every source concurrently under a per-source timeout.
func (e *Engine) fetchAll(ctx context.Context, date time.Time, mode service.SyncMode) []fetchResult {
	results := make([]fetchResult, len(e.sources))

	var g errgroup.Group
	for i, src := range e.sources {
		g.Go(func() error {
			results[i] = e.fetchOne(ctx, src, date, mode)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Engine) fetchOne(ctx context.Context, src service.MetricSource, date time.Time, mode service.SyncMode) fetchResult {
	res := fetchResult{source: src.Name()}

	var since *time.Time
	if mode == service.ModeIncremental {
		checkpoint, err := e.storage.GetLastSuccessfulRun(ctx, src.Name())
		if err != nil {
			slog.Warn("Failed to load checkpoint, fetching everything", "source", src.Name(), "error", err)
		} else if checkpoint != nil {
			since = &checkpoint.CompletedAt
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.config.FetchTimeout)
	defer cancel()

	res.err = common.WithRetry(fetchCtx, func() error {
		records, err := src.Fetch(fetchCtx, date, since)
		if err != nil {
			return err
		}
		res.records = records
		return nil
	}, e.config.Retry)

	if res.err != nil {
		slog.Error("Source fetch failed", "source", src.Name(), "error", res.err)
	} else {
		slog.Info("Source fetch complete", "source", src.Name(), "records", len(res.records))
	}
	return res
}
