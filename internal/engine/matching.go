package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shelfsync/shelfsync/internal/aggregate"
	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/common"
	"github.com/shelfsync/shelfsync/internal/match"
	"github.com/shelfsync/shelfsync/internal/model"
	"github.com/shelfsync/shelfsync/internal/service"
)

// matchAll runs every fetched record through the matcher on a bounded worker
// pool and folds successful matches into per-entity seeds. Unmatched records
// and the audit trail are written as side effects from the workers; the
// unmatched upsert is keyed so concurrent writes never lose an increment.
func (e *Engine) matchAll(ctx context.Context, summary *service.SyncSummary, matcher *match.Matcher, results []fetchResult) (map[model.EntityKey]aggregate.Seed, []model.EntityKey) {
	var records []model.ExternalRecord
	for _, res := range results {
		if res.err != nil {
			summary.PerSource[res.source] = service.SourceStats{Failed: true, Error: res.err.Error()}
			continue
		}
		summary.PerSource[res.source] = service.SourceStats{}
		records = append(records, res.records...)
	}

	type outcome struct {
		record model.ExternalRecord
		result *model.MatchResult
	}

	jobs := make(chan model.ExternalRecord)
	outcomes := make(chan outcome)

	var wg sync.WaitGroup
	for w := 0; w < e.config.MatchWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				started := time.Now()
				result := matcher.Match(record)
				e.recordAttempt(ctx, summary.RunID, record, result, time.Since(started))
				outcomes <- outcome{record: record, result: result}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, record := range records {
			select {
			case jobs <- record:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	accs := make(map[model.EntityKey]*aggregate.Accumulator)
	confSums := make(map[model.Source]float64)
	done := 0
	for out := range outcomes {
		done++
		if e.progress != nil {
			e.progress(done, len(records))
		}

		stats := summary.PerSource[out.record.Source]
		if out.result == nil {
			stats.Unmatched++
			summary.PerSource[out.record.Source] = stats
			continue
		}
		stats.Matched++
		summary.PerSource[out.record.Source] = stats
		confSums[out.record.Source] += out.result.Confidence
		summary.ConfidenceBands[confidenceBand(out.result.Confidence)]++

		key := model.EntityKey{Type: out.result.EntityType, ID: out.result.EntityID}
		acc, ok := accs[key]
		if !ok {
			acc = &aggregate.Accumulator{}
			accs[key] = acc
		}
		// The record carries exactly one metric arm, so the same confidence
		// can safely be offered for all three.
		acc.Add(out.record.Metrics, aggregate.Confidences{
			Search:  out.result.Confidence,
			Traffic: out.result.Confidence,
			Market:  out.result.Confidence,
		})
	}

	var matched, total int
	for source, stats := range summary.PerSource {
		if stats.Matched > 0 {
			stats.AvgConfidence = confSums[source] / float64(stats.Matched)
			summary.PerSource[source] = stats
		}
		matched += stats.Matched
		total += stats.Matched + stats.Unmatched
	}
	if total > 0 {
		summary.MatchRate = float64(matched) / float64(total)
	}

	seeds := make(map[model.EntityKey]aggregate.Seed, len(accs))
	touched := make([]model.EntityKey, 0, len(accs))
	for key, acc := range accs {
		metrics, conf := acc.Result()
		seeds[key] = aggregate.Seed{Metrics: metrics, Conf: conf}
		touched = append(touched, key)
	}

	slog.Info("Matching complete",
		"records", len(records),
		"matched", matched,
		"entities", len(seeds))

	return seeds, touched
}

// recordAttempt writes the audit entry for one match attempt and keeps the
// unmatched tracker in step: a failure records the identifier, a success
// resolves any outstanding row for it.
func (e *Engine) recordAttempt(ctx context.Context, runID string, record model.ExternalRecord, result *model.MatchResult, duration time.Duration) {
	entry := &model.MatchHistory{
		RunID:      runID,
		Date:       record.Date,
		Source:     record.Source,
		Identifier: record.Identifier,
		Duration:   duration,
	}
	if result != nil {
		entry.Strategy = result.Strategy
		entry.EntityType = result.EntityType
		entry.EntityID = result.EntityID
		entry.Confidence = result.Confidence
		entry.Success = true
	} else {
		entry.Reason = common.ErrNoMatch.Error()
	}
	if err := e.storage.SaveMatchHistory(ctx, entry); err != nil {
		slog.Warn("Failed to save match history", "identifier", record.Identifier, "error", err)
	}

	if result == nil {
		if err := e.storage.RecordUnmatched(ctx, record.Source, record.Identifier, record.IdentifierType, record.Metrics); err != nil {
			slog.Warn("Failed to record unmatched metric", "identifier", record.Identifier, "error", err)
		}
		return
	}

	if err := e.storage.ResolveUnmatched(ctx, record.Source, record.Identifier); err != nil {
		slog.Warn("Failed to resolve unmatched metric", "identifier", record.Identifier, "error", err)
	}
}

// aggregate rolls the seeds up the tree. Incremental mode recomputes only
// the subtrees touched by fresh records, reusing the date's previous rows
// for everything else; without a baseline it falls back to a full rollup.
func (e *Engine) aggregate(ctx context.Context, idx *catalog.Index, date time.Time, mode service.SyncMode, seeds map[model.EntityKey]aggregate.Seed, touched []model.EntityKey) ([]model.IntegratedMetric, error) {
	opts := aggregate.Options{Parallelism: e.config.Parallelism}

	if mode == service.ModeIncremental {
		baseline, err := e.storage.GetMetricsForDate(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("failed to load baseline metrics: %w", err)
		}
		if len(baseline) > 0 {
			merged := aggregate.SeedsFromBaseline(baseline)
			for key, seed := range seeds {
				if base, ok := merged[key]; ok {
					seed = aggregate.OverlaySeed(base, seed)
				}
				merged[key] = seed
			}
			seeds = merged

			baselineRows := make(map[model.EntityKey]model.IntegratedMetric, len(baseline))
			for _, row := range baseline {
				baselineRows[row.Key()] = row
			}
			opts.Dirty = aggregate.DirtyNodes(idx, touched)
			opts.Baseline = baselineRows
		}
	}

	rows, err := aggregate.Rollup(ctx, idx, date, seeds, opts)
	if err != nil {
		return nil, fmt.Errorf("aggregation failed: %w", err)
	}
	return rows, nil
}

func confidenceBand(conf float64) string {
	switch {
	case conf >= 0.9:
		return "0.9-1.0"
	case conf >= 0.8:
		return "0.8-0.9"
	case conf >= 0.7:
		return "0.7-0.8"
	default:
		return "0.6-0.7"
	}
}
