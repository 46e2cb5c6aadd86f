package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/model"
)

// Seed is the directly-matched contribution for one entity: the merged
// metrics of every record that matched it, with per-source confidences.
type Seed struct {
	Metrics model.SourceMetrics
	Conf    Confidences
}

// Options tunes a rollup run.
type Options struct {
	// Dirty limits recomputation to the listed node ids. Nodes outside the
	// set reuse their Baseline row untouched. A nil map recomputes the
	// whole tree (full mode).
	Dirty map[string]bool
	// Baseline supplies previous rows for nodes skipped by Dirty.
	Baseline map[model.EntityKey]model.IntegratedMetric
	// Parallelism bounds per-level worker fan-out. Defaults to 4.
	Parallelism int
}

// Rollup computes IntegratedMetric rows for one processing date from
// entity-level seeds and the validated tree. Nodes are processed
// level-by-level, deepest first, so every child row exists before its
// parent is computed. The result is deterministic for identical input:
// contributions fold in sorted entity order and rows come back sorted.
//
// Cancellation is honored between depth levels only; a level is either
// fully computed or not at all.
func Rollup(ctx context.Context, idx *catalog.Index, date time.Time, seeds map[model.EntityKey]Seed, opts Options) ([]model.IntegratedMetric, error) {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}

	start := time.Now()
	rows := make(map[model.EntityKey]model.IntegratedMetric)

	// Product rows pass straight through; a product's metrics are always
	// its own.
	for key, seed := range seeds {
		if key.Type != model.EntityTypeProduct {
			continue
		}
		if seed.Metrics.IsEmpty() {
			continue
		}
		rows[key] = model.IntegratedMetric{
			Date:              date,
			EntityType:        key.Type,
			EntityID:          key.ID,
			Search:            seed.Metrics.Search,
			Traffic:           seed.Metrics.Traffic,
			Market:            seed.Metrics.Market,
			SearchConfidence:  seed.Conf.Search,
			TrafficConfidence: seed.Conf.Traffic,
			MarketConfidence:  seed.Conf.Market,
		}
	}

	levels := idx.Levels()
	for li := len(levels) - 1; li >= 0; li-- {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		level := levels[li]
		results := make([]*model.IntegratedMetric, len(level))

		var g errgroup.Group
		g.SetLimit(opts.Parallelism)
		for i, nodeID := range level {
			g.Go(func() error {
				results[i] = computeNode(idx, date, nodeID, seeds, rows, opts)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("aggregation failed at depth %d: %w", li, err)
		}

		// Merge in level order so later levels see a complete child map.
		for i, nodeID := range level {
			if results[i] != nil {
				rows[model.EntityKey{Type: model.EntityTypeNode, ID: nodeID}] = *results[i]
			}
		}
	}

	out := make([]model.IntegratedMetric, 0, len(rows))
	for _, row := range rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].EntityID < out[j].EntityID
	})

	slog.Debug("Rollup complete",
		"date", date.Format("2006-01-02"),
		"rows", len(out),
		"levels", len(levels),
		"duration", time.Since(start))

	return out, nil
}

// computeNode folds a node's own seed with its direct children's rows.
// Returns nil when the node has no data anywhere below it: absence, not a
// zero row.
func computeNode(idx *catalog.Index, date time.Time, nodeID string, seeds map[model.EntityKey]Seed, rows map[model.EntityKey]model.IntegratedMetric, opts Options) *model.IntegratedMetric {
	key := model.EntityKey{Type: model.EntityTypeNode, ID: nodeID}

	if opts.Dirty != nil && !opts.Dirty[nodeID] {
		if baseline, ok := opts.Baseline[key]; ok {
			baseline.Date = date
			return &baseline
		}
		return nil
	}

	var acc Accumulator
	own, hasOwn := seeds[key]
	if hasOwn {
		acc.Add(own.Metrics, own.Conf)
	}

	// Sort child contributions so float accumulation order is stable.
	childKeys := make([]model.EntityKey, 0)
	for _, childID := range idx.Children(nodeID) {
		childKeys = append(childKeys, model.EntityKey{Type: model.EntityTypeNode, ID: childID})
	}
	for _, productID := range idx.ProductsOf(nodeID) {
		childKeys = append(childKeys, model.EntityKey{Type: model.EntityTypeProduct, ID: productID})
	}
	sort.Slice(childKeys, func(i, j int) bool {
		if childKeys[i].Type != childKeys[j].Type {
			return childKeys[i].Type < childKeys[j].Type
		}
		return childKeys[i].ID < childKeys[j].ID
	})

	childCount := 0
	for _, childKey := range childKeys {
		childRow, ok := rows[childKey]
		if !ok {
			continue
		}
		childCount++
		acc.Add(model.SourceMetrics{
			Search:  childRow.Search,
			Traffic: childRow.Traffic,
			Market:  childRow.Market,
		}, Confidences{
			Search:  childRow.SearchConfidence,
			Traffic: childRow.TrafficConfidence,
			Market:  childRow.MarketConfidence,
		})
	}

	if acc.Empty() {
		return nil
	}

	metrics, conf := acc.Result()
	row := &model.IntegratedMetric{
		Date:              date,
		EntityType:        model.EntityTypeNode,
		EntityID:          nodeID,
		Search:            metrics.Search,
		Traffic:           metrics.Traffic,
		Market:            metrics.Market,
		SearchConfidence:  conf.Search,
		TrafficConfidence: conf.Traffic,
		MarketConfidence:  conf.Market,
		IsAggregated:      childCount > 0,
		ChildCount:        childCount,
	}
	if hasOwn {
		row.Direct = own.Metrics
	}
	return row
}

// DirtyNodes walks each touched entity up to its root and returns the set
// of node ids whose aggregates an incremental run must recompute.
func DirtyNodes(idx *catalog.Index, touched []model.EntityKey) map[string]bool {
	dirty := make(map[string]bool)
	for _, key := range touched {
		nodeID := key.ID
		if key.Type == model.EntityTypeProduct {
			product, ok := idx.Product(key.ID)
			if !ok || product.CategoryID == "" {
				continue
			}
			nodeID = product.CategoryID
		}
		for {
			if _, ok := idx.Node(nodeID); !ok || idx.IsQuarantined(nodeID) {
				break
			}
			if dirty[nodeID] {
				break
			}
			dirty[nodeID] = true
			parent, ok := idx.ParentOf(nodeID)
			if !ok {
				break
			}
			nodeID = parent
		}
	}
	return dirty
}

// OverlaySeed layers a fresh seed over a baseline seed one metric arm at a
// time. An arm the fresh run re-emitted replaces the baseline arm together
// with its confidence; an arm only the baseline carries survives. Sources
// that filter by change time re-emit nothing for an unchanged entity, so a
// wholesale replacement would silently drop their data.
func OverlaySeed(base, fresh Seed) Seed {
	out := base
	if fresh.Metrics.Search != nil {
		out.Metrics.Search = fresh.Metrics.Search
		out.Conf.Search = fresh.Conf.Search
	}
	if fresh.Metrics.Traffic != nil {
		out.Metrics.Traffic = fresh.Metrics.Traffic
		out.Conf.Traffic = fresh.Conf.Traffic
	}
	if fresh.Metrics.Market != nil {
		out.Metrics.Market = fresh.Metrics.Market
		out.Conf.Market = fresh.Conf.Market
	}
	return out
}

// SeedsFromBaseline reconstructs entity-level seeds from a previous run's
// rows: product rows contribute their full metric blocks, node rows only
// their directly-matched portion.
func SeedsFromBaseline(rows []model.IntegratedMetric) map[model.EntityKey]Seed {
	seeds := make(map[model.EntityKey]Seed, len(rows))
	for _, row := range rows {
		conf := Confidences{
			Search:  row.SearchConfidence,
			Traffic: row.TrafficConfidence,
			Market:  row.MarketConfidence,
		}
		switch row.EntityType {
		case model.EntityTypeProduct:
			seeds[row.Key()] = Seed{
				Metrics: model.SourceMetrics{Search: row.Search, Traffic: row.Traffic, Market: row.Market},
				Conf:    conf,
			}
		case model.EntityTypeNode:
			if !row.Direct.IsEmpty() {
				seeds[row.Key()] = Seed{Metrics: row.Direct, Conf: conf}
			}
		}
	}
	return seeds
}
