// Package match resolves external record identifiers to catalog entities
// using an ordered list of strategies composed first-success.
package match

import (
	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/model"
)

// Matcher resolves one external record at a time against the run's catalog
// index. It holds no mutable state after construction and is safe for
// concurrent use by the matching worker pool.
type Matcher struct {
	index      *catalog.Index
	mappings   map[string]model.ManualMapping
	strategies []strategyFunc
}

// NewMatcher builds a matcher over the run's index. mappings must already be
// conflict-resolved: at most one mapping per source identifier.
func NewMatcher(idx *catalog.Index, mappings map[string]model.ManualMapping) *Matcher {
	m := &Matcher{
		index:    idx,
		mappings: mappings,
	}
	m.strategies = []strategyFunc{
		exactURLStrategy,
		exactGTINStrategy,
		pathStrategy,
		embeddedIDStrategy,
		hierarchyStrategy,
		fuzzyStrategy,
	}
	return m
}

// Match resolves a record to a catalog entity, or returns nil when no
// strategy succeeds. An active manual mapping for the identifier always
// wins, regardless of what any algorithmic strategy would say.
func (m *Matcher) Match(record model.ExternalRecord) *model.MatchResult {
	if mapping, ok := m.mappings[record.Identifier]; ok && mapping.Active {
		return &model.MatchResult{
			EntityType: mapping.EntityType,
			EntityID:   mapping.EntityID,
			Confidence: ConfidenceFor(model.StrategyManual, 0),
			Strategy:   model.StrategyManual,
			Detail:     mapping.ID,
		}
	}

	for _, strategy := range m.strategies {
		if result := strategy(record, m.index); result != nil {
			return result
		}
	}
	return nil
}

// ResolveMappingConflicts reduces a list of active mappings to one per
// source identifier, most recently activated first. The losing mappings are
// returned so the caller can audit the conflict.
func ResolveMappingConflicts(mappings []model.ManualMapping) (map[string]model.ManualMapping, []model.ManualMapping) {
	resolved := make(map[string]model.ManualMapping, len(mappings))
	var conflicts []model.ManualMapping

	for _, mapping := range mappings {
		existing, ok := resolved[mapping.SourceIdentifier]
		if !ok {
			resolved[mapping.SourceIdentifier] = mapping
			continue
		}
		if mapping.ActivatedAt.After(existing.ActivatedAt) {
			resolved[mapping.SourceIdentifier] = mapping
			conflicts = append(conflicts, existing)
		} else {
			conflicts = append(conflicts, mapping)
		}
	}
	return resolved, conflicts
}
