package model

import "time"

// IntegratedMetric is one row per (entity_type, entity_id, date): the metrics
// attached to a catalog entity for a processing date, after matching and
// aggregation. Rows are replaced wholesale per (entity, date) on each run.
//
// Confidences are stored per source and never merged into a single number.
type IntegratedMetric struct {
	Date       time.Time
	EntityType EntityType
	EntityID   string

	Search  *SearchMetrics
	Traffic *TrafficMetrics
	Market  *MarketMetrics

	// Direct holds the portion of a node's metrics matched to the node
	// itself rather than rolled up from descendants. Product rows leave it
	// empty; their metric blocks are always direct. Incremental runs use it
	// to reseed aggregation without refetching unchanged sources.
	Direct SourceMetrics

	SearchConfidence  float64
	TrafficConfidence float64
	MarketConfidence  float64

	IsAggregated bool
	ChildCount   int
}

// Key uniquely identifies the row within a processing date.
func (m *IntegratedMetric) Key() EntityKey {
	return EntityKey{Type: m.EntityType, ID: m.EntityID}
}

// EntityKey identifies a catalog entity independent of date.
type EntityKey struct {
	Type EntityType
	ID   string
}

// UnmatchedMetric is an external record no strategy could attribute to a
// catalog entity. At most one unresolved row exists per (source, identifier);
// repeated failures bump AttemptCount and refresh the stored raw metrics.
type UnmatchedMetric struct {
	ID             int64
	Source         Source
	Identifier     string
	IdentifierType IdentifierType
	RawMetrics     SourceMetrics
	AttemptCount   int
	Resolved       bool
	FirstSeen      time.Time
	LastSeen       time.Time
}

// TreeValidationReason classifies why a subtree was quarantined.
type TreeValidationReason string

// Tree validation reasons.
const (
	ReasonCycle          TreeValidationReason = "cycle"
	ReasonOrphanedParent TreeValidationReason = "orphaned_parent"
)

// TreeValidationError reports a malformed region of the catalog tree found
// during index build. The affected nodes are excluded from aggregation; the
// run itself continues.
type TreeValidationError struct {
	NodeID      string
	Reason      TreeValidationReason
	AffectedIDs []string
}

func (e TreeValidationError) Error() string {
	return "tree validation failed for node " + e.NodeID + ": " + string(e.Reason)
}
