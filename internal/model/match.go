package model

import "time"

// MatchStrategy tags which resolution strategy produced a match.
type MatchStrategy string

// Match strategies, in the order the matcher tries them.
const (
	StrategyManual     MatchStrategy = "manual"
	StrategyExactURL   MatchStrategy = "exact_url"
	StrategyExactGTIN  MatchStrategy = "exact_gtin"
	StrategyPath       MatchStrategy = "path"
	StrategyEmbeddedID MatchStrategy = "embedded_id"
	StrategyHierarchy  MatchStrategy = "hierarchy"
	StrategyFuzzy      MatchStrategy = "fuzzy"
)

// MatchResult binds one external record to a catalog entity.
type MatchResult struct {
	EntityType EntityType
	EntityID   string
	Confidence float64
	Strategy   MatchStrategy
	Detail     string // strategy-specific note, e.g. the matched path prefix
}

// ManualMapping is a human-provided override binding an external identifier
// directly to a catalog entity. Active mappings beat every algorithmic
// strategy. When two active mappings target the same identifier, the most
// recently activated one wins.
type ManualMapping struct {
	ID               string
	SourceIdentifier string
	EntityType       EntityType
	EntityID         string
	Active           bool
	CreatedBy        string
	CreatedAt        time.Time
	ActivatedAt      time.Time
}

// MatchHistory is an append-only audit record of a single match attempt.
// The engine only ever writes these; nothing reads them back during a run.
type MatchHistory struct {
	CreatedAt  time.Time
	RunID      string
	Date       time.Time // processing date of the record, not the wall clock
	Source     Source
	Identifier string
	Strategy   MatchStrategy // empty when no strategy succeeded
	EntityType EntityType
	EntityID   string
	Confidence float64
	Success    bool
	Reason     string
	Duration   time.Duration
}
