package match

import "github.com/shelfsync/shelfsync/internal/model"

// Fixed confidence values per strategy. These are never upgraded after a
// strategy succeeds; the fuzzy strategy passes its similarity score through.
const (
	ConfidenceManual     = 1.0
	ConfidenceExactURL   = 1.0
	ConfidenceExactGTIN  = 1.0
	ConfidencePath       = 0.8
	ConfidenceEmbeddedID = 0.9
	ConfidenceHierarchy  = 0.7

	// MinSimilarity is the floor below which a fuzzy candidate is rejected.
	// No match result ever carries a confidence under this value.
	MinSimilarity = 0.6
)

// ConfidenceFor maps a (strategy, raw score) pair to the confidence stored
// on the match result. rawScore is only meaningful for the fuzzy strategy.
func ConfidenceFor(strategy model.MatchStrategy, rawScore float64) float64 {
	switch strategy {
	case model.StrategyManual:
		return ConfidenceManual
	case model.StrategyExactURL:
		return ConfidenceExactURL
	case model.StrategyExactGTIN:
		return ConfidenceExactGTIN
	case model.StrategyPath:
		return ConfidencePath
	case model.StrategyEmbeddedID:
		return ConfidenceEmbeddedID
	case model.StrategyHierarchy:
		return ConfidenceHierarchy
	case model.StrategyFuzzy:
		if rawScore < MinSimilarity {
			return 0
		}
		return rawScore
	default:
		return 0
	}
}
