package match

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xrash/smetrics"

	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/model"
)

// strategyFunc is one pure resolution strategy. It returns nil when the
// strategy does not apply to the record or finds no candidate. Strategies
// only read the index and are safe to call from concurrent workers.
type strategyFunc func(record model.ExternalRecord, idx *catalog.Index) *model.MatchResult

var embeddedTokenPattern = regexp.MustCompile(`(?:^|[-_])(?:p|prod|product|sku)[-_]?(\d{3,})$`)

func exactURLStrategy(record model.ExternalRecord, idx *catalog.Index) *model.MatchResult {
	if record.IdentifierType != model.IdentifierURL {
		return nil
	}
	key, ok := idx.EntityByURL(catalog.NormalizeURL(record.Identifier))
	if !ok {
		return nil
	}
	return &model.MatchResult{
		EntityType: key.Type,
		EntityID:   key.ID,
		Confidence: ConfidenceFor(model.StrategyExactURL, 0),
		Strategy:   model.StrategyExactURL,
	}
}

func exactGTINStrategy(record model.ExternalRecord, idx *catalog.Index) *model.MatchResult {
	if record.IdentifierType != model.IdentifierGTIN && record.IdentifierType != model.IdentifierSKU {
		return nil
	}
	digits := catalog.NormalizeGTIN(record.Identifier)
	if digits == "" {
		return nil
	}
	productID, ok := idx.ProductByGTIN(digits)
	if !ok {
		return nil
	}
	return &model.MatchResult{
		EntityType: model.EntityTypeProduct,
		EntityID:   productID,
		Confidence: ConfidenceFor(model.StrategyExactGTIN, 0),
		Strategy:   model.StrategyExactGTIN,
	}
}

func pathStrategy(record model.ExternalRecord, idx *catalog.Index) *model.MatchResult {
	segments := pathSegments(record)
	if len(segments) == 0 {
		return nil
	}
	key, ok := idx.EntityByPath(catalog.PathKey(segments))
	if !ok {
		return nil
	}
	return &model.MatchResult{
		EntityType: key.Type,
		EntityID:   key.ID,
		Confidence: ConfidenceFor(model.StrategyPath, 0),
		Strategy:   model.StrategyPath,
	}
}

func embeddedIDStrategy(record model.ExternalRecord, idx *catalog.Index) *model.MatchResult {
	var tokens []string
	switch record.IdentifierType {
	case model.IdentifierURL, model.IdentifierPath:
		segments := pathSegments(record)
		for _, seg := range segments {
			tokens = append(tokens, seg)
			if m := embeddedTokenPattern.FindStringSubmatch(seg); m != nil {
				tokens = append(tokens, m[1])
			}
		}
	case model.IdentifierSKU:
		tokens = []string{strings.ToLower(strings.TrimSpace(record.Identifier))}
	default:
		return nil
	}

	for _, token := range tokens {
		if productID, ok := idx.ProductByToken(token); ok {
			return &model.MatchResult{
				EntityType: model.EntityTypeProduct,
				EntityID:   productID,
				Confidence: ConfidenceFor(model.StrategyEmbeddedID, 0),
				Strategy:   model.StrategyEmbeddedID,
				Detail:     token,
			}
		}
	}
	return nil
}

func hierarchyStrategy(record model.ExternalRecord, idx *catalog.Index) *model.MatchResult {
	segments := pathSegments(record)
	if len(segments) == 0 {
		return nil
	}
	nodeID, prefixLen, ok := idx.LongestPrefixNode(segments)
	if !ok {
		return nil
	}
	return &model.MatchResult{
		EntityType: model.EntityTypeNode,
		EntityID:   nodeID,
		Confidence: ConfidenceFor(model.StrategyHierarchy, 0),
		Strategy:   model.StrategyHierarchy,
		Detail:     catalog.PathKey(segments[:prefixLen]),
	}
}

// fuzzyStrategy compares the record's trailing slug against every entity
// slug with Jaro-Winkler similarity and accepts the best candidate at or
// above MinSimilarity. The similarity score becomes the confidence.
func fuzzyStrategy(record model.ExternalRecord, idx *catalog.Index) *model.MatchResult {
	segments := pathSegments(record)
	if len(segments) == 0 {
		return nil
	}
	slug := segments[len(segments)-1]

	var (
		best      float64
		bestKey   model.EntityKey
		bestSlug  string
		haveMatch bool
	)
	for candidate, key := range idx.Slugs() {
		score := smetrics.JaroWinkler(slug, candidate, 0.7, 4)
		if score < MinSimilarity {
			continue
		}
		// The slug map iterates in random order; equal scores fall to the
		// smaller slug so reruns resolve the same record the same way.
		if !haveMatch || score > best || (score == best && candidate < bestSlug) {
			best = score
			bestKey = key
			bestSlug = candidate
			haveMatch = true
		}
	}
	if !haveMatch {
		return nil
	}
	return &model.MatchResult{
		EntityType: bestKey.Type,
		EntityID:   bestKey.ID,
		Confidence: ConfidenceFor(model.StrategyFuzzy, best),
		Strategy:   model.StrategyFuzzy,
		Detail:     fmt.Sprintf("%s ~ %s", slug, bestSlug),
	}
}

func pathSegments(record model.ExternalRecord) []string {
	switch record.IdentifierType {
	case model.IdentifierURL, model.IdentifierPath:
		return catalog.NormalizePath(record.Identifier)
	default:
		return nil
	}
}
