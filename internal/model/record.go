package model

import "time"

// Source identifies an external data feed.
type Source string

// Configured external sources.
const (
	SourceSearchConsole Source = "gsc"
	SourceAnalytics     Source = "ga4"
	SourceMarket        Source = "market"
)

// IdentifierType describes how an external record identifies its subject.
type IdentifierType string

// Identifier type constants.
const (
	IdentifierURL  IdentifierType = "url"
	IdentifierPath IdentifierType = "path"
	IdentifierGTIN IdentifierType = "gtin"
	IdentifierSKU  IdentifierType = "sku"
)

// ExternalRecord is one signal emitted by an external source. Records are
// immutable once fetched.
type ExternalRecord struct {
	Date           time.Time
	Source         Source
	Identifier     string
	IdentifierType IdentifierType
	Metrics        SourceMetrics
}

// SearchMetrics holds search-analytics fields (Search Console).
type SearchMetrics struct {
	Clicks      int64   `json:"clicks"`
	Impressions int64   `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// TrafficMetrics holds web-analytics fields (GA4).
type TrafficMetrics struct {
	Sessions       int64   `json:"sessions"`
	Transactions   int64   `json:"transactions"`
	Revenue        float64 `json:"revenue"`
	ConversionRate float64 `json:"conversion_rate"`
}

// MarketMetrics holds market-pricing fields.
type MarketMetrics struct {
	Price      float64 `json:"price"`
	OfferCount int64   `json:"offer_count"`
}

// SourceMetrics is a closed union of per-source metric blocks. Exactly one
// arm is set on an ExternalRecord; an IntegratedMetric may carry several.
type SourceMetrics struct {
	Search  *SearchMetrics  `json:"search,omitempty"`
	Traffic *TrafficMetrics `json:"traffic,omitempty"`
	Market  *MarketMetrics  `json:"market,omitempty"`
}

// IsEmpty reports whether no arm is set.
func (m SourceMetrics) IsEmpty() bool {
	return m.Search == nil && m.Traffic == nil && m.Market == nil
}
