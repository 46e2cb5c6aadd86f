// Package aggregate rolls entity-level metrics up the catalog tree so every
// ancestor category reflects the combined performance of its descendants.
package aggregate

import "github.com/shelfsync/shelfsync/internal/model"

// Confidences carries the per-source match confidences of a contribution.
// The sources stay separate; they are never folded into one number.
type Confidences struct {
	Search  float64
	Traffic float64
	Market  float64
}

// Accumulator folds metric contributions together: additive fields are
// summed, rate fields are recomputed as weighted averages over the relevant
// volume field (impressions for CTR and position, sessions for conversion
// rate, offer count for price). Contributions must be added in a
// deterministic order when byte-identical output matters.
type Accumulator struct {
	clicks      int64
	impressions int64
	ctrW        float64
	posW        float64
	haveSearch  bool

	sessions     int64
	transactions int64
	revenue      float64
	convW        float64
	haveTraffic  bool

	offers     int64
	priceW     float64
	haveMarket bool

	conf      Confidences
	haveConf  Confidences // 0 or 1 flags, tracked as floats for symmetry
	contribs  int
}

// Add folds one contribution into the accumulator.
func (a *Accumulator) Add(m model.SourceMetrics, conf Confidences) {
	if m.IsEmpty() {
		return
	}
	a.contribs++

	if s := m.Search; s != nil {
		a.haveSearch = true
		a.clicks += s.Clicks
		a.impressions += s.Impressions
		a.ctrW += s.CTR * float64(s.Impressions)
		a.posW += s.Position * float64(s.Impressions)
		a.conf.Search, a.haveConf.Search = minConf(a.conf.Search, a.haveConf.Search, conf.Search)
	}
	if t := m.Traffic; t != nil {
		a.haveTraffic = true
		a.sessions += t.Sessions
		a.transactions += t.Transactions
		a.revenue += t.Revenue
		a.convW += t.ConversionRate * float64(t.Sessions)
		a.conf.Traffic, a.haveConf.Traffic = minConf(a.conf.Traffic, a.haveConf.Traffic, conf.Traffic)
	}
	if p := m.Market; p != nil {
		a.haveMarket = true
		a.offers += p.OfferCount
		a.priceW += p.Price * float64(p.OfferCount)
		a.conf.Market, a.haveConf.Market = minConf(a.conf.Market, a.haveConf.Market, conf.Market)
	}
}

// minConf keeps the lowest non-zero confidence seen. An aggregate is never
// more trustworthy than its weakest contributor.
func minConf(cur float64, have float64, next float64) (float64, float64) {
	if next <= 0 {
		return cur, have
	}
	if have == 0 || next < cur {
		return next, 1
	}
	return cur, have
}

// Empty reports whether nothing was added.
func (a *Accumulator) Empty() bool {
	return a.contribs == 0
}

// Result returns the folded metrics and confidences.
func (a *Accumulator) Result() (model.SourceMetrics, Confidences) {
	var out model.SourceMetrics

	if a.haveSearch {
		s := &model.SearchMetrics{
			Clicks:      a.clicks,
			Impressions: a.impressions,
		}
		if a.impressions > 0 {
			s.CTR = a.ctrW / float64(a.impressions)
			s.Position = a.posW / float64(a.impressions)
		}
		out.Search = s
	}
	if a.haveTraffic {
		t := &model.TrafficMetrics{
			Sessions:     a.sessions,
			Transactions: a.transactions,
			Revenue:      a.revenue,
		}
		if a.sessions > 0 {
			t.ConversionRate = a.convW / float64(a.sessions)
		}
		out.Traffic = t
	}
	if a.haveMarket {
		p := &model.MarketMetrics{OfferCount: a.offers}
		if a.offers > 0 {
			p.Price = a.priceW / float64(a.offers)
		}
		out.Market = p
	}

	return out, a.conf
}
