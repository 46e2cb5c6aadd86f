package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfsync/shelfsync/internal/common"
	"github.com/shelfsync/shelfsync/internal/model"
	"github.com/shelfsync/shelfsync/internal/service"
	"github.com/shelfsync/shelfsync/internal/storage"
)

var syncDate = time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)

type fakeProvider struct {
	snapshot *service.Snapshot
	err      error
}

func (p *fakeProvider) GetSnapshot(_ context.Context) (*service.Snapshot, error) {
	return p.snapshot, p.err
}

type fakeSource struct {
	name     model.Source
	records  []model.ExternalRecord
	err      error
	gotSince *time.Time
	fetches  int
}

func (s *fakeSource) Name() model.Source { return s.name }

func (s *fakeSource) Fetch(_ context.Context, _ time.Time, since *time.Time) ([]model.ExternalRecord, error) {
	s.fetches++
	s.gotSince = since
	return s.records, s.err
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MatchWorkers = 4
	cfg.FetchTimeout = 5 * time.Second
	cfg.Retry = service.RetryOptions{MaxAttempts: 1, InitialDelay: time.Millisecond}
	return cfg
}

func testSnapshot() *service.Snapshot {
	return &service.Snapshot{
		BaseURL: "https://example.com",
		Nodes: []model.CatalogNode{
			{ID: "outerwear", Path: "/categories/outerwear"},
			{ID: "winter-jackets", ParentID: "outerwear", Path: "/categories/outerwear/winter-jackets"},
			{ID: "winter-boots", ParentID: "outerwear", Path: "/categories/outerwear/winter-boots"},
		},
		Products: []model.Product{
			{ID: "prod-1", URL: "https://example.com/products/alpine-jacket-p-10001", GTIN: "0012345678905", CategoryID: "winter-jackets"},
		},
	}
}

func newTestStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func searchRecord(identifier string, clicks int64) model.ExternalRecord {
	return model.ExternalRecord{
		Date:           syncDate,
		Source:         model.SourceSearchConsole,
		Identifier:     identifier,
		IdentifierType: model.IdentifierURL,
		Metrics: model.SourceMetrics{
			Search: &model.SearchMetrics{Clicks: clicks, Impressions: clicks * 10, CTR: 0.1, Position: 2.0},
		},
	}
}

func trafficRecord(path string, sessions int64) model.ExternalRecord {
	return model.ExternalRecord{
		Date:           syncDate,
		Source:         model.SourceAnalytics,
		Identifier:     path,
		IdentifierType: model.IdentifierPath,
		Metrics: model.SourceMetrics{
			Traffic: &model.TrafficMetrics{Sessions: sessions, Transactions: sessions / 10, Revenue: float64(sessions) * 10, ConversionRate: 0.1},
		},
	}
}

func marketRecord(gtin string, price float64, offers int64) model.ExternalRecord {
	return model.ExternalRecord{
		Date:           syncDate,
		Source:         model.SourceMarket,
		Identifier:     gtin,
		IdentifierType: model.IdentifierGTIN,
		Metrics: model.SourceMetrics{
			Market: &model.MarketMetrics{Price: price, OfferCount: offers},
		},
	}
}

func metricsByKey(rows []model.IntegratedMetric) map[model.EntityKey]model.IntegratedMetric {
	out := make(map[model.EntityKey]model.IntegratedMetric, len(rows))
	for _, row := range rows {
		out[row.Key()] = row
	}
	return out
}

func TestSyncFullRun(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	gsc := &fakeSource{name: model.SourceSearchConsole, records: []model.ExternalRecord{
		searchRecord("https://example.com/categories/outerwear/winter-jackets", 100),
		searchRecord("https://example.com/blog/zq9-xv81", 7), // matches nothing
	}}
	ga4 := &fakeSource{name: model.SourceAnalytics, records: []model.ExternalRecord{
		trafficRecord("/categories/outerwear/winter-boots", 50),
	}}
	mkt := &fakeSource{name: model.SourceMarket, records: []model.ExternalRecord{
		marketRecord("0012345678905", 89.99, 4),
	}}

	eng := NewWithConfig(store, &fakeProvider{snapshot: testSnapshot()}, []service.MetricSource{gsc, ga4, mkt}, testConfig())

	summary, err := eng.Sync(ctx, syncDate, service.ModeFull)
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, service.RunCompleted, summary.State)
	assert.Equal(t, service.RunCompleted, eng.State())
	assert.Empty(t, summary.ValidationErrors)
	assert.InDelta(t, 0.75, summary.MatchRate, 0.0001, "3 of 4 records matched")

	gscStats := summary.PerSource[model.SourceSearchConsole]
	assert.Equal(t, 1, gscStats.Matched)
	assert.Equal(t, 1, gscStats.Unmatched)
	assert.InDelta(t, 1.0, gscStats.AvgConfidence, 0.0001)

	// Confidence bands: exact URL 1.0, path 0.8, exact GTIN 1.0.
	assert.Equal(t, 2, summary.ConfidenceBands["0.9-1.0"])
	assert.Equal(t, 1, summary.ConfidenceBands["0.8-0.9"])

	rows, err := store.GetMetricsForDate(ctx, syncDate)
	require.NoError(t, err)
	assert.Equal(t, summary.RowsPersisted, len(rows))
	byKey := metricsByKey(rows)

	root := byKey[model.EntityKey{Type: model.EntityTypeNode, ID: "outerwear"}]
	require.NotNil(t, root.Search)
	assert.Equal(t, int64(100), root.Search.Clicks)
	require.NotNil(t, root.Traffic)
	assert.Equal(t, int64(50), root.Traffic.Sessions)
	require.NotNil(t, root.Market)
	assert.InDelta(t, 89.99, root.Market.Price, 0.0001)
	assert.True(t, root.IsAggregated)

	jackets := byKey[model.EntityKey{Type: model.EntityTypeNode, ID: "winter-jackets"}]
	require.NotNil(t, jackets.Direct.Search, "directly matched metrics are kept separable")
	assert.Equal(t, int64(100), jackets.Direct.Search.Clicks)

	// The unmatched record is tracked for review.
	unmatched, err := store.GetTopUnmatched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unmatched, 1)
	assert.Equal(t, "https://example.com/blog/zq9-xv81", unmatched[0].Identifier)

	// Checkpoints advanced for every source.
	for _, src := range []model.Source{model.SourceSearchConsole, model.SourceAnalytics, model.SourceMarket} {
		cp, cpErr := store.GetLastSuccessfulRun(ctx, src)
		require.NoError(t, cpErr)
		require.NotNil(t, cp, "checkpoint for %s", src)
		assert.Equal(t, summary.RunID, cp.RunID)
	}

	// The run summary is queryable afterwards.
	rates, err := store.GetMatchRateSummary(ctx, syncDate)
	require.NoError(t, err)
	assert.Equal(t, 1, rates[model.SourceSearchConsole].Matched)
}

func TestSyncSourceFailureIsolation(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	gsc := &fakeSource{name: model.SourceSearchConsole, records: []model.ExternalRecord{
		searchRecord("https://example.com/categories/outerwear", 30),
	}}
	mkt := &fakeSource{name: model.SourceMarket, err: errors.New("feed unavailable")}

	eng := NewWithConfig(store, &fakeProvider{snapshot: testSnapshot()}, []service.MetricSource{gsc, mkt}, testConfig())

	summary, err := eng.Sync(ctx, syncDate, service.ModeFull)
	require.NoError(t, err, "a source failure does not fail the run")
	assert.Equal(t, service.RunCompleted, summary.State)

	mktStats := summary.PerSource[model.SourceMarket]
	assert.True(t, mktStats.Failed)
	assert.Contains(t, mktStats.Error, "feed unavailable")

	// The healthy source's data still lands.
	rows, err := store.GetMetricsForDate(ctx, syncDate)
	require.NoError(t, err)
	assert.NotEmpty(t, rows)

	// The failed source's checkpoint must not advance.
	cp, err := store.GetLastSuccessfulRun(ctx, model.SourceMarket)
	require.NoError(t, err)
	assert.Nil(t, cp)

	cp, err = store.GetLastSuccessfulRun(ctx, model.SourceSearchConsole)
	require.NoError(t, err)
	require.NotNil(t, cp)
}

func TestSyncManualMappingWins(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	// The blog URL matches nothing algorithmically, but a reviewer mapped it.
	require.NoError(t, store.CreateManualMapping(ctx, &model.ManualMapping{
		SourceIdentifier: "https://example.com/blog/zq9-xv81",
		EntityType:       model.EntityTypeNode,
		EntityID:         "winter-boots",
		Active:           true,
	}))

	gsc := &fakeSource{name: model.SourceSearchConsole, records: []model.ExternalRecord{
		searchRecord("https://example.com/blog/zq9-xv81", 40),
	}}

	eng := NewWithConfig(store, &fakeProvider{snapshot: testSnapshot()}, []service.MetricSource{gsc}, testConfig())

	summary, err := eng.Sync(ctx, syncDate, service.ModeFull)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, summary.MatchRate, 0.0001)

	rows, err := store.GetMetricsForDate(ctx, syncDate)
	require.NoError(t, err)
	byKey := metricsByKey(rows)

	boots := byKey[model.EntityKey{Type: model.EntityTypeNode, ID: "winter-boots"}]
	require.NotNil(t, boots.Search)
	assert.Equal(t, int64(40), boots.Search.Clicks)
	assert.InDelta(t, 1.0, boots.SearchConfidence, 0.0001)
}

func TestSyncIncrementalReusesBaseline(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	gsc := &fakeSource{name: model.SourceSearchConsole, records: []model.ExternalRecord{
		searchRecord("https://example.com/categories/outerwear/winter-jackets", 100),
	}}
	ga4 := &fakeSource{name: model.SourceAnalytics, records: []model.ExternalRecord{
		trafficRecord("/categories/outerwear/winter-boots", 50),
	}}
	mkt := &fakeSource{name: model.SourceMarket, records: []model.ExternalRecord{
		marketRecord("0012345678905", 89.99, 4),
	}}

	eng := NewWithConfig(store, &fakeProvider{snapshot: testSnapshot()}, []service.MetricSource{gsc, ga4, mkt}, testConfig())

	_, err := eng.Sync(ctx, syncDate, service.ModeFull)
	require.NoError(t, err)

	// Second run: only the market feed has fresh data.
	gsc.records = nil
	ga4.records = nil
	mkt.records = []model.ExternalRecord{marketRecord("0012345678905", 120.00, 5)}

	summary, err := eng.Sync(ctx, syncDate, service.ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, service.RunCompleted, summary.State)
	require.NotNil(t, mkt.gotSince, "incremental fetch passes the last checkpoint")

	rows, err := store.GetMetricsForDate(ctx, syncDate)
	require.NoError(t, err)
	byKey := metricsByKey(rows)

	// The touched product and its ancestors carry the new price.
	product := byKey[model.EntityKey{Type: model.EntityTypeProduct, ID: "prod-1"}]
	require.NotNil(t, product.Market)
	assert.InDelta(t, 120.00, product.Market.Price, 0.0001)

	root := byKey[model.EntityKey{Type: model.EntityTypeNode, ID: "outerwear"}]
	require.NotNil(t, root.Market)
	assert.InDelta(t, 120.00, root.Market.Price, 0.0001)

	// Untouched contributions survive through the baseline.
	require.NotNil(t, root.Search)
	assert.Equal(t, int64(100), root.Search.Clicks)

	boots := byKey[model.EntityKey{Type: model.EntityTypeNode, ID: "winter-boots"}]
	require.NotNil(t, boots.Traffic)
	assert.Equal(t, int64(50), boots.Traffic.Sessions)
}

func TestSyncIncrementalKeepsQuietSourceArms(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	// prod-1 carries metrics from two sources after the full run.
	gsc := &fakeSource{name: model.SourceSearchConsole, records: []model.ExternalRecord{
		searchRecord("https://example.com/products/alpine-jacket-p-10001", 100),
	}}
	mkt := &fakeSource{name: model.SourceMarket, records: []model.ExternalRecord{
		marketRecord("0012345678905", 89.99, 4),
	}}

	eng := NewWithConfig(store, &fakeProvider{snapshot: testSnapshot()}, []service.MetricSource{gsc, mkt}, testConfig())

	_, err := eng.Sync(ctx, syncDate, service.ModeFull)
	require.NoError(t, err)

	// Search re-reports the full day; the market feed has no changes and
	// returns nothing. Its arm must survive through the baseline.
	gsc.records = []model.ExternalRecord{
		searchRecord("https://example.com/products/alpine-jacket-p-10001", 110),
	}
	mkt.records = nil

	_, err = eng.Sync(ctx, syncDate, service.ModeIncremental)
	require.NoError(t, err)

	rows, err := store.GetMetricsForDate(ctx, syncDate)
	require.NoError(t, err)
	byKey := metricsByKey(rows)

	product := byKey[model.EntityKey{Type: model.EntityTypeProduct, ID: "prod-1"}]
	require.NotNil(t, product.Search)
	assert.Equal(t, int64(110), product.Search.Clicks)
	require.NotNil(t, product.Market, "the quiet source's arm is kept, not replaced away")
	assert.InDelta(t, 89.99, product.Market.Price, 0.0001)
	assert.InDelta(t, 1.0, product.MarketConfidence, 0.0001)

	root := byKey[model.EntityKey{Type: model.EntityTypeNode, ID: "outerwear"}]
	require.NotNil(t, root.Market)
	assert.InDelta(t, 89.99, root.Market.Price, 0.0001)
	require.NotNil(t, root.Search)
	assert.Equal(t, int64(110), root.Search.Clicks)
}

func TestSyncAllSourcesFailedKeepsExistingRows(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	gsc := &fakeSource{name: model.SourceSearchConsole, records: []model.ExternalRecord{
		searchRecord("https://example.com/categories/outerwear", 30),
	}}

	eng := NewWithConfig(store, &fakeProvider{snapshot: testSnapshot()}, []service.MetricSource{gsc}, testConfig())

	_, err := eng.Sync(ctx, syncDate, service.ModeFull)
	require.NoError(t, err)

	// A transient outage takes down every source. The run fails instead of
	// overwriting the date with an empty set.
	gsc.records = nil
	gsc.err = errors.New("upstream down")

	summary, err := eng.Sync(ctx, syncDate, service.ModeFull)
	require.ErrorIs(t, err, common.ErrSourceFetch)
	require.NotNil(t, summary)
	assert.Equal(t, service.RunFailed, summary.State)
	assert.True(t, summary.PerSource[model.SourceSearchConsole].Failed)

	rows, err := store.GetMetricsForDate(ctx, syncDate)
	require.NoError(t, err)
	assert.NotEmpty(t, rows, "the previous run's rows survive the outage")
}

func TestSyncSnapshotFailure(t *testing.T) {
	store := newTestStorage(t)

	eng := NewWithConfig(store, &fakeProvider{err: errors.New("catalog export timed out")}, nil, testConfig())

	summary, err := eng.Sync(context.Background(), syncDate, service.ModeFull)
	require.Error(t, err)
	require.NotNil(t, summary, "a failed run still returns its summary")
	assert.Equal(t, service.RunFailed, summary.State)
	assert.Equal(t, service.RunFailed, eng.State())
}

func TestSyncQuarantinedSubtreeReported(t *testing.T) {
	store := newTestStorage(t)

	snapshot := testSnapshot()
	snapshot.Nodes = append(snapshot.Nodes, model.CatalogNode{ID: "lost", ParentID: "no-such-parent", Path: "/lost"})

	eng := NewWithConfig(store, &fakeProvider{snapshot: snapshot}, nil, testConfig())

	summary, err := eng.Sync(context.Background(), syncDate, service.ModeFull)
	require.NoError(t, err)
	require.Len(t, summary.ValidationErrors, 1)
	assert.Equal(t, model.ReasonOrphanedParent, summary.ValidationErrors[0].Reason)
}

func TestSyncRejectsConcurrentRun(t *testing.T) {
	store := newTestStorage(t)

	eng := NewWithConfig(store, &fakeProvider{snapshot: testSnapshot()}, nil, testConfig())
	eng.mu.Lock()
	eng.running = true
	eng.mu.Unlock()

	_, err := eng.Sync(context.Background(), syncDate, service.ModeFull)
	require.ErrorIs(t, err, common.ErrRunInProgress)
}
