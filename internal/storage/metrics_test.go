package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfsync/shelfsync/internal/model"
)

var metricsDate = time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)

func sampleRows() []model.IntegratedMetric {
	return []model.IntegratedMetric{
		{
			Date:       metricsDate,
			EntityType: model.EntityTypeNode,
			EntityID:   "outerwear",
			Search:     &model.SearchMetrics{Clicks: 150, Impressions: 1500, CTR: 0.1, Position: 3.0},
			Direct: model.SourceMetrics{
				Search: &model.SearchMetrics{Clicks: 10, Impressions: 100, CTR: 0.1, Position: 1.0},
			},
			SearchConfidence: 0.8,
			IsAggregated:     true,
			ChildCount:       2,
		},
		{
			Date:              metricsDate,
			EntityType:        model.EntityTypeProduct,
			EntityID:          "prod-1",
			Traffic:           &model.TrafficMetrics{Sessions: 40, Transactions: 2, Revenue: 199.9, ConversionRate: 0.05},
			Market:            &model.MarketMetrics{Price: 89.99, OfferCount: 4},
			TrafficConfidence: 0.9,
			MarketConfidence:  1.0,
		},
	}
}

func TestReplaceIntegratedMetricsRoundTrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceIntegratedMetrics(ctx, metricsDate, sampleRows()))

	rows, err := store.GetMetricsForDate(ctx, metricsDate)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	node := rows[0]
	assert.Equal(t, model.EntityTypeNode, node.EntityType)
	assert.Equal(t, "outerwear", node.EntityID)
	require.NotNil(t, node.Search)
	assert.Equal(t, int64(150), node.Search.Clicks)
	assert.InDelta(t, 3.0, node.Search.Position, 0.0001)
	require.NotNil(t, node.Direct.Search)
	assert.Equal(t, int64(10), node.Direct.Search.Clicks)
	assert.True(t, node.IsAggregated)
	assert.Equal(t, 2, node.ChildCount)
	assert.Nil(t, node.Traffic)

	product := rows[1]
	require.NotNil(t, product.Traffic)
	assert.InDelta(t, 199.9, product.Traffic.Revenue, 0.0001)
	require.NotNil(t, product.Market)
	assert.Equal(t, int64(4), product.Market.OfferCount)
	assert.InDelta(t, 0.9, product.TrafficConfidence, 0.0001)
}

func TestReplaceIntegratedMetricsIdempotent(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceIntegratedMetrics(ctx, metricsDate, sampleRows()))
	first, err := store.GetMetricsForDate(ctx, metricsDate)
	require.NoError(t, err)

	require.NoError(t, store.ReplaceIntegratedMetrics(ctx, metricsDate, sampleRows()))
	second, err := store.GetMetricsForDate(ctx, metricsDate)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestReplaceIntegratedMetricsDropsStaleRows(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceIntegratedMetrics(ctx, metricsDate, sampleRows()))
	require.NoError(t, store.ReplaceIntegratedMetrics(ctx, metricsDate, sampleRows()[:1]))

	rows, err := store.GetMetricsForDate(ctx, metricsDate)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// Rows for other dates are untouched.
	otherDate := metricsDate.AddDate(0, 0, 1)
	other := sampleRows()
	for i := range other {
		other[i].Date = otherDate
	}
	require.NoError(t, store.ReplaceIntegratedMetrics(ctx, otherDate, other))
	require.NoError(t, store.ReplaceIntegratedMetrics(ctx, metricsDate, nil))

	rows, err = store.GetMetricsForDate(ctx, otherDate)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestGetIntegratedMetricsDateRange(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for day := 0; day < 3; day++ {
		date := metricsDate.AddDate(0, 0, day)
		rows := []model.IntegratedMetric{{
			Date:       date,
			EntityType: model.EntityTypeNode,
			EntityID:   "outerwear",
			Search:     &model.SearchMetrics{Clicks: int64(day + 1)},
		}}
		require.NoError(t, store.ReplaceIntegratedMetrics(ctx, date, rows))
	}

	rows, err := store.GetIntegratedMetrics(ctx, model.EntityTypeNode, "outerwear", metricsDate, metricsDate.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].Search.Clicks)
	assert.Equal(t, int64(2), rows[1].Search.Clicks)

	_, err = store.GetIntegratedMetrics(ctx, model.EntityTypeNode, "outerwear", metricsDate, metricsDate.AddDate(0, 0, -1))
	require.Error(t, err, "reversed range is rejected")
}
