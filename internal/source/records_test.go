package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
	searchconsole "google.golang.org/api/searchconsole/v1"

	"github.com/shelfsync/shelfsync/internal/common"
	"github.com/shelfsync/shelfsync/internal/model"
)

var recordDate = time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)

func TestSearchRecords(t *testing.T) {
	rows := []*searchconsole.ApiDataRow{
		{Keys: []string{"https://shop.example.com/categories/outerwear"}, Clicks: 150, Impressions: 1500, Ctr: 0.1, Position: 3.4},
		{Keys: nil, Clicks: 10},
		{Keys: []string{""}, Clicks: 5},
	}

	records := searchRecords(recordDate, rows)
	require.Len(t, records, 1, "rows without a page key are dropped")

	rec := records[0]
	assert.Equal(t, model.SourceSearchConsole, rec.Source)
	assert.Equal(t, "https://shop.example.com/categories/outerwear", rec.Identifier)
	assert.Equal(t, model.IdentifierURL, rec.IdentifierType)
	require.NotNil(t, rec.Metrics.Search)
	assert.Equal(t, int64(150), rec.Metrics.Search.Clicks)
	assert.Equal(t, int64(1500), rec.Metrics.Search.Impressions)
	assert.InDelta(t, 0.1, rec.Metrics.Search.CTR, 0.0001)
	assert.InDelta(t, 3.4, rec.Metrics.Search.Position, 0.0001)
	assert.Nil(t, rec.Metrics.Traffic)
}

func TestTrafficRecords(t *testing.T) {
	rows := []*analyticsdata.Row{
		{
			DimensionValues: []*analyticsdata.DimensionValue{{Value: "/categories/outerwear"}},
			MetricValues:    []*analyticsdata.MetricValue{{Value: "400"}, {Value: "20"}, {Value: "1999.50"}},
		},
		{
			DimensionValues: []*analyticsdata.DimensionValue{{Value: "(not set)"}},
			MetricValues:    []*analyticsdata.MetricValue{{Value: "10"}, {Value: "0"}, {Value: "0"}},
		},
		{
			DimensionValues: []*analyticsdata.DimensionValue{{Value: "/zero-sessions"}},
			MetricValues:    []*analyticsdata.MetricValue{{Value: "0"}, {Value: "0"}, {Value: "0"}},
		},
	}

	records := trafficRecords(recordDate, rows)
	require.Len(t, records, 2, "(not set) landing pages are dropped")

	rec := records[0]
	assert.Equal(t, model.SourceAnalytics, rec.Source)
	assert.Equal(t, "/categories/outerwear", rec.Identifier)
	assert.Equal(t, model.IdentifierPath, rec.IdentifierType)
	require.NotNil(t, rec.Metrics.Traffic)
	assert.Equal(t, int64(400), rec.Metrics.Traffic.Sessions)
	assert.Equal(t, int64(20), rec.Metrics.Traffic.Transactions)
	assert.InDelta(t, 1999.50, rec.Metrics.Traffic.Revenue, 0.0001)
	assert.InDelta(t, 0.05, rec.Metrics.Traffic.ConversionRate, 0.0001)

	// Zero sessions must not divide by zero.
	assert.Zero(t, records[1].Metrics.Traffic.ConversionRate)
}

func TestCredentialsClientOptions(t *testing.T) {
	_, err := Credentials{}.clientOptions("scope")
	require.ErrorIs(t, err, common.ErrMissingConfig)

	opts, err := Credentials{AccessToken: "tok"}.clientOptions("scope")
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	opts, err = Credentials{CredentialsFile: "/tmp/key.json"}.clientOptions("scope")
	require.NoError(t, err)
	assert.Len(t, opts, 2)
}
