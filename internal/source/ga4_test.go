package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
	"google.golang.org/api/option"
)

func reportRow(page, sessions, transactions, revenue string) *analyticsdata.Row {
	return &analyticsdata.Row{
		DimensionValues: []*analyticsdata.DimensionValue{{Value: page}},
		MetricValues:    []*analyticsdata.MetricValue{{Value: sessions}, {Value: transactions}, {Value: revenue}},
	}
}

func TestAnalyticsFetchPagesThroughAllRows(t *testing.T) {
	var offsets []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req analyticsdata.RunReportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		offsets = append(offsets, req.Offset)

		// Three landing pages on a two-row page size: the day does not fit
		// in one response.
		resp := &analyticsdata.RunReportResponse{RowCount: 3}
		if req.Offset == 0 {
			resp.Rows = []*analyticsdata.Row{
				reportRow("/categories/outerwear", "10", "1", "99.50"),
				reportRow("/categories/outerwear/winter-boots", "20", "2", "150.00"),
			}
		} else {
			resp.Rows = []*analyticsdata.Row{
				reportRow("/categories/outerwear/winter-jackets", "30", "3", "300.00"),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	svc, err := analyticsdata.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication())
	require.NoError(t, err)

	src := &AnalyticsSource{svc: svc, property: "properties/123", pageSize: 2}

	records, err := src.Fetch(context.Background(), recordDate, nil)
	require.NoError(t, err)

	require.Len(t, records, 3, "every page's rows are collected")
	assert.Equal(t, []int64{0, 2}, offsets, "the second request continues where the first left off")
	assert.Equal(t, "/categories/outerwear/winter-jackets", records[2].Identifier)
	assert.Equal(t, int64(30), records[2].Metrics.Traffic.Sessions)
}
