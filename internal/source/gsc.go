package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	searchconsole "google.golang.org/api/searchconsole/v1"

	"github.com/shelfsync/shelfsync/internal/common"
	"github.com/shelfsync/shelfsync/internal/model"
	"github.com/shelfsync/shelfsync/internal/service"
)

// Search Console caps a single query at 25k rows; larger days are paged.
const gscRowLimit = 25000

// SearchConsoleSource fetches daily search analytics keyed by page URL.
type SearchConsoleSource struct {
	svc     *searchconsole.Service
	siteURL string
}

var _ service.MetricSource = (*SearchConsoleSource)(nil)

// NewSearchConsoleSource creates a Search Console client for one property.
// siteURL is the property identifier, e.g. "sc-domain:example.com" or
// "https://example.com/".
func NewSearchConsoleSource(ctx context.Context, siteURL string, creds Credentials) (*SearchConsoleSource, error) {
	if siteURL == "" {
		return nil, fmt.Errorf("%w: search console site url", common.ErrMissingConfig)
	}

	opts, err := creds.clientOptions(searchconsole.WebmastersReadonlyScope)
	if err != nil {
		return nil, err
	}

	svc, err := searchconsole.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create search console service: %w", err)
	}

	return &SearchConsoleSource{svc: svc, siteURL: siteURL}, nil
}

// Name implements service.MetricSource.
func (s *SearchConsoleSource) Name() model.Source {
	return model.SourceSearchConsole
}

// Fetch pages through the day's analytics rows. Search Console exposes no
// change cursor, so incremental runs still pull the full day.
func (s *SearchConsoleSource) Fetch(ctx context.Context, date time.Time, _ *time.Time) ([]model.ExternalRecord, error) {
	day := date.Format("2006-01-02")

	var records []model.ExternalRecord
	for startRow := int64(0); ; startRow += gscRowLimit {
		req := &searchconsole.SearchAnalyticsQueryRequest{
			StartDate:  day,
			EndDate:    day,
			Dimensions: []string{"page"},
			RowLimit:   gscRowLimit,
			StartRow:   startRow,
		}

		resp, err := s.svc.Searchanalytics.Query(s.siteURL, req).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("%w: search console query: %v", common.ErrSourceFetch, err)
		}

		records = append(records, searchRecords(date, resp.Rows)...)
		if int64(len(resp.Rows)) < gscRowLimit {
			break
		}
	}

	slog.Debug("Fetched search console analytics",
		"site", s.siteURL,
		"date", day,
		"records", len(records))

	return records, nil
}

// searchRecords converts API rows into external records, dropping rows
// without a page key.
func searchRecords(date time.Time, rows []*searchconsole.ApiDataRow) []model.ExternalRecord {
	records := make([]model.ExternalRecord, 0, len(rows))
	for _, row := range rows {
		if len(row.Keys) == 0 || row.Keys[0] == "" {
			continue
		}

		records = append(records, model.ExternalRecord{
			Date:           date,
			Source:         model.SourceSearchConsole,
			Identifier:     row.Keys[0],
			IdentifierType: model.IdentifierURL,
			Metrics: model.SourceMetrics{
				Search: &model.SearchMetrics{
					Clicks:      int64(row.Clicks),
					Impressions: int64(row.Impressions),
					CTR:         row.Ctr,
					Position:    row.Position,
				},
			},
		})
	}
	return records
}
