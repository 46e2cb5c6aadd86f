package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shelfsync/shelfsync/internal/common"
	"github.com/shelfsync/shelfsync/internal/model"
	"github.com/shelfsync/shelfsync/internal/service"
)

// MarketSource fetches competitive pricing offers from the market feed,
// keyed by GTIN.
type MarketSource struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ service.MetricSource = (*MarketSource)(nil)

// Market feed response types.
type offerFeed struct {
	Offers []offerRow `json:"offers"`
}

type offerRow struct {
	GTIN       string  `json:"gtin"`
	Price      float64 `json:"price"`
	OfferCount int64   `json:"offer_count"`
	UpdatedAt  int64   `json:"updated_at"`
}

// NewMarketSource creates a market feed client. token may be empty when the
// feed is unauthenticated.
func NewMarketSource(baseURL, token string) (*MarketSource, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: market feed url", common.ErrMissingConfig)
	}

	return &MarketSource{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name implements service.MetricSource.
func (s *MarketSource) Name() model.Source {
	return model.SourceMarket
}

// Fetch pulls the day's offers. When since is set only offers updated after
// that instant are requested, which keeps incremental runs small.
func (s *MarketSource) Fetch(ctx context.Context, date time.Time, since *time.Time) ([]model.ExternalRecord, error) {
	u, err := url.Parse(s.baseURL + "/offers")
	if err != nil {
		return nil, fmt.Errorf("failed to parse market feed URL: %w", err)
	}

	q := u.Query()
	q.Set("date", date.Format("2006-01-02"))
	if since != nil {
		q.Set("updated-since", fmt.Sprintf("%d", since.Unix()))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: market feed: %v", common.ErrSourceFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: market feed", common.ErrSourceRateLimit)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: market feed: %d - %s", common.ErrSourceFetch, resp.StatusCode, string(body))
	}

	var feed offerFeed
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("%w: decode market feed: %v", common.ErrSourceFetch, err)
	}

	records := make([]model.ExternalRecord, 0, len(feed.Offers))
	for _, offer := range feed.Offers {
		if offer.GTIN == "" {
			continue
		}

		records = append(records, model.ExternalRecord{
			Date:           date,
			Source:         model.SourceMarket,
			Identifier:     offer.GTIN,
			IdentifierType: model.IdentifierGTIN,
			Metrics: model.SourceMetrics{
				Market: &model.MarketMetrics{
					Price:      offer.Price,
					OfferCount: offer.OfferCount,
				},
			},
		})
	}

	slog.Debug("Fetched market offers",
		"date", date.Format("2006-01-02"),
		"records", len(records))

	return records, nil
}
