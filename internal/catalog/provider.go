package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shelfsync/shelfsync/internal/common"
	"github.com/shelfsync/shelfsync/internal/model"
	"github.com/shelfsync/shelfsync/internal/service"
)

// FeedProvider loads a catalog snapshot from a JSON export, either a local
// file or an HTTP(S) endpoint. The export format mirrors the storefront's
// catalog dump: a base URL plus flat node and product lists.
type FeedProvider struct {
	location   string
	httpClient *http.Client
}

var _ service.CatalogProvider = (*FeedProvider)(nil)

// Catalog export format.
type catalogExport struct {
	BaseURL  string          `json:"base_url"`
	Nodes    []exportNode    `json:"nodes"`
	Products []exportProduct `json:"products"`
}

type exportNode struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Path     string `json:"path"`
}

type exportProduct struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	GTIN       string `json:"gtin"`
	CategoryID string `json:"category_id"`
}

// NewFeedProvider creates a provider for the given location. Locations
// starting with http:// or https:// are fetched; anything else is read as a
// file path.
func NewFeedProvider(location string) (*FeedProvider, error) {
	if location == "" {
		return nil, fmt.Errorf("%w: catalog location", common.ErrMissingConfig)
	}
	return &FeedProvider{
		location: location,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// GetSnapshot loads and decodes the catalog export.
func (p *FeedProvider) GetSnapshot(ctx context.Context) (*service.Snapshot, error) {
	body, err := p.read(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	var export catalogExport
	if err := json.NewDecoder(body).Decode(&export); err != nil {
		return nil, fmt.Errorf("failed to decode catalog export: %w", err)
	}

	snapshot := &service.Snapshot{
		BaseURL:  export.BaseURL,
		Nodes:    make([]model.CatalogNode, 0, len(export.Nodes)),
		Products: make([]model.Product, 0, len(export.Products)),
	}
	for _, n := range export.Nodes {
		snapshot.Nodes = append(snapshot.Nodes, model.CatalogNode{
			ID:       n.ID,
			ParentID: n.ParentID,
			Path:     n.Path,
		})
	}
	for _, pr := range export.Products {
		snapshot.Products = append(snapshot.Products, model.Product{
			ID:         pr.ID,
			URL:        pr.URL,
			GTIN:       pr.GTIN,
			CategoryID: pr.CategoryID,
		})
	}

	slog.Debug("Loaded catalog snapshot",
		"location", p.location,
		"nodes", len(snapshot.Nodes),
		"products", len(snapshot.Products))

	return snapshot, nil
}

func (p *FeedProvider) read(ctx context.Context) (io.ReadCloser, error) {
	if strings.HasPrefix(p.location, "http://") || strings.HasPrefix(p.location, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.location, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create catalog request: %w", err)
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch catalog export: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("catalog export returned %d", resp.StatusCode)
		}
		return resp.Body, nil
	}

	f, err := os.Open(p.location) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog export: %w", err)
	}
	return f, nil
}
