package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exportJSON = `{
	"base_url": "https://example.com",
	"nodes": [
		{"id": "outerwear", "path": "/categories/outerwear"},
		{"id": "winter-boots", "parent_id": "outerwear", "path": "/categories/outerwear/winter-boots"}
	],
	"products": [
		{"id": "prod-1", "url": "https://example.com/products/trail-boot-p-10002", "gtin": "0012345678905", "category_id": "winter-boots"}
	]
}`

func TestFeedProviderFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(exportJSON), 0o600))

	provider, err := NewFeedProvider(path)
	require.NoError(t, err)

	snapshot, err := provider.GetSnapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "https://example.com", snapshot.BaseURL)
	require.Len(t, snapshot.Nodes, 2)
	assert.Equal(t, "outerwear", snapshot.Nodes[1].ParentID)
	require.Len(t, snapshot.Products, 1)
	assert.Equal(t, "0012345678905", snapshot.Products[0].GTIN)

	// The export feeds straight into the index builder.
	idx, err := BuildIndex(snapshot)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.NodeCount())
}

func TestFeedProviderFromHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(exportJSON))
	}))
	defer server.Close()

	provider, err := NewFeedProvider(server.URL)
	require.NoError(t, err)

	snapshot, err := provider.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot.Products, 1)
}

func TestFeedProviderErrors(t *testing.T) {
	_, err := NewFeedProvider("")
	require.Error(t, err)

	provider, err := NewFeedProvider("/no/such/file.json")
	require.NoError(t, err)
	_, err = provider.GetSnapshot(context.Background())
	require.Error(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider, err = NewFeedProvider(server.URL)
	require.NoError(t, err)
	_, err = provider.GetSnapshot(context.Background())
	require.Error(t, err)
}
