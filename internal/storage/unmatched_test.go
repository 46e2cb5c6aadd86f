package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfsync/shelfsync/internal/model"
)

func searchMetrics(clicks int64) model.SourceMetrics {
	return model.SourceMetrics{Search: &model.SearchMetrics{Clicks: clicks, Impressions: clicks * 10}}
}

func TestRecordUnmatchedDedup(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	// First failure inserts attempt_count = 1.
	require.NoError(t, store.RecordUnmatched(ctx, model.SourceSearchConsole, "/blog/post-123", model.IdentifierURL, searchMetrics(5)))

	rows, err := store.GetTopUnmatched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].AttemptCount)
	assert.Equal(t, int64(5), rows[0].RawMetrics.Search.Clicks)

	// Second failure for the same (source, identifier) bumps the counter
	// and replaces the stored metrics instead of duplicating the row.
	require.NoError(t, store.RecordUnmatched(ctx, model.SourceSearchConsole, "/blog/post-123", model.IdentifierURL, searchMetrics(9)))

	rows, err = store.GetTopUnmatched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].AttemptCount)
	assert.Equal(t, int64(9), rows[0].RawMetrics.Search.Clicks)

	// A different source is its own row.
	require.NoError(t, store.RecordUnmatched(ctx, model.SourceAnalytics, "/blog/post-123", model.IdentifierPath, model.SourceMetrics{}))

	rows, err = store.GetTopUnmatched(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRecordUnmatchedConcurrent(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.RecordUnmatched(ctx, model.SourceMarket, "0099999999999", model.IdentifierGTIN, model.SourceMetrics{})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows, err := store.GetTopUnmatched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, workers, rows[0].AttemptCount, "concurrent upserts must not lose increments")
}

func TestResolveUnmatched(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.RecordUnmatched(ctx, model.SourceSearchConsole, "/old-page", model.IdentifierURL, model.SourceMetrics{}))
	require.NoError(t, store.ResolveUnmatched(ctx, model.SourceSearchConsole, "/old-page"))

	rows, err := store.GetTopUnmatched(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// A failure after resolution starts a fresh cycle at attempt_count 1.
	require.NoError(t, store.RecordUnmatched(ctx, model.SourceSearchConsole, "/old-page", model.IdentifierURL, model.SourceMetrics{}))

	rows, err = store.GetTopUnmatched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].AttemptCount)
}

func TestGetTopUnmatchedOrdering(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.RecordUnmatched(ctx, model.SourceSearchConsole, "/once", model.IdentifierURL, model.SourceMetrics{}))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordUnmatched(ctx, model.SourceSearchConsole, "/thrice", model.IdentifierURL, model.SourceMetrics{}))
	}

	rows, err := store.GetTopUnmatched(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "/thrice", rows[0].Identifier)
	assert.Equal(t, 3, rows[0].AttemptCount)
}
