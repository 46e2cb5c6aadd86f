package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/common"
	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/service"
	"github.com/shelfsync/shelfsync/internal/source"
	"github.com/shelfsync/shelfsync/internal/storage"
)

// initStorage opens the database and runs pending migrations.
func initStorage(ctx context.Context) (service.Storage, error) {
	store, err := storage.NewSQLiteStorage(config.DatabasePath())
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initProvider builds the catalog provider from configuration.
func initProvider() (service.CatalogProvider, error) {
	location := config.CatalogLocation()
	if location == "" {
		return nil, common.NewUserError(
			"no catalog configured - set catalog.location to your export file or URL", common.ErrMissingConfig)
	}
	return catalog.NewFeedProvider(location)
}

// initSources builds a client for every configured source. Unconfigured
// sources are skipped with a log line rather than an error, so a partial
// setup still syncs what it can.
func initSources(ctx context.Context) ([]service.MetricSource, error) {
	cfg := config.LoadSources()
	var sources []service.MetricSource

	if cfg.SearchConsoleSite != "" {
		gsc, err := source.NewSearchConsoleSource(ctx, cfg.SearchConsoleSite, cfg.Credentials)
		if err != nil {
			return nil, fmt.Errorf("search console: %w", err)
		}
		sources = append(sources, gsc)
	} else {
		slog.Info("Search Console not configured, skipping")
	}

	if cfg.AnalyticsProperty != "" {
		ga4, err := source.NewAnalyticsSource(ctx, cfg.AnalyticsProperty, cfg.Credentials)
		if err != nil {
			return nil, fmt.Errorf("analytics: %w", err)
		}
		sources = append(sources, ga4)
	} else {
		slog.Info("Analytics not configured, skipping")
	}

	if cfg.MarketFeedURL != "" {
		mkt, err := source.NewMarketSource(cfg.MarketFeedURL, cfg.MarketFeedToken)
		if err != nil {
			return nil, fmt.Errorf("market feed: %w", err)
		}
		sources = append(sources, mkt)
	} else {
		slog.Info("Market feed not configured, skipping")
	}

	if len(sources) == 0 {
		return nil, common.NewUserError("no sources configured - nothing to sync", common.ErrSourceConfigured)
	}
	return sources, nil
}

// parseDate parses a --date flag value, defaulting to yesterday UTC when
// empty. Metrics for the current day are still in motion upstream.
func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour), nil
	}
	date, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (want YYYY-MM-DD)", common.ErrInvalidDateArg, value)
	}
	return date, nil
}
