// Package config loads application configuration from viper and the
// environment.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/shelfsync/shelfsync/internal/source"
)

// ExpandPath expands a leading ~ and $VAR style environment variables in a
// file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	} else if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}

// DatabasePath returns the configured SQLite path, defaulting to the
// standard data directory.
func DatabasePath() string {
	path := viper.GetString("database.path")
	if path == "" {
		path = "$HOME/.local/share/shelfsync/shelfsync.db"
	}
	return ExpandPath(path)
}

// CatalogLocation returns where the catalog export lives: a file path or an
// HTTP(S) URL.
func CatalogLocation() string {
	return ExpandPath(viper.GetString("catalog.location"))
}

// Sources holds the external feed configuration for a sync run. Empty fields
// mean the source is not configured and is skipped.
type Sources struct {
	SearchConsoleSite string
	AnalyticsProperty string
	MarketFeedURL     string
	MarketFeedToken   string
	Credentials       source.Credentials
}

// LoadSources loads source configuration with this precedence:
// 1. Viper configuration (config file or SHELFSYNC_ env vars)
// 2. Direct environment variables (GOOGLE_APPLICATION_CREDENTIALS, MARKET_FEED_TOKEN)
func LoadSources() Sources {
	s := Sources{
		SearchConsoleSite: viper.GetString("sources.gsc.site_url"),
		AnalyticsProperty: viper.GetString("sources.ga4.property_id"),
		MarketFeedURL:     viper.GetString("sources.market.feed_url"),
		MarketFeedToken:   viper.GetString("sources.market.token"),
		Credentials: source.Credentials{
			CredentialsFile: ExpandPath(viper.GetString("sources.google.credentials_file")),
			AccessToken:     viper.GetString("sources.google.access_token"),
		},
	}

	if s.Credentials.CredentialsFile == "" && s.Credentials.AccessToken == "" {
		s.Credentials.CredentialsFile = ExpandPath(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if s.MarketFeedToken == "" {
		s.MarketFeedToken = os.Getenv("MARKET_FEED_TOKEN")
	}

	return s
}
