// Package catalog builds the immutable per-run lookup structures over a
// catalog snapshot: URL, GTIN, path and slug indices plus the validated
// tree shape used by aggregation.
package catalog

import (
	"strings"
)

// NormalizeURL canonicalizes a URL for exact matching: scheme stripped,
// leading "www." stripped, query string and fragment dropped, lower-cased,
// trailing slash removed unless the path is the root.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))

	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	s = strings.TrimPrefix(s, "www.")

	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}

	// Trailing slash is dropped except on a root path, and a bare host is
	// canonicalized to its root form so "example.com" == "example.com/".
	if strings.HasSuffix(s, "/") {
		trimmed := strings.TrimSuffix(s, "/")
		if strings.Contains(trimmed, "/") {
			s = trimmed
		}
	} else if s != "" && !strings.Contains(s, "/") {
		s += "/"
	}

	return s
}

// NormalizePath lower-cases a path or URL and returns its cleaned segments,
// ignoring any host portion.
func NormalizePath(raw string) []string {
	s := strings.TrimSpace(strings.ToLower(raw))

	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		// Whatever precedes the first slash is a host
		if j := strings.Index(s, "/"); j >= 0 {
			s = s[j:]
		} else {
			return nil
		}
	}

	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}

	parts := strings.Split(s, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// PathKey joins normalized segments into a single lookup key.
func PathKey(segments []string) string {
	return strings.Join(segments, "/")
}

// NormalizeGTIN strips every non-digit character from a GTIN so that
// formatted and unformatted representations compare equal.
func NormalizeGTIN(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
