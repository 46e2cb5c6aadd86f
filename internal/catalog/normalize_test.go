package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "https with trailing slash",
			raw:  "https://example.com/categories/winter-boots/",
			want: "example.com/categories/winter-boots",
		},
		{
			name: "http with www",
			raw:  "http://www.example.com/categories/winter-boots",
			want: "example.com/categories/winter-boots",
		},
		{
			name: "query string dropped",
			raw:  "https://example.com/categories/winter-boots?utm_source=x&page=2",
			want: "example.com/categories/winter-boots",
		},
		{
			name: "fragment dropped",
			raw:  "https://example.com/categories/winter-boots#reviews",
			want: "example.com/categories/winter-boots",
		},
		{
			name: "mixed case lowered",
			raw:  "HTTPS://Example.COM/Categories/Winter-Boots",
			want: "example.com/categories/winter-boots",
		},
		{
			name: "bare host gets root slash",
			raw:  "https://example.com",
			want: "example.com/",
		},
		{
			name: "root path keeps slash",
			raw:  "https://www.example.com/",
			want: "example.com/",
		},
		{
			name: "no scheme",
			raw:  "www.example.com/sale/",
			want: "example.com/sale",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.raw))
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	variants := []string{
		"https://example.com/categories/winter-boots/",
		"http://www.example.com/categories/winter-boots",
		"example.com/categories/winter-boots?q=1",
		"HTTP://EXAMPLE.COM/categories/winter-boots/#top",
	}

	want := "example.com/categories/winter-boots"
	for _, v := range variants {
		got := NormalizeURL(v)
		assert.Equal(t, want, got, "variant %q", v)
		assert.Equal(t, got, NormalizeURL(got), "normalization must be idempotent for %q", v)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "plain path",
			raw:  "/categories/winter-boots",
			want: []string{"categories", "winter-boots"},
		},
		{
			name: "full url ignores host",
			raw:  "https://shop.example.de/categories/winter-boots/",
			want: []string{"categories", "winter-boots"},
		},
		{
			name: "query dropped",
			raw:  "/categories/winter-boots?sort=price",
			want: []string{"categories", "winter-boots"},
		},
		{
			name: "empty segments collapsed",
			raw:  "//categories///winter-boots/",
			want: []string{"categories", "winter-boots"},
		},
		{
			name: "bare host has no path",
			raw:  "https://example.com",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePath(tt.raw))
		})
	}
}

func TestNormalizeGTIN(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain digits", raw: "0012345678905", want: "0012345678905"},
		{name: "dash formatted", raw: "0012-3456-78905", want: "0012345678905"},
		{name: "space formatted", raw: "0012 3456 78905", want: "0012345678905"},
		{name: "no digits", raw: "n/a", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeGTIN(tt.raw))
		})
	}
}
