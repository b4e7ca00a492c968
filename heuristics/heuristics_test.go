package heuristics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	s := Default()

	assert.Equal(t, SchemaVersion, s.Version)
	assert.Equal(t, []string{
		`iframe[src*="captcha"]`,
		`input[name="captcha"]`,
		`#recaptcha`,
		`.g-recaptcha`,
		`[aria-label*="captcha"]`,
		`[class*="captcha"]`,
	}, s.CaptchaSelectors)
	assert.Equal(t, []string{"adf.ly", "bit.ly", "shorturl", "ads"}, s.ShortenerMarkers)
	assert.Equal(t, []string{"adlink-type-domain.com"}, s.BlockedDomains)
}

func TestIsShortener(t *testing.T) {
	s := Default()

	tests := []struct {
		url  string
		want bool
	}{
		{"http://adf.ly/abc123", true},
		{"https://BIT.LY/xyz", true},
		{"https://example.com/shorturl/1", true},
		{"https://cdn.ads.example/page", true},
		{"https://real-destination.example/page", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, s.IsShortener(tt.url))
		})
	}
}

func TestMarkerSetsAreIndependent(t *testing.T) {
	s := Default()

	// A shortener is not automatically a blocked destination, and vice versa.
	assert.True(t, s.IsShortener("http://adf.ly/x"))
	assert.False(t, s.IsBlocked("http://adf.ly/x"))
	assert.True(t, s.IsBlocked("https://adlink-type-domain.com/next"))
	assert.False(t, s.IsShortener("https://adlink-type-domain.com/next"))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "version: [1"},
		{"wrong version", "version: 2\ncaptcha_selectors: ['#a']\n"},
		{"no selectors", "version: 1\n"},
		{"invalid selector", "version: 1\ncaptcha_selectors: ['div[']\n"},
		{"empty marker", "version: 1\ncaptcha_selectors: ['#a']\nshortener_markers: ['  ']\n"},
		{"empty blocked", "version: 1\ncaptcha_selectors: ['#a']\nblocked_domains: ['']\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_LowercasesMarkers(t *testing.T) {
	s, err := Parse([]byte("version: 1\ncaptcha_selectors: ['#a']\nshortener_markers: [' Gate.IO ']\nblocked_domains: [Tracker.NET]\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"gate.io"}, s.ShortenerMarkers)
	assert.Equal(t, []string{"tracker.net"}, s.BlockedDomains)
	assert.True(t, s.IsShortener("https://gate.io/x"))
	assert.True(t, s.IsBlocked("https://cdn.tracker.net/p"))
}

func TestLoad(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), s)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\ncaptcha_selectors: ['#cf-challenge-running']\n"), 0o600))

	s, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"#cf-challenge-running"}, s.CaptchaSelectors)
	assert.Empty(t, s.ShortenerMarkers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
