// Package heuristics holds the versioned, data-driven rules used while
// resolving a link: which DOM structures indicate a captcha wall, which URLs
// are still gates, and which destinations must never be returned.
package heuristics

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// SchemaVersion is the only heuristics file version this build understands.
const SchemaVersion = 1

//go:embed default.yaml
var defaultYAML []byte

// Set is one loaded heuristics file.
//
// ShortenerMarkers decides whether extraction runs; BlockedDomains decides
// which extraction candidates are rejected. The two are independent.
type Set struct {
	Version          int      `yaml:"version"`
	CaptchaSelectors []string `yaml:"captcha_selectors"`
	ShortenerMarkers []string `yaml:"shortener_markers"`
	BlockedDomains   []string `yaml:"blocked_domains"`
}

// Default returns the embedded heuristics. It panics if the embedded file is
// invalid, which can only happen in a broken build.
func Default() *Set {
	s, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("heuristics: embedded default is invalid: %v", err))
	}
	return s
}

// Load reads a heuristics file from disk. An empty path yields Default().
func Load(path string) (*Set, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("heuristics: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a heuristics document.
func Parse(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("heuristics: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.ShortenerMarkers = lowerAll(s.ShortenerMarkers)
	s.BlockedDomains = lowerAll(s.BlockedDomains)
	return &s, nil
}

// Validate checks the schema version and that every captcha selector is a
// valid CSS selector.
func (s *Set) Validate() error {
	if s.Version != SchemaVersion {
		return fmt.Errorf("heuristics: unsupported version %d (want %d)", s.Version, SchemaVersion)
	}
	if len(s.CaptchaSelectors) == 0 {
		return fmt.Errorf("heuristics: captcha_selectors must not be empty")
	}
	for i, sel := range s.CaptchaSelectors {
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return fmt.Errorf("heuristics: captcha_selectors[%d] %q: %w", i, sel, err)
		}
	}
	for i, m := range s.ShortenerMarkers {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("heuristics: shortener_markers[%d] is empty", i)
		}
	}
	for i, m := range s.BlockedDomains {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("heuristics: blocked_domains[%d] is empty", i)
		}
	}
	return nil
}

// IsShortener reports whether rawURL contains any shortener marker.
func (s *Set) IsShortener(rawURL string) bool {
	return containsAny(rawURL, s.ShortenerMarkers)
}

// IsBlocked reports whether rawURL contains any blocked-domain marker.
func (s *Set) IsBlocked(rawURL string) bool {
	return containsAny(rawURL, s.BlockedDomains)
}

func containsAny(rawURL string, markers []string) bool {
	lower := strings.ToLower(rawURL)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
