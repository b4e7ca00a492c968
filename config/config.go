package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Resolver  ResolverConfig
	RateLimit RateLimitConfig
	Batch     BatchConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls how resolution sessions are launched.
type BrowserConfig struct {
	// Backend selects the session implementation: "rod", "chromedp" or "http".
	Backend string // default: "rod"

	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is used by every session.
	Proxy string

	// UserAgent overrides the identity reported by sessions.
	UserAgent string // default: desktop Chrome

	// Stealth injects go-rod/stealth evasions (rod backend only).
	Stealth bool // default: true
}

// ResolverConfig controls a single resolution.
type ResolverConfig struct {
	// NavigationTimeout bounds one navigation, including the idle wait.
	NavigationTimeout time.Duration // default: 30s

	// IdleWindow is the quiet period that counts as network idle.
	IdleWindow time.Duration // default: 500ms

	// HeuristicsFile is a YAML heuristics file. Empty uses the embedded set.
	HeuristicsFile string

	// MaxInFlight is the number of concurrent resolutions above which the
	// health endpoint reports "degraded". 0 disables the check.
	MaxInFlight int // default: 32
}

// RateLimitConfig controls per-client rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per client IP.
	RequestsPerSecond float64 // default: 0.5 (30/min)

	// Burst is the maximum burst size per client IP.
	Burst int // default: 5
}

// BatchConfig controls batch resolution.
type BatchConfig struct {
	// MaxURLs caps the number of URLs in one batch.
	MaxURLs int // default: 50

	// Concurrency is the number of sessions a batch runs at once.
	Concurrency int // default: 4
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("LINKGATE_HOST", "0.0.0.0"),
			Port: envIntOr("LINKGATE_PORT", 8080),
			Mode: envOr("LINKGATE_MODE", "release"),
		},
		Browser: BrowserConfig{
			Backend:    strings.ToLower(envOr("LINKGATE_BACKEND", "rod")),
			Headless:   envBoolOr("LINKGATE_HEADLESS", true),
			NoSandbox:  envBoolOr("LINKGATE_NO_SANDBOX", false),
			BrowserBin: os.Getenv("LINKGATE_BROWSER_BIN"),
			Proxy:      os.Getenv("LINKGATE_PROXY"),
			UserAgent:  os.Getenv("LINKGATE_USER_AGENT"),
			Stealth:    envBoolOr("LINKGATE_STEALTH", true),
		},
		Resolver: ResolverConfig{
			NavigationTimeout: envDurationOr("LINKGATE_NAV_TIMEOUT", 30*time.Second),
			IdleWindow:        envDurationOr("LINKGATE_IDLE_WINDOW", 500*time.Millisecond),
			HeuristicsFile:    os.Getenv("LINKGATE_HEURISTICS_FILE"),
			MaxInFlight:       envIntOr("LINKGATE_MAX_INFLIGHT", 32),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("LINKGATE_RATE_RPS", 0.5),
			Burst:             envIntOr("LINKGATE_RATE_BURST", 5),
		},
		Batch: BatchConfig{
			MaxURLs:     envIntOr("LINKGATE_BATCH_MAX_URLS", 50),
			Concurrency: envIntOr("LINKGATE_BATCH_CONCURRENCY", 4),
		},
		Log: LogConfig{
			Level:  envOr("LINKGATE_LOG_LEVEL", "info"),
			Format: envOr("LINKGATE_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
