// Package browser defines the automation capability the resolver drives and
// the backends that provide it.
//
// A Session is one isolated browsing context (a browser process plus one
// page, or an HTTP client with its own cookie jar) scoped to exactly one
// resolution. Sessions are never shared or pooled.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/use-agent/linkgate/models"
)

// DefaultUserAgent is a current desktop Chrome identity.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// DefaultNavigationTimeout bounds a single Navigate call.
const DefaultNavigationTimeout = 30 * time.Second

// DefaultIdleWindow is the quiet period with no in-flight requests that
// counts as "network idle".
const DefaultIdleWindow = 500 * time.Millisecond

// ResponseEvent is one network response observed by a session.
type ResponseEvent struct {
	URL    string
	Status int

	// At is when the response was observed. Push stamps it when zero.
	At time.Time
}

// Session is the capability set the resolver needs from an automation
// backend. Every method except Responses and Close may block and honours ctx.
type Session interface {
	// Navigate loads url and waits until the network is idle. It fails on
	// transport errors and when the navigation timeout expires.
	Navigate(ctx context.Context, url string) error

	// CurrentURL is the address after all HTTP and script redirects.
	CurrentURL(ctx context.Context) (string, error)

	// Has reports whether at least one element matches the CSS selector.
	Has(ctx context.Context, selector string) (bool, error)

	// AnchorHrefs returns the resolved href of every a[href], in document order.
	AnchorHrefs(ctx context.Context) ([]string, error)

	// HTML returns the serialized rendered document.
	HTML(ctx context.Context) (string, error)

	// Metadata reads document.title and meta[name="description"].
	Metadata(ctx context.Context) (models.PageMetadata, error)

	// Responses streams every response status in arrival order. The channel
	// is closed after Close once all queued events have been delivered.
	Responses() <-chan ResponseEvent

	// Close releases the session. It is idempotent.
	Close() error
}

// Launcher creates sessions.
type Launcher interface {
	// Name identifies the backend ("rod", "chromedp", "http").
	Name() string

	// Launch starts a fresh, isolated session.
	Launch(ctx context.Context) (Session, error)
}

// Options configures every backend.
type Options struct {
	Headless          bool
	NoSandbox         bool
	BrowserBin        string
	Proxy             string
	UserAgent         string
	NavigationTimeout time.Duration
	IdleWindow        time.Duration
	Stealth           bool
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = DefaultNavigationTimeout
	}
	if o.IdleWindow <= 0 {
		o.IdleWindow = DefaultIdleWindow
	}
	return o
}

// NewLauncher returns the launcher for the named backend.
func NewLauncher(backend string, opts Options) (Launcher, error) {
	switch backend {
	case "", "rod":
		return NewRodLauncher(opts), nil
	case "chromedp":
		return NewChromedpLauncher(opts), nil
	case "http":
		return NewHTTPLauncher(opts), nil
	default:
		return nil, fmt.Errorf("browser: unknown backend %q", backend)
	}
}
