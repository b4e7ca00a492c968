// Package resolver turns an ad-gate or shortener link into its final
// destination. One Resolve call owns one browser session from launch to
// close and walks it through a fixed sequence of states.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/use-agent/linkgate/browser"
	"github.com/use-agent/linkgate/heuristics"
	"github.com/use-agent/linkgate/models"
)

// State is a step of a resolution.
type State int

const (
	StateInit State = iota
	StateSessionOpen
	StateNavigating
	StateCaptchaCheck
	StateExtracting
	StateMetadata
	StateDone
	StateError
)

var stateNames = [...]string{
	StateInit:         "INIT",
	StateSessionOpen:  "SESSION_OPEN",
	StateNavigating:   "NAVIGATING",
	StateCaptchaCheck: "CAPTCHA_CHECK",
	StateExtracting:   "EXTRACTING",
	StateMetadata:     "METADATA",
	StateDone:         "DONE",
	StateError:        "ERROR",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Request is a link to resolve.
type Request struct {
	OriginalURL string
}

// Result is a successful resolution.
type Result struct {
	// FinalURL is the browser's resolved URL or, when that was still a gate,
	// the extracted destination. Always an absolute URL.
	FinalURL string

	// Metadata is nil when the page had neither a title nor a description.
	Metadata *models.PageMetadata

	// Warnings holds response anomalies and soft failures in detection order.
	Warnings Warnings
}

// Resolver runs resolutions. It holds no per-request state, so one Resolver
// may serve any number of concurrent Resolve calls.
type Resolver struct {
	launcher   browser.Launcher
	heuristics *heuristics.Set
}

// New creates a Resolver. A nil set uses the embedded default heuristics.
func New(launcher browser.Launcher, h *heuristics.Set) *Resolver {
	if h == nil {
		h = heuristics.Default()
	}
	return &Resolver{launcher: launcher, heuristics: h}
}

// Backend returns the name of the browser backend in use.
func (r *Resolver) Backend() string {
	return r.launcher.Name()
}

// resolution is the state of one Resolve call.
type resolution struct {
	r   *Resolver
	req Request

	session  browser.Session
	watcher  *Watcher
	released bool

	originalURL string
	currentURL  string
	finalURL    string
	metadata    *models.PageMetadata
	err         error
}

// Resolve drives a fresh browser session to req.OriginalURL and returns the
// final destination. Errors are *models.ResolveError. The session is closed
// exactly once before Resolve returns, whatever the outcome.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	res := &resolution{r: r, req: req}
	defer res.release()

	state := StateInit
	for {
		if state != StateError && state != StateDone && ctx.Err() != nil {
			res.err = categorizeError(ctx.Err(), "resolution cancelled")
			state = res.transition(state, StateError)
		}

		var next State
		switch state {
		case StateInit:
			next = res.init()
		case StateSessionOpen:
			next = res.openSession(ctx)
		case StateNavigating:
			next = res.navigate(ctx)
		case StateCaptchaCheck:
			next = res.checkCaptcha(ctx)
		case StateExtracting:
			next = res.extract(ctx)
		case StateMetadata:
			next = res.readMetadata(ctx)
		case StateDone:
			warnings := res.release()
			return &Result{FinalURL: res.finalURL, Metadata: res.metadata, Warnings: warnings}, nil
		case StateError:
			res.release()
			return nil, res.err
		}
		state = res.transition(state, next)
	}
}

func (res *resolution) transition(from, to State) State {
	slog.Debug("resolver state", "url", res.req.OriginalURL, "from", from.String(), "to", to.String())
	return to
}

func (res *resolution) fail(err error) State {
	res.err = err
	return StateError
}

// ── INIT ────────────────────────────────────────────────────────────

func (res *resolution) init() State {
	normalized, err := models.NormalizeURL(res.req.OriginalURL)
	if err != nil {
		return res.fail(err)
	}
	res.originalURL = normalized
	return StateSessionOpen
}

// ── SESSION_OPEN ────────────────────────────────────────────────────

// openSession launches the browser and attaches the watcher before any
// navigation happens.
func (res *resolution) openSession(ctx context.Context) State {
	sess, err := res.r.launcher.Launch(ctx)
	if err != nil {
		return res.fail(models.NewResolveError(models.ErrCodeBrowserCrash,
			"failed to start "+res.r.launcher.Name()+" session", err))
	}
	res.session = sess
	res.watcher = Watch(sess.Responses())
	return StateNavigating
}

// ── NAVIGATING ──────────────────────────────────────────────────────

func (res *resolution) navigate(ctx context.Context) State {
	if err := res.session.Navigate(ctx, res.originalURL); err != nil {
		return res.fail(categorizeError(err, "navigation to target URL failed"))
	}

	current, err := res.session.CurrentURL(ctx)
	if err != nil {
		return res.fail(categorizeError(err, "failed to read resolved URL"))
	}
	if !isAbsoluteHTTP(current) {
		// e.g. chrome-error://chromewebdata/ after a failed load.
		return res.fail(models.NewResolveError(models.ErrCodeNavigation,
			"browser ended on a non-http page: "+current, nil))
	}
	res.currentURL = current
	res.finalURL = current
	return StateCaptchaCheck
}

// ── CAPTCHA_CHECK ───────────────────────────────────────────────────

func (res *resolution) checkCaptcha(ctx context.Context) State {
	if sel, found := detectCaptcha(ctx, res.session, res.r.heuristics.CaptchaSelectors); found {
		slog.Info("captcha detected", "url", res.originalURL, "selector", sel)
		return res.fail(models.NewResolveError(models.ErrCodeCaptcha,
			"verification wall detected on page", nil))
	}
	if needsExtraction(res.originalURL, res.currentURL, res.r.heuristics) {
		return StateExtracting
	}
	return StateMetadata
}

// ── EXTRACTING ──────────────────────────────────────────────────────

func (res *resolution) extract(ctx context.Context) State {
	candidate, ok := extractFinalURL(ctx, res.session, res.r.heuristics)
	if !ok {
		slog.Info("no destination found on gate page", "url", res.currentURL)
		res.watcher.Note(WarnExtractionFailed)
		return StateMetadata
	}
	res.finalURL = candidate
	return StateMetadata
}

// ── METADATA ────────────────────────────────────────────────────────

func (res *resolution) readMetadata(ctx context.Context) State {
	meta, err := res.session.Metadata(ctx)
	if err != nil {
		slog.Debug("metadata unavailable", "url", res.currentURL, "error", err)
		return StateDone
	}
	if !meta.IsZero() {
		res.metadata = &meta
	}
	return StateDone
}

// release closes the session once and collects the watcher's warnings,
// which are complete only after the response stream has closed.
func (res *resolution) release() Warnings {
	if res.released || res.session == nil {
		return nil
	}
	res.released = true

	if err := res.session.Close(); err != nil {
		slog.Warn("failed to close browser session", "url", res.originalURL, "error", err)
	}
	return res.watcher.Wait()
}

// categorizeError wraps raw errors into typed ResolveErrors so the API layer
// can map them to appropriate HTTP status codes.
func categorizeError(err error, msg string) *models.ResolveError {
	var re *models.ResolveError
	if errors.As(err, &re) {
		return re
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewResolveError(models.ErrCodeNavigation, "navigation timed out", err)
	case errors.Is(err, context.Canceled):
		return models.NewResolveError(models.ErrCodeNavigation, "request canceled", err)
	default:
		return models.NewResolveError(models.ErrCodeNavigation, msg, err)
	}
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
