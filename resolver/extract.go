package resolver

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/use-agent/linkgate/browser"
	"github.com/use-agent/linkgate/heuristics"
)

// contentURLPattern finds URL-like strings in serialized HTML.
var contentURLPattern = regexp.MustCompile(`https?://[^\s"']{5,}`)

// needsExtraction reports whether the browser stayed on the gate: either it
// never left the original URL or it landed on another shortener.
func needsExtraction(original, current string, h *heuristics.Set) bool {
	return current == original || h.IsShortener(current)
}

// extractFinalURL looks for the real destination on a gate page. Anchors
// win over URLs found in the page source; within each phase the first
// acceptable candidate in document order wins.
func extractFinalURL(ctx context.Context, sess browser.Session, h *heuristics.Set) (string, bool) {
	// ── Phase 1: anchors ────────────────────────────────────────────
	hrefs, err := sess.AnchorHrefs(ctx)
	if err != nil {
		slog.Debug("anchor scan failed", "error", err)
	}
	for _, href := range hrefs {
		if acceptCandidate(href, h) {
			return href, true
		}
	}

	// ── Phase 2: page source ────────────────────────────────────────
	html, err := sess.HTML(ctx)
	if err != nil {
		slog.Debug("html snapshot failed", "error", err)
		return "", false
	}
	for _, m := range contentURLPattern.FindAllString(html, -1) {
		if acceptCandidate(m, h) {
			return m, true
		}
	}
	return "", false
}

// acceptCandidate keeps absolute http(s) URLs with a host that carry no
// blocked-domain marker. Only the scheme and authority are parsed: paths
// and queries pass through as the page wrote them, even when net/url
// would reject their escapes.
func acceptCandidate(raw string, h *heuristics.Set) bool {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return false
	}
	scheme = strings.ToLower(scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	authority := rest
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		authority = rest[:i]
	}
	u, err := url.Parse(scheme + "://" + authority)
	if err != nil || u.Hostname() == "" {
		return false
	}
	return !h.IsBlocked(raw)
}
