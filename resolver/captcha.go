package resolver

import (
	"context"
	"log/slog"

	"github.com/use-agent/linkgate/browser"
)

// detectCaptcha checks selectors against the loaded page in order and stops
// at the first match, returning it. A query that errors counts as no match:
// a broken heuristic must not turn every page into a captcha wall.
func detectCaptcha(ctx context.Context, sess browser.Session, selectors []string) (string, bool) {
	for _, sel := range selectors {
		found, err := sess.Has(ctx, sel)
		if err != nil {
			slog.Debug("captcha selector query failed", "selector", sel, "error", err)
			continue
		}
		if found {
			return sel, true
		}
	}
	return "", false
}
