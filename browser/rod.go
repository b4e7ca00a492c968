package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/linkgate/models"
	"github.com/ysmood/gson"
)

// RodLauncher starts one Chromium process per session via go-rod.
type RodLauncher struct {
	opts Options
}

// NewRodLauncher creates a RodLauncher.
func NewRodLauncher(opts Options) *RodLauncher {
	return &RodLauncher{opts: opts.withDefaults()}
}

func (l *RodLauncher) Name() string { return "rod" }

// Launch starts Chromium, connects to it, opens one page and applies the
// identity override. Steps that install listeners or scripts all happen
// here, before any navigation, so they apply to the first request.
func (l *RodLauncher) Launch(ctx context.Context) (Session, error) {
	ln := launcher.New().
		Context(ctx).
		Headless(l.opts.Headless).
		NoSandbox(l.opts.NoSandbox)

	if l.opts.BrowserBin != "" {
		ln = ln.Bin(l.opts.BrowserBin)
	}
	if l.opts.Proxy != "" {
		ln = ln.Proxy(l.opts.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	ln.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	ln.Delete(flags.Flag("enable-automation"))
	ln.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	ln.Set(flags.Flag("disable-ipc-flooding-protection"))
	ln.Set(flags.Flag("disable-prompt-on-repost"))
	ln.Set(flags.Flag("disable-renderer-backgrounding"))
	ln.Set(flags.Flag("disable-background-timer-throttling"))
	ln.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	ln.Set(flags.Flag("disable-component-update"))
	ln.Set(flags.Flag("disable-default-apps"))
	ln.Set(flags.Flag("disable-dev-shm-usage"))
	ln.Set(flags.Flag("disable-extensions"))
	ln.Set(flags.Flag("no-first-run"))

	controlURL, err := ln.Launch()
	if err != nil {
		return nil, fmt.Errorf("rod: launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		ln.Kill()
		ln.Cleanup()
		return nil, fmt.Errorf("rod: connect to browser: %w", err)
	}

	s := &rodSession{
		launcher: ln,
		browser:  browser,
		opts:     l.opts,
		stream:   NewResponseStream(),
	}

	var page *rod.Page
	if l.opts.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("rod: create page: %w", err)
	}
	s.page = page

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: l.opts.UserAgent}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("rod: set user agent: %w", err)
	}

	// The response listener lives for the whole session; it is bound to its
	// own context so Close can stop it before the stream is closed.
	listenCtx, stopListen := context.WithCancel(context.Background())
	s.stopListen = stopListen
	s.listenDone = make(chan struct{})
	wait := page.Context(listenCtx).EachEvent(func(e *proto.NetworkResponseReceived) {
		s.stream.Push(ResponseEvent{URL: e.Response.URL, Status: e.Response.Status})
	})
	go func() {
		defer close(s.listenDone)
		wait()
	}()

	slog.Debug("rod session launched", "controlURL", controlURL, "stealth", l.opts.Stealth)
	return s, nil
}

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	opts     Options
	stream   *ResponseStream

	stopListen context.CancelFunc
	listenDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Navigate loads url and waits for network idle.
//
// The idle waiter MUST be registered before Navigate; registering it after
// would miss in-flight requests and report a false idle immediately.
func (s *rodSession) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
	defer cancel()

	p := s.page.Context(ctx)
	waitIdle := p.WaitRequestIdle(s.opts.IdleWindow, nil, nil, nil)

	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("rod: navigate: %w", err)
	}
	waitIdle()

	// WaitRequestIdle returns silently when the context expires.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rod: wait for network idle: %w", err)
	}
	return nil
}

func (s *rodSession) CurrentURL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("rod: page info: %w", err)
	}
	return info.URL, nil
}

func (s *rodSession) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := s.page.Context(ctx).Has(selector)
	if err != nil {
		return false, fmt.Errorf("rod: query %q: %w", selector, err)
	}
	return has, nil
}

func (s *rodSession) AnchorHrefs(ctx context.Context) ([]string, error) {
	res, err := s.page.Context(ctx).Eval(`() => Array.from(document.querySelectorAll('a[href]'), a => a.href || '')`)
	if err != nil {
		return nil, fmt.Errorf("rod: collect anchors: %w", err)
	}
	return jsonStrings(res.Value.Arr()), nil
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("rod: page html: %w", err)
	}
	return html, nil
}

func (s *rodSession) Metadata(ctx context.Context) (models.PageMetadata, error) {
	res, err := s.page.Context(ctx).Eval(`() => {
		const meta = document.querySelector('meta[name="description"]');
		return {
			title: document.title || '',
			description: (meta && meta.getAttribute('content')) || '',
		};
	}`)
	if err != nil {
		return models.PageMetadata{}, fmt.Errorf("rod: read metadata: %w", err)
	}
	return models.PageMetadata{
		Title:       res.Value.Get("title").Str(),
		Description: res.Value.Get("description").Str(),
	}, nil
}

func (s *rodSession) Responses() <-chan ResponseEvent {
	return s.stream.C()
}

// Close stops the response listener, closes the page and browser, and kills
// the Chromium process. Only the first call does any work.
func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.stopListen != nil {
			s.stopListen()
			<-s.listenDone
		}
		s.stream.Close()

		if s.page != nil {
			if err := s.page.Close(); err != nil {
				errs = append(errs, fmt.Errorf("rod: close page: %w", err))
			}
		}
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("rod: close browser: %w", err))
		}
		s.launcher.Kill()
		s.launcher.Cleanup()
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func jsonStrings(arr []gson.JSON) []string {
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		out = append(out, v.Str())
	}
	return out
}
