package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/use-agent/linkgate/models"
)

// ChromedpLauncher starts one Chrome process per session via chromedp.
type ChromedpLauncher struct {
	opts Options
}

// NewChromedpLauncher creates a ChromedpLauncher.
func NewChromedpLauncher(opts Options) *ChromedpLauncher {
	return &ChromedpLauncher{opts: opts.withDefaults()}
}

func (l *ChromedpLauncher) Name() string { return "chromedp" }

// Launch allocates a browser, opens its first tab and enables the network
// domain so response events flow from the very first navigation.
func (l *ChromedpLauncher) Launch(ctx context.Context) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(l.opts.UserAgent),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
	)
	if l.opts.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if l.opts.BrowserBin != "" {
		opts = append(opts, chromedp.ExecPath(l.opts.BrowserBin))
	}
	if l.opts.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(l.opts.Proxy))
	}

	// The browser outlives the Launch call, so it hangs off Background;
	// ctx only bounds the start-up below.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &chromedpSession{
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		opts:        l.opts,
		stream:      NewResponseStream(),
		inflight:    make(map[network.RequestID]struct{}),
	}

	chromedp.ListenTarget(tabCtx, s.onEvent)

	// The first Run allocates the browser and ties the process to its
	// context, so it must get tabCtx itself. ctx bounds start-up by closing
	// the session instead.
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	err := chromedp.Run(tabCtx, network.Enable())
	if !stop() {
		_ = s.Close()
		return nil, fmt.Errorf("chromedp: start browser: %w", errors.Join(ctx.Err(), err))
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("chromedp: start browser: %w", err)
	}

	slog.Debug("chromedp session launched", "headless", l.opts.Headless)
	return s, nil
}

type chromedpSession struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	opts        Options
	stream      *ResponseStream

	mu           sync.Mutex
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time

	closeOnce sync.Once
	closeErr  error
}

// idleExcluded lists resource types that may stay open for the life of the
// page. They never hold up network idle, matching rod's WaitRequestIdle.
var idleExcluded = map[network.ResourceType]bool{
	network.ResourceTypeWebSocket:   true,
	network.ResourceTypeEventSource: true,
	network.ResourceTypeMedia:       true,
	network.ResourceTypeImage:       true,
	network.ResourceTypeFont:        true,
}

// onEvent runs on chromedp's event loop and must not block.
func (s *chromedpSession) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if idleExcluded[e.Type] {
			return
		}
		s.mu.Lock()
		s.inflight[e.RequestID] = struct{}{}
		s.lastActivity = time.Now()
		s.mu.Unlock()
	case *network.EventResponseReceived:
		s.stream.Push(ResponseEvent{URL: e.Response.URL, Status: int(e.Response.Status)})
	case *network.EventLoadingFinished:
		s.finish(e.RequestID)
	case *network.EventLoadingFailed:
		s.finish(e.RequestID)
	}
}

func (s *chromedpSession) finish(id network.RequestID) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// bind derives a context from the tab context (required by chromedp.Run)
// that is also cancelled when the caller's ctx is. A zero timeout means no
// extra deadline.
func (s *chromedpSession) bind(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(s.tabCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(s.tabCtx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := s.bind(ctx, s.opts.NavigationTimeout)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("chromedp: navigate: %w", navErr(ctx, runCtx, err))
	}
	if err := s.waitNetworkIdle(runCtx); err != nil {
		return fmt.Errorf("chromedp: wait for network idle: %w", navErr(ctx, runCtx, err))
	}
	return nil
}

// navErr prefers the caller's or the navigation deadline's error over the
// generic cancellation chromedp reports, so callers can errors.Is on it.
func navErr(callerCtx, runCtx context.Context, err error) error {
	if cerr := callerCtx.Err(); cerr != nil {
		return errors.Join(cerr, err)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return errors.Join(context.DeadlineExceeded, err)
	}
	return err
}

// waitNetworkIdle polls until nothing has been in flight for IdleWindow.
func (s *chromedpSession) waitNetworkIdle(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.IdleWindow / 5)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		idle := len(s.inflight) == 0 && time.Since(s.lastActivity) >= s.opts.IdleWindow
		s.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *chromedpSession) CurrentURL(ctx context.Context) (string, error) {
	runCtx, cancel := s.bind(ctx, 0)
	defer cancel()

	var loc string
	if err := chromedp.Run(runCtx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("chromedp: location: %w", err)
	}
	return loc, nil
}

func (s *chromedpSession) Has(ctx context.Context, selector string) (bool, error) {
	runCtx, cancel := s.bind(ctx, 0)
	defer cancel()

	lit, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var found bool
	js := fmt.Sprintf(`document.querySelector(%s) !== null`, lit)
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &found)); err != nil {
		return false, fmt.Errorf("chromedp: query %q: %w", selector, err)
	}
	return found, nil
}

func (s *chromedpSession) AnchorHrefs(ctx context.Context) ([]string, error) {
	runCtx, cancel := s.bind(ctx, 0)
	defer cancel()

	var hrefs []string
	js := `Array.from(document.querySelectorAll('a[href]'), a => a.href || '')`
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &hrefs)); err != nil {
		return nil, fmt.Errorf("chromedp: collect anchors: %w", err)
	}
	return hrefs, nil
}

func (s *chromedpSession) HTML(ctx context.Context) (string, error) {
	runCtx, cancel := s.bind(ctx, 0)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("chromedp: page html: %w", err)
	}
	return html, nil
}

func (s *chromedpSession) Metadata(ctx context.Context) (models.PageMetadata, error) {
	runCtx, cancel := s.bind(ctx, 0)
	defer cancel()

	var meta models.PageMetadata
	js := `(() => {
		const m = document.querySelector('meta[name="description"]');
		return { title: document.title || '', description: (m && m.getAttribute('content')) || '' };
	})()`
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &meta)); err != nil {
		return models.PageMetadata{}, fmt.Errorf("chromedp: read metadata: %w", err)
	}
	return meta, nil
}

func (s *chromedpSession) Responses() <-chan ResponseEvent {
	return s.stream.C()
}

// Close shuts the browser down gracefully, then releases the allocator.
func (s *chromedpSession) Close() error {
	s.closeOnce.Do(func() {
		if err := chromedp.Cancel(s.tabCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("chromedp: close browser: %w", err)
		}
		s.tabCancel()
		s.allocCancel()
		s.stream.Close()
	})
	return s.closeErr
}
