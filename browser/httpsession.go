package browser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	tls "github.com/refraction-networking/utls"
	"github.com/use-agent/linkgate/models"
	"golang.org/x/net/publicsuffix"
)

const (
	// maxRedirects caps HTTP 3xx hops per navigation.
	maxRedirects = 10

	// maxMetaRefresh caps <meta http-equiv="refresh"> hops per navigation.
	maxMetaRefresh = 5

	// maxMetaRefreshDelay is the longest refresh delay still treated as a
	// redirect rather than page content.
	maxMetaRefreshDelay = 10 * time.Second

	// maxBody caps the bytes read from any response.
	maxBody = 10 << 20
)

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only. Computed once at init time and reused for every connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Go's http.Transport cannot speak h2 over a utls connection.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// HTTPLauncher creates sessions that follow redirects with plain HTTP and a
// Chrome TLS fingerprint. It runs no JavaScript, so it only resolves gates
// that redirect with 3xx responses or meta refresh.
type HTTPLauncher struct {
	opts Options
}

// NewHTTPLauncher creates an HTTPLauncher.
func NewHTTPLauncher(opts Options) *HTTPLauncher {
	return &HTTPLauncher{opts: opts.withDefaults()}
}

func (l *HTTPLauncher) Name() string { return "http" }

// Launch builds a fresh client with its own cookie jar.
func (l *HTTPLauncher) Launch(ctx context.Context) (Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("http: cookie jar: %w", err)
	}

	stream := NewResponseStream()
	transport := &http.Transport{
		DialTLSContext:    dialTLSChrome,
		ForceAttemptHTTP2: false,
	}
	if l.opts.Proxy != "" {
		if proxyURL, perr := url.Parse(l.opts.Proxy); perr == nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	s := &httpSession{
		opts:      l.opts,
		stream:    stream,
		transport: transport,
	}
	s.client = &http.Client{
		Jar:       jar,
		Transport: &recordingTransport{next: transport, stream: stream},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return s, nil
}

// dialTLSChrome establishes a TLS connection using a Chrome fingerprint.
func dialTLSChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
	if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
		conn.Close()
		return nil, fmt.Errorf("http: apply tls spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// recordingTransport reports every response, including redirect hops, to
// the session's response stream.
type recordingTransport struct {
	next   http.RoundTripper
	stream *ResponseStream
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.stream.Push(ResponseEvent{URL: req.URL.String(), Status: resp.StatusCode})
	return resp, nil
}

type httpSession struct {
	opts      Options
	client    *http.Client
	transport *http.Transport
	stream    *ResponseStream

	// Written by Navigate, read by the query methods. The resolver never
	// calls them concurrently, the mutex only keeps misuse race-free.
	mu      sync.Mutex
	current *url.URL
	body    []byte
	doc     *goquery.Document

	closeOnce sync.Once
}

func (s *httpSession) Navigate(ctx context.Context, target string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
	defer cancel()

	next := target
	for hop := 0; ; hop++ {
		final, body, err := s.fetch(ctx, next)
		if err != nil {
			return err
		}

		doc, perr := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if perr != nil {
			// Not HTML we can parse: keep the raw body, no DOM.
			doc = nil
		}

		s.mu.Lock()
		s.current, s.body, s.doc = final, body, doc
		s.mu.Unlock()

		if doc == nil || hop >= maxMetaRefresh {
			return nil
		}
		refresh, ok := metaRefreshTarget(doc, final)
		if !ok {
			return nil
		}
		next = refresh
	}
}

func (s *httpSession) fetch(ctx context.Context, target string) (*url.URL, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("http: build request: %w", err)
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("http: request %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, nil, fmt.Errorf("http: read body: %w", err)
	}
	return resp.Request.URL, body, nil
}

// metaRefreshTarget returns the absolute target of a short meta refresh.
func metaRefreshTarget(doc *goquery.Document, base *url.URL) (string, bool) {
	var content string
	doc.Find("meta[http-equiv]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if strings.EqualFold(strings.TrimSpace(sel.AttrOr("http-equiv", "")), "refresh") {
			content = sel.AttrOr("content", "")
			return false
		}
		return true
	})
	if content == "" {
		return "", false
	}

	delayPart, rest, _ := strings.Cut(content, ";")
	if delay, err := strconv.ParseFloat(strings.TrimSpace(delayPart), 64); err != nil ||
		time.Duration(delay*float64(time.Second)) > maxMetaRefreshDelay {
		return "", false
	}

	rest = strings.TrimSpace(rest)
	if len(rest) >= 4 && strings.EqualFold(rest[:4], "url=") {
		rest = rest[4:]
	}
	rest = strings.Trim(strings.TrimSpace(rest), `"'`)
	if rest == "" {
		return "", false
	}

	ref, err := url.Parse(rest)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

func (s *httpSession) CurrentURL(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", fmt.Errorf("http: no page loaded")
	}
	return s.current.String(), nil
}

func (s *httpSession) Has(_ context.Context, selector string) (bool, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return false, fmt.Errorf("http: selector %q: %w", selector, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return false, nil
	}
	return s.doc.FindMatcher(m).Length() > 0, nil
}

// AnchorHrefs resolves every href the way a browser's a.href does: against
// <base href> when present, otherwise against the document URL.
func (s *httpSession) AnchorHrefs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil || s.current == nil {
		return nil, nil
	}

	base := s.current
	if href, ok := s.doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = s.current.ResolveReference(b)
		}
	}

	var hrefs []string
	s.doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.AttrOr("href", ""))
		ref, err := url.Parse(raw)
		if err != nil {
			hrefs = append(hrefs, raw)
			return
		}
		hrefs = append(hrefs, base.ResolveReference(ref).String())
	})
	return hrefs, nil
}

func (s *httpSession) HTML(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return string(s.body), nil
	}
	return s.doc.Html()
}

func (s *httpSession) Metadata(_ context.Context) (models.PageMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return models.PageMetadata{}, nil
	}
	return models.PageMetadata{
		Title:       strings.TrimSpace(s.doc.Find("title").First().Text()),
		Description: strings.TrimSpace(s.doc.Find(`meta[name="description"]`).First().AttrOr("content", "")),
	}, nil
}

func (s *httpSession) Responses() <-chan ResponseEvent {
	return s.stream.C()
}

func (s *httpSession) Close() error {
	s.closeOnce.Do(func() {
		s.transport.CloseIdleConnections()
		s.stream.Close()
	})
	return nil
}
