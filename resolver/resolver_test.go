package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/use-agent/linkgate/browser"
	"github.com/use-agent/linkgate/browser/browsertest"
	"github.com/use-agent/linkgate/heuristics"
	"github.com/use-agent/linkgate/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const gateURL = "http://adf.ly/abc123"

func resolve(t *testing.T, page browsertest.Page, h *heuristics.Set) (*Result, *browsertest.Session, error) {
	t.Helper()
	l := browsertest.NewLauncher(page)
	res, err := New(l, h).Resolve(context.Background(), Request{OriginalURL: gateURL})
	return res, l.Last(), err
}

func TestResolve_GateWithAnchor(t *testing.T) {
	res, sess, err := resolve(t, browsertest.Page{
		Anchors: []string{"https://real-destination.example/page"},
		Meta:    models.PageMetadata{Title: "Please wait"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://real-destination.example/page", res.FinalURL)
	require.NotNil(t, res.Metadata)
	assert.Equal(t, "Please wait", res.Metadata.Title)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1, sess.CloseCalls())
}

func TestResolve_CaptchaIframeAborts(t *testing.T) {
	res, sess, err := resolve(t, browsertest.Page{
		Selectors: []string{`iframe[src*="captcha"]`},
		Anchors:   []string{"https://real-destination.example/page"},
	}, nil)

	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, models.ErrCodeCaptcha, models.CodeOf(err))
	assert.Equal(t, 1, sess.CloseCalls())
	assert.Zero(t, sess.AnchorCalls(), "extraction must not run after a captcha")
	assert.Zero(t, sess.MetadataCalls(), "metadata must not run after a captcha")
}

func TestResolve_NavigationTimeout(t *testing.T) {
	res, sess, err := resolve(t, browsertest.Page{
		Hang:       true,
		NavTimeout: 50 * time.Millisecond,
	}, nil)

	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, models.ErrCodeNavigation, models.CodeOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, sess.CloseCalls())
}

func TestResolve_CallerCancellation(t *testing.T) {
	l := browsertest.NewLauncher(browsertest.Page{Hang: true})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := New(l, nil).Resolve(ctx, Request{OriginalURL: gateURL})
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeNavigation, models.CodeOf(err))
	assert.Equal(t, 1, l.Last().CloseCalls())
}

func TestResolve_ClosesSessionExactlyOnce(t *testing.T) {
	cases := []struct {
		name string
		page browsertest.Page
		code string
	}{
		{name: "direct redirect", page: browsertest.Page{FinalURL: "https://dest.example/x"}},
		{name: "extraction succeeds", page: browsertest.Page{Anchors: []string{"https://dest.example/x"}}},
		{name: "extraction fails", page: browsertest.Page{}},
		{name: "navigation error", page: browsertest.Page{NavErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}, code: models.ErrCodeNavigation},
		{name: "captcha", page: browsertest.Page{Selectors: []string{".g-recaptcha"}}, code: models.ErrCodeCaptcha},
		{name: "timeout", page: browsertest.Page{Hang: true, NavTimeout: 20 * time.Millisecond}, code: models.ErrCodeNavigation},
		{name: "non-http landing", page: browsertest.Page{FinalURL: "chrome-error://chromewebdata/"}, code: models.ErrCodeNavigation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, sess, err := resolve(t, tc.page, nil)
			assert.Equal(t, tc.code, models.CodeOf(err))
			require.NotNil(t, sess)
			assert.Equal(t, 1, sess.CloseCalls())
		})
	}
}

func TestResolve_NoExtractionAfterRealRedirect(t *testing.T) {
	res, sess, err := resolve(t, browsertest.Page{
		FinalURL: "https://dest.example/article",
		Anchors:  []string{"https://elsewhere.example/"},
		HTML:     `<a href="https://elsewhere.example/">x</a>`,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://dest.example/article", res.FinalURL)
	assert.Zero(t, sess.AnchorCalls())
	assert.Zero(t, sess.HTMLCalls())
}

func TestResolve_ExtractionWhenLandingOnAnotherShortener(t *testing.T) {
	res, sess, err := resolve(t, browsertest.Page{
		FinalURL: "https://bit.ly/zzz",
		Anchors:  []string{"https://dest.example/final"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://dest.example/final", res.FinalURL)
	assert.Equal(t, 1, sess.AnchorCalls())
}

func TestResolve_AnchorBeatsContent(t *testing.T) {
	res, sess, err := resolve(t, browsertest.Page{
		Anchors: []string{"https://anchor.example/target"},
		HTML:    `<script>location = "https://content.example/target"</script>`,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://anchor.example/target", res.FinalURL)
	assert.Zero(t, sess.HTMLCalls(), "content scan runs only when anchors yield nothing")
}

func TestResolve_ContentFallback(t *testing.T) {
	res, _, err := resolve(t, browsertest.Page{
		Anchors: []string{"javascript:void(0)", "/relative/only", "mailto:a@b.example"},
		HTML:    `<div data-go='https://content.example/target'>`,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://content.example/target", res.FinalURL)
}

func TestResolve_ContentCandidateWithLoosePercentEscape(t *testing.T) {
	res, _, err := resolve(t, browsertest.Page{
		HTML: `<script>go("https://dest.example/100%off")</script>`,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://dest.example/100%off", res.FinalURL)
	assert.Empty(t, res.Warnings)
}

func TestAcceptCandidate(t *testing.T) {
	h := heuristics.Default()
	cases := []struct {
		raw  string
		want bool
	}{
		{"https://dest.example/100%off", true},
		{"https://dest.example/a?q=%zz#frag", true},
		{"HTTPS://dest.example", true},
		{"http://dest.example:8080/x", true},
		{"ftp://dest.example/x", false},
		{"https:///no-host", false},
		{"https://", false},
		{"https://[::1/x", false},
		{"/relative/only", false},
		{"javascript:void(0)", false},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.want, acceptCandidate(tc.raw, h))
		})
	}
}

func TestResolve_BlockedCandidatesNeverReturned(t *testing.T) {
	h := &heuristics.Set{
		Version:          heuristics.SchemaVersion,
		CaptchaSelectors: []string{"#captcha"},
		ShortenerMarkers: []string{"adf.ly"},
		BlockedDomains:   []string{"tracker.example", "ads.example"},
	}

	t.Run("skips blocked anchors and content", func(t *testing.T) {
		res, _, err := resolve(t, browsertest.Page{
			Anchors: []string{"https://tracker.example/click", "https://ADS.example/banner"},
			HTML:    `"https://tracker.example/pixel" "https://dest.example/ok"`,
		}, h)
		require.NoError(t, err)
		assert.Equal(t, "https://dest.example/ok", res.FinalURL)
	})

	t.Run("all blocked degrades to extraction_failed", func(t *testing.T) {
		res, _, err := resolve(t, browsertest.Page{
			Anchors: []string{"https://tracker.example/click"},
			HTML:    `https://ads.example/x https://tracker.example/y`,
		}, h)
		require.NoError(t, err)
		assert.Equal(t, gateURL, res.FinalURL)
		assert.Equal(t, Warnings{WarnExtractionFailed}, res.Warnings)
	})
}

func TestResolve_ResponseWarningsInOrder(t *testing.T) {
	res, _, err := resolve(t, browsertest.Page{
		FinalURL: "https://dest.example/",
		Statuses: []int{200, 429, 404, 403, 500},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, Warnings{"rate_limited", "client_error:403"}, res.Warnings)
}

func TestResolve_SoftWarningsInDetectionOrder(t *testing.T) {
	res, _, err := resolve(t, browsertest.Page{
		Statuses:     []int{401},
		LateStatuses: []int{429},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, gateURL, res.FinalURL)
	assert.Equal(t, Warnings{"client_error:401", WarnExtractionFailed, "rate_limited"}, res.Warnings)
}

func TestWatcherOrdersByObservationTime(t *testing.T) {
	events := make(chan browser.ResponseEvent)
	w := Watch(events)

	t0 := time.Now()
	w.Note(WarnExtractionFailed)
	// Delivered late but observed before the note.
	events <- browser.ResponseEvent{Status: 403, At: t0.Add(-time.Second)}
	events <- browser.ResponseEvent{Status: 429, At: t0.Add(time.Hour)}
	close(events)

	assert.Equal(t, Warnings{"client_error:403", WarnExtractionFailed, "rate_limited"}, w.Wait())
}

func TestResolve_MetadataIsBestEffort(t *testing.T) {
	res, _, err := resolve(t, browsertest.Page{
		FinalURL: "https://dest.example/",
		MetaErr:  errors.New("execution context was destroyed"),
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Metadata)

	res, _, err = resolve(t, browsertest.Page{FinalURL: "https://dest.example/"}, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Metadata, "empty metadata is reported as absent")
}

func TestResolve_NoCaptchaWithoutMatchingSelector(t *testing.T) {
	sets := [][]string{
		{"#a"},
		{"#a", ".b", "[data-c]"},
		heuristics.Default().CaptchaSelectors,
	}
	for _, sels := range sets {
		h := &heuristics.Set{Version: heuristics.SchemaVersion, CaptchaSelectors: sels}
		_, sess, err := resolve(t, browsertest.Page{
			FinalURL:  "https://dest.example/",
			Selectors: []string{".unrelated", "#captcha-free"},
		}, h)
		require.NoError(t, err)
		assert.Equal(t, sels, sess.Queried(), "every selector is tried when none match")
	}
}

func TestResolve_CaptchaCheckShortCircuits(t *testing.T) {
	_, sess, err := resolve(t, browsertest.Page{
		Selectors: []string{"#recaptcha", "[class*=\"captcha\"]"},
	}, nil)
	require.Error(t, err)

	assert.Equal(t, []string{`iframe[src*="captcha"]`, `input[name="captcha"]`, "#recaptcha"}, sess.Queried())
}

func TestResolve_LaunchFailure(t *testing.T) {
	l := browsertest.NewLauncher(browsertest.Page{})
	l.LaunchErr = errors.New("chromium not found")

	_, err := New(l, nil).Resolve(context.Background(), Request{OriginalURL: gateURL})
	assert.Equal(t, models.ErrCodeBrowserCrash, models.CodeOf(err))
	assert.Empty(t, l.Sessions())
}

func TestResolve_InvalidURLNeverLaunches(t *testing.T) {
	l := browsertest.NewLauncher(browsertest.Page{})
	for _, raw := range []string{"", "ftp://x.example/", "/relative", "http://"} {
		_, err := New(l, nil).Resolve(context.Background(), Request{OriginalURL: raw})
		assert.Equal(t, models.ErrCodeValidation, models.CodeOf(err), raw)
	}
	assert.Empty(t, l.Sessions())
}

func TestResolve_ConcurrentResolutionsUseOwnSessions(t *testing.T) {
	l := browsertest.NewLauncher(browsertest.Page{
		Anchors:  []string{"https://dest.example/x"},
		Statuses: []int{429},
	})
	r := New(l, nil)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*Result, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), Request{OriginalURL: gateURL})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	require.Len(t, l.Sessions(), n)
	for _, s := range l.Sessions() {
		assert.Equal(t, 1, s.CloseCalls())
	}
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, Warnings{"rate_limited"}, res.Warnings)
	}
}

func TestClassify(t *testing.T) {
	cases := map[int]string{
		200: "",
		301: "",
		400: "client_error:400",
		403: "client_error:403",
		404: "",
		429: "rate_limited",
		451: "client_error:451",
		499: "client_error:499",
		500: "",
		503: "",
	}
	for status, want := range cases {
		assert.Equal(t, want, Classify(status), status)
	}
}

func TestWarningsAppendDoesNotAlias(t *testing.T) {
	base := make(Warnings, 1, 4)
	base[0] = "a"

	left := base.Append("b")
	right := base.Append("c")

	assert.Equal(t, Warnings{"a"}, base)
	assert.Equal(t, Warnings{"a", "b"}, left)
	assert.Equal(t, Warnings{"a", "c"}, right)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INIT", StateInit.String())
	assert.Equal(t, "CAPTCHA_CHECK", StateCaptchaCheck.String())
	assert.Equal(t, "ERROR", StateError.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
