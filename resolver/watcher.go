package resolver

import (
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/use-agent/linkgate/browser"
)

// Warning codes.
const (
	WarnRateLimited      = "rate_limited"
	WarnExtractionFailed = "extraction_failed"
	warnClientErrorPre   = "client_error:"
)

// Warnings is an ordered list of warning codes. Order is detection order.
type Warnings []string

// Append returns w with code added. The receiver is never modified, so a
// Warnings value handed to one state stays valid after the next appends.
func (w Warnings) Append(code string) Warnings {
	return append(w[:len(w):len(w)], code)
}

// Classify maps a response status to a warning code, or "" for statuses
// that are not worth reporting. 404 is common on gate pages (missing
// trackers, favicons) and is ignored.
func Classify(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return WarnRateLimited
	case status >= 400 && status < 500 && status != http.StatusNotFound:
		return warnClientErrorPre + strconv.Itoa(status)
	default:
		return ""
	}
}

// Watcher consumes a session's response stream in its own goroutine and
// classifies each response. It never pushes back on the producer. Soft
// failures noted by the resolver share its timeline.
type Watcher struct {
	done chan struct{}

	mu      sync.Mutex
	entries []timedWarning
}

type timedWarning struct {
	at   time.Time
	code string
}

// Watch starts a Watcher on events. It must be called before navigation so
// the first response is observed.
func Watch(events <-chan browser.ResponseEvent) *Watcher {
	w := &Watcher{done: make(chan struct{})}
	go w.run(events)
	return w
}

func (w *Watcher) run(events <-chan browser.ResponseEvent) {
	defer close(w.done)

	for ev := range events {
		code := Classify(ev.Status)
		if code == "" {
			continue
		}
		slog.Debug("response anomaly", "url", ev.URL, "status", ev.Status, "warning", code)
		w.record(ev.At, code)
	}
}

// Note records a warning detected now, outside the response stream.
func (w *Watcher) Note(code string) {
	w.record(time.Now(), code)
}

func (w *Watcher) record(at time.Time, code string) {
	w.mu.Lock()
	w.entries = append(w.entries, timedWarning{at: at, code: code})
	w.mu.Unlock()
}

// Wait blocks until the event stream is closed (the session is closed) and
// returns every warning in detection order. Responses are placed by the
// time the backend observed them, not by when the watcher got to them.
func (w *Watcher) Wait() Warnings {
	<-w.done

	w.mu.Lock()
	entries := slices.Clone(w.entries)
	w.mu.Unlock()

	slices.SortStableFunc(entries, func(a, b timedWarning) int {
		return a.at.Compare(b.at)
	})
	var out Warnings
	for _, e := range entries {
		out = out.Append(e.code)
	}
	return out
}
