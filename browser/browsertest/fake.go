// Package browsertest provides an in-memory browser.Launcher for tests that
// need deterministic pages without a real browser.
package browsertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/linkgate/browser"
	"github.com/use-agent/linkgate/models"
)

// Page describes what a fake session "loads".
type Page struct {
	// FinalURL is reported by CurrentURL after navigation. Empty means the
	// navigated URL itself (no redirect).
	FinalURL string

	// Selectors lists CSS selectors that Has reports as present.
	Selectors []string

	// Anchors is returned by AnchorHrefs.
	Anchors []string

	// HTML is returned by HTML.
	HTML string

	// Meta is returned by Metadata unless MetaErr is set.
	Meta    models.PageMetadata
	MetaErr error

	// Statuses are pushed onto the response stream during Navigate, in order.
	Statuses []int

	// LateStatuses are pushed when Metadata is called, after extraction.
	LateStatuses []int

	// NavErr makes Navigate fail.
	NavErr error

	// Hang makes Navigate block until its context is done.
	Hang bool

	// NavTimeout, when positive, bounds Navigate like a real backend does.
	NavTimeout time.Duration
}

// Launcher hands out fake sessions for a fixed Page and keeps every session
// it created for later inspection.
type Launcher struct {
	Page      Page
	LaunchErr error

	mu       sync.Mutex
	sessions []*Session
}

// NewLauncher returns a Launcher serving page.
func NewLauncher(page Page) *Launcher {
	return &Launcher{Page: page}
}

func (l *Launcher) Name() string { return "fake" }

func (l *Launcher) Launch(ctx context.Context) (browser.Session, error) {
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &Session{page: l.Page, stream: browser.NewResponseStream()}
	l.mu.Lock()
	l.sessions = append(l.sessions, s)
	l.mu.Unlock()
	return s, nil
}

// Sessions returns every session launched so far.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.sessions...)
}

// Last returns the most recent session, or nil.
func (l *Launcher) Last() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sessions) == 0 {
		return nil
	}
	return l.sessions[len(l.sessions)-1]
}

// Session is a scripted browser.Session.
type Session struct {
	page   Page
	stream *browser.ResponseStream

	mu        sync.Mutex
	navigated string
	queried   []string

	anchorCalls atomic.Int32
	htmlCalls   atomic.Int32
	metaCalls   atomic.Int32
	closeCalls  atomic.Int32
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if s.page.NavTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.page.NavTimeout)
		defer cancel()
	}

	for _, status := range s.page.Statuses {
		s.stream.Push(browser.ResponseEvent{URL: url, Status: status})
	}

	if s.page.Hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.page.NavErr != nil {
		return s.page.NavErr
	}

	s.mu.Lock()
	s.navigated = url
	s.mu.Unlock()
	return nil
}

func (s *Session) CurrentURL(context.Context) (string, error) {
	if s.page.FinalURL != "" {
		return s.page.FinalURL, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.navigated == "" {
		return "", errors.New("browsertest: no page loaded")
	}
	return s.navigated, nil
}

func (s *Session) Has(_ context.Context, selector string) (bool, error) {
	s.mu.Lock()
	s.queried = append(s.queried, selector)
	s.mu.Unlock()
	for _, sel := range s.page.Selectors {
		if sel == selector {
			return true, nil
		}
	}
	return false, nil
}

func (s *Session) AnchorHrefs(context.Context) ([]string, error) {
	s.anchorCalls.Add(1)
	return append([]string(nil), s.page.Anchors...), nil
}

func (s *Session) HTML(context.Context) (string, error) {
	s.htmlCalls.Add(1)
	return s.page.HTML, nil
}

func (s *Session) Metadata(context.Context) (models.PageMetadata, error) {
	s.metaCalls.Add(1)
	for _, status := range s.page.LateStatuses {
		s.stream.Push(browser.ResponseEvent{URL: s.page.FinalURL, Status: status})
	}
	if s.page.MetaErr != nil {
		return models.PageMetadata{}, s.page.MetaErr
	}
	return s.page.Meta, nil
}

func (s *Session) Responses() <-chan browser.ResponseEvent {
	return s.stream.C()
}

func (s *Session) Close() error {
	if s.closeCalls.Add(1) == 1 {
		s.stream.Close()
	}
	return nil
}

// Queried returns the selectors passed to Has, in call order.
func (s *Session) Queried() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queried...)
}

// CloseCalls is the number of times Close was invoked.
func (s *Session) CloseCalls() int { return int(s.closeCalls.Load()) }

// AnchorCalls is the number of AnchorHrefs calls (extraction phase 1).
func (s *Session) AnchorCalls() int { return int(s.anchorCalls.Load()) }

// HTMLCalls is the number of HTML calls (extraction phase 2).
func (s *Session) HTMLCalls() int { return int(s.htmlCalls.Load()) }

// MetadataCalls is the number of Metadata calls.
func (s *Session) MetadataCalls() int { return int(s.metaCalls.Load()) }
