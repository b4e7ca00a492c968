package browser

import (
	"sync"
	"time"
)

// ResponseStream is an unbounded, order-preserving queue of response events.
//
// Push never blocks, so it is safe to call from CDP event callbacks. A
// forwarding goroutine moves queued events onto the channel returned by C.
// After Close the remaining events are still delivered, then C is closed.
type ResponseStream struct {
	mu     sync.Mutex
	queue  []ResponseEvent
	closed bool
	wake   chan struct{}
	out    chan ResponseEvent
}

// NewResponseStream creates a stream and starts its forwarder.
func NewResponseStream() *ResponseStream {
	s := &ResponseStream{
		wake: make(chan struct{}, 1),
		out:  make(chan ResponseEvent),
	}
	go s.forward()
	return s
}

// C returns the consumer side of the stream.
func (s *ResponseStream) C() <-chan ResponseEvent {
	return s.out
}

// Push enqueues an event. Events pushed after Close are dropped.
func (s *ResponseStream) Push(ev ResponseEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.notify()
}

// Close stops accepting events. It is idempotent.
func (s *ResponseStream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

func (s *ResponseStream) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *ResponseStream) forward() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			s.out <- ev
		}
	}
}
