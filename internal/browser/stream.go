package browser

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultStreamBuffer bounds how many unread responses a stream holds.
const DefaultStreamBuffer = 32

// ResponseStream delivers matching responses in arrival order. Responses
// arriving while the buffer is full are dropped.
type ResponseStream struct {
	pattern string
	ch      chan Response
	done    chan struct{}
	once    sync.Once
	onClose func()
}

// NewResponseStream creates a stream for URLs containing pattern. onClose
// runs once when the stream is closed.
func NewResponseStream(pattern string, buffer int, onClose func()) *ResponseStream {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	return &ResponseStream{
		pattern: pattern,
		ch:      make(chan Response, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Pattern is the URL substring this stream matches.
func (s *ResponseStream) Pattern() string { return s.pattern }

// Matches reports whether url belongs to this stream.
func (s *ResponseStream) Matches(url string) bool {
	return strings.Contains(url, s.pattern)
}

// Publish offers r to the stream without blocking. It returns false when the
// stream is closed or full.
func (s *ResponseStream) Publish(r Response) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- r:
		return true
	default:
		return false
	}
}

// Next returns the next response. With idle > 0 it gives up with ErrIdle
// after that long without a response.
func (s *ResponseStream) Next(ctx context.Context, idle time.Duration) (Response, error) {
	select {
	case r := <-s.ch:
		return r, nil
	default:
	}

	var timeout <-chan time.Time
	if idle > 0 {
		timer := time.NewTimer(idle)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case r := <-s.ch:
		return r, nil
	case <-s.done:
		return Response{}, ErrStreamClosed
	case <-timeout:
		return Response{}, ErrIdle
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Close stops delivery. Safe to call more than once.
func (s *ResponseStream) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// registry fans responses out to open streams.
type registry struct {
	mu      sync.Mutex
	nextID  int
	streams map[int]*ResponseStream
	buffer  int
}

func newRegistry(buffer int) *registry {
	return &registry{streams: make(map[int]*ResponseStream), buffer: buffer}
}

func (r *registry) watch(pattern string) *ResponseStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	s := NewResponseStream(pattern, r.buffer, func() {
		r.mu.Lock()
		delete(r.streams, id)
		r.mu.Unlock()
	})
	r.streams[id] = s
	return s
}

// wants reports whether any open stream matches url.
func (r *registry) wants(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.streams {
		if s.Matches(url) {
			return true
		}
	}
	return false
}

func (r *registry) publish(resp Response) int {
	r.mu.Lock()
	targets := make([]*ResponseStream, 0, len(r.streams))
	for _, s := range r.streams {
		if s.Matches(resp.URL) {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()

	delivered := 0
	for _, s := range targets {
		if s.Publish(resp) {
			delivered++
		}
	}
	return delivered
}

func (r *registry) closeAll() {
	r.mu.Lock()
	streams := make([]*ResponseStream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.Unlock()
	for _, s := range streams {
		s.Close()
	}
}
