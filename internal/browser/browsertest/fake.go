// Package browsertest provides a scripted in-memory browser for tests.
//
// A FakePage records every action and, when an action matches a trigger,
// publishes the responses queued for it to open watchers. Triggers are
// "navigate:<url substring>", "click:<selector>", "fill:<selector>",
// "press:<key>" and "scroll".
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"xianyuwatch/internal/browser"
)

// FakePage implements browser.Page.
type FakePage struct {
	mu       sync.Mutex
	actions  []string
	script   map[string][][]browser.Response
	visible  map[string]bool
	failures map[string]error
	streams  []*browser.ResponseStream
	closed   bool
}

// NewFakePage returns an empty page.
func NewFakePage() *FakePage {
	return &FakePage{
		script:   make(map[string][][]browser.Response),
		visible:  make(map[string]bool),
		failures: make(map[string]error),
	}
}

// On queues responses published the next time trigger fires. Repeated calls
// queue further batches for later firings.
func (f *FakePage) On(trigger string, responses ...browser.Response) *FakePage {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[trigger] = append(f.script[trigger], responses)
	return f
}

// SetVisible marks a selector visible or hidden.
func (f *FakePage) SetVisible(selector string, visible bool) *FakePage {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible[selector] = visible
	return f
}

// Fail makes the action for trigger return err.
func (f *FakePage) Fail(trigger string, err error) *FakePage {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[trigger] = err
	return f
}

// Actions returns the recorded actions in order.
func (f *FakePage) Actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

// Count returns how many recorded actions start with prefix.
func (f *FakePage) Count(prefix string) int {
	n := 0
	for _, a := range f.Actions() {
		if strings.HasPrefix(a, prefix) {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (f *FakePage) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakePage) fire(action string, match func(trigger string) bool) error {
	f.mu.Lock()
	f.actions = append(f.actions, action)
	var batch []browser.Response
	var failure error
	for trigger, queue := range f.script {
		if !match(trigger) {
			continue
		}
		if len(queue) > 0 {
			batch = append(batch, queue[0]...)
			f.script[trigger] = queue[1:]
		}
	}
	for trigger, err := range f.failures {
		if match(trigger) {
			failure = err
		}
	}
	streams := append([]*browser.ResponseStream(nil), f.streams...)
	f.mu.Unlock()

	if failure != nil {
		return failure
	}
	for _, resp := range batch {
		for _, s := range streams {
			if s.Matches(resp.URL) {
				s.Publish(resp)
			}
		}
	}
	return nil
}

func exact(trigger string) func(string) bool {
	return func(t string) bool { return t == trigger }
}

func (f *FakePage) Navigate(_ context.Context, url string) error {
	return f.fire("navigate:"+url, func(t string) bool {
		sub, ok := strings.CutPrefix(t, "navigate:")
		return ok && strings.Contains(url, sub)
	})
}

func (f *FakePage) Click(_ context.Context, selector string) error {
	return f.fire("click:"+selector, exact("click:"+selector))
}

func (f *FakePage) Fill(_ context.Context, selector, text string) error {
	return f.fire(fmt.Sprintf("fill:%s=%s", selector, text), exact("fill:"+selector))
}

func (f *FakePage) Press(_ context.Context, key string) error {
	return f.fire("press:"+key, exact("press:"+key))
}

func (f *FakePage) ScrollToBottom(context.Context) error {
	return f.fire("scroll", exact("scroll"))
}

func (f *FakePage) IsVisible(_ context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible[selector], nil
}

func (f *FakePage) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.visible[selector] {
		return fmt.Errorf("%s not visible", selector)
	}
	return nil
}

func (f *FakePage) Watch(pattern string) *browser.ResponseStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s *browser.ResponseStream
	s = browser.NewResponseStream(pattern, 0, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, open := range f.streams {
			if open == s {
				f.streams = append(f.streams[:i], f.streams[i+1:]...)
				return
			}
		}
	})
	f.streams = append(f.streams, s)
	return s
}

func (f *FakePage) Close() error {
	f.mu.Lock()
	f.closed = true
	streams := f.streams
	f.streams = nil
	f.mu.Unlock()
	for _, s := range streams {
		s.Close()
	}
	return nil
}

// FakeSession hands out pre-built pages in order.
type FakeSession struct {
	mu     sync.Mutex
	pages  []*FakePage
	opened int
	closed bool
}

// NewFakeSession returns a session that yields pages in order.
func NewFakeSession(pages ...*FakePage) *FakeSession {
	return &FakeSession{pages: pages}
}

func (s *FakeSession) NewPage(context.Context) (browser.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened >= len(s.pages) {
		return nil, fmt.Errorf("no scripted page left (opened %d)", s.opened)
	}
	p := s.pages[s.opened]
	s.opened++
	return p, nil
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Opened reports how many pages were handed out.
func (s *FakeSession) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// JSONResponse builds a 200 response with body.
func JSONResponse(url, body string) browser.Response {
	return browser.Response{URL: url, Status: 200, Body: []byte(body)}
}
