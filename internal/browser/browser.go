// Package browser drives a real browser on behalf of the crawler. Pages expose
// the handful of DOM actions the pipeline needs and let callers subscribe to
// network responses whose URL contains a pattern.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrIdle is returned by ResponseStream.Next when nothing matched within
	// the idle window.
	ErrIdle = errors.New("no matching response before idle timeout")
	// ErrStreamClosed is returned once a stream has been closed.
	ErrStreamClosed = errors.New("response stream closed")
	// ErrNoSessionState means the saved login state is missing. Crawling
	// anonymously is not supported.
	ErrNoSessionState = errors.New("session state file not found")
)

// Response is a captured network response.
type Response struct {
	URL    string
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// JSON decodes the body into v.
func (r Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %s: %w", r.URL, err)
	}
	return nil
}

// Page is one browser tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Click waits for selector up to the action timeout and clicks it.
	Click(ctx context.Context, selector string) error
	// Fill replaces the value of an input.
	Fill(ctx context.Context, selector, text string) error
	// Press sends a named key (Tab, Enter, Escape) to the focused element.
	Press(ctx context.Context, key string) error
	ScrollToBottom(ctx context.Context) error
	// IsVisible checks once without waiting.
	IsVisible(ctx context.Context, selector string) (bool, error)
	// WaitVisible waits up to timeout for selector to become visible.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// Watch subscribes to responses whose URL contains pattern. The caller
	// must Close the stream.
	Watch(pattern string) *ResponseStream
	Close() error
}

// Session is an isolated browser context carrying the restored login state.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launcher opens sessions. One session per task keeps cookies and storage
// from leaking between tasks.
type Launcher interface {
	NewSession(ctx context.Context) (Session, error)
}

// Expect subscribes to pattern, runs action, then waits up to timeout for the
// first matching response.
func Expect(ctx context.Context, p Page, pattern string, timeout time.Duration, action func(ctx context.Context) error) (Response, error) {
	stream := p.Watch(pattern)
	defer stream.Close()

	if err := action(ctx); err != nil {
		return Response{}, err
	}
	resp, err := stream.Next(ctx, timeout)
	if err != nil {
		return Response{}, fmt.Errorf("await %s: %w", pattern, err)
	}
	return resp, nil
}
