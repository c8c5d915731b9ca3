// Package filter is the eligibility gate: it builds the rubric prompt for a
// record, attaches the listing's images, asks a reasoning backend for a
// verdict and validates what comes back.
package filter

import (
	"context"
	"fmt"
)

// Image is one inline image sent with a message.
type Image struct {
	MIME string
	Data []byte
}

// Message is one user turn: text plus optional images.
type Message struct {
	Text   string
	Images []Image
}

// Reasoner sends messages to a generative backend and returns its raw text.
type Reasoner interface {
	Complete(ctx context.Context, msgs []Message, wantJSON bool) (string, error)
}

// StatusError is a non-success HTTP status from a backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code == 408 || e.Code == 429 || e.Code >= 500
}
