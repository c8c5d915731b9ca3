package pacing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrBlocked means the marketplace flagged the session as automated. It ends
// the owning task for the rest of the run.
var ErrBlocked = errors.New("session blocked by verification")

// BlockError carries the signature that triggered the block path.
type BlockError struct {
	Signature string
	Source    string // "response" or "page"
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("%v: %s (%s)", ErrBlocked, e.Signature, e.Source)
}

// Is lets errors.Is(err, ErrBlocked) match.
func (e *BlockError) Is(target error) bool { return target == ErrBlocked }

// VisibilityChecker is the slice of a browser page the detector needs.
type VisibilityChecker interface {
	IsVisible(ctx context.Context, selector string) (bool, error)
}

// Detector recognizes block signatures in capability responses and in the
// rendered page.
type Detector struct {
	// ResponseSignatures are matched against the envelope's ret codes.
	ResponseSignatures []string
	// PageSelectors are verification widgets whose visibility means a block.
	PageSelectors []string
}

// DefaultDetector matches the marketplace's user-validation failure and its
// slider captcha.
func DefaultDetector() Detector {
	return Detector{
		ResponseSignatures: []string{"FAIL_SYS_USER_VALIDATE"},
		PageSelectors:      []string{"#nc_1_wrapper", "div.baxia-dialog"},
	}
}

// InResponse inspects a response body. The ret codes of the envelope are
// checked first; bodies without an envelope are searched verbatim.
func (d Detector) InResponse(body []byte) (string, bool) {
	var env struct {
		Ret []string `json:"ret"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Ret) > 0 {
		joined := strings.Join(env.Ret, " ")
		for _, sig := range d.ResponseSignatures {
			if strings.Contains(joined, sig) {
				return sig, true
			}
		}
		return "", false
	}
	for _, sig := range d.ResponseSignatures {
		if bytes.Contains(body, []byte(sig)) {
			return sig, true
		}
	}
	return "", false
}

// OnPage reports the first verification widget visible on page.
func (d Detector) OnPage(ctx context.Context, page VisibilityChecker) (string, bool, error) {
	for _, sel := range d.PageSelectors {
		visible, err := page.IsVisible(ctx, sel)
		if err != nil {
			return "", false, fmt.Errorf("check %s: %w", sel, err)
		}
		if visible {
			return sel, true, nil
		}
	}
	return "", false, nil
}
