// Package mtop decodes the marketplace's h5 API envelopes into typed partial
// records. Every external field is optional; callers resolve values through
// default-bearing accessors instead of probing nested maps.
package mtop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// API patterns matched against intercepted response URLs.
const (
	SearchAPI  = "h5api.m.goofish.com/h5/mtop.taobao.idlemtopsearch.pc.search"
	DetailAPI  = "h5api.m.goofish.com/h5/mtop.taobao.idle.pc.detail"
	HeadAPI    = "mtop.idle.web.user.page.head"
	ItemsAPI   = "mtop.idle.web.xyh.item.list"
	RatingsAPI = "mtop.idle.web.trade.rate.list"
)

// Envelope is the outer shape shared by every h5 API response.
type Envelope[T any] struct {
	API  string   `json:"api"`
	Ret  []string `json:"ret"`
	Data *T       `json:"data"`
}

// Decode parses body into an envelope with a typed data section.
func Decode[T any](body []byte) (*Envelope[T], error) {
	var env Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// Succeeded reports a SUCCESS ret code. An envelope with no ret codes is
// treated as successful.
func (e *Envelope[T]) Succeeded() bool {
	if len(e.Ret) == 0 {
		return true
	}
	for _, r := range e.Ret {
		if strings.HasPrefix(r, "SUCCESS") {
			return true
		}
	}
	return false
}

// Opt is an optional JSON scalar. Strings keep their value; numbers and
// booleans keep their literal text. Null, objects and arrays count as absent.
type Opt struct {
	val string
	set bool
}

// S returns a present Opt holding v.
func S(v string) Opt { return Opt{val: v, set: true} }

// UnmarshalJSON implements json.Unmarshaler.
func (o *Opt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*o = Opt{}
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case 'n', '{', '[':
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		o.val, o.set = s, true
	default:
		o.val, o.set = string(b), true
	}
	return nil
}

// MarshalJSON writes the value as a string, or null when absent.
func (o Opt) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.val)
}

// Valid reports whether the field was present.
func (o Opt) Valid() bool { return o.set }

// Or returns the value, or def when the field was absent.
func (o Opt) Or(def string) string {
	if !o.set {
		return def
	}
	return o.val
}

// Int parses the value as an integer. Float literals are truncated.
func (o Opt) Int() (int, bool) {
	if !o.set {
		return 0, false
	}
	s := strings.TrimSpace(o.val)
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f), true
	}
	return 0, false
}

// Digits reports whether the value is a non-empty run of ASCII digits.
func (o Opt) Digits() bool {
	if !o.set || o.val == "" {
		return false
	}
	for _, r := range o.val {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Pages is the paging section of the profile list APIs.
type Pages struct {
	NextPage *bool `json:"nextPage"`
}

// HasNext reports the explicit flag and whether it was present at all.
func (p Pages) HasNext() (next, known bool) {
	if p.NextPage == nil {
		return false, false
	}
	return *p.NextPage, true
}
