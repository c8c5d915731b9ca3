package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/go-rod/rod/lib/proto"
)

// StorageState is a saved login: cookies plus per-origin localStorage, in
// the JSON layout produced by common browser automation tools.
type StorageState struct {
	Cookies []StateCookie `json:"cookies"`
	Origins []StateOrigin `json:"origins"`
}

// StateCookie is one saved cookie.
type StateCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// StateOrigin holds localStorage entries for one origin.
type StateOrigin struct {
	Origin       string       `json:"origin"`
	LocalStorage []StateEntry `json:"localStorage"`
}

// StateEntry is a localStorage key/value pair.
type StateEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LoadStorageState reads the state file. A missing file yields ErrNoSessionState.
func LoadStorageState(path string) (*StorageState, error) {
	if path == "" {
		return nil, ErrNoSessionState
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoSessionState, path)
		}
		return nil, fmt.Errorf("read session state: %w", err)
	}
	var st StorageState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse session state %s: %w", path, err)
	}
	return &st, nil
}

// CookieParams converts the saved cookies for CDP.
func (s *StorageState) CookieParams() []*proto.NetworkCookieParam {
	if s == nil {
		return nil
	}
	params := make([]*proto.NetworkCookieParam, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			p.SameSite = proto.NetworkCookieSameSiteStrict
		case "lax":
			p.SameSite = proto.NetworkCookieSameSiteLax
		case "none":
			p.SameSite = proto.NetworkCookieSameSiteNone
		}
		params = append(params, p)
	}
	return params
}

// LocalStorageFor returns the entries saved for the origin of rawURL.
func (s *StorageState) LocalStorageFor(rawURL string) (string, map[string]string, bool) {
	if s == nil {
		return "", nil, false
	}
	origin := OriginOf(rawURL)
	for _, o := range s.Origins {
		if strings.TrimRight(o.Origin, "/") != origin || len(o.LocalStorage) == 0 {
			continue
		}
		entries := make(map[string]string, len(o.LocalStorage))
		for _, e := range o.LocalStorage {
			entries[e.Name] = e.Value
		}
		return origin, entries, true
	}
	return origin, nil, false
}

// OriginOf returns scheme://host[:port] for rawURL, or "" when it has no host.
func OriginOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
