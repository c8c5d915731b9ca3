package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Config holds browser configuration.
type Config struct {
	DebuggerURL         string   `yaml:"debugger_url"`
	Launch              []string `yaml:"launch"`
	Headless            bool     `yaml:"headless"`
	UserAgent           string   `yaml:"user_agent"`
	ViewportWidth       int      `yaml:"viewport_width"`
	ViewportHeight      int      `yaml:"viewport_height"`
	NavigationTimeoutMs int      `yaml:"navigation_timeout_ms"`
	ActionTimeoutMs     int      `yaml:"action_timeout_ms"`
	StreamBuffer        int      `yaml:"stream_buffer"`
	StateFile           string   `yaml:"state_file"`
}

// DefaultConfig returns the defaults used when the config file is silent.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		NavigationTimeoutMs: 120000,
		ActionTimeoutMs:     20000,
		StreamBuffer:        DefaultStreamBuffer,
		StateFile:           "xianyu_state.json",
	}
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// ActionTimeout bounds waiting for an element before acting on it.
func (c Config) ActionTimeout() time.Duration {
	if c.ActionTimeoutMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.ActionTimeoutMs) * time.Millisecond
}

func (c Config) viewport() (int, int) {
	w, h := c.ViewportWidth, c.ViewportHeight
	if w == 0 {
		w = 1920
	}
	if h == 0 {
		h = 1080
	}
	return w, h
}

// SessionManager owns the Chrome process and hands out one incognito
// context per task, each seeded with the saved login.
type SessionManager struct {
	cfg     Config
	log     *zap.Logger
	mu      sync.Mutex
	browser *rod.Browser
	state   *StorageState
}

// NewSessionManager creates a manager. Start must be called before NewSession.
func NewSessionManager(cfg Config, log *zap.Logger) *SessionManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionManager{cfg: cfg, log: log}
}

// Start loads the session state and connects to an existing Chrome or
// launches a new one.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.log.Warn("stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
	}

	state, err := LoadStorageState(m.cfg.StateFile)
	if err != nil {
		return err
	}
	m.state = state

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		controlURL, err = m.launch()
		if err != nil {
			return err
		}
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	m.browser = browser
	m.log.Info("browser connected",
		zap.Bool("headless", m.cfg.Headless),
		zap.Int("cookies", len(state.Cookies)))
	return nil
}

func (m *SessionManager) launch() (string, error) {
	l := launcher.New().Headless(m.cfg.Headless)
	if len(m.cfg.Launch) > 0 {
		l = l.Bin(m.cfg.Launch[0])
		for _, rawFlag := range m.cfg.Launch[1:] {
			name, val, hasVal := strings.Cut(strings.TrimLeft(rawFlag, "-"), "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
	}
	url, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launch chrome: %w", err)
	}
	return url, nil
}

// NewSession opens an incognito context with the saved cookies applied.
func (m *SessionManager) NewSession(ctx context.Context) (Session, error) {
	m.mu.Lock()
	browser, state := m.browser, m.state
	m.mu.Unlock()
	if browser == nil {
		return nil, errors.New("browser not started")
	}

	incognito, err := browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	if params := state.CookieParams(); len(params) > 0 {
		if err := incognito.SetCookies(params); err != nil {
			_ = incognito.Close()
			return nil, fmt.Errorf("restore cookies: %w", err)
		}
	}
	return &rodSession{cfg: m.cfg, log: m.log, browser: incognito, state: state}, nil
}

// Shutdown closes the browser.
func (m *SessionManager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return nil
	}
	err := m.browser.Close()
	m.browser = nil
	return err
}

type rodSession struct {
	cfg     Config
	log     *zap.Logger
	browser *rod.Browser
	state   *StorageState

	mu    sync.Mutex
	pages []*rodPage
}

func (s *rodSession) NewPage(ctx context.Context) (Page, error) {
	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	w, h := s.cfg.viewport()
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		s.log.Warn("failed to set viewport", zap.Error(err))
	}
	if s.cfg.UserAgent != "" {
		if err := (proto.NetworkSetUserAgentOverride{UserAgent: s.cfg.UserAgent}).Call(page); err != nil {
			s.log.Warn("failed to override user agent", zap.Error(err))
		}
	}

	p, err := newRodPage(page, s.cfg, s.state, s.log)
	if err != nil {
		_ = page.Close()
		return nil, err
	}
	s.mu.Lock()
	s.pages = append(s.pages, p)
	s.mu.Unlock()
	return p, nil
}

func (s *rodSession) Close() error {
	s.mu.Lock()
	pages := s.pages
	s.pages = nil
	s.mu.Unlock()
	for _, p := range pages {
		_ = p.Close()
	}
	return s.browser.Close()
}

type rodPage struct {
	page  *rod.Page
	cfg   Config
	log   *zap.Logger
	state *StorageState
	reg   *registry

	stop func()

	mu       sync.Mutex
	pending  map[proto.NetworkRequestID]*proto.NetworkResponse
	restored map[string]bool
	closed   bool
}

func newRodPage(page *rod.Page, cfg Config, state *StorageState, log *zap.Logger) (*rodPage, error) {
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("enable network events: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &rodPage{
		page:     page,
		cfg:      cfg,
		log:      log,
		state:    state,
		reg:      newRegistry(cfg.StreamBuffer),
		stop:     cancel,
		pending:  make(map[proto.NetworkRequestID]*proto.NetworkResponse),
		restored: make(map[string]bool),
	}

	wait := page.Context(ctx).EachEvent(
		func(ev *proto.NetworkResponseReceived) {
			if ev.Response == nil || !p.reg.wants(ev.Response.URL) {
				return
			}
			p.mu.Lock()
			p.pending[ev.RequestID] = ev.Response
			p.mu.Unlock()
		},
		func(ev *proto.NetworkLoadingFinished) {
			p.mu.Lock()
			resp, ok := p.pending[ev.RequestID]
			delete(p.pending, ev.RequestID)
			p.mu.Unlock()
			if ok {
				go p.deliver(ev.RequestID, resp)
			}
		},
		func(ev *proto.NetworkLoadingFailed) {
			p.mu.Lock()
			delete(p.pending, ev.RequestID)
			p.mu.Unlock()
		},
	)
	go wait()
	return p, nil
}

// deliver fetches the body once loading has finished and fans it out.
func (p *rodPage) deliver(id proto.NetworkRequestID, resp *proto.NetworkResponse) {
	res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(p.page)
	if err != nil {
		p.log.Debug("response body unavailable", zap.String("url", resp.URL), zap.Error(err))
		return
	}
	body := []byte(res.Body)
	if res.Base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(res.Body)
		if err != nil {
			p.log.Debug("response body not base64", zap.String("url", resp.URL), zap.Error(err))
			return
		}
		body = decoded
	}
	p.reg.publish(Response{URL: resp.URL, Status: resp.Status, Body: body})
}

func (p *rodPage) Watch(pattern string) *ResponseStream {
	return p.reg.watch(pattern)
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.NavigationTimeout())
	defer cancel()

	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	p.restoreLocalStorage(pg, url)
	return nil
}

// restoreLocalStorage seeds the saved entries the first time an origin is
// visited in this tab.
func (p *rodPage) restoreLocalStorage(pg *rod.Page, url string) {
	origin, entries, ok := p.state.LocalStorageFor(url)
	if !ok {
		return
	}
	p.mu.Lock()
	done := p.restored[origin]
	p.restored[origin] = true
	p.mu.Unlock()
	if done {
		return
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if _, err := pg.Evaluate(&rod.EvalOptions{
		JS: `(local) => {
			try {
				const l = JSON.parse(local || "{}");
				Object.entries(l).forEach(([k, v]) => localStorage.setItem(k, v));
			} catch (e) {}
		}`,
		JSArgs:       []interface{}{string(raw)},
		ByValue:      true,
		AwaitPromise: true,
	}); err != nil {
		p.log.Debug("localStorage restore failed", zap.String("origin", origin), zap.Error(err))
	}
}

func (p *rodPage) element(pg *rod.Page, selector string) (*rod.Element, error) {
	kind, expr := ParseSelector(selector)
	var (
		el  *rod.Element
		err error
	)
	if kind == SelectorXPath {
		el, err = pg.ElementX(expr)
	} else {
		el, err = pg.Element(expr)
	}
	if err != nil {
		return nil, fmt.Errorf("element %s not found: %w", selector, err)
	}
	return el, nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ActionTimeout())
	defer cancel()

	el, err := p.element(p.page.Context(ctx), selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) Fill(ctx context.Context, selector, text string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ActionTimeout())
	defer cancel()

	el, err := p.element(p.page.Context(ctx), selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("select %s: %w", selector, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

var namedKeys = map[string]input.Key{
	"Tab":    input.Tab,
	"Enter":  input.Enter,
	"Escape": input.Escape,
}

func (p *rodPage) Press(ctx context.Context, key string) error {
	k, ok := namedKeys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	if err := p.page.Context(ctx).Keyboard.Press(k); err != nil {
		return fmt.Errorf("press %s: %w", key, err)
	}
	return nil
}

func (p *rodPage) ScrollToBottom(ctx context.Context) error {
	_, err := p.page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	if err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

func (p *rodPage) IsVisible(ctx context.Context, selector string) (bool, error) {
	pg := p.page.Context(ctx)
	kind, expr := ParseSelector(selector)
	var (
		has bool
		el  *rod.Element
		err error
	)
	if kind == SelectorXPath {
		has, el, err = pg.HasX(expr)
	} else {
		has, el, err = pg.Has(expr)
	}
	if err != nil {
		return false, fmt.Errorf("query %s: %w", selector, err)
	}
	if !has {
		return false, nil
	}
	return el.Visible()
}

func (p *rodPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := p.element(p.page.Context(ctx), selector)
	if err != nil {
		return err
	}
	return el.WaitVisible()
}

func (p *rodPage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.stop()
	p.reg.closeAll()
	return p.page.Close()
}
