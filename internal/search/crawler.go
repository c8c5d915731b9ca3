// Package search drives the marketplace search page into the requested filter
// state and yields intercepted result pages one at a time.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"xianyuwatch/internal/browser"
	"xianyuwatch/internal/mtop"
	"xianyuwatch/internal/pacing"
	"xianyuwatch/internal/types"

	"go.uber.org/zap"
)

// ErrNoMorePages ends a pager: no next control, an empty page, a page turn
// that never answered, or the page limit.
var ErrNoMorePages = errors.New("no more search pages")

// Selectors locate the search page controls.
type Selectors struct {
	PopupClose     string `yaml:"popup_close"`
	NewlyPublished string `yaml:"newly_published"`
	SortLatest     string `yaml:"sort_latest"`
	PersonalOnly   string `yaml:"personal_only"`
	PriceContainer string `yaml:"price_container"`
	MinPriceInput  string `yaml:"min_price_input"`
	MaxPriceInput  string `yaml:"max_price_input"`
	NextPage       string `yaml:"next_page"`
}

// DefaultSelectors match the current desktop search page.
func DefaultSelectors() Selectors {
	return Selectors{
		PopupClose:     "div[class*='closeIconBg']",
		NewlyPublished: "text=新发布",
		SortLatest:     "text=最新",
		PersonalOnly:   "text=个人闲置",
		PriceContainer: `div[class*="search-price-input-container"]`,
		MinPriceInput:  `xpath=(//div[contains(@class,'search-price-input-container')]//input[@placeholder='¥'])[1]`,
		MaxPriceInput:  `xpath=(//div[contains(@class,'search-price-input-container')]//input[@placeholder='¥'])[2]`,
		NextPage:       "[class*='search-pagination-arrow-right']:not([disabled])",
	}
}

// Config tunes the crawler.
type Config struct {
	SearchURL       string
	APIPattern      string
	InitialTimeout  time.Duration
	ResponseTimeout time.Duration
	ReadyTimeout    time.Duration
	PopupTimeout    time.Duration
	Selectors       Selectors
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		SearchURL:       "https://www.goofish.com/search",
		APIPattern:      mtop.SearchAPI,
		InitialTimeout:  30 * time.Second,
		ResponseTimeout: 20 * time.Second,
		ReadyTimeout:    15 * time.Second,
		PopupTimeout:    3 * time.Second,
		Selectors:       DefaultSelectors(),
	}
}

// Crawler drives one search page for one task.
type Crawler struct {
	page     browser.Page
	pacer    *pacing.Controller
	detector pacing.Detector
	cfg      Config
	log      *zap.Logger
}

// NewCrawler returns a crawler bound to page.
func NewCrawler(page browser.Page, pacer *pacing.Controller, detector pacing.Detector, cfg Config, log *zap.Logger) *Crawler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Crawler{page: page, pacer: pacer, detector: detector, cfg: cfg, log: log}
}

// SearchURL builds the search address for keyword.
func (c *Crawler) SearchURL(keyword string) string {
	return c.cfg.SearchURL + "?" + url.Values{"q": {keyword}}.Encode()
}

// ResultPage is one parsed page of search results.
type ResultPage struct {
	Number   int
	Listings []types.Listing
}

// Open navigates to the search for task, applies its filters and returns a
// pager positioned before page 1.
func (c *Crawler) Open(ctx context.Context, task types.Task) (*Pager, error) {
	sel := c.cfg.Selectors
	target := c.SearchURL(task.Keyword)
	c.log.Info("opening search", zap.String("url", target))

	initial, err := browser.Expect(ctx, c.page, c.cfg.APIPattern, c.cfg.InitialTimeout, func(ctx context.Context) error {
		return c.page.Navigate(ctx, target)
	})
	if err != nil {
		return nil, fmt.Errorf("initial search: %w", err)
	}
	if err := c.checkPage(ctx); err != nil {
		return nil, err
	}
	if err := c.page.WaitVisible(ctx, sel.NewlyPublished, c.cfg.ReadyTimeout); err != nil {
		return nil, fmt.Errorf("search page not ready: %w", err)
	}

	popupCtx, cancel := context.WithTimeout(ctx, c.cfg.PopupTimeout)
	if err := c.page.Click(popupCtx, sel.PopupClose); err != nil {
		c.log.Debug("no advertisement pop-up")
	} else {
		c.log.Info("closed advertisement pop-up")
	}
	cancel()

	latest, err := c.applyFilters(ctx, task)
	if err != nil {
		return nil, err
	}

	first := initial
	if latest != nil && latest.OK() {
		first = *latest
	}
	return &Pager{c: c, task: task, current: &first}, nil
}

func (c *Crawler) applyFilters(ctx context.Context, task types.Task) (*browser.Response, error) {
	sel := c.cfg.Selectors

	if err := c.page.Click(ctx, sel.NewlyPublished); err != nil {
		return nil, fmt.Errorf("newly published filter: %w", err)
	}
	if err := c.pacer.Delay(ctx, pacing.PreClick); err != nil {
		return nil, err
	}

	var latest *browser.Response
	expect := func(name string, action func(ctx context.Context) error) error {
		resp, err := browser.Expect(ctx, c.page, c.cfg.APIPattern, c.cfg.ResponseTimeout, func(ctx context.Context) error {
			if err := action(ctx); err != nil {
				return err
			}
			return c.pacer.Delay(ctx, pacing.FilterApply)
		})
		if err != nil {
			return fmt.Errorf("%s filter: %w", name, err)
		}
		latest = &resp
		return nil
	}

	if err := expect("sort", func(ctx context.Context) error {
		return c.page.Click(ctx, sel.SortLatest)
	}); err != nil {
		return nil, err
	}

	if task.PersonalOnly {
		if err := expect("personal only", func(ctx context.Context) error {
			return c.page.Click(ctx, sel.PersonalOnly)
		}); err != nil {
			return nil, err
		}
	}

	if task.HasPriceBand() {
		visible, err := c.page.IsVisible(ctx, sel.PriceContainer)
		if err != nil {
			return nil, fmt.Errorf("price filter: %w", err)
		}
		if !visible {
			c.log.Warn("price input container not found, price band ignored")
			return latest, nil
		}
		if err := c.fillPrice(ctx, sel.MinPriceInput, task.MinPrice); err != nil {
			return nil, err
		}
		if err := c.fillPrice(ctx, sel.MaxPriceInput, task.MaxPrice); err != nil {
			return nil, err
		}
		if err := expect("price", func(ctx context.Context) error {
			return c.page.Press(ctx, "Tab")
		}); err != nil {
			return nil, err
		}
	}
	return latest, nil
}

func (c *Crawler) fillPrice(ctx context.Context, selector, value string) error {
	if value == "" {
		return nil
	}
	if err := c.page.Fill(ctx, selector, value); err != nil {
		return fmt.Errorf("price filter: %w", err)
	}
	return c.pacer.Delay(ctx, pacing.FormFill)
}

// checkPage runs the visible-widget block check.
func (c *Crawler) checkPage(ctx context.Context) error {
	sig, blocked, err := c.detector.OnPage(ctx, c.page)
	if err != nil {
		c.log.Debug("page block check failed", zap.Error(err))
		return nil
	}
	if blocked {
		return c.pacer.Block(ctx, sig, "page")
	}
	return nil
}

// Pager yields search result pages in order.
type Pager struct {
	c       *Crawler
	task    types.Task
	number  int
	current *browser.Response
	done    bool
}

// Next returns the next non-malformed page. It returns ErrNoMorePages when
// the crawl is over and a *pacing.BlockError when the session is flagged.
func (p *Pager) Next(ctx context.Context) (*ResultPage, error) {
	log := p.c.log
	for {
		if p.done || p.number >= p.task.MaxPages {
			p.done = true
			return nil, ErrNoMorePages
		}
		p.number++

		if p.number > 1 {
			if err := p.turn(ctx); err != nil {
				p.done = true
				return nil, err
			}
		}
		resp := p.current
		p.current = nil

		if resp == nil || !resp.OK() {
			log.Warn("search page response invalid, skipping", zap.Int("page", p.number))
			continue
		}
		if sig, blocked := p.c.detector.InResponse(resp.Body); blocked {
			p.done = true
			return nil, p.c.pacer.Block(ctx, sig, "response")
		}
		listings, err := ParsePage(resp.Body, log)
		if err != nil {
			log.Warn("malformed search page, skipping", zap.Int("page", p.number), zap.Error(err))
			continue
		}
		if len(listings) == 0 {
			log.Info("search page has no listings, stopping", zap.Int("page", p.number))
			p.done = true
			return nil, ErrNoMorePages
		}
		log.Info("search page parsed", zap.Int("page", p.number), zap.Int("listings", len(listings)))
		return &ResultPage{Number: p.number, Listings: listings}, nil
	}
}

// turn clicks the next-page control and captures the new response.
func (p *Pager) turn(ctx context.Context) error {
	c := p.c
	visible, err := c.page.IsVisible(ctx, c.cfg.Selectors.NextPage)
	if err != nil || !visible {
		c.log.Info("no usable next-page control, stopping", zap.Int("page", p.number))
		return ErrNoMorePages
	}
	resp, err := browser.Expect(ctx, c.page, c.cfg.APIPattern, c.cfg.ResponseTimeout, func(ctx context.Context) error {
		if err := c.page.Click(ctx, c.cfg.Selectors.NextPage); err != nil {
			return err
		}
		return c.pacer.Delay(ctx, pacing.PageTurn)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.log.Warn("page turn did not answer, stopping", zap.Int("page", p.number), zap.Error(err))
		return ErrNoMorePages
	}
	if err := c.checkPage(ctx); err != nil {
		return err
	}
	p.current = &resp
	return nil
}
