package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"xianyuwatch/internal/browser"
	"xianyuwatch/internal/pacing"

	"go.uber.org/zap"
)

// errListEnd ends a card pager.
var errListEnd = errors.New("end of list")

// cardPager awaits successive pages of a scroll-loaded profile list. Each
// page after the first is requested by scrolling to the bottom.
//
// Stop precedence: an explicit nextPage=false ends the list at once;
// otherwise the idle window ends it; the page cap bounds both.
type cardPager struct {
	page     browser.Page
	stream   *browser.ResponseStream
	pacer    *pacing.Controller
	detector pacing.Detector
	idle     time.Duration
	limit    int
	label    string
	log      *zap.Logger

	pages int
	done  bool
}

func (e *Enricher) newCardPager(page browser.Page, stream *browser.ResponseStream, label string) *cardPager {
	return &cardPager{
		page:     page,
		stream:   stream,
		pacer:    e.pacer,
		detector: e.detector,
		idle:     e.cfg.ScrollIdle,
		limit:    e.cfg.MaxProfilePages,
		label:    label,
		log:      e.log,
	}
}

// Next waits for the next page of cards. It returns errListEnd when the list
// is exhausted.
func (p *cardPager) Next(ctx context.Context) ([]json.RawMessage, error) {
	if p.done {
		return nil, errListEnd
	}
	if p.limit > 0 && p.pages >= p.limit {
		p.log.Info("profile page cap reached", zap.String("list", p.label), zap.Int("pages", p.pages))
		p.done = true
		return nil, errListEnd
	}
	if p.pages > 0 {
		if err := p.page.ScrollToBottom(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := p.stream.Next(ctx, p.idle)
	if errors.Is(err, browser.ErrIdle) {
		p.log.Debug("list idle, assuming loaded", zap.String("list", p.label), zap.Int("pages", p.pages))
		p.done = true
		return nil, errListEnd
	}
	if err != nil {
		return nil, err
	}
	p.pages++

	if sig, blocked := p.detector.InResponse(resp.Body); blocked {
		p.done = true
		return nil, p.pacer.Block(ctx, sig, "response")
	}
	page, err := decodeCardPage(resp.Body)
	if err != nil {
		p.log.Warn("malformed list page, stopping", zap.String("list", p.label), zap.Error(err))
		p.done = true
		return nil, errListEnd
	}
	if next, known := page.HasNext(); known && !next {
		p.done = true
	}
	return page.CardList, nil
}

// Collect drains the pager. Cards gathered before an error are returned with it.
func (p *cardPager) Collect(ctx context.Context) ([]json.RawMessage, error) {
	var cards []json.RawMessage
	for {
		batch, err := p.Next(ctx)
		if errors.Is(err, errListEnd) {
			return cards, nil
		}
		if err != nil {
			return cards, err
		}
		cards = append(cards, batch...)
	}
}
