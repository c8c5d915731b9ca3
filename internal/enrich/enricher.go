// Package enrich opens a listing's detail view, backfills the fields search
// results lack and pulls the seller's full profile: header, catalog and
// rating history.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xianyuwatch/internal/browser"
	"xianyuwatch/internal/mtop"
	"xianyuwatch/internal/pacing"
	"xianyuwatch/internal/retry"
	"xianyuwatch/internal/types"

	"go.uber.org/zap"
)

// Config tunes enrichment.
type Config struct {
	DetailAPI        string
	HeadAPI          string
	ItemsAPI         string
	RatingsAPI       string
	ProfileURL       string
	RatingTab        string
	DetailTimeout    time.Duration
	HeadTimeout      time.Duration
	ScrollIdle       time.Duration
	MaxProfilePages  int
	DetailAttempts   int
	DetailRetryDelay time.Duration
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		DetailAPI:        mtop.DetailAPI,
		HeadAPI:          mtop.HeadAPI,
		ItemsAPI:         mtop.ItemsAPI,
		RatingsAPI:       mtop.RatingsAPI,
		ProfileURL:       "https://www.goofish.com/personal?userId=",
		RatingTab:        "xpath=//div[text()='信用及评价']/ancestor::li",
		DetailTimeout:    25 * time.Second,
		HeadTimeout:      15 * time.Second,
		ScrollIdle:       8 * time.Second,
		MaxProfilePages:  50,
		DetailAttempts:   2,
		DetailRetryDelay: 5 * time.Second,
	}
}

// Enricher enriches listings within one task's browser session.
type Enricher struct {
	session  browser.Session
	pacer    *pacing.Controller
	detector pacing.Detector
	cfg      Config
	log      *zap.Logger
}

// New returns an Enricher opening its pages from session.
func New(session browser.Session, pacer *pacing.Controller, detector pacing.Detector, cfg Config, log *zap.Logger) *Enricher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Enricher{session: session, pacer: pacer, detector: detector, cfg: cfg, log: log}
}

// Enrich returns the listing with detail fields filled and the seller's
// profile. A block signature yields an error matching pacing.ErrBlocked after
// the cool-down. Profile failures other than a block produce a partial
// profile with ProfileComplete unset.
func (e *Enricher) Enrich(ctx context.Context, listing types.Listing) (types.Listing, types.SellerProfile, error) {
	log := e.log.With(zap.String("item_id", listing.ID))

	resp, err := e.fetchDetail(ctx, listing.Link)
	if err != nil {
		return listing, types.SellerProfile{}, err
	}
	d, err := applyDetail(resp.Body, &listing)
	if err != nil {
		return listing, types.SellerProfile{}, fmt.Errorf("parse detail: %w", err)
	}

	var profile types.SellerProfile
	if d.SellerID == "" {
		log.Warn("detail response carries no seller id, profile skipped")
	} else {
		profile, err = e.Profile(ctx, d.SellerID)
		if err != nil {
			if errors.Is(err, pacing.ErrBlocked) || ctx.Err() != nil {
				return listing, profile, err
			}
			log.Warn("seller profile incomplete", zap.String("seller_id", d.SellerID), zap.Error(err))
		}
	}
	profile.SellerID = d.SellerID
	profile.TenureDays = d.TenureDays
	profile.Tenure = d.Tenure
	profile.ExternalCredit = d.ExternalCredit
	return listing, profile, nil
}

// fetchDetail opens the detail view and awaits its response, retrying
// transient failures. Block signatures are never retried.
func (e *Enricher) fetchDetail(ctx context.Context, link string) (browser.Response, error) {
	policy := retry.Policy{
		Attempts: e.cfg.DetailAttempts,
		Delay:    e.cfg.DetailRetryDelay,
		OnRetry: func(attempt int, err error) {
			e.log.Warn("detail fetch failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		},
	}
	return retry.Do(ctx, policy, func(ctx context.Context, _ int) (browser.Response, error) {
		page, err := e.session.NewPage(ctx)
		if err != nil {
			return browser.Response{}, err
		}
		defer page.Close()

		resp, err := browser.Expect(ctx, page, e.cfg.DetailAPI, e.cfg.DetailTimeout, func(ctx context.Context) error {
			return page.Navigate(ctx, link)
		})
		if err != nil {
			return browser.Response{}, fmt.Errorf("detail %s: %w", link, err)
		}
		if !resp.OK() {
			return browser.Response{}, fmt.Errorf("detail %s: status %d", link, resp.Status)
		}
		if sig, blocked := e.detector.InResponse(resp.Body); blocked {
			return browser.Response{}, retry.Permanent(e.pacer.Block(ctx, sig, "response"))
		}
		return resp, nil
	})
}

// Profile pulls the seller header, then scrolls the catalog and the rating
// history until each is exhausted.
func (e *Enricher) Profile(ctx context.Context, sellerID string) (types.SellerProfile, error) {
	log := e.log.With(zap.String("seller_id", sellerID))
	profile := types.SellerProfile{SellerID: sellerID}

	page, err := e.session.NewPage(ctx)
	if err != nil {
		return profile, err
	}
	defer page.Close()

	head := page.Watch(e.cfg.HeadAPI)
	defer head.Close()
	items := page.Watch(e.cfg.ItemsAPI)
	defer items.Close()
	rates := page.Watch(e.cfg.RatingsAPI)
	defer rates.Close()

	if err := page.Navigate(ctx, e.cfg.ProfileURL+sellerID); err != nil {
		return profile, err
	}
	resp, err := head.Next(ctx, e.cfg.HeadTimeout)
	if err != nil {
		return profile, fmt.Errorf("profile header: %w", err)
	}
	if sig, blocked := e.detector.InResponse(resp.Body); blocked {
		return profile, e.pacer.Block(ctx, sig, "response")
	}
	if err := applyHead(resp.Body, &profile); err != nil {
		return profile, fmt.Errorf("profile header: %w", err)
	}

	if err := e.pacer.Delay(ctx, pacing.PostNavigation); err != nil {
		return profile, err
	}
	cards, err := e.newCardPager(page, items, "catalog").Collect(ctx)
	profile.Catalog = parseCatalog(cards, log)
	if err != nil {
		return profile, fmt.Errorf("catalog: %w", err)
	}
	log.Debug("catalog collected", zap.Int("items", len(profile.Catalog)))

	hasTab, err := page.IsVisible(ctx, e.cfg.RatingTab)
	if err != nil {
		return profile, fmt.Errorf("rating tab: %w", err)
	}
	if !hasTab {
		log.Warn("no ratings tab, rating history skipped")
		profile.ProfileComplete = true
		return profile, nil
	}
	if err := page.Click(ctx, e.cfg.RatingTab); err != nil {
		return profile, fmt.Errorf("rating tab: %w", err)
	}
	if err := e.pacer.Delay(ctx, pacing.ProfileTab); err != nil {
		return profile, err
	}
	cards, err = e.newCardPager(page, rates, "ratings").Collect(ctx)
	profile.Ratings = parseRatings(cards, log)
	asSeller, asBuyer := ComputeReputation(profile.Ratings)
	profile.AsSeller, profile.AsBuyer = &asSeller, &asBuyer
	if err != nil {
		return profile, fmt.Errorf("ratings: %w", err)
	}
	log.Debug("ratings collected", zap.Int("ratings", len(profile.Ratings)))

	profile.ProfileComplete = true
	return profile, nil
}
