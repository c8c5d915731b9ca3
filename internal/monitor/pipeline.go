// Package monitor runs the watch pipeline: one sequential crawl, enrich,
// gate, notify and persist loop per task, with tasks running side by side.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xianyuwatch/internal/ledger"
	"xianyuwatch/internal/pacing"
	"xianyuwatch/internal/search"
	"xianyuwatch/internal/types"

	"go.uber.org/zap"
)

// PageSource yields search result pages until search.ErrNoMorePages.
type PageSource interface {
	Next(ctx context.Context) (*search.ResultPage, error)
}

// Enricher backfills a listing and pulls its seller profile.
type Enricher interface {
	Enrich(ctx context.Context, listing types.Listing) (types.Listing, types.SellerProfile, error)
}

// Gate returns a verdict for a record under a rubric.
type Gate interface {
	Evaluate(ctx context.Context, rec types.Record, rubric string) (*types.Verdict, error)
}

// Notifier alerts on an accepted listing.
type Notifier interface {
	Notify(ctx context.Context, listing types.Listing, reason string) error
}

// Ledger is the task's seen-set and record store.
type Ledger interface {
	Has(key string) bool
	Append(rec types.Record) error
}

// Stats counts what one task run did.
type Stats struct {
	Pages          int `json:"pages"`
	Listings       int `json:"listings"`
	Skipped        int `json:"skipped"`
	Processed      int `json:"processed"`
	Recommended    int `json:"recommended"`
	EnrichFailures int `json:"enrich_failures"`
	AnalysisErrors int `json:"analysis_errors"`
	PersistErrors  int `json:"persist_errors"`
}

// Pipeline processes one task's listings strictly in search order.
type Pipeline struct {
	job      Job
	pages    PageSource
	enricher Enricher
	gate     Gate
	notifier Notifier
	ledger   Ledger
	pacer    *pacing.Controller
	now      func() time.Time
	log      *zap.Logger
}

// NewPipeline wires a pipeline for job.
func NewPipeline(job Job, pages PageSource, enricher Enricher, gate Gate, notifier Notifier, led Ledger, pacer *pacing.Controller, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		job:      job,
		pages:    pages,
		enricher: enricher,
		gate:     gate,
		notifier: notifier,
		ledger:   led,
		pacer:    pacer,
		now:      time.Now,
		log:      log,
	}
}

// errDebugLimit ends a run once the debug cap is reached.
var errDebugLimit = errors.New("debug limit reached")

// Run crawls until pages run out. A block signature ends the run with an
// error matching pacing.ErrBlocked; per-listing failures do not.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	for {
		page, err := p.pages.Next(ctx)
		if errors.Is(err, search.ErrNoMorePages) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("search page %d: %w", stats.Pages+1, err)
		}
		stats.Pages++

		for _, listing := range page.Listings {
			stats.Listings++
			err := p.process(ctx, listing, &stats)
			if errors.Is(err, errDebugLimit) {
				p.log.Info("debug limit reached, ending run", zap.Int("limit", p.job.DebugLimit))
				return stats, nil
			}
			if err != nil {
				return stats, err
			}
		}

		if page.Number < p.job.Task.MaxPages {
			if err := p.pacer.Delay(ctx, pacing.InterPage); err != nil {
				return stats, err
			}
		}
	}
}

func (p *Pipeline) process(ctx context.Context, listing types.Listing, stats *Stats) error {
	log := p.log.With(zap.String("item_id", listing.ID))
	if listing.Link == "" {
		log.Warn("listing has no link, skipping")
		stats.Skipped++
		return nil
	}
	key := ledger.CanonicalKey(listing.Link)
	if p.ledger.Has(key) {
		log.Info("listing already processed, skipping", zap.String("key", key))
		stats.Skipped++
		return nil
	}
	if p.job.DebugLimit > 0 && stats.Processed >= p.job.DebugLimit {
		return errDebugLimit
	}

	log.Info("new listing", zap.String("title", listing.Title), zap.String("price", listing.Price))
	if err := p.pacer.Delay(ctx, pacing.PreDetail); err != nil {
		return err
	}
	enriched, profile, err := p.enricher.Enrich(ctx, listing)
	if err != nil {
		if errors.Is(err, pacing.ErrBlocked) || ctx.Err() != nil {
			return err
		}
		log.Warn("enrichment failed, listing skipped", zap.Error(err))
		stats.EnrichFailures++
		return p.pacer.Delay(ctx, pacing.PostDetailClose)
	}
	if err := p.pacer.Delay(ctx, pacing.PostDetailClose); err != nil {
		return err
	}

	rec := types.Record{
		CrawledAt: p.now(),
		RunID:     p.job.RunID,
		TaskName:  p.job.Task.Name,
		Keyword:   p.job.Task.Keyword,
		Listing:   enriched,
		Seller:    profile,
	}
	verdict, err := p.gate.Evaluate(ctx, rec, p.job.Rubric)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("verdict unavailable, recording analysis error", zap.Error(err))
		rec.AnalysisError = err.Error()
		stats.AnalysisErrors++
	} else {
		rec.Verdict = verdict
	}

	if rec.Recommended() {
		stats.Recommended++
		if err := p.notifier.Notify(ctx, rec.Listing, rec.Verdict.Reason); err != nil {
			log.Warn("alert delivery incomplete", zap.Error(err))
		}
	}

	if err := p.ledger.Append(rec); err != nil {
		log.Error("record not persisted", zap.Error(err))
		stats.PersistErrors++
	}
	stats.Processed++

	return p.pacer.Delay(ctx, pacing.InterListing)
}
