package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"xianyuwatch/internal/ledger"
	"xianyuwatch/internal/pacing"
	"xianyuwatch/internal/search"
	"xianyuwatch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type noSleep struct{ waits []time.Duration }

func (n *noSleep) sleep(_ context.Context, d time.Duration) error {
	n.waits = append(n.waits, d)
	return nil
}

func testPacer(t *testing.T) *pacing.Controller {
	t.Helper()
	s := &noSleep{}
	p, err := pacing.New(nil, nil, pacing.WithSleeper(s.sleep))
	require.NoError(t, err)
	return p
}

type stubPages struct {
	pages []*search.ResultPage
	err   error
}

func (s *stubPages) Next(context.Context) (*search.ResultPage, error) {
	if len(s.pages) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, search.ErrNoMorePages
	}
	p := s.pages[0]
	s.pages = s.pages[1:]
	return p, nil
}

type stubEnricher struct {
	fail  map[string]error
	calls []string
}

func (s *stubEnricher) Enrich(_ context.Context, l types.Listing) (types.Listing, types.SellerProfile, error) {
	s.calls = append(s.calls, l.ID)
	if err := s.fail[l.ID]; err != nil {
		return l, types.SellerProfile{}, err
	}
	l.ViewCount = "10"
	return l, types.SellerProfile{SellerID: "s-" + l.ID, ProfileComplete: true}, nil
}

type stubGate struct {
	verdicts map[string]*types.Verdict
	err      error
	rubrics  []string
}

func (s *stubGate) Evaluate(_ context.Context, rec types.Record, rubric string) (*types.Verdict, error) {
	s.rubrics = append(s.rubrics, rubric)
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.verdicts[rec.Listing.ID]; ok {
		return v, nil
	}
	return &types.Verdict{Reason: "not a match"}, nil
}

type notification struct{ id, reason string }

type stubNotifier struct {
	sent []notification
	err  error
}

func (s *stubNotifier) Notify(_ context.Context, l types.Listing, reason string) error {
	s.sent = append(s.sent, notification{l.ID, reason})
	return s.err
}

type memLedger struct {
	seen    map[string]bool
	records []types.Record
	err     error
}

func newMemLedger(keys ...string) *memLedger {
	m := &memLedger{seen: make(map[string]bool)}
	for _, k := range keys {
		m.seen[k] = true
	}
	return m
}

func (m *memLedger) Has(key string) bool { return m.seen[key] }

func (m *memLedger) Append(rec types.Record) error {
	m.seen[ledger.CanonicalKey(rec.Listing.Link)] = true
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func listingFor(id string) types.Listing {
	return types.Listing{ID: id, Title: "item " + id, Link: fmt.Sprintf("https://www.goofish.com/item?id=%s&from=search", id)}
}

func page(n int, ids ...string) *search.ResultPage {
	p := &search.ResultPage{Number: n}
	for _, id := range ids {
		p.Listings = append(p.Listings, listingFor(id))
	}
	return p
}

func testJob(maxPages int) Job {
	return Job{
		Task:   types.Task{Name: "camera", Keyword: "ricoh gr", MaxPages: maxPages},
		Rubric: "rubric text",
		RunID:  "run-1",
	}
}

func TestPipeline_ProcessesNewListingsInOrder(t *testing.T) {
	pages := &stubPages{pages: []*search.ResultPage{page(1, "1", "2"), page(2, "3")}}
	enr := &stubEnricher{}
	gate := &stubGate{verdicts: map[string]*types.Verdict{"2": {IsRecommended: true, Reason: "cheap"}}}
	notifier := &stubNotifier{}
	led := newMemLedger()

	p := NewPipeline(testJob(2), pages, enr, gate, notifier, led, testPacer(t), nil)
	p.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, enr.calls)
	assert.Equal(t, []notification{{"2", "cheap"}}, notifier.sent)
	assert.Equal(t, Stats{Pages: 2, Listings: 3, Processed: 3, Recommended: 1}, stats)
	require.Len(t, led.records, 3)
	rec := led.records[1]
	assert.Equal(t, "camera", rec.TaskName)
	assert.Equal(t, "ricoh gr", rec.Keyword)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "10", rec.Listing.ViewCount)
	assert.Equal(t, "s-2", rec.Seller.SellerID)
	assert.True(t, rec.Recommended())
	assert.Equal(t, []string{"rubric text", "rubric text", "rubric text"}, gate.rubrics)
}

func TestPipeline_SkipsSeenAndRepeatedKeys(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pages := &stubPages{pages: []*search.ResultPage{page(1, "1", "2", "1")}}
	enr := &stubEnricher{}
	led := newMemLedger("https://www.goofish.com/item?id=2")

	stats, err := NewPipeline(testJob(1), pages, enr, &stubGate{}, &stubNotifier{}, led, testPacer(t), zap.New(core)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1"}, enr.calls)
	assert.Equal(t, 2, stats.Skipped)
	skipped := logs.FilterMessage("listing already processed, skipping").All()
	require.Len(t, skipped, 2)
	assert.Equal(t, "2", skipped[0].ContextMap()["item_id"])
}

func TestPipeline_EnrichFailureSkipsListingOnly(t *testing.T) {
	pages := &stubPages{pages: []*search.ResultPage{page(1, "1", "2")}}
	enr := &stubEnricher{fail: map[string]error{"1": errors.New("detail timeout")}}
	led := newMemLedger()

	stats, err := NewPipeline(testJob(1), pages, enr, &stubGate{}, &stubNotifier{}, led, testPacer(t), nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EnrichFailures)
	assert.Equal(t, 1, stats.Processed)
	assert.False(t, led.Has("https://www.goofish.com/item?id=1"), "failed listing stays eligible for a later run")
}

func TestPipeline_BlockEndsRun(t *testing.T) {
	pages := &stubPages{pages: []*search.ResultPage{page(1, "1", "2"), page(2, "3")}}
	blocked := &pacing.BlockError{Signature: "FAIL_SYS_USER_VALIDATE", Source: "response"}
	enr := &stubEnricher{fail: map[string]error{"1": blocked}}

	stats, err := NewPipeline(testJob(2), pages, enr, &stubGate{}, &stubNotifier{}, newMemLedger(), testPacer(t), nil).Run(context.Background())
	require.ErrorIs(t, err, pacing.ErrBlocked)
	assert.Equal(t, []string{"1"}, enr.calls)
	assert.Equal(t, 1, stats.Pages)
}

func TestPipeline_SearchBlockEndsRun(t *testing.T) {
	pages := &stubPages{err: &pacing.BlockError{Signature: "#nc_1_wrapper", Source: "page"}}
	_, err := NewPipeline(testJob(1), pages, &stubEnricher{}, &stubGate{}, &stubNotifier{}, newMemLedger(), testPacer(t), nil).Run(context.Background())
	require.ErrorIs(t, err, pacing.ErrBlocked)
}

func TestPipeline_RecordsAnalysisError(t *testing.T) {
	pages := &stubPages{pages: []*search.ResultPage{page(1, "1")}}
	gate := &stubGate{err: errors.New("verdict: gave up after 5 attempts: no JSON")}
	notifier := &stubNotifier{}
	led := newMemLedger()

	stats, err := NewPipeline(testJob(1), pages, &stubEnricher{}, gate, notifier, led, testPacer(t), nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AnalysisErrors)
	require.Len(t, led.records, 1)
	assert.Nil(t, led.records[0].Verdict)
	assert.Contains(t, led.records[0].AnalysisError, "gave up after 5 attempts")
	assert.Empty(t, notifier.sent)
}

func TestPipeline_PersistAndNotifyFailuresAreNotFatal(t *testing.T) {
	pages := &stubPages{pages: []*search.ResultPage{page(1, "1", "1b")}}
	gate := &stubGate{verdicts: map[string]*types.Verdict{"1": {IsRecommended: true, Reason: "ok"}}}
	notifier := &stubNotifier{err: errors.New("ntfy: status 503")}
	led := newMemLedger()
	led.err = errors.New("disk full")

	stats, err := NewPipeline(testJob(1), pages, &stubEnricher{}, gate, notifier, led, testPacer(t), nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 2, stats.PersistErrors)
	assert.True(t, led.Has("https://www.goofish.com/item?id=1"))
}

func TestPipeline_DebugLimit(t *testing.T) {
	pages := &stubPages{pages: []*search.ResultPage{page(1, "1", "2", "3")}}
	enr := &stubEnricher{}
	job := testJob(1)
	job.DebugLimit = 2

	stats, err := NewPipeline(job, pages, enr, &stubGate{}, &stubNotifier{}, newMemLedger(), testPacer(t), nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, enr.calls)
	assert.Equal(t, 2, stats.Processed)
}

func TestPipeline_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pacer, err := pacing.New(nil, nil)
	require.NoError(t, err)

	pages := &stubPages{pages: []*search.ResultPage{page(1, "1")}}
	_, err = NewPipeline(testJob(1), pages, &stubEnricher{}, &stubGate{}, &stubNotifier{}, newMemLedger(), pacer, nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
