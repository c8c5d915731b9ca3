package monitor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"xianyuwatch/internal/browser"
	"xianyuwatch/internal/browser/browsertest"
	"xianyuwatch/internal/enrich"
	"xianyuwatch/internal/ledger"
	"xianyuwatch/internal/notify"
	"xianyuwatch/internal/pacing"
	"xianyuwatch/internal/search"
	"xianyuwatch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	searchAPIURL = "https://h5api.m.goofish.com/h5/mtop.taobao.idlemtopsearch.pc.search/1.0/"
	detailAPIURL = "https://h5api.m.goofish.com/h5/mtop.taobao.idle.pc.detail/1.0/"
	headAPIURL   = "https://h5api.m.goofish.com/h5/mtop.idle.web.user.page.head/1.0/"
	itemsAPIURL  = "https://h5api.m.goofish.com/h5/mtop.idle.web.xyh.item.list/1.0/"
)

func searchResponse(ids ...string) browser.Response {
	items := make([]string, 0, len(ids))
	for _, id := range ids {
		items = append(items, fmt.Sprintf(`{"data":{"item":{"main":{"exContent":{"itemId":%q,"title":"listing %s","price":[{"text":"¥"},{"text":"1.2万"}]},"targetUrl":"https://www.goofish.com/item?id=%s&categoryId=1"}}}}`, id, id, id))
	}
	return browsertest.JSONResponse(searchAPIURL, `{"ret":["SUCCESS::ok"],"data":{"resultList":[`+strings.Join(items, ",")+`]}}`)
}

func searchPage(ids ...string) *browsertest.FakePage {
	sel := search.DefaultSelectors()
	return browsertest.NewFakePage().
		SetVisible(sel.NewlyPublished, true).
		On("navigate:goofish.com/search", searchResponse()).
		On("click:"+sel.SortLatest, searchResponse(ids...))
}

func detailPage(id, ret string) *browsertest.FakePage {
	body := fmt.Sprintf(`{"ret":[%q],"data":{"itemDO":{"wantCnt":3,"browseCnt":99},"sellerDO":{"sellerId":"s%s","userRegDay":730}}}`, ret, id)
	return browsertest.NewFakePage().On("navigate:item?id="+id, browsertest.JSONResponse(detailAPIURL, body))
}

func profilePage(id string) *browsertest.FakePage {
	return browsertest.NewFakePage().On("navigate:personal?userId=s"+id,
		browsertest.JSONResponse(headAPIURL, `{"ret":["SUCCESS::ok"],"data":{"module":{"base":{"displayName":"seller `+id+`"}}}}`),
		browsertest.JSONResponse(itemsAPIURL, `{"ret":["SUCCESS::ok"],"data":{"nextPage":false,"cardList":[]}}`))
}

type fakeLauncher struct{ session *browsertest.FakeSession }

func (f fakeLauncher) NewSession(context.Context) (browser.Session, error) { return f.session, nil }

type recordingChannel struct {
	name   string
	alerts []notify.Alert
}

func (r *recordingChannel) Name() string { return r.name }

func (r *recordingChannel) Send(_ context.Context, a notify.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func testRuntime(t *testing.T, session *browsertest.FakeSession, gate Gate, notifier Notifier, dir string, log *zap.Logger) *Runtime {
	t.Helper()
	sc := search.DefaultConfig()
	sc.InitialTimeout = 50 * time.Millisecond
	sc.ResponseTimeout = 50 * time.Millisecond
	ec := enrich.DefaultConfig()
	ec.DetailTimeout = 50 * time.Millisecond
	ec.HeadTimeout = 50 * time.Millisecond
	ec.ScrollIdle = 50 * time.Millisecond
	ec.DetailRetryDelay = 0
	return &Runtime{
		Sessions: fakeLauncher{session},
		Pacer:    testPacer(t),
		Detector: pacing.DefaultDetector(),
		Search:   sc,
		Enrich:   ec,
		Gate:     gate,
		Notifier: notifier,
		DataDir:  dir,
		Log:      log,
	}
}

func seedLedger(t *testing.T, dir string, task types.Task, link string) {
	t.Helper()
	led, err := ledger.Open(dir, task, nil)
	require.NoError(t, err)
	require.NoError(t, led.Append(types.Record{TaskName: task.Name, Listing: types.Listing{ID: "old", Link: link}}))
}

func readRecords(t *testing.T, dir string, task types.Task) []types.Record {
	t.Helper()
	var recs []types.Record
	_, err := ledger.ReadRecords(ledger.Path(dir, task), func(r types.Record) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)
	return recs
}

func TestEndToEnd_SkipsPreSeededListing(t *testing.T) {
	dir := t.TempDir()
	task := types.Task{Name: "ricoh", Keyword: "ricoh gr", MaxPages: 1, Enabled: true}
	seedLedger(t, dir, task, "https://www.goofish.com/item?id=B&from=detail")

	session := browsertest.NewFakeSession(searchPage("A", "B"), detailPage("A", "SUCCESS::ok"), profilePage("A"))
	gate := &stubGate{}
	core, logs := observer.New(zap.InfoLevel)
	rt := testRuntime(t, session, gate, notify.NewDispatcher(nil, notify.Options{}, nil), dir, zap.New(core))

	stats, err := rt.RunTask(context.Background(), Job{Task: task, Rubric: "r", RunID: "run"})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Len(t, gate.rubrics, 1, "only A reaches the gate")
	assert.Equal(t, 3, session.Opened(), "no detail page opened for B")

	skipped := logs.FilterMessage("listing already processed, skipping").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "B", skipped[0].ContextMap()["item_id"])

	recs := readRecords(t, dir, task)
	require.Len(t, recs, 2)
	a := recs[1]
	assert.Equal(t, "A", a.Listing.ID)
	assert.Equal(t, "¥12000", a.Listing.Price)
	assert.Equal(t, "99", a.Listing.ViewCount)
	assert.Equal(t, "seller A", a.Seller.DisplayName)
	assert.Equal(t, "2 years exactly", a.Seller.Tenure)
	assert.Equal(t, "run", a.RunID)
}

func TestEndToEnd_RecommendedListingNotifiesEachChannelOnce(t *testing.T) {
	dir := t.TempDir()
	task := types.Task{Name: "ricoh", Keyword: "ricoh gr", MaxPages: 1, Enabled: true}
	session := browsertest.NewFakeSession(searchPage("A"), detailPage("A", "SUCCESS::ok"), profilePage("A"))
	gate := &stubGate{verdicts: map[string]*types.Verdict{"A": {IsRecommended: true, Reason: "mint condition", RiskTags: []string{}}}}
	push, chat := &recordingChannel{name: "push"}, &recordingChannel{name: "chat"}
	dispatcher := notify.NewDispatcher([]notify.Channel{push, chat}, notify.Options{MobileLinks: true}, nil)

	_, err := testRuntime(t, session, gate, dispatcher, dir, nil).RunTask(context.Background(), Job{Task: task, Rubric: "r"})
	require.NoError(t, err)

	require.Len(t, push.alerts, 1)
	require.Len(t, chat.alerts, 1)
	assert.Contains(t, push.alerts[0].Message, "Reason: mint condition")
	assert.Contains(t, push.alerts[0].Message, "Mobile link: https://pages.goofish.com/sharexy?")

	recs := readRecords(t, dir, task)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Verdict)
	assert.True(t, recs[0].Verdict.IsRecommended)
	assert.Equal(t, "mint condition", recs[0].Verdict.Reason)
	assert.Empty(t, recs[0].AnalysisError)
}

type runnerByTask map[string]Runner

func (r runnerByTask) RunTask(ctx context.Context, job Job) (Stats, error) {
	return r[job.Task.Name].RunTask(ctx, job)
}

func TestEndToEnd_BlockHaltsOnlyItsTask(t *testing.T) {
	blockedDir, healthyDir := t.TempDir(), t.TempDir()
	blockedTask := types.Task{Name: "blocked", Keyword: "fuji", MaxPages: 1, Enabled: true}
	healthyTask := types.Task{Name: "healthy", Keyword: "ricoh", MaxPages: 1, Enabled: true}

	blockedSession := browsertest.NewFakeSession(
		searchPage("X", "Y"),
		detailPage("X", "FAIL_SYS_USER_VALIDATE::RGV587_ERROR::SM"),
		detailPage("Y", "SUCCESS::ok"),
		profilePage("Y"),
	)
	healthySession := browsertest.NewFakeSession(searchPage("A"), detailPage("A", "SUCCESS::ok"), profilePage("A"))

	dispatcher := notify.NewDispatcher(nil, notify.Options{}, nil)
	runner := runnerByTask{
		"blocked": testRuntime(t, blockedSession, &stubGate{}, dispatcher, blockedDir, nil),
		"healthy": testRuntime(t, healthySession, &stubGate{}, dispatcher, healthyDir, nil),
	}
	results := NewOrchestrator(runner, 0, nil).Run(context.Background(), []Job{{Task: blockedTask}, {Task: healthyTask}})

	require.Len(t, results, 2)
	assert.Equal(t, "blocked", results[0].Task)
	assert.True(t, results[0].Blocked(), "got %v", results[0].Err)
	assert.Equal(t, 2, blockedSession.Opened(), "nothing opened after the block")
	_, err := os.Stat(ledger.Path(blockedDir, blockedTask))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, "healthy", results[1].Task)
	require.NoError(t, results[1].Err)
	assert.Equal(t, 1, results[1].Stats.Processed)
	assert.Len(t, readRecords(t, healthyDir, healthyTask), 1)
}
