package monitor

import (
	"context"
	"fmt"

	"xianyuwatch/internal/browser"
	"xianyuwatch/internal/enrich"
	"xianyuwatch/internal/ledger"
	"xianyuwatch/internal/logging"
	"xianyuwatch/internal/pacing"
	"xianyuwatch/internal/search"

	"go.uber.org/zap"
)

// Runtime runs jobs against a real browser. Each task gets its own session
// and ledger; the gate and notifier are shared and stateless.
type Runtime struct {
	Sessions browser.Launcher
	Pacer    *pacing.Controller
	Detector pacing.Detector
	Search   search.Config
	Enrich   enrich.Config
	Gate     Gate
	Notifier Notifier
	DataDir  string
	Log      *zap.Logger
}

// RunTask opens the task's session, loads its ledger and runs its pipeline.
func (r *Runtime) RunTask(ctx context.Context, job Job) (Stats, error) {
	task := job.Task
	base := r.Log
	if base == nil {
		base = zap.NewNop()
	}
	base = base.With(zap.String("run_id", job.RunID))

	led, err := ledger.Open(r.DataDir, task, logging.ForTask(base, logging.CategoryLedger, task.Name))
	if err != nil {
		return Stats{}, fmt.Errorf("load ledger: %w", err)
	}

	session, err := r.Sessions.NewSession(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	page, err := session.NewPage(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("open search page: %w", err)
	}
	defer page.Close()

	crawler := search.NewCrawler(page, r.Pacer, r.Detector, r.Search, logging.ForTask(base, logging.CategorySearch, task.Name))
	pager, err := crawler.Open(ctx, task)
	if err != nil {
		return Stats{}, fmt.Errorf("open search: %w", err)
	}

	enricher := enrich.New(session, r.Pacer, r.Detector, r.Enrich, logging.ForTask(base, logging.CategoryEnrich, task.Name))
	p := NewPipeline(job, pager, enricher, r.Gate, r.Notifier, led, r.Pacer, logging.ForTask(base, logging.CategoryMonitor, task.Name))
	return p.Run(ctx)
}
