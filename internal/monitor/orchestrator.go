package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"xianyuwatch/internal/logging"
	"xianyuwatch/internal/pacing"
	"xianyuwatch/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job is one task scheduled in a run.
type Job struct {
	Task       types.Task
	Rubric     string
	RunID      string
	DebugLimit int
}

// Runner executes one job to completion.
type Runner interface {
	RunTask(ctx context.Context, job Job) (Stats, error)
}

// TaskResult summarizes one task of a run.
type TaskResult struct {
	Task     string
	Stats    Stats
	Err      error
	Duration time.Duration
}

// Blocked reports whether the task ended on a block signature.
func (r TaskResult) Blocked() bool { return errors.Is(r.Err, pacing.ErrBlocked) }

// Orchestrator runs jobs concurrently, isolating each task's failure.
type Orchestrator struct {
	runner Runner
	limit  int
	runID  string
	log    *zap.Logger
}

// NewOrchestrator creates an orchestrator running at most limit tasks at
// once. A limit of zero or less runs every task at once.
func NewOrchestrator(runner Runner, limit int, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{runner: runner, limit: limit, runID: uuid.NewString(), log: log}
}

// RunID identifies this orchestration run.
func (o *Orchestrator) RunID() string { return o.runID }

// Run executes every job and returns one result per job in input order. It
// never fails as a whole; each task's cause is in its result.
func (o *Orchestrator) Run(ctx context.Context, jobs []Job) []TaskResult {
	results := make([]TaskResult, len(jobs))
	log := o.log.With(zap.String("run_id", o.runID))
	log.Info("run starting", zap.Int("tasks", len(jobs)), zap.Int("limit", o.limit))

	var g errgroup.Group
	if o.limit > 0 {
		g.SetLimit(o.limit)
	}
	for i, job := range jobs {
		job.RunID = o.runID
		g.Go(func() error {
			results[i] = o.runOne(ctx, job, log)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		fields := []zap.Field{
			zap.String("task", r.Task),
			zap.Duration("duration", r.Duration),
			zap.Int("pages", r.Stats.Pages),
			zap.Int("processed", r.Stats.Processed),
			zap.Int("skipped", r.Stats.Skipped),
			zap.Int("recommended", r.Stats.Recommended),
		}
		if r.Err != nil {
			log.Error("task failed", append(fields, zap.Bool("blocked", r.Blocked()), zap.Error(r.Err))...)
			continue
		}
		log.Info("task finished", fields...)
	}
	return results
}

func (o *Orchestrator) runOne(ctx context.Context, job Job, log *zap.Logger) (res TaskResult) {
	res.Task = job.Task.Name
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked",
				zap.String("task", job.Task.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res.Err = fmt.Errorf("task panicked: %v", r)
		}
		res.Duration = time.Since(start)
	}()

	logging.ForTask(log, logging.CategoryMonitor, job.Task.Name).Info("task starting",
		zap.String("keyword", job.Task.Keyword),
		zap.Int("max_pages", job.Task.MaxPages))
	res.Stats, res.Err = o.runner.RunTask(ctx, job)
	return res
}
