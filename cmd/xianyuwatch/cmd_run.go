package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"xianyuwatch/internal/browser"
	"xianyuwatch/internal/config"
	"xianyuwatch/internal/enrich"
	"xianyuwatch/internal/filter"
	"xianyuwatch/internal/logging"
	"xianyuwatch/internal/monitor"
	"xianyuwatch/internal/notify"
	"xianyuwatch/internal/pacing"
	"xianyuwatch/internal/search"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runTasks   []string
	debugLimit int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every enabled task once",
	Long: `Runs all enabled tasks concurrently, each in its own browser session.

A task that hits a verification block cools down and ends; the others keep
running. A summary line per task is printed when the run is over.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	boot := logging.For(logger, logging.CategoryBoot)

	if err := cfg.Validate(); err != nil {
		return err
	}
	jobs, err := loadJobs(cfg, runTasks, debugLimit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		boot.Warn("no enabled tasks, nothing to do", zap.String("tasks_file", cfg.TasksFile))
		return nil
	}

	gate, err := buildGate(ctx, cfg)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(
		notify.Channels(cfg.Notify.NtfyTopicURL, cfg.Notify.WeComURL),
		notify.Options{MobileLinks: cfg.Notify.MobileLinks, Timeout: cfg.GetNotifyTimeout()},
		logging.For(logger, logging.CategoryNotify))
	if dispatcher.Channels() == 0 {
		boot.Warn("no notification channel configured (set NTFY_TOPIC_URL or WX_BOT_URL)")
	}

	pacer, err := pacing.New(cfg.Pacing, logging.For(logger, logging.CategoryPacing))
	if err != nil {
		return err
	}
	detector := pacing.DefaultDetector()
	detector.PageSelectors = cfg.Search.BlockSelectors

	sessions := browser.NewSessionManager(cfg.Browser, logging.For(logger, logging.CategoryBrowser))
	if err := sessions.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := sessions.Shutdown(); err != nil {
			boot.Warn("browser shutdown failed", zap.Error(err))
		}
	}()

	runtime := &monitor.Runtime{
		Sessions: sessions,
		Pacer:    pacer,
		Detector: detector,
		Search:   searchConfig(cfg),
		Enrich:   enrichConfig(cfg),
		Gate:     gate,
		Notifier: dispatcher,
		DataDir:  cfg.DataDir,
		Log:      logger,
	}
	orchestrator := monitor.NewOrchestrator(runtime, cfg.Pipeline.MaxConcurrentTasks, logging.For(logger, logging.CategoryMonitor))
	results := orchestrator.Run(ctx, jobs)

	failed := printSummary(cmd, results)
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(results))
	}
	return nil
}

func loadJobs(cfg *config.Config, names []string, limit int) ([]monitor.Job, error) {
	tasks, err := config.LoadTasks(cfg.TasksFile)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateTasks(tasks); err != nil {
		return nil, err
	}
	selected, err := config.Enabled(tasks, names...)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateRunnable(selected); err != nil {
		return nil, err
	}
	dir := filepath.Dir(cfg.TasksFile)
	jobs := make([]monitor.Job, 0, len(selected))
	for _, t := range selected {
		rubric, err := config.ResolveRubric(t, dir)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, monitor.Job{Task: t, Rubric: rubric, DebugLimit: limit})
	}
	return jobs, nil
}

func buildReasoner(ctx context.Context, cfg *config.Config) (filter.Reasoner, error) {
	switch cfg.AI.Provider {
	case "gemini":
		g, err := filter.NewGeminiReasoner(ctx, filter.GeminiConfig{
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.GetAIModel(),
			BaseURL: cfg.AI.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		oc := filter.DefaultOpenAIConfig(cfg.AI.APIKey)
		if cfg.AI.BaseURL != "" {
			oc.BaseURL = cfg.AI.BaseURL
		}
		oc.Model = cfg.GetAIModel()
		oc.Timeout = cfg.GetAITimeout()
		return filter.NewOpenAIReasoner(oc), nil
	}
}

func buildGate(ctx context.Context, cfg *config.Config) (*filter.Gate, error) {
	reasoner, err := buildReasoner(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log := logging.For(logger, logging.CategoryFilter)
	ic := filter.DefaultImageConfig()
	ic.Dir = cfg.Pipeline.ImageDir
	ic.MaxImages = cfg.Pipeline.MaxImages
	return filter.NewGate(reasoner, filter.NewImageFetcher(ic, log), filter.GateConfig{
		Attempts:   cfg.AI.Attempts,
		RetryDelay: cfg.GetAIRetryDelay(),
		Debug:      cfg.AI.Debug,
	}, log), nil
}

func searchConfig(cfg *config.Config) search.Config {
	sc := search.DefaultConfig()
	sc.Selectors = cfg.Search.Selectors
	return sc
}

func enrichConfig(cfg *config.Config) enrich.Config {
	ec := enrich.DefaultConfig()
	ec.ScrollIdle = cfg.GetScrollIdle()
	ec.MaxProfilePages = cfg.Pipeline.MaxProfilePages
	ec.DetailRetryDelay = cfg.GetDetailRetryDelay()
	if cfg.Pipeline.DetailAttempts > 0 {
		ec.DetailAttempts = cfg.Pipeline.DetailAttempts
	}
	return ec
}

// printSummary writes one line per task and returns the failure count.
func printSummary(cmd *cobra.Command, results []monitor.TaskResult) int {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tPAGES\tNEW\tSKIPPED\tRECOMMENDED\tDURATION")
	failed := 0
	for _, r := range results {
		status := "ok"
		switch {
		case r.Blocked():
			status = "blocked"
			failed++
		case r.Err != nil:
			status = "failed"
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n", r.Task, status,
			r.Stats.Pages, r.Stats.Processed, r.Stats.Skipped, r.Stats.Recommended, r.Duration.Round(time.Second))
	}
	_ = w.Flush()
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", r.Task, r.Err)
		}
	}
	return failed
}
