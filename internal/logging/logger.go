// Package logging builds the zap loggers used across xianyuwatch.
// Output goes to stderr and, when a directory is configured, to a daily
// JSON log file under that directory.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a subsystem logger.
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup, config loading
	CategoryMonitor Category = "monitor" // Orchestration and per-task pipeline
	CategorySearch  Category = "search"  // Search crawler
	CategoryEnrich  Category = "enrich"  // Detail and seller profile pulls
	CategoryLedger  Category = "ledger"  // Dedup ledger and record store
	CategoryFilter  Category = "filter"  // Eligibility gate, AI calls
	CategoryNotify  Category = "notify"  // Alert channels
	CategoryPacing  Category = "pacing"  // Delays and block handling
	CategoryBrowser Category = "browser" // Browser automation
)

// Options configures the root logger.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console, json
	Dir    string // optional directory for the daily file sink
}

// ParseLevel maps a level name to a zap level. Unknown names mean info.
func ParseLevel(name string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds the root logger. The returned cleanup syncs and closes the file sink.
func New(opts Options) (*zap.Logger, func(), error) {
	level := zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var stderrEnc zapcore.Encoder
	if strings.EqualFold(opts.Format, "json") {
		stderrEnc = zapcore.NewJSONEncoder(encCfg)
	} else {
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		stderrEnc = zapcore.NewConsoleEncoder(consoleCfg)
	}
	cores := []zapcore.Core{
		zapcore.NewCore(stderrEnc, zapcore.Lock(os.Stderr), level),
	}

	var file *os.File
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		path := filepath.Join(opts.Dir, FileName(time.Now()))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		file = f
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	cleanup := func() {
		_ = logger.Sync()
		if file != nil {
			_ = file.Close()
		}
	}
	return logger, cleanup, nil
}

// FileName is the daily log file name, dated for easy rotation.
func FileName(t time.Time) string {
	return t.Format("2006-01-02") + "_xianyuwatch.log"
}

// For returns a child logger named after the category. A nil base yields a no-op logger.
func For(base *zap.Logger, category Category) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named(string(category))
}

// ForTask returns a category logger carrying the task name.
func ForTask(base *zap.Logger, category Category, task string) *zap.Logger {
	return For(base, category).With(zap.String("task", task))
}
