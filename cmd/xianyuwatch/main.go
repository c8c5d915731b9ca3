// Command xianyuwatch watches marketplace searches, gates new listings
// through an AI rubric and alerts on the ones worth buying.
package main

import (
	"fmt"
	"os"

	"xianyuwatch/internal/config"
	"xianyuwatch/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg           *config.Config
	logger        *zap.Logger
	loggerCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "xianyuwatch",
	Short: "Marketplace watcher with AI-gated alerts",
	Long: `xianyuwatch crawls the newest search results for each configured task,
enriches unseen listings with the seller's full profile, asks an AI model
whether the listing matches the task's rubric and alerts on matches.

Every processed listing is appended to the task's record store and is never
processed again.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, loggerCleanup, err = logging.New(logging.Options{
			Level:  level,
			Format: cfg.Logging.Format,
			Dir:    cfg.Logging.Dir,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if loggerCleanup != nil {
			loggerCleanup()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	runCmd.Flags().StringSliceVarP(&runTasks, "task", "t", nil, "Run only the named tasks (repeatable)")
	runCmd.Flags().IntVar(&debugLimit, "debug-limit", 0, "Stop each task after this many new listings (0 = no limit)")

	resultsCmd.Flags().BoolVar(&onlyRecommended, "recommended", false, "Show only recommended listings")
	resultsCmd.Flags().IntVarP(&resultsLimit, "limit", "n", 0, "Show only the last N records (0 = all)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(resultsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
