package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"xianyuwatch/internal/config"
	"xianyuwatch/internal/ledger"
	"xianyuwatch/internal/types"

	"github.com/spf13/cobra"
)

var (
	onlyRecommended bool
	resultsLimit    int
)

var resultsCmd = &cobra.Command{
	Use:   "results <task>",
	Short: "Print the records stored for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  showResults,
}

func showResults(cmd *cobra.Command, args []string) error {
	tasks, err := config.LoadTasks(cfg.TasksFile)
	if err != nil {
		return err
	}
	var task *types.Task
	for i := range tasks {
		if tasks[i].Name == args[0] {
			task = &tasks[i]
			break
		}
	}
	if task == nil {
		return fmt.Errorf("unknown task %q", args[0])
	}

	var recs []types.Record
	skipped, err := ledger.ReadRecords(ledger.Path(cfg.DataDir, *task), func(r types.Record) error {
		if onlyRecommended && !r.Recommended() {
			return nil
		}
		recs = append(recs, r)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(cmd.OutOrStdout(), "No records for %s yet.\n", task.Name)
		return nil
	}
	if err != nil {
		return err
	}
	if resultsLimit > 0 && len(recs) > resultsLimit {
		recs = recs[len(recs)-resultsLimit:]
	}

	out := cmd.OutOrStdout()
	for _, r := range recs {
		fmt.Fprintln(out, formatRecord(r))
	}
	fmt.Fprintf(out, "%d records", len(recs))
	if skipped > 0 {
		fmt.Fprintf(out, " (%d unreadable lines skipped)", skipped)
	}
	fmt.Fprintln(out)
	return nil
}

func formatRecord(r types.Record) string {
	var b strings.Builder
	mark := " "
	if r.Recommended() {
		mark = "*"
	}
	fmt.Fprintf(&b, "%s %s  %s  %s\n", mark, r.CrawledAt.Local().Format("2006-01-02 15:04"), r.Listing.Price, r.Listing.Title)
	switch {
	case r.Verdict != nil:
		fmt.Fprintf(&b, "    %s\n", r.Verdict.Reason)
		if len(r.Verdict.RiskTags) > 0 {
			fmt.Fprintf(&b, "    risks: %s\n", strings.Join(r.Verdict.RiskTags, ", "))
		}
	case r.AnalysisError != "":
		fmt.Fprintf(&b, "    analysis failed: %s\n", r.AnalysisError)
	}
	fmt.Fprintf(&b, "    %s", r.Listing.Link)
	return b.String()
}
