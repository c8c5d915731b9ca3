package main

import (
	"fmt"
	"text/tabwriter"

	"xianyuwatch/internal/config"
	"xianyuwatch/internal/ledger"
	"xianyuwatch/internal/logging"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List configured tasks and how many listings each has processed",
	RunE:  listTasks,
}

func listTasks(cmd *cobra.Command, args []string) error {
	tasks, err := config.LoadTasks(cfg.TasksFile)
	if err != nil {
		return err
	}
	log := logging.For(logger, logging.CategoryLedger)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tENABLED\tKEYWORD\tPAGES\tPRICE\tSEEN\tSTORE")
	for _, t := range tasks {
		seen := "-"
		if led, err := ledger.Open(cfg.DataDir, t, log); err == nil {
			seen = fmt.Sprint(led.Len())
		}
		price := "-"
		if t.HasPriceBand() {
			price = t.MinPrice + "~" + t.MaxPrice
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%d\t%s\t%s\t%s\n",
			t.Name, t.Enabled, t.Keyword, t.MaxPages, price, seen, ledger.Path(cfg.DataDir, t))
	}
	return w.Flush()
}
