package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
	"github.com/hugo-lorenzo-mato/conveyor/internal/history"
	"github.com/hugo-lorenzo-mato/conveyor/internal/workspace"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue contents and recent task events",
	RunE:  runStatus,
}

var statusEvents int

func init() {
	statusCmd.Flags().IntVar(&statusEvents, "events", 10, "number of recent ledger events to show")
	rootCmd.AddCommand(statusCmd)
}

var queueColors = map[core.Queue]*color.Color{
	core.QueueTodo:       color.New(color.FgWhite),
	core.QueueInProgress: color.New(color.FgYellow),
	core.QueueOutbound:   color.New(color.FgCyan),
	core.QueueDone:       color.New(color.FgGreen),
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	layout := workspace.NewLayout(cfg.Workspace)
	store := workspace.NewStore(layout, nil)

	out := cmd.OutOrStdout()
	for _, q := range core.Queues() {
		slugs, err := store.List(q)
		if err != nil {
			return err
		}
		c := queueColors[q]
		fmt.Fprintf(out, "%s (%d)\n", c.Sprint(q), len(slugs))
		for _, slug := range slugs {
			fmt.Fprintf(out, "  %s\n", slug)
		}
	}

	if !cfg.History.Enabled || statusEvents <= 0 {
		return nil
	}
	hist, err := history.Open(filepath.Join(layout.LogsDir(), "history.db"))
	if err != nil {
		// No ledger yet is not an error worth failing status over.
		return nil
	}
	defer hist.Close()

	events, err := hist.Recent(context.Background(), statusEvents)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Fprintln(out, "\nrecent events")
		for _, e := range events {
			fmt.Fprintf(out, "  %s  %-10s %-8s %s\n",
				e.Recorded.Local().Format("2006-01-02 15:04:05"), e.Slug, e.Event, e.Detail)
		}
	}
	return nil
}
