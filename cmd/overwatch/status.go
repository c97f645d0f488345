package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sznuper/overwatch/internal/store"
	"github.com/sznuper/overwatch/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status [target]",
	Short: "Show the last result of every check",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(setupLogger())
		if err != nil {
			return err
		}
		defer e.Close()

		var f store.Filter
		if len(args) == 1 {
			f.Target = args[0]
		}
		results, err := e.store.ListResults(context.Background(), f)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No results recorded")
			return nil
		}

		fmt.Printf("%-20s %-20s %-6s %5s %5s  %-19s %s\n", "TARGET", "CHECK", "STATUS", "CODE", "COUNT", "LAST RUN", "ALERT")
		for _, r := range results {
			alert := tui.Status(r.AlertStatus)
			if !r.Enabled {
				alert += dim.Render(" (disabled)")
			}
			fmt.Printf("%-20s %-20s %s %5d %5d  %-19s %s\n",
				r.Target, r.Check,
				tui.StatusStyle(r.Status()).Render(fmt.Sprintf("%-6s", r.Status())),
				r.ReturnCode, r.Count,
				r.LastRun.Local().Format("2006-01-02 15:04:05"),
				alert)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
