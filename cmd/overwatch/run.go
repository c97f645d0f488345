package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/runner"
	"github.com/sznuper/overwatch/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run <check>",
	Short: "Run one cycle of a check",
	Long:  "Runs a single check now, with its handlers and alert transitions, and prints the status of every target.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		e, err := newEngine(logger)
		if err != nil {
			return err
		}
		defer e.Close()
		if err := e.knownCheck(args[0]); err != nil {
			return err
		}

		out, err := e.runner.RunLocked(context.Background(), args[0])
		if err != nil {
			if isTransportError(err) {
				fmt.Printf("✗ Check: %s\n  Error (transport): %s\n", args[0], err)
			}
			return err
		}
		printOutcome(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func printOutcome(o runner.Outcome) {
	if !o.Ran() {
		fmt.Printf("- Check: %s skipped (%s)\n", o.Check, o.Skipped)
		return
	}

	for _, target := range slices.Sorted(maps.Keys(o.Results)) {
		r := o.Results[target]
		mark := "✓"
		if r.Status() != check.OK {
			mark = "✗"
		}
		fmt.Printf("%s %s on %s: %s (retcode %d, count %d)\n", mark, o.Check, target, tui.Status(r.Status()), r.ReturnCode, r.Count)
		if r.Mutated() {
			fmt.Printf("  Mutated from: %d\n", r.RawReturnCode)
		}
		if s := strings.TrimSpace(r.Stdout); s != "" {
			fmt.Println("  Output:")
			for _, line := range strings.Split(s, "\n") {
				fmt.Printf("    %s\n", line)
			}
		}
		if s := strings.TrimSpace(r.Stderr); s != "" {
			fmt.Printf("  Stderr: %s\n", s)
		}
	}

	for _, st := range []check.Status{check.OK, check.Warn, check.Error} {
		if targets := o.Transitions[st]; len(targets) > 0 {
			label := "Raised"
			if st == check.OK {
				label = "Resolved"
			}
			fmt.Printf("  %s %s: %s\n", label, tui.Status(st), strings.Join(targets, ", "))
		}
	}
	fmt.Printf("  Took: %s\n", o.Duration.Round(time.Millisecond))
}
