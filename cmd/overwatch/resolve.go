package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sznuper/overwatch/internal/check"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <target> <check>",
	Short: "Mark an alert resolved",
	Long:  "Runs the resolved handlers of the check for the target and clears its alert, whatever the last observed status was.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		logger := setupLogger()

		e, err := newEngine(logger)
		if err != nil {
			return err
		}
		defer e.Close()

		key := check.Key{Target: args[0], Check: args[1]}
		out, err := e.Resolve(context.Background(), []check.Key{key}, user)
		if err != nil {
			return err
		}
		if len(out) == 0 {
			fmt.Printf("- No state for %s on %s, alert cleared\n", key.Check, key.Target)
			return nil
		}
		fmt.Printf("✓ Resolved %s on %s by %s\n", key.Check, key.Target, user)
		return nil
	},
}

func init() {
	resolveCmd.Flags().String("user", currentUser(), "user recorded as resolving the alert")
	rootCmd.AddCommand(resolveCmd)
}
