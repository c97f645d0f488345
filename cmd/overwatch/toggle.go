package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	enableCmd = &cobra.Command{
		Use:   "enable",
		Short: "Enable a target, a check or one check on one target",
	}
	disableCmd = &cobra.Command{
		Use:   "disable",
		Short: "Disable a target, a check or one check on one target",
	}
)

func init() {
	for _, parent := range []struct {
		cmd     *cobra.Command
		enabled bool
	}{
		{enableCmd, true},
		{disableCmd, false},
	} {
		parent.cmd.AddCommand(toggleCommands(parent.enabled)...)
		rootCmd.AddCommand(parent.cmd)
	}
}

func toggleCommands(enabled bool) []*cobra.Command {
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	toggle := func(set func(ctx context.Context, e *engine, args []string) error, what func(args []string) string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(setupLogger())
			if err != nil {
				return err
			}
			defer e.Close()
			if err := set(context.Background(), e, args); err != nil {
				return err
			}
			fmt.Printf("✓ %s %s\n", what(args), verb)
			return nil
		}
	}

	return []*cobra.Command{
		{
			Use:   "target <target>",
			Short: "Toggle every check on a target",
			Args:  cobra.ExactArgs(1),
			RunE: toggle(func(ctx context.Context, e *engine, args []string) error {
				return e.store.SetTargetEnabled(ctx, args[0], enabled)
			}, func(args []string) string { return "Target " + args[0] }),
		},
		{
			Use:   "check <check>",
			Short: "Toggle a check on every target",
			Args:  cobra.ExactArgs(1),
			RunE: toggle(func(ctx context.Context, e *engine, args []string) error {
				if err := e.knownCheck(args[0]); err != nil {
					return err
				}
				return e.store.SetCheckEnabled(ctx, args[0], enabled)
			}, func(args []string) string { return "Check " + args[0] }),
		},
		{
			Use:   "pair <target> <check>",
			Short: "Toggle one check on one target",
			Args:  cobra.ExactArgs(2),
			RunE: toggle(func(ctx context.Context, e *engine, args []string) error {
				if err := e.knownCheck(args[1]); err != nil {
					return err
				}
				return e.store.SetTargetCheckEnabled(ctx, args[0], args[1], enabled)
			}, func(args []string) string { return "Check " + args[1] + " on " + args[0] }),
		},
	}
}
