package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/notify"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the overwatch configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if _, err := cfg.Registry(cfg.Deps(notify.Shoutrrr{})); err != nil {
			return err
		}

		fmt.Printf("✓ Config: %s\n", cfg.Path)
		fmt.Printf("  Checks (%d):\n", len(cfg.Checks()))
		for _, c := range cfg.Checks() {
			where := "local"
			if !c.Local() {
				where = fmt.Sprintf("%s (%s)", c.Target, c.MatchMode)
			}
			schedule := c.Schedule.String()
			if schedule == "" {
				schedule = "on demand"
			}
			fmt.Printf("    %s: %s, %s\n", c.Name, where, schedule)
			printList("handlers", c.Handlers)
			printList("raised", c.Raised)
			printList("resolved", c.Resolved)
		}
		if aliases := cfg.Aliases(); len(aliases) > 0 {
			fmt.Printf("  Aliases (%d):\n", len(aliases))
			for _, a := range aliases {
				fmt.Printf("    %s: %s\n", a.Name, names(a.Handlers))
			}
		}
		if len(cfg.Inventory) > 0 {
			fmt.Printf("  Inventory: %s\n", strings.Join(cfg.TargetNames(), ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func printList(label string, list []check.Invocation) {
	if len(list) > 0 {
		fmt.Printf("      %s: %s\n", label, names(list))
	}
}

func names(list []check.Invocation) string {
	out := make([]string, len(list))
	for i, inv := range list {
		out[i] = inv.Name
	}
	return strings.Join(out, " → ")
}
