package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/tui"
)

var dim = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List open alerts",
	Long:  "Lists open alerts. With -i the alerts open in an interactive table where they can be marked and resolved.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interactive, _ := cmd.Flags().GetBool("interactive")
		user, _ := cmd.Flags().GetString("user")
		logger := setupLogger()

		e, err := newEngine(logger)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := context.Background()
		if interactive {
			if !isTerminal(os.Stdout) {
				return errors.New("interactive mode needs a terminal")
			}
			return tui.Run(ctx, e, user)
		}

		alerts, err := e.ListAlerts(ctx)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Println("✓ No open alerts")
			return nil
		}
		for _, a := range alerts {
			printAlert(a)
		}
		return nil
	},
}

func init() {
	alertsCmd.Flags().BoolP("interactive", "i", false, "browse and resolve alerts interactively")
	alertsCmd.Flags().String("user", currentUser(), "user recorded when resolving interactively")
	rootCmd.AddCommand(alertsCmd)
}

func printAlert(a check.Alert) {
	fmt.Printf("✗ %s on %s: %s (retcode %d) %s\n",
		a.Check, a.Target, tui.Status(a.Status), a.ReturnCode,
		dim.Render("since "+a.Created.Local().Format("2006-01-02 15:04:05")))
	if s := strings.TrimSpace(a.Stdout); s != "" {
		fmt.Printf("  Output: %s\n", firstLine(s))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func currentUser() string {
	for _, k := range []string{"OVERWATCH_USER", "USER", "LOGNAME"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return "anonymous"
}
