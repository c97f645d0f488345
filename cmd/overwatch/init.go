package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sznuper/overwatch/internal/config"
)

const starterConfig = `options:
  checks_dir: checks.d
  handler_timeout: 30

services:
  # slack: {url: "slack://${SLACK_TOKEN}@channel"}

inventory:
  # web-01: {address: 10.0.0.11, user: ops}

checks:
  root-fs:
    command:
      cmd: test -w /tmp && df -P /
    schedule: 5m
    handlers:
      - absorb: {count: 2}
      - log
`

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter overwatch configuration",
	Long:  "Writes a starter config to path, or to the first default location, and creates its checks.d directory.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		path := config.DefaultConfigPaths()[0]
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		dir := filepath.Dir(path)
		if err := os.MkdirAll(filepath.Join(dir, "checks.d"), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Printf("✓ Wrote %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite an existing config")
	rootCmd.AddCommand(initCmd)
}
