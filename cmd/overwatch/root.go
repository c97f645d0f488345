package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "overwatch",
	Short: "Fleet health monitoring daemon",
	Long: "Overwatch runs health checks on the local host and over SSH, passes every result through " +
		"a chain of handlers and raises or resolves alerts when a target changes status.",
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initViper)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file path")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.BoolP("verbose", "v", false, "shorthand for --log-level=debug")
	flags.String("db-driver", "sqlite", "state database: sqlite, postgres, mysql or memory")
	flags.String("db-dsn", "", "state database DSN (sqlite: file path)")
	flags.String("api-addr", ":8080", "HTTP API listen address, empty to disable")
	registerOptionFlags(rootCmd)

	for _, name := range []string{"config", "log-level", "verbose", "db-driver", "db-dsn", "api-addr"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// initViper lets OVERWATCH_* environment variables stand in for flags.
func initViper() {
	viper.SetEnvPrefix("overwatch")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// setupLogger logs text to a terminal and JSON otherwise.
func setupLogger() *slog.Logger {
	level := parseLevel(viper.GetString("log-level"))
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if isTerminal(os.Stderr) {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
