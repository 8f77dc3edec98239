// Package cli implements the command-line interface for vlnload.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kilupskalvis/vlnload/internal/config"
	"github.com/kilupskalvis/vlnload/internal/harness"
	"github.com/kilupskalvis/vlnload/internal/runlog"
	"github.com/kilupskalvis/vlnload/internal/server"
	"github.com/spf13/cobra"
)

var (
	rootLogLevel  string
	rootLogFormat string
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config  *config.Config
	Logger  *slog.Logger
	Harness *harness.Harness
	Runs    *runlog.Store
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Harness != nil {
		c.Harness.Close()
	}
	if c.Runs != nil {
		c.Runs.Close()
	}
}

// initContext loads the workspace config (no dataset)
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}
	return &cmdContext{Config: cfg, Logger: newLogger()}
}

// initDatasetContext loads the config and opens the dataset it describes
func initDatasetContext(opts harness.Options) *cmdContext {
	ctx := initContext()
	opts.Logger = ctx.Logger

	h, err := harness.Open(ctx.Config, opts)
	if err != nil {
		ctx.Close()
		exitError("failed to open dataset: %v", err)
	}
	ctx.Harness = h
	return ctx
}

// openRuns opens the workspace run log
func (c *cmdContext) openRuns() {
	st, err := runlog.Open(c.Config.RunLogPath())
	if err != nil {
		c.Close()
		exitError("failed to open run log: %v", err)
	}
	c.Runs = st
}

func newLogger() *slog.Logger {
	return server.NewLogger(rootLogLevel, rootLogFormat, os.Stderr)
}

var rootCmd = &cobra.Command{
	Use:   "vlnload",
	Short: "VLN pretraining data loader",
	Long: `vlnload assembles instruction, trajectory and region-feature samples for
vision-and-language navigation pretraining. It manages a .vlnload workspace,
imports region features, inspects single samples, runs the batch loader and
records every run.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", envOrDefault("VLNLOAD_LOG_LEVEL", "warn"), "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&rootLogFormat, "log-format", envOrDefault("VLNLOAD_LOG_FORMAT", "text"), "Log format (json|text)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(featuresCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(testsetCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(serveCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
