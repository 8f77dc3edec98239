// Command vlnload-server serves assembled samples of a vlnload workspace.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/kilupskalvis/vlnload/internal/config"
	"github.com/kilupskalvis/vlnload/internal/harness"
	"github.com/kilupskalvis/vlnload/internal/runlog"
	"github.com/kilupskalvis/vlnload/internal/server"
)

func main() {
	listen := flag.String("listen", envOrDefault("VLNLOAD_LISTEN", ""), "Listen address (default: server.addr of the workspace)")
	workspace := flag.String("workspace", os.Getenv("VLNLOAD_WORKSPACE"), "Path to the .vlnload directory (default: search upwards)")
	authToken := flag.String("auth-token", os.Getenv("VLNLOAD_AUTH_TOKEN"), "Bearer token for /api/v1")
	logLevel := flag.String("log-level", envOrDefault("VLNLOAD_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", envOrDefault("VLNLOAD_LOG_FORMAT", "json"), "Log format (json, text)")
	skipShort := flag.Bool("skip-short", true, "Drop listings with fewer than min_path_length photos")
	flag.Parse()

	logger := server.NewLogger(*logLevel, *logFormat, os.Stdout)

	wsPath := *workspace
	if wsPath == "" {
		var err error
		if wsPath, err = config.FindRoot(); err != nil {
			logger.Error("failed to find workspace", "error", err)
			os.Exit(1)
		}
	}
	cfg, err := config.LoadDir(wsPath)
	if err != nil {
		logger.Error("failed to load config", "error", err, "path", wsPath)
		os.Exit(1)
	}

	h, err := harness.Open(cfg, harness.Options{SkipShort: *skipShort, Logger: logger})
	if err != nil {
		logger.Error("failed to open dataset", "error", err)
		os.Exit(1)
	}
	defer h.Close()

	runs, err := runlog.Open(cfg.RunLogPath())
	if err != nil {
		logger.Error("failed to open run log", "error", err, "path", cfg.RunLogPath())
		os.Exit(1)
	}
	defer runs.Close()

	addr := *listen
	if addr == "" {
		addr = cfg.Server.Addr
	}
	token := *authToken
	if token == "" {
		token = cfg.Server.AuthToken
	}
	if token == "" {
		logger.Warn("no auth token configured, /api/v1 is open")
	}

	handler, cleanup := server.Handler(server.Deps{
		Samples: h.Dataset,
		Runs:    runs,
		Tokens:  h.Tokenizer,
	}, &server.Config{
		RequestsPerMinute: cfg.Server.RateLimit,
		AuthToken:         token,
	}, logger)
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("dataset ready", "split", h.Split(), "samples", h.Dataset.Len(), "skipped", len(h.Skipped))
	if err := server.ListenAndServe(ctx, addr, handler, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
