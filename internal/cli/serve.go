package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kilupskalvis/vlnload/internal/harness"
	"github.com/kilupskalvis/vlnload/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve assembled samples over HTTP",
	Long: `Start the inspection server for the current workspace. It assembles
samples on request and renders their trace, field shapes, ordering target and
instruction tokens as JSON.

The bearer token is read from --auth-token, VLNLOAD_AUTH_TOKEN or the
[server] section of the config, in that order.

Examples:
  vlnload serve
  vlnload serve --listen 127.0.0.1:9000`,
	Run: runServe,
}

var (
	serveListen    string
	serveAuthToken string
	serveSkipShort bool
)

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default: server.addr)")
	serveCmd.Flags().StringVar(&serveAuthToken, "auth-token", os.Getenv("VLNLOAD_AUTH_TOKEN"), "Bearer token for /api/v1")
	serveCmd.Flags().BoolVar(&serveSkipShort, "skip-short", true, "Drop listings with fewer than min_path_length photos")
}

func runServe(cmd *cobra.Command, args []string) {
	c := initDatasetContext(harness.Options{SkipShort: serveSkipShort})
	c.openRuns()
	defer c.Close()
	cfg := c.Config

	addr := serveListen
	if addr == "" {
		addr = cfg.Server.Addr
	}
	token := serveAuthToken
	if token == "" {
		token = cfg.Server.AuthToken
	}

	h, cleanup := server.Handler(server.Deps{
		Samples: c.Harness.Dataset,
		Runs:    c.Runs,
		Tokens:  c.Harness.Tokenizer,
	}, &server.Config{
		RequestsPerMinute: cfg.Server.RateLimit,
		AuthToken:         token,
	}, c.Logger)
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.ListenAndServe(ctx, addr, h, c.Logger); err != nil {
		exitError("server error: %v", err)
	}
}
