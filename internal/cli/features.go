package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kilupskalvis/vlnload/internal/features"
	"github.com/spf13/cobra"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Manage the region feature store",
	Long:  "Commands for importing and describing the bbolt region feature store.",
}

var featuresImportCmd = &cobra.Command{
	Use:   "import <file.jsonl|->",
	Short: "Import region features from JSON lines",
	Long: `Import region features into the workspace feature store.

Each input line is one photo:
  {"key": "12-0", "features": [[...]], "boxes": [[...]], "probs": [[...]]}

The store is initialized from the first record's widths with the configured
encoding and compression. Existing keys are overwritten.

Examples:
  vlnload features import features.jsonl
  zcat features.jsonl.gz | vlnload features import -`,
	Args: cobra.ExactArgs(1),
	Run:  runFeaturesImport,
}

var featuresStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show feature store statistics",
	Run:   runFeaturesStats,
}

var featuresImportBatch int

func init() {
	featuresCmd.AddCommand(featuresImportCmd, featuresStatsCmd)
	featuresImportCmd.Flags().IntVar(&featuresImportBatch, "batch-size", 500, "Records per write transaction")
}

func runFeaturesImport(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	enc, err := features.ParseEncoding(c.Config.Features.Encoding)
	if err != nil {
		exitError("%v", err)
	}
	comp, err := features.ParseCompression(c.Config.Features.Compression)
	if err != nil {
		exitError("%v", err)
	}

	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			exitError("%v", err)
		}
		defer f.Close()
		r = f
	}

	st, err := features.OpenStore(c.Config.FeatureStorePath(), features.StoreOptions{})
	if err != nil {
		exitError("failed to open feature store: %v", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := features.Import(ctx, st, r, features.ImportOptions{
		BatchSize:   featuresImportBatch,
		Encoding:    enc,
		Compression: comp,
		Progress: func(total int) {
			c.Logger.Info("imported", "records", total)
		},
	})
	if err != nil {
		exitError("import stopped after %s records: %v", humanize.Comma(int64(n)), err)
	}

	info := st.Info()
	color.New(color.FgGreen).Printf("Imported %s records", humanize.Comma(int64(n)))
	fmt.Printf(" (store now holds %s)\n", humanize.Comma(int64(info.Count)))
}

func runFeaturesStats(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	path := c.Config.FeatureStorePath()
	st, err := features.OpenStore(path, features.StoreOptions{ReadOnly: true})
	if err != nil {
		exitError("failed to open feature store: %v", err)
	}
	defer st.Close()

	info := st.Info()
	size, err := st.SizeBytes()
	if err != nil {
		exitError("failed to read store size: %v", err)
	}

	yellow := color.New(color.FgYellow)
	yellow.Printf("Feature store %s\n", path)
	fmt.Printf("Records:     %s\n", humanize.Comma(int64(info.Count)))
	fmt.Printf("Dims:        feature=%d box=%d prob=%d\n", info.Dims.Feature, info.Dims.Box, info.Dims.Prob)
	fmt.Printf("Encoding:    %s\n", info.Encoding)
	fmt.Printf("Compression: %s\n", info.Compression)
	fmt.Printf("Size:        %s\n", humanize.Bytes(size))
	if info.Count > 0 {
		fmt.Printf("Per record:  %s\n", humanize.Bytes(size/uint64(info.Count)))
	}
}
