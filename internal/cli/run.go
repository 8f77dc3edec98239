package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kilupskalvis/vlnload/internal/harness"
	"github.com/kilupskalvis/vlnload/internal/loader"
	"github.com/kilupskalvis/vlnload/internal/random"
	"github.com/kilupskalvis/vlnload/internal/runlog"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the batch loader over the dataset",
	Long: `Run the batch loader over the configured dataset: every listing is
assembled into a sample by the worker pool, collated into batches and
delivered in order. The run, its configuration and its batch latency
statistics are recorded in the workspace run log.

Examples:
  vlnload run
  vlnload run --epochs 3 --skip-short
  vlnload run --max-batches 10 --seed 7 --log-level debug`,
	Run: runRun,
}

var (
	runEpochs     int
	runMaxBatches int
	runSkipShort  bool
	runSeed       uint64
	runNoRecord   bool
)

// errBatchLimit stops an epoch once --max-batches is reached.
var errBatchLimit = errors.New("batch limit reached")

func init() {
	runCmd.Flags().IntVar(&runEpochs, "epochs", 1, "Number of passes over the dataset")
	runCmd.Flags().IntVar(&runMaxBatches, "max-batches", 0, "Stop after this many batches in total (0 = no limit)")
	runCmd.Flags().BoolVar(&runSkipShort, "skip-short", false, "Drop listings with fewer than min_path_length photos")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 0, "Seed for sampling and augmentation (0 = random)")
	runCmd.Flags().BoolVar(&runNoRecord, "no-record", false, "Do not record the run in the run log")
}

func runRun(cmd *cobra.Command, args []string) {
	if runEpochs < 1 {
		exitError("--epochs must be at least 1")
	}

	src := random.Global()
	if runSeed != 0 {
		src = random.Locked(random.Seeded(runSeed))
	}

	c := initDatasetContext(harness.Options{SkipShort: runSkipShort, Source: src})
	defer c.Close()
	cfg := c.Config
	ds := c.Harness.Dataset

	sampler, err := loader.NewSampler(cfg.Loader.Sampler, ds.Len(), src)
	if err != nil {
		exitError("%v", err)
	}
	opts := cfg.LoaderOptions()
	opts.Logger = c.Logger
	ld, err := loader.New(ds, sampler, opts)
	if err != nil {
		exitError("%v", err)
	}

	runID := ""
	if !runNoRecord {
		c.openRuns()
		snapshot, err := cfg.Snapshot()
		if err != nil {
			exitError("%v", err)
		}
		run, err := c.Runs.StartRun(c.Harness.Split(), snapshot)
		if err != nil {
			exitError("%v", err)
		}
		runID = run.ID
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	yellow := color.New(color.FgYellow)
	yellow.Printf("Loading %s listings", humanize.Comma(int64(ds.Len())))
	fmt.Printf(" (%s split, %d batches per epoch, %d workers)\n", c.Harness.Split(), ld.NumBatches(), opts.NumWorkers)
	if len(c.Harness.Skipped) > 0 {
		fmt.Printf("Skipped %s short listings\n", humanize.Comma(int64(len(c.Harness.Skipped))))
	}

	rec := runlog.NewRecorder()
	start := time.Now()
	var runErr error
	for epoch := 0; epoch < runEpochs && runErr == nil; epoch++ {
		runErr = ld.Iterate(ctx, func(b *loader.Batch) error {
			if runMaxBatches > 0 && rec.Batches() >= runMaxBatches {
				return errBatchLimit
			}
			rec.Observe(b.BuildTime, b.Size(), b.ImageFeatures.Dim(1))
			c.Logger.Debug("batch",
				"epoch", epoch,
				"step", b.Step,
				"size", b.Size(),
				"build_ms", b.BuildTime.Milliseconds(),
				"order_flags", b.OrderAttendedVisualFeature.Data,
			)
			return nil
		})
	}
	if errors.Is(runErr, errBatchLimit) {
		runErr = nil
	}
	elapsed := time.Since(start)

	if runID != "" {
		if err := c.Runs.FinishRun(runID, rec.Samples(), rec.Batches(), runErr); err != nil {
			c.Logger.Error("failed to finish run", "error", err, "run_id", runID)
		}
		stats, err := rec.Summarize(runID)
		if err != nil {
			c.Logger.Error("failed to summarize run", "error", err, "run_id", runID)
		} else if stats != nil {
			if err := c.Runs.SaveStats(stats); err != nil {
				c.Logger.Error("failed to save run stats", "error", err, "run_id", runID)
			}
		}
	}

	fmt.Println()
	if runErr != nil {
		color.New(color.FgRed).Printf("Run failed after %s batches", humanize.Comma(int64(rec.Batches())))
		fmt.Printf(" (%s samples)\n", humanize.Comma(int64(rec.Samples())))
		exitError("%v", runErr)
	}

	color.New(color.FgGreen).Printf("Loaded %s samples in %s batches", humanize.Comma(int64(rec.Samples())), humanize.Comma(int64(rec.Batches())))
	fmt.Printf(" in %s\n", elapsed.Round(time.Millisecond))
	if runID != "" {
		fmt.Printf("Recorded run %s\n", shortID(runID))
	}
}
