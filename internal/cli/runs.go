package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recorded loader runs",
	Long: `List the loader runs recorded in the workspace run log, newest first.
With a run id (or unique prefix), show that run's configuration snapshot
and batch latency statistics.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runRuns,
}

var (
	runsLimit  int
	runsConfig bool
)

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "n", "n", 20, "Limit the number of runs to show (0 = all)")
	runsCmd.Flags().BoolVar(&runsConfig, "config", false, "Print the configuration snapshot of the run")
}

func runRuns(cmd *cobra.Command, args []string) {
	c := initContext()
	c.openRuns()
	defer c.Close()

	if len(args) == 1 {
		showRun(c, args[0])
		return
	}

	runs, err := c.Runs.ListRuns(runsLimit)
	if err != nil {
		exitError("failed to list runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet")
		return
	}

	yellow := color.New(color.FgYellow)
	for _, run := range runs {
		yellow.Printf("%s ", run.ShortID())
		statusColor(run.Status).Printf("%-8s ", run.Status)
		fmt.Printf("%-5s %s samples  %s\n",
			run.Split, humanize.Comma(int64(run.Samples)), humanize.Time(run.StartedAt))
	}
}

func showRun(c *cmdContext, id string) {
	run, err := c.Runs.GetRun(id)
	if err != nil {
		exitError("%v", err)
	}

	color.New(color.FgYellow).Printf("run %s\n", run.ID)
	fmt.Printf("Status:   ")
	statusColor(run.Status).Println(run.Status)
	fmt.Printf("Split:    %s\n", run.Split)
	fmt.Printf("Started:  %s (%s)\n", run.StartedAt.Local().Format("Mon Jan 2 15:04:05 2006"), humanize.Time(run.StartedAt))
	if run.FinishedAt != nil {
		fmt.Printf("Duration: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Printf("Samples:  %s in %s batches\n", humanize.Comma(int64(run.Samples)), humanize.Comma(int64(run.Batches)))
	if run.Error != "" {
		color.New(color.FgRed).Printf("Error:    %s\n", run.Error)
	}

	stats, err := c.Runs.GetStats(run.ID)
	if err != nil {
		exitError("failed to read run stats: %v", err)
	}
	if stats != nil {
		fmt.Println()
		color.New(color.FgCyan).Println("Batch build time")
		fmt.Printf("  mean %.1fms  median %.1fms  p95 %.1fms  max %.1fms\n",
			stats.MeanMS, stats.MedianMS, stats.P95MS, stats.MaxMS)
		fmt.Printf("  %.1f trajectories per sample\n", stats.MeanTrajs)
	}

	if runsConfig {
		fmt.Println()
		color.New(color.FgCyan).Println("Configuration")
		fmt.Println(run.Config)
	}
}

func statusColor(s models.RunStatus) *color.Color {
	switch s {
	case models.RunFinished:
		return color.New(color.FgGreen)
	case models.RunFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}
