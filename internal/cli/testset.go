package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kilupskalvis/vlnload/internal/corpus"
	"github.com/kilupskalvis/vlnload/internal/harness"
	"github.com/kilupskalvis/vlnload/internal/random"
	"github.com/kilupskalvis/vlnload/internal/trajectory"
	"github.com/spf13/cobra"
)

var testsetCmd = &cobra.Command{
	Use:   "testset",
	Short: "Manage evaluation testsets",
}

var testsetGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate the testsets of the active tasks",
	Long: `Draw one stored pick per listing for every active evaluation task and
write it to the task's testset file. Each listing is drawn with its own seed,
derived from the salt and the listing id, so regenerating with the same salt
and corpus reproduces the same testset.

Examples:
  vlnload testset generate
  vlnload testset generate --salt v2 --limit 500
  vlnload testset generate --task traj --out /tmp/traj_testset.json`,
	Run: runTestsetGenerate,
}

var (
	testsetSalt      string
	testsetTask      string
	testsetOut       string
	testsetLimit     int
	testsetSkipShort bool
)

func init() {
	testsetCmd.AddCommand(testsetGenerateCmd)

	f := testsetGenerateCmd.Flags()
	f.StringVar(&testsetSalt, "salt", "", "Seed salt (default: dataset.testset_salt)")
	f.StringVar(&testsetTask, "task", "", "Only generate this task's testset (ranking|traj)")
	f.StringVar(&testsetOut, "out", "", "Output path, requires --task")
	f.IntVar(&testsetLimit, "limit", 0, "Use only the first N listings (0 = all)")
	f.BoolVar(&testsetSkipShort, "skip-short", true, "Skip listings with fewer than min_path_length photos")
}

func runTestsetGenerate(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	cfg := c.Config

	if testsetOut != "" && testsetTask == "" {
		exitError("--out requires --task")
	}
	salt := testsetSalt
	if salt == "" {
		salt = cfg.Dataset.TestsetSalt
	}

	paths := cfg.TestsetPaths()
	if testsetTask != "" {
		path, ok := paths[testsetTask]
		if !ok {
			exitError("task %q is not active in this configuration", testsetTask)
		}
		if testsetOut != "" {
			path = testsetOut
		}
		paths = map[string]string{testsetTask: path}
	}
	if len(paths) == 0 {
		exitError("no testset task is active: enable ranking, traj_judge or not_traj_judge_data")
	}

	cps, err := corpus.LoadCaptions(cfg.CaptionPath())
	if err != nil {
		exitError("failed to load captions: %v", err)
	}
	base, err := harness.NewCorpusSampler(cfg, cps, random.Global())
	if err != nil {
		exitError("%v", err)
	}

	listings := cps.ListingIDs()
	if testsetLimit > 0 && testsetLimit < len(listings) {
		listings = listings[:testsetLimit]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tasks := make([]string, 0, len(paths))
	for task := range paths {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)

	green := color.New(color.FgGreen)
	for _, task := range tasks {
		res, err := trajectory.Generate(ctx, base, listings, trajectory.GenerateOptions{
			Salt:      salt + "/" + task,
			SkipShort: testsetSkipShort,
		})
		if err != nil {
			exitError("generate %s testset: %v", task, err)
		}
		if err := corpus.SaveTestset(paths[task], res.Testset); err != nil {
			exitError("save %s testset: %v", task, err)
		}

		green.Printf("Wrote %s testset", task)
		fmt.Printf(" with %s listings to %s\n", humanize.Comma(int64(len(res.Testset))), paths[task])
		if len(res.Skipped) > 0 {
			fmt.Printf("  skipped %s listings with fewer than %d photos\n",
				humanize.Comma(int64(len(res.Skipped))), cfg.Dataset.MinPathLength)
		}
	}
}
