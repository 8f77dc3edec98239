package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/kilupskalvis/vlnload/internal/dataset"
	"github.com/kilupskalvis/vlnload/internal/harness"
	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <listing>",
	Short: "Assemble and describe one sample",
	Long: `Assemble the sample of one listing and print how it was built: the
positive and negative trajectories, the generated instructions, the ordering
target and the shape of every model input field.

Examples:
  vlnload inspect 1042
  vlnload inspect 1042 --json`,
	Args: cobra.ExactArgs(1),
	Run:  runInspect,
}

var (
	inspectJSON   bool
	inspectTokens bool
)

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the trace and shapes as JSON")
	inspectCmd.Flags().BoolVar(&inspectTokens, "tokens", false, "Print the instruction tokens of every trajectory")
}

func runInspect(cmd *cobra.Command, args []string) {
	listing, err := models.ParseListingID(args[0])
	if err != nil {
		exitError("%v", err)
	}

	c := initDatasetContext(harness.Options{})
	defer c.Close()

	sample, trace, err := c.Harness.Dataset.Assemble(listing)
	if err != nil {
		exitError("%v", err)
	}

	if inspectJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]interface{}{
			"trace":           trace,
			"shapes":          sample.Shapes(),
			"ordering_target": sample.OrderingTarget,
		}); err != nil {
			exitError("%v", err)
		}
		return
	}

	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	yellow.Printf("listing %d", trace.ListingID)
	fmt.Printf("  (%s, builder %s, %d trajectories)\n", trace.Policy, trace.Builder, sample.NumTrajectories())

	slot := 0
	printTraj := func(label string, traj models.Trajectory, col *color.Color) {
		col.Printf("  [%d] %-16s", slot, label)
		fmt.Printf(" %s\n", joinPhotos(traj))
		fmt.Printf("      %q\n", trace.Instructions[slot])
		slot++
	}

	fmt.Println()
	printTraj("positive", trace.Positive, green)
	for _, t := range trace.NegativeCaptions {
		printTraj("negative caption", t, red)
	}
	for _, t := range trace.NegativeImages {
		printTraj("negative image", t, red)
	}
	for _, t := range trace.NegativeRandom {
		printTraj("negative random", t, red)
	}

	fmt.Println()
	cyan.Printf("Ordering target")
	fmt.Printf(" (flag %d)\n", sample.OrderAttendedVisualFeature)
	width := sample.OrderingTarget.Dim(1)
	for r := 0; r < sample.OrderingTarget.Dim(0); r++ {
		fmt.Printf("  %v\n", sample.OrderingTarget.Data[r*width:(r+1)*width])
	}

	if inspectTokens {
		fmt.Println()
		cyan.Println("Instruction tokens")
		tok := c.Harness.Tokenizer
		for i := 0; i < sample.InstrTokens.Dim(0); i++ {
			fmt.Printf("  [%d] %s\n", i, tok.Decode(sample.InstrTokens.Row(i)))
		}
	}

	fmt.Println()
	cyan.Println("Fields")
	printShapes(sample.Shapes())
}

func printShapes(shapes []dataset.FieldShape) {
	for _, fs := range shapes {
		fmt.Printf("  %-30s %v\n", fs.Name, fs.Shape)
	}
}

func joinPhotos(traj models.Trajectory) string {
	parts := make([]string, len(traj))
	for i, p := range traj {
		parts[i] = string(p)
	}
	return strings.Join(parts, " -> ")
}
