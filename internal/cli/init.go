package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/kilupskalvis/vlnload/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new vlnload workspace",
	Long: `Initialize a new vlnload workspace in the current directory.
This creates a .vlnload directory holding the configuration, the feature
store and the run log.`,
	Run: runInit,
}

var (
	initDataDir    string
	initPreDataset string
	initVocab      string
)

func init() {
	initCmd.Flags().StringVar(&initDataDir, "data-dir", config.DefaultData, "Directory holding the caption and testset files")
	initCmd.Flags().StringVar(&initPreDataset, "pre-dataset", config.DefaultPreset, "Dataset subdirectory (ytb, bnb, ...)")
	initCmd.Flags().StringVar(&initVocab, "vocab", config.DefaultVocab, "WordPiece vocabulary file")
}

func runInit(cmd *cobra.Command, args []string) {
	// Check if already initialized
	if _, err := config.FindRoot(); err == nil {
		exitError("vlnload workspace already exists")
	}

	cwd, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}

	cfg, err := config.Initialize(cwd)
	if err != nil {
		exitError("failed to initialize workspace: %v", err)
	}

	cfg.Dataset.DataDir = initDataDir
	cfg.Dataset.PreDataset = initPreDataset
	cfg.Tokenizer.Vocab = initVocab
	if err := cfg.Validate(); err != nil {
		exitError("invalid config: %v", err)
	}
	if err := cfg.Save(); err != nil {
		exitError("failed to save config: %v", err)
	}

	fmt.Printf("Initialized empty vlnload workspace in %s/\n", config.WorkspaceDir)
	fmt.Printf("Captions: %s\n", cfg.CaptionPath())
	for task, path := range cfg.TestsetPaths() {
		fmt.Printf("Testset (%s): %s\n", task, path)
	}
	fmt.Printf("Vocabulary: %s\n", cfg.Tokenizer.Vocab)

	fmt.Println()
	color.New(color.FgCyan).Println("Run 'vlnload features import <file.jsonl>' to load region features.")
}
