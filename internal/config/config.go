// Package config manages vlnload configuration and the .vlnload workspace
// directory. It handles loading, saving, and initializing the workspace.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const (
	WorkspaceDir  = ".vlnload"
	ConfigFile    = "config"
	FeaturesFile  = "features.db"
	RunLogFile    = "runs.db"
	TestsetsDir   = "testsets"
	DefaultVocab  = "data/bert-base-uncased/vocab.txt"
	DefaultData   = "data/YouTube-VLN"
	DefaultPreset = "ytb"
)

var ErrNotWorkspace = errors.New("not a vlnload workspace (or any parent up to root)")

// Config represents the vlnload configuration
type Config struct {
	Dataset   DatasetConfig   `toml:"dataset"`
	Features  FeaturesConfig  `toml:"features"`
	Tokenizer TokenizerConfig `toml:"tokenizer"`
	Loader    LoaderConfig    `toml:"loader"`
	Server    ServerConfig    `toml:"server"`
	path      string          // path to .vlnload directory
}

// DatasetConfig selects the corpus files and shapes the assembled samples.
type DatasetConfig struct {
	DataDir     string `toml:"data_dir"`
	PreDataset  string `toml:"pre_dataset"`
	Prefix      string `toml:"prefix"`
	FeatherNote string `toml:"feather_note"`

	MinPathLength        int `toml:"min_path_length"`
	MaxPathLength        int `toml:"max_path_length"`
	MaxNumBoxes          int `toml:"max_num_boxes"`
	MaxInstructionLength int `toml:"max_instruction_length"`

	NumNegativeCaptions int `toml:"num_negative_captions"`
	NumNegativeImages   int `toml:"num_negative_images"`
	NumNegativeRandom   int `toml:"num_negative_random"`

	NegativeStyle    string `toml:"negative_style"` // normal or shuffle_instruction
	TrajJudge        bool   `toml:"traj_judge"`
	Ranking          bool   `toml:"ranking"`
	NotTrajJudgeData bool   `toml:"not_traj_judge_data"`

	Training       bool     `toml:"training"`
	MaskedVision   bool     `toml:"masked_vision"`
	MaskedLanguage bool     `toml:"masked_language"`
	Separators     bool     `toml:"separators"`
	Builders       []string `toml:"builders"`
	OrderDraw      string   `toml:"order_draw"` // per_sample, per_path or fixed
	TestsetSalt    string   `toml:"testset_salt"`
}

// FeaturesConfig locates and encodes the region feature store.
type FeaturesConfig struct {
	Store       string `toml:"store"` // empty means the workspace features.db
	Encoding    string `toml:"encoding"`
	Compression string `toml:"compression"`
	CacheSize   int    `toml:"cache_size"` // records; 0 disables the cache
}

// TokenizerConfig locates the WordPiece vocabulary.
type TokenizerConfig struct {
	Vocab     string `toml:"vocab"`
	Lowercase bool   `toml:"lowercase"`
}

// LoaderConfig configures batching and the worker pool.
type LoaderConfig struct {
	BatchSize  int    `toml:"batch_size"`
	NumWorkers int    `toml:"num_workers"`
	Prefetch   int    `toml:"prefetch"`
	DropLast   bool   `toml:"drop_last"`
	Sampler    string `toml:"sampler"` // random or sequential
}

// ServerConfig configures the inspection server.
type ServerConfig struct {
	Addr      string `toml:"addr"`
	RateLimit int    `toml:"rate_limit"` // requests per second per client, 0 disables
	AuthToken string `toml:"auth_token"`
}

// Default returns the configuration used for fields missing from the config file.
func Default() *Config {
	return &Config{
		Dataset: DatasetConfig{
			DataDir:              DefaultData,
			PreDataset:           DefaultPreset,
			MinPathLength:        4,
			MaxPathLength:        8,
			MaxNumBoxes:          37,
			MaxInstructionLength: 60,
			NumNegativeCaptions:  2,
			NumNegativeImages:    2,
			NumNegativeRandom:    1,
			NegativeStyle:        "normal",
			Ranking:              true,
			Training:             true,
			Separators:           true,
			Builders:             []string{"rephrase", "concatenate", "ytb_rephrase"},
			OrderDraw:            "per_sample",
		},
		Features: FeaturesConfig{
			Encoding:    "fp16",
			Compression: "zstd",
			CacheSize:   4096,
		},
		Tokenizer: TokenizerConfig{
			Vocab:     DefaultVocab,
			Lowercase: true,
		},
		Loader: LoaderConfig{
			BatchSize:  8,
			NumWorkers: 4,
			Prefetch:   2,
			Sampler:    "random",
		},
		Server: ServerConfig{
			Addr:      ":8080",
			RateLimit: 20,
		},
	}
}

// FindRoot finds the .vlnload directory by walking up from the current directory
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		wsPath := filepath.Join(dir, WorkspaceDir)
		if info, err := os.Stat(wsPath); err == nil && info.IsDir() {
			return wsPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotWorkspace
		}
		dir = parent
	}
}

// Load loads the configuration from the enclosing .vlnload directory
func Load() (*Config, error) {
	wsPath, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadDir(wsPath)
}

// LoadDir loads the configuration of the given workspace directory.
func LoadDir(wsPath string) (*Config, error) {
	configPath := filepath.Join(wsPath, ConfigFile)
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.path = wsPath
	return cfg, nil
}

// Parse decodes TOML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	configPath := filepath.Join(c.path, ConfigFile)
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// Snapshot returns the configuration as TOML, for the run log.
func (c *Config) Snapshot() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}

// WorkspacePath returns the path to the .vlnload directory
func (c *Config) WorkspacePath() string {
	return c.path
}

// FeatureStorePath returns the path to the bbolt feature store
func (c *Config) FeatureStorePath() string {
	if c.Features.Store != "" {
		return c.Features.Store
	}
	return filepath.Join(c.path, FeaturesFile)
}

// RunLogPath returns the path to the SQLite run log
func (c *Config) RunLogPath() string {
	return filepath.Join(c.path, RunLogFile)
}

// Initialize creates a new .vlnload directory in dir with the default configuration
func Initialize(dir string) (*Config, error) {
	wsPath := filepath.Join(dir, WorkspaceDir)

	// Check if already initialized
	if _, err := os.Stat(wsPath); err == nil {
		return nil, fmt.Errorf("vlnload workspace already exists")
	}

	if err := os.MkdirAll(filepath.Join(wsPath, TestsetsDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", WorkspaceDir, err)
	}

	cfg := Default()
	cfg.path = wsPath

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(wsPath)
		return nil, err
	}

	return cfg, nil
}
