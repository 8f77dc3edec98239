package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/kilupskalvis/vlnload/internal/dataset"
	"github.com/kilupskalvis/vlnload/internal/features"
	"github.com/kilupskalvis/vlnload/internal/instruction"
	"github.com/kilupskalvis/vlnload/internal/loader"
	"github.com/kilupskalvis/vlnload/internal/trajectory"
)

// Testset task keys.
const (
	TaskRanking = "ranking"
	TaskTraj    = "traj"
)

// Validate checks every section for unusable values.
func (c *Config) Validate() error {
	d := c.Dataset
	if err := c.SamplerOptions().Validate(); err != nil {
		return err
	}
	if _, err := c.DatasetOptions(); err != nil {
		return err
	}
	if len(d.Builders) == 0 {
		return instruction.ErrNoBuilders
	}
	for _, name := range d.Builders {
		if _, err := instruction.ParseBuilder(name); err != nil {
			return err
		}
	}

	if _, err := features.ParseEncoding(c.Features.Encoding); err != nil {
		return err
	}
	if _, err := features.ParseCompression(c.Features.Compression); err != nil {
		return err
	}
	if c.Features.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative, got %d", c.Features.CacheSize)
	}

	if err := c.LoaderOptions().Validate(); err != nil {
		return err
	}
	switch c.Loader.Sampler {
	case loader.SamplerRandom, loader.SamplerSequential:
	default:
		return fmt.Errorf("unknown sampler %q", c.Loader.Sampler)
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative, got %d", c.Server.RateLimit)
	}
	return nil
}

// DatasetOptions returns the immutable assembly options.
func (c *Config) DatasetOptions() (dataset.Options, error) {
	d := c.Dataset
	policy, err := dataset.ResolvePolicy(d.TrajJudge, d.NegativeStyle)
	if err != nil {
		return dataset.Options{}, err
	}
	draw, err := dataset.ParseOrderDraw(d.OrderDraw)
	if err != nil {
		return dataset.Options{}, err
	}
	opts := dataset.Options{
		MaxPathLength:        d.MaxPathLength,
		MaxNumBoxes:          d.MaxNumBoxes,
		MaxInstructionLength: d.MaxInstructionLength,
		Policy:               policy,
		Training:             d.Training,
		MaskedVision:         d.MaskedVision,
		MaskedLanguage:       d.MaskedLanguage,
		OrderDraw:            draw,
	}
	if err := opts.Validate(); err != nil {
		return dataset.Options{}, err
	}
	return opts, nil
}

// SamplerOptions returns the trajectory sampling options.
func (c *Config) SamplerOptions() trajectory.Options {
	d := c.Dataset
	return trajectory.Options{
		MinPathLength: d.MinPathLength,
		MaxPathLength: d.MaxPathLength,
		Negatives: trajectory.Counts{
			Captions: d.NumNegativeCaptions,
			Images:   d.NumNegativeImages,
			Random:   d.NumNegativeRandom,
		},
	}
}

// LoaderOptions returns the batching options.
func (c *Config) LoaderOptions() loader.Options {
	return loader.Options{
		BatchSize:  c.Loader.BatchSize,
		DropLast:   c.Loader.DropLast,
		NumWorkers: c.Loader.NumWorkers,
		Prefetch:   c.Loader.Prefetch,
	}
}

// SeparatorList returns the step separators for instruction generation.
func (c *Config) SeparatorList() []string {
	return instruction.Separators(c.Dataset.Separators)
}

// CaptionPath returns the caption file of the configured dataset.
func (c *Config) CaptionPath() string {
	d := c.Dataset
	return filepath.Join(d.DataDir, d.PreDataset, fmt.Sprintf("%s%s_train%s.json", d.Prefix, d.PreDataset, d.FeatherNote))
}

// TestsetPaths returns the testset file of every active task. Ranking is
// active with ranking or not_traj_judge_data; the trajectory judgment
// testset is used only when ranking is off, since ranking shares its testset.
func (c *Config) TestsetPaths() map[string]string {
	d := c.Dataset
	paths := map[string]string{}
	if d.Ranking || d.NotTrajJudgeData {
		style := ""
		if d.NegativeStyle != dataset.StyleNormal && d.NegativeStyle != "" {
			style = d.NegativeStyle + "_"
		}
		paths[TaskRanking] = c.testsetPath(style)
	}
	if d.TrajJudge && !d.Ranking {
		paths[TaskTraj] = c.testsetPath("traj_")
	}
	return paths
}

func (c *Config) testsetPath(taskPrefix string) string {
	d := c.Dataset
	return filepath.Join(d.DataDir, d.PreDataset, fmt.Sprintf("%s%stestset%s.json", d.Prefix, taskPrefix, d.FeatherNote))
}

// EvalTestsetPath returns the testset read in evaluation mode: the trajectory
// judgment testset when that task is active, the ranking testset otherwise.
func (c *Config) EvalTestsetPath() (string, error) {
	paths := c.TestsetPaths()
	if p, ok := paths[TaskTraj]; ok && c.Dataset.TrajJudge {
		return p, nil
	}
	if p, ok := paths[TaskRanking]; ok {
		return p, nil
	}
	if p, ok := paths[TaskTraj]; ok {
		return p, nil
	}
	return "", errors.New("no testset task is active: enable ranking, traj_judge or not_traj_judge_data")
}
