package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/vlnload/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== Workspace Tests ====================

func TestInitialize(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, WorkspaceDir), cfg.WorkspacePath())
	assert.FileExists(t, filepath.Join(dir, WorkspaceDir, ConfigFile))
	assert.DirExists(t, filepath.Join(dir, WorkspaceDir, TestsetsDir))

	_, err = Initialize(dir)
	assert.ErrorContains(t, err, "already exists")
}

func TestFindRoot_WalksUp(t *testing.T) {
	dir := t.TempDir()
	_, err := Initialize(dir)
	require.NoError(t, err)

	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	t.Chdir(nested)

	root, err := FindRoot()
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(filepath.Join(dir, WorkspaceDir))
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Loader, cfg.Loader)
}

func TestFindRoot_NotWorkspace(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := FindRoot()
	assert.ErrorIs(t, err, ErrNotWorkspace)
}

func TestSaveAndLoadDir(t *testing.T) {
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)

	cfg.Loader.BatchSize = 32
	cfg.Dataset.TrajJudge = true
	cfg.Dataset.Builders = []string{"identity"}
	require.NoError(t, cfg.Save())

	got, err := LoadDir(cfg.WorkspacePath())
	require.NoError(t, err)
	assert.Equal(t, 32, got.Loader.BatchSize)
	assert.True(t, got.Dataset.TrajJudge)
	assert.Equal(t, []string{"identity"}, got.Dataset.Builders)
	assert.Equal(t, filepath.Join(cfg.WorkspacePath(), FeaturesFile), got.FeatureStorePath())
	assert.Equal(t, filepath.Join(cfg.WorkspacePath(), RunLogFile), got.RunLogPath())
}

// ==================== Parse Tests ====================

func TestParse_FillsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[dataset]
max_path_length = 5

[loader]
num_workers = 2
`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Dataset.MaxPathLength)
	assert.Equal(t, 4, cfg.Dataset.MinPathLength)
	assert.Equal(t, 2, cfg.Loader.NumWorkers)
	assert.Equal(t, 8, cfg.Loader.BatchSize)
	assert.Equal(t, "fp16", cfg.Features.Encoding)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"syntax", "[dataset", "failed to parse config"},
		{"path lengths", "[dataset]\nmin_path_length = 6\nmax_path_length = 5", "smaller than"},
		{"negative style", "[dataset]\nnegative_style = \"odd\"", "unknown negative style"},
		{"order draw", "[dataset]\norder_draw = \"sometimes\"", "unknown order draw"},
		{"no builders", "[dataset]\nbuilders = []", "builder"},
		{"unknown builder", "[dataset]\nbuilders = [\"poem\"]", "poem"},
		{"encoding", "[features]\nencoding = \"int8\"", "int8"},
		{"sampler", "[loader]\nsampler = \"weighted\"", "unknown sampler"},
		{"batch size", "[loader]\nbatch_size = 0", "batch size"},
		{"instruction length", "[dataset]\nmax_instruction_length = 1", "max instruction length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestSnapshot(t *testing.T) {
	snap, err := Default().Snapshot()
	require.NoError(t, err)
	assert.Contains(t, snap, "[loader]")
	assert.Contains(t, snap, "batch_size = 8")

	back, err := Parse([]byte(snap))
	require.NoError(t, err)
	assert.Equal(t, Default().Dataset, back.Dataset)
}

// ==================== Derived Options Tests ====================

func TestDatasetOptions(t *testing.T) {
	cfg := Default()
	opts, err := cfg.DatasetOptions()
	require.NoError(t, err)
	assert.Equal(t, dataset.PolicyRankingNormal, opts.Policy)
	assert.Equal(t, dataset.OrderDrawPerSample, opts.OrderDraw)
	assert.Equal(t, 8*37, opts.Regions())

	cfg.Dataset.NegativeStyle = dataset.StyleShuffleInstruction
	opts, err = cfg.DatasetOptions()
	require.NoError(t, err)
	assert.Equal(t, dataset.PolicyRankingShuffleInstruction, opts.Policy)

	cfg.Dataset.TrajJudge = true
	opts, err = cfg.DatasetOptions()
	require.NoError(t, err)
	assert.Equal(t, dataset.PolicyTrajJudge, opts.Policy)
}

func TestSamplerAndLoaderOptions(t *testing.T) {
	cfg := Default()
	so := cfg.SamplerOptions()
	assert.Equal(t, 4, so.MinPathLength)
	assert.Equal(t, 5, so.Negatives.Total())

	lo := cfg.LoaderOptions()
	assert.Equal(t, 8, lo.BatchSize)
	assert.Equal(t, 4, lo.NumWorkers)
	assert.Equal(t, 2, lo.Prefetch)
}

func TestSeparatorList(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.SeparatorList())

	cfg.Dataset.Separators = false
	assert.Equal(t, []string{"[SEP]"}, cfg.SeparatorList())
}

// ==================== Path Tests ====================

func TestCaptionPath(t *testing.T) {
	cfg := Default()
	cfg.Dataset.Prefix = "v2_"
	cfg.Dataset.FeatherNote = "_bnb"
	assert.Equal(t, filepath.Join(DefaultData, "ytb", "v2_ytb_train_bnb.json"), cfg.CaptionPath())
}

func TestTestsetPaths(t *testing.T) {
	base := filepath.Join(DefaultData, "ytb")

	t.Run("ranking", func(t *testing.T) {
		cfg := Default()
		assert.Equal(t, map[string]string{
			TaskRanking: filepath.Join(base, "testset.json"),
		}, cfg.TestsetPaths())
	})

	t.Run("ranking with shuffled instructions", func(t *testing.T) {
		cfg := Default()
		cfg.Dataset.NegativeStyle = dataset.StyleShuffleInstruction
		assert.Equal(t, filepath.Join(base, "shuffle_instruction_testset.json"), cfg.TestsetPaths()[TaskRanking])
	})

	t.Run("trajectory judgment only", func(t *testing.T) {
		cfg := Default()
		cfg.Dataset.Ranking = false
		cfg.Dataset.TrajJudge = true
		paths := cfg.TestsetPaths()
		assert.Equal(t, map[string]string{TaskTraj: filepath.Join(base, "traj_testset.json")}, paths)

		p, err := cfg.EvalTestsetPath()
		require.NoError(t, err)
		assert.Equal(t, paths[TaskTraj], p)
	})

	t.Run("both tasks", func(t *testing.T) {
		cfg := Default()
		cfg.Dataset.Ranking = false
		cfg.Dataset.TrajJudge = true
		cfg.Dataset.NotTrajJudgeData = true
		assert.Len(t, cfg.TestsetPaths(), 2)
	})

	t.Run("none", func(t *testing.T) {
		cfg := Default()
		cfg.Dataset.Ranking = false
		assert.Empty(t, cfg.TestsetPaths())
		_, err := cfg.EvalTestsetPath()
		assert.Error(t, err)
	})
}
