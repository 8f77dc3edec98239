package runlog

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a run log in a temp directory for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// ==================== Migration Tests ====================

func TestOpen_AppliesMigrations(t *testing.T) {
	st := newTestStore(t)

	version, err := st.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	st, err := Open(path)
	require.NoError(t, err)
	run, err := st.StartRun("train", "x = 1")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()

	got, err := st.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "x = 1", got.Config)
}

// ==================== Run Tests ====================

func TestStartAndFinishRun(t *testing.T) {
	st := newTestStore(t)

	run, err := st.StartRun("train", "[loader]\nbatch_size = 8\n")
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, models.RunRunning, run.Status)

	require.NoError(t, st.FinishRun(run.ID, 64, 8, nil))

	got, err := st.GetRun(run.ShortID())
	require.NoError(t, err)
	assert.Equal(t, models.RunFinished, got.Status)
	assert.Equal(t, 64, got.Samples)
	assert.Equal(t, 8, got.Batches)
	assert.NotNil(t, got.FinishedAt)
	assert.Empty(t, got.Error)
	assert.WithinDuration(t, run.StartedAt, got.StartedAt, time.Millisecond)
}

func TestFinishRun_Failed(t *testing.T) {
	st := newTestStore(t)

	run, err := st.StartRun("eval", "")
	require.NoError(t, err)
	require.NoError(t, st.FinishRun(run.ID, 3, 1, errors.New("listing 7: too few images")))

	got, err := st.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, got.Status)
	assert.Equal(t, "listing 7: too few images", got.Error)
}

func TestFinishRun_Unknown(t *testing.T) {
	st := newTestStore(t)
	err := st.FinishRun("missing", 0, 0, nil)
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = st.GetRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		st.now = func() time.Time { return at }
		run, err := st.StartRun("train", "")
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	runs, err := st.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[0], runs[2].ID)

	runs, err = st.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

// ==================== Stats Tests ====================

func TestRecorder_Summarize(t *testing.T) {
	r := NewRecorder()
	for i, ms := range []int{10, 20, 30, 40} {
		r.Observe(time.Duration(ms)*time.Millisecond, 8, 3+i%2)
	}
	assert.Equal(t, 4, r.Batches())
	assert.Equal(t, 32, r.Samples())

	s, err := r.Summarize("run-1")
	require.NoError(t, err)
	assert.InDelta(t, 25, s.MeanMS, 1e-9)
	assert.InDelta(t, 25, s.MedianMS, 1e-9)
	assert.InDelta(t, 40, s.MaxMS, 1e-9)
	assert.GreaterOrEqual(t, s.P95MS, s.MedianMS)
	assert.LessOrEqual(t, s.P95MS, s.MaxMS)
	assert.InDelta(t, 3.5, s.MeanTrajs, 1e-9)
}

func TestRecorder_Empty(t *testing.T) {
	s, err := NewRecorder().Summarize("run-1")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSaveAndGetStats(t *testing.T) {
	st := newTestStore(t)
	run, err := st.StartRun("train", "")
	require.NoError(t, err)

	got, err := st.GetStats(run.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	stats := &models.RunStats{RunID: run.ID, MeanMS: 12, MedianMS: 11, P95MS: 20, MaxMS: 25, MeanTrajs: 4}
	require.NoError(t, st.SaveStats(stats))
	stats.MaxMS = 30
	require.NoError(t, st.SaveStats(stats))

	got, err = st.GetStats(run.ID)
	require.NoError(t, err)
	assert.Equal(t, stats, got)
}
