package runlog

import (
	"sync"
	"time"

	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/montanaflynn/stats"
)

// Recorder accumulates per-batch measurements of a run. It is safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	latencies stats.Float64Data
	trajs     stats.Float64Data
	samples   int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Observe records one batch: its build time, size and trajectories per sample.
func (r *Recorder) Observe(buildTime time.Duration, size, trajectories int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies = append(r.latencies, float64(buildTime)/float64(time.Millisecond))
	r.trajs = append(r.trajs, float64(trajectories))
	r.samples += size
}

// Batches returns the number of observed batches.
func (r *Recorder) Batches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.latencies)
}

// Samples returns the number of observed samples.
func (r *Recorder) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

// Summarize computes the run statistics. It returns nil when nothing was observed.
func (r *Recorder) Summarize(runID string) (*models.RunStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.latencies) == 0 {
		return nil, nil
	}

	mean, err := stats.Mean(r.latencies)
	if err != nil {
		return nil, err
	}
	median, err := stats.Median(r.latencies)
	if err != nil {
		return nil, err
	}
	p95, err := stats.Percentile(r.latencies, 95)
	if err != nil {
		return nil, err
	}
	maxMS, err := stats.Max(r.latencies)
	if err != nil {
		return nil, err
	}
	meanTrajs, err := stats.Mean(r.trajs)
	if err != nil {
		return nil, err
	}

	return &models.RunStats{
		RunID:     runID,
		MeanMS:    mean,
		MedianMS:  median,
		P95MS:     p95,
		MaxMS:     maxMS,
		MeanTrajs: meanTrajs,
	}, nil
}
