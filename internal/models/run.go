package models

import "time"

// RunStatus is the lifecycle state of a recorded harness run
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunFailed   RunStatus = "failed"
)

// Run is one recorded execution of the loader loop.
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Split      string     `json:"split"`
	Config     string     `json:"config"` // TOML snapshot
	Samples    int        `json:"samples"`
	Batches    int        `json:"batches"`
	Error      string     `json:"error,omitempty"`
}

// ShortID returns the first 8 characters of the run ID
func (r *Run) ShortID() string {
	if len(r.ID) > 8 {
		return r.ID[:8]
	}
	return r.ID
}

// RunStats holds aggregate batch latency statistics for a run.
type RunStats struct {
	RunID     string  `json:"run_id"`
	MeanMS    float64 `json:"mean_ms"`
	MedianMS  float64 `json:"median_ms"`
	P95MS     float64 `json:"p95_ms"`
	MaxMS     float64 `json:"max_ms"`
	MeanTrajs float64 `json:"mean_trajectories"`
}
