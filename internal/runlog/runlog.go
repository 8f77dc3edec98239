// Package runlog provides SQLite-based persistence for harness runs: one row
// per loader run plus aggregate batch statistics.
package runlog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/vlnload/internal/models"
	_ "modernc.org/sqlite"
)

var ErrRunNotFound = errors.New("run not found")

// timeFormat has a fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store represents the run log database
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the run log at dbPath and applies pending migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records a new running run and returns it.
func (s *Store) StartRun(split, configSnapshot string) (*models.Run, error) {
	run := &models.Run{
		ID:        uuid.New().String(),
		StartedAt: s.now().UTC(),
		Status:    models.RunRunning,
		Split:     split,
		Config:    configSnapshot,
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, status, split, config, samples, batches)
		VALUES (?, ?, ?, ?, ?, 0, 0)`,
		run.ID, run.StartedAt.Format(timeFormat), run.Status, run.Split, run.Config,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return run, nil
}

// FinishRun marks a run finished, or failed when runErr is non-nil.
func (s *Store) FinishRun(id string, samples, batches int, runErr error) error {
	status := models.RunFinished
	var errText sql.NullString
	if runErr != nil {
		status = models.RunFailed
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	res, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, status = ?, samples = ?, batches = ?, error = ?
		WHERE id = ?`,
		s.now().UTC().Format(timeFormat), status, samples, batches, errText, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, status, split, config, samples, batches, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var startedAt string
	var finishedAt, errText sql.NullString

	if err := row.Scan(&run.ID, &startedAt, &finishedAt, &run.Status, &run.Split, &run.Config,
		&run.Samples, &run.Batches, &errText); err != nil {
		return nil, err
	}

	run.StartedAt = parseTimestamp(startedAt)
	if finishedAt.Valid {
		t := parseTimestamp(finishedAt.String)
		run.FinishedAt = &t
	}
	if errText.Valid {
		run.Error = errText.String
	}
	return &run, nil
}

// GetRun retrieves a run by full ID or unique ID prefix
func (s *Store) GetRun(id string) (*models.Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs WHERE id LIKE ? LIMIT 2`, id+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("ambiguous run id prefix %q", id)
	}
}

// ListRuns returns runs in reverse chronological order. A limit <= 0 returns all runs.
func (s *Store) ListRuns(limit int) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveStats stores (or replaces) the aggregate statistics of a run.
func (s *Store) SaveStats(st *models.RunStats) error {
	_, err := s.db.Exec(`
		INSERT INTO run_stats (run_id, mean_ms, median_ms, p95_ms, max_ms, mean_trajectories)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			mean_ms = excluded.mean_ms,
			median_ms = excluded.median_ms,
			p95_ms = excluded.p95_ms,
			max_ms = excluded.max_ms,
			mean_trajectories = excluded.mean_trajectories`,
		st.RunID, st.MeanMS, st.MedianMS, st.P95MS, st.MaxMS, st.MeanTrajs,
	)
	if err != nil {
		return fmt.Errorf("failed to save run stats: %w", err)
	}
	return nil
}

// GetStats returns the statistics of a run, or nil when none were recorded.
func (s *Store) GetStats(runID string) (*models.RunStats, error) {
	st := models.RunStats{RunID: runID}
	err := s.db.QueryRow(`
		SELECT mean_ms, median_ms, p95_ms, max_ms, mean_trajectories
		FROM run_stats WHERE run_id = ?`, runID).Scan(
		&st.MeanMS, &st.MedianMS, &st.P95MS, &st.MaxMS, &st.MeanTrajs,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// parseTimestamp parses a timestamp string from SQLite in various formats
func parseTimestamp(s string) time.Time {
	formats := []string{
		timeFormat,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
