package runlog

import (
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 2

// RunMigrations applies any pending database migrations
func (s *Store) RunMigrations() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migration to v1 failed: %w", err)
		}
	}

	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migration to v2 failed: %w", err)
		}
	}

	return nil
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion() (int, error) {
	return s.getSchemaVersion()
}

// getSchemaVersion returns the current schema version, 0 for an empty database
func (s *Store) getSchemaVersion() (int, error) {
	var tableName string
	err := s.db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='runlog_schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM runlog_schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *Store) exec(statements []string, version int) error {
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := s.db.Exec("INSERT OR REPLACE INTO runlog_schema_version (version) VALUES (?)", version)
	return err
}

// migrateToV1 creates the version table and the runs table
func (s *Store) migrateToV1() error {
	return s.exec([]string{
		`CREATE TABLE IF NOT EXISTS runlog_schema_version (
			version INTEGER PRIMARY KEY
		)`,

		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			split TEXT NOT NULL,
			config TEXT NOT NULL,
			samples INTEGER DEFAULT 0,
			batches INTEGER DEFAULT 0,
			error TEXT
		)`,

		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
	}, 1)
}

// migrateToV2 adds per-run batch statistics
func (s *Store) migrateToV2() error {
	return s.exec([]string{
		`CREATE TABLE IF NOT EXISTS run_stats (
			run_id TEXT PRIMARY KEY,
			mean_ms REAL NOT NULL,
			median_ms REAL NOT NULL,
			p95_ms REAL NOT NULL,
			max_ms REAL NOT NULL,
			mean_trajectories REAL NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(id)
		)`,
	}, 2)
}
