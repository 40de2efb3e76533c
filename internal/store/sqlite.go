// Package store is the SQLite-backed run catalog. It persists snapshot
// runs and their per-entry outcomes so past images can be inspected
// without unpacking them. The catalog is advisory: callers treat write
// failures as loggable, not fatal.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// DefaultPath returns the per-user catalog location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "masfimg", "masfimg.db")
	}
	return filepath.Join(home, ".local", "share", "masfimg", "masfimg.db")
}

// ============================================================================
// SnapshotRun Operations
// ============================================================================

// CreateSnapshotRun inserts a new SnapshotRun and sets its ID
func (s *Store) CreateSnapshotRun(run *SnapshotRun) error {
	const query = `
		INSERT INTO snapshot_runs (
			run_id, source, image_path, image_sha256, image_size,
			start_time, end_time, entries_total, full_content, metadata_only,
			excluded, failed, bytes_copied, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		run.RunID, run.Source, run.ImagePath, run.ImageSHA256, run.ImageSize,
		run.StartTime, run.EndTime, run.EntriesTotal, run.FullContent,
		run.MetadataOnly, run.Excluded, run.Failed, run.BytesCopied,
		run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// UpdateSnapshotRun updates an existing SnapshotRun by ID
func (s *Store) UpdateSnapshotRun(run *SnapshotRun) error {
	const query = `
		UPDATE snapshot_runs SET
			run_id = ?, source = ?, image_path = ?, image_sha256 = ?,
			image_size = ?, start_time = ?, end_time = ?, entries_total = ?,
			full_content = ?, metadata_only = ?, excluded = ?, failed = ?,
			bytes_copied = ?, status = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.RunID, run.Source, run.ImagePath, run.ImageSHA256, run.ImageSize,
		run.StartTime, run.EndTime, run.EntriesTotal, run.FullContent,
		run.MetadataOnly, run.Excluded, run.Failed, run.BytesCopied,
		run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update snapshot run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("snapshot run not found: %d", run.ID)
	}

	return nil
}

const snapshotRunColumns = `
	id, run_id, source, image_path, image_sha256, image_size,
	start_time, end_time, entries_total, full_content, metadata_only,
	excluded, failed, bytes_copied, status, error_message
`

func scanSnapshotRun(scanner interface{ Scan(...any) error }) (*SnapshotRun, error) {
	run := &SnapshotRun{}
	err := scanner.Scan(
		&run.ID, &run.RunID, &run.Source, &run.ImagePath, &run.ImageSHA256,
		&run.ImageSize, &run.StartTime, &run.EndTime, &run.EntriesTotal,
		&run.FullContent, &run.MetadataOnly, &run.Excluded, &run.Failed,
		&run.BytesCopied, &run.Status, &run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetSnapshotRun retrieves a SnapshotRun by its run UUID
func (s *Store) GetSnapshotRun(runID string) (*SnapshotRun, error) {
	query := "SELECT " + snapshotRunColumns + " FROM snapshot_runs WHERE run_id = ?"

	run, err := scanSnapshotRun(s.db.QueryRow(query, runID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("snapshot run not found: %s", runID)
		}
		return nil, fmt.Errorf("failed to query snapshot run: %w", err)
	}

	return run, nil
}

// ListSnapshotRuns retrieves recent SnapshotRuns, newest first
func (s *Store) ListSnapshotRuns(limit int) ([]SnapshotRun, error) {
	query := "SELECT " + snapshotRunColumns + " FROM snapshot_runs ORDER BY start_time DESC"

	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot runs: %w", err)
	}
	defer rows.Close()

	var runs []SnapshotRun
	for rows.Next() {
		run, err := scanSnapshotRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot runs: %w", err)
	}

	return runs, nil
}

// ============================================================================
// EntryRecord Operations
// ============================================================================

// InsertEntryRecords inserts all entry records for a run in one transaction
func (s *Store) InsertEntryRecords(records []EntryRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO entry_records (
			snapshot_run_id, path, type, size, outcome, hash, error
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(
			rec.SnapshotRunID, rec.Path, rec.Type, rec.Size,
			rec.Outcome, rec.Hash, rec.Error,
		); err != nil {
			return fmt.Errorf("failed to insert entry record for %s: %w", rec.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entry records: %w", err)
	}

	return nil
}

// ListEntryRecords retrieves entry records for a run, optionally only
// the failed ones
func (s *Store) ListEntryRecords(snapshotRunID int64, onlyFailed bool) ([]EntryRecord, error) {
	query := `
		SELECT id, snapshot_run_id, path, type, size, outcome, hash, error
		FROM entry_records WHERE snapshot_run_id = ?
	`
	args := []interface{}{snapshotRunID}

	if onlyFailed {
		query += " AND outcome = ?"
		args = append(args, "failed")
	}

	query += " ORDER BY id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry records: %w", err)
	}
	defer rows.Close()

	var records []EntryRecord
	for rows.Next() {
		rec := EntryRecord{}
		err := rows.Scan(
			&rec.ID, &rec.SnapshotRunID, &rec.Path, &rec.Type,
			&rec.Size, &rec.Outcome, &rec.Hash, &rec.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry records: %w", err)
	}

	return records, nil
}

// CountEntryOutcomes returns per-outcome counts for a run
func (s *Store) CountEntryOutcomes(snapshotRunID int64) (map[string]int, error) {
	const query = `
		SELECT outcome, COUNT(*) FROM entry_records
		WHERE snapshot_run_id = ? GROUP BY outcome
	`

	rows, err := s.db.Query(query, snapshotRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to count entry outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[outcome] = count
	}

	return counts, rows.Err()
}
