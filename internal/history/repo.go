package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/mixport/internal/apperr"
	"github.com/starford/mixport/internal/models"
)

// Run is one row of the runs table.
type Run struct {
	ID          string             `json:"id"`
	State       string             `json:"state"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
	Stats       models.ExportStats `json:"stats"`
	ArchiveName string             `json:"archive_name"`
	Location    string             `json:"location,omitempty"`
	Size        int64              `json:"size"`
	Checksum    string             `json:"checksum,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// File is one archive entry recorded for a run.
type File struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Finish carries the outcome of a successful run.
type Finish struct {
	Stats      models.ExportStats
	Location   string
	Size       int64
	Checksum   string
	Files      []File
	FinishedAt time.Time
}

const runColumns = `id, state, started_at, finished_at, folders, notes, images,
	archive_name, location, size, checksum, error`

// BeginRun records a new run in the running state.
func (db *DB) BeginRun(id, archiveName string, startedAt time.Time) error {
	_, err := db.conn.Exec(`
		INSERT INTO runs (id, state, started_at, archive_name)
		VALUES (?, ?, ?, ?)
	`, id, StateRunning, startedAt.UTC(), archiveName)
	if err != nil {
		return fmt.Errorf("history: begin run: %w", err)
	}
	return nil
}

// FinishRun marks a run done and stores its archive manifest in one
// transaction.
func (db *DB) FinishRun(id string, f Finish) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	res, err := tx.Exec(`
		UPDATE runs SET
			state       = ?,
			finished_at = ?,
			folders     = ?,
			notes       = ?,
			images      = ?,
			location    = ?,
			size        = ?,
			checksum    = ?
		WHERE id = ?
	`, StateDone, f.FinishedAt.UTC(), f.Stats.Folders, f.Stats.Notes, f.Stats.Images,
		f.Location, f.Size, f.Checksum, id)
	if err != nil {
		return fmt.Errorf("history: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("history: finish run %s: %w", id, apperr.ErrNotFound)
	}

	_, _ = tx.Exec(`DELETE FROM run_files WHERE run_id = ?`, id)
	if len(f.Files) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO run_files (run_id, path, size, checksum) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("history: prepare file insert: %w", err)
		}
		defer stmt.Close()
		for _, file := range f.Files {
			if _, err := stmt.Exec(id, file.Path, file.Size, file.Checksum); err != nil {
				return fmt.Errorf("history: insert file: %w", err)
			}
		}
	}

	return tx.Commit()
}

// FailRun marks a run failed with msg.
func (db *DB) FailRun(id, msg string, at time.Time) error {
	res, err := db.conn.Exec(`
		UPDATE runs SET state = ?, finished_at = ?, error = ? WHERE id = ?
	`, StateFailed, at.UTC(), msg, id)
	if err != nil {
		return fmt.Errorf("history: fail run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("history: fail run %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// GetRun returns one run or apperr.ErrNotFound.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means 50.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// RunFiles returns the archive manifest of a run, sorted by path.
func (db *DB) RunFiles(id string) ([]File, error) {
	rows, err := db.conn.Query(`SELECT path, size, checksum FROM run_files WHERE run_id = ? ORDER BY path`, id)
	if err != nil {
		return nil, fmt.Errorf("history: run files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.Path, &f.Size, &f.Checksum); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// runningIDs returns the ids of runs still marked running.
func (db *DB) runningIDs() ([]string, error) {
	rows, err := db.conn.Query(`SELECT id FROM runs WHERE state = ?`, StateRunning)
	if err != nil {
		return nil, fmt.Errorf("history: running ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r        Run
		finished sql.NullTime
	)
	err := s.Scan(&r.ID, &r.State, &r.StartedAt, &finished,
		&r.Stats.Folders, &r.Stats.Notes, &r.Stats.Images,
		&r.ArchiveName, &r.Location, &r.Size, &r.Checksum, &r.Error)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
