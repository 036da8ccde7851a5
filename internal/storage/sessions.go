package storage

// sessions.go contains SQLiteStore methods for session records. Records
// are observational history; the live bridge never reads them back.

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// maxSessionRecords is the maximum number of session records to retain.
// Older records are deleted when this limit is exceeded.
const maxSessionRecords = 100

// SessionRecord is one row of session history.
type SessionRecord struct {
	ID        string
	WorkDir   string
	Command   string
	StartedAt time.Time
	EndedAt   time.Time // zero until the session ends
	Status    string    // "running" or "terminated"
	ExitCode  int       // meaningful only when Status is "terminated"
	Reason    string    // human-readable end reason
}

// SessionStarted records a new running session. Implements the registry's
// Recorder interface.
func (s *SQLiteStore) SessionStarted(id, workDir, command string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: recording session %s (dir=%s)", id, workDir)

	const query = `
		INSERT OR REPLACE INTO sessions
			(id, work_dir, command, started_at, status)
		VALUES (?, ?, ?, ?, 'running')
	`
	if _, err := s.db.Exec(query, id, workDir, command, at.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("record session start: %w", err)
	}

	// Enforce retention: delete the oldest records beyond the limit.
	const cleanupQuery = `
		DELETE FROM sessions WHERE id IN (
			SELECT id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)
	`
	if _, err := s.db.Exec(cleanupQuery, maxSessionRecords); err != nil {
		return fmt.Errorf("enforce session retention: %w", err)
	}

	return nil
}

// SessionEnded marks a session record terminated. Implements the
// registry's Recorder interface.
func (s *SQLiteStore) SessionEnded(id string, at time.Time, exitCode int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		UPDATE sessions
		SET ended_at = ?, status = 'terminated', exit_code = ?, reason = ?
		WHERE id = ?
	`
	result, err := s.db.Exec(query, at.Format(time.RFC3339Nano), exitCode, reason, id)
	if err != nil {
		return fmt.Errorf("record session end: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetSession retrieves a session record by ID.
// Returns nil, nil if the record does not exist.
func (s *SQLiteStore) GetSession(id string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, work_dir, command, started_at, ended_at, status, exit_code, reason
		FROM sessions
		WHERE id = ?
	`

	rec, err := scanSessionRecord(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return rec, nil
}

// ListSessions returns recent session records, newest first.
// The limit parameter controls how many to return (0 = retention limit).
func (s *SQLiteStore) ListSessions(limit int) ([]*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = maxSessionRecords
	}

	const query = `
		SELECT id, work_dir, command, started_at, ended_at, status, exit_code, reason
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	records := make([]*SessionRecord, 0)
	for rows.Next() {
		rec, err := scanSessionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	return records, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRecord(row rowScanner) (*SessionRecord, error) {
	var (
		rec       SessionRecord
		startedAt string
		endedAt   sql.NullString
		exitCode  sql.NullInt64
		reason    sql.NullString
	)

	err := row.Scan(
		&rec.ID,
		&rec.WorkDir,
		&rec.Command,
		&startedAt,
		&endedAt,
		&rec.Status,
		&exitCode,
		&reason,
	)
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	rec.StartedAt = t

	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		rec.EndedAt = t
	}
	if exitCode.Valid {
		rec.ExitCode = int(exitCode.Int64)
	}
	if reason.Valid {
		rec.Reason = reason.String
	}

	return &rec, nil
}
