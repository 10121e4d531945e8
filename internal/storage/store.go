// Package storage persists recordings, event segments, and checkpoints in a
// single sqlite database under the data directory.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jterm-dev/jterm/internal/models"
)

const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS recordings (
	recording_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	start_time TEXT NOT NULL,
	end_time TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL CHECK(status IN ('recording','stopped','processing','ready','failed')),
	event_count INTEGER NOT NULL DEFAULT 0,
	file_size INTEGER NOT NULL DEFAULT 0,
	compression_ratio INTEGER NOT NULL DEFAULT 100,
	cols INTEGER NOT NULL,
	rows INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS recordings_session ON recordings(session_id);

CREATE TABLE IF NOT EXISTS segments (
	recording_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	compressed INTEGER NOT NULL DEFAULT 0,
	event_count INTEGER NOT NULL,
	raw_size INTEGER NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY(recording_id, seq),
	FOREIGN KEY(recording_id) REFERENCES recordings(recording_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id INTEGER PRIMARY KEY AUTOINCREMENT,
	recording_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	event_index INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	terminal_state TEXT NOT NULL DEFAULT '',
	FOREIGN KEY(recording_id) REFERENCES recordings(recording_id) ON DELETE CASCADE
);
`

// Store is the sqlite-backed recording store. A single connection with WAL
// journaling keeps writers serialized without table locks biting readers.
type Store struct {
	db        *sql.DB
	maxEvents int
}

// Open creates or opens the database at path and applies the schema.
// maxEvents bounds how many logical events are kept per recording; older
// segments are trimmed once the total exceeds it. Zero disables trimming.
func Open(ctx context.Context, path string, maxEvents int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db, maxEvents: maxEvents}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRecording inserts a new recording row.
func (s *Store) CreateRecording(rec *models.Recording) error {
	_, err := s.db.Exec(`
INSERT INTO recordings(recording_id, session_id, user_id, start_time, end_time, duration_ms, status, event_count, file_size, compression_ratio, cols, rows)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, rec.RecordingID, rec.SessionID, rec.UserID, ts(rec.StartTime), nullableTS(rec.EndTime),
		rec.Duration, string(rec.Status), rec.EventCount, rec.FileSize, rec.CompressionRatio,
		rec.TerminalSize.Cols, rec.TerminalSize.Rows)
	if err != nil {
		return fmt.Errorf("insert recording %s: %w", rec.RecordingID, err)
	}
	return nil
}

// UpdateRecording rewrites a recording's mutable fields.
func (s *Store) UpdateRecording(rec *models.Recording) error {
	res, err := s.db.Exec(`
UPDATE recordings SET
	end_time = ?,
	duration_ms = ?,
	status = ?,
	event_count = ?,
	file_size = ?,
	compression_ratio = ?,
	cols = ?,
	rows = ?
WHERE recording_id = ?
`, nullableTS(rec.EndTime), rec.Duration, string(rec.Status), rec.EventCount,
		rec.FileSize, rec.CompressionRatio, rec.TerminalSize.Cols, rec.TerminalSize.Rows,
		rec.RecordingID)
	if err != nil {
		return fmt.Errorf("update recording %s: %w", rec.RecordingID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: recording %s", models.ErrNotFound, rec.RecordingID)
	}
	return nil
}

const recordingColumns = `recording_id, session_id, user_id, start_time, end_time, duration_ms, status, event_count, file_size, compression_ratio, cols, rows`

func scanRecording(row interface{ Scan(...any) error }) (*models.Recording, error) {
	var rec models.Recording
	var start string
	var end sql.NullString
	var status string
	if err := row.Scan(&rec.RecordingID, &rec.SessionID, &rec.UserID, &start, &end,
		&rec.Duration, &status, &rec.EventCount, &rec.FileSize, &rec.CompressionRatio,
		&rec.TerminalSize.Cols, &rec.TerminalSize.Rows); err != nil {
		return nil, err
	}
	rec.Status = models.RecordingStatus(status)

	t, err := parseTS(start)
	if err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	rec.StartTime = t
	if end.Valid {
		t, err := parseTS(end.String)
		if err != nil {
			return nil, fmt.Errorf("parse end_time: %w", err)
		}
		rec.EndTime = &t
	}
	return &rec, nil
}

// GetRecording loads one recording by ID.
func (s *Store) GetRecording(recordingID string) (*models.Recording, error) {
	row := s.db.QueryRow(`SELECT `+recordingColumns+` FROM recordings WHERE recording_id = ?`, recordingID)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: recording %s", models.ErrNotFound, recordingID)
	}
	if err != nil {
		return nil, fmt.Errorf("get recording %s: %w", recordingID, err)
	}
	return rec, nil
}

// ListRecordings returns recordings newest first, optionally scoped to one
// session. An empty sessionID lists everything.
func (s *Store) ListRecordings(sessionID string) ([]*models.Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM recordings`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY start_time DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var out []*models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListFinishedBefore returns recordings whose end time is before the cutoff.
// Timestamps are compared after parsing; the column's fractional-second
// precision varies so string comparison is not reliable.
func (s *Store) ListFinishedBefore(cutoff time.Time) ([]*models.Recording, error) {
	rows, err := s.db.Query(`SELECT ` + recordingColumns + ` FROM recordings WHERE end_time IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list finished recordings: %w", err)
	}
	defer rows.Close()

	var out []*models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		if rec.EndTime != nil && rec.EndTime.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

// DeleteRecording removes a recording; segments and checkpoints cascade.
func (s *Store) DeleteRecording(recordingID string) error {
	res, err := s.db.Exec(`DELETE FROM recordings WHERE recording_id = ?`, recordingID)
	if err != nil {
		return fmt.Errorf("delete recording %s: %w", recordingID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: recording %s", models.ErrNotFound, recordingID)
	}
	return nil
}

// AppendSegment stores one flushed segment, then trims the oldest segments
// when the recording's stored event total exceeds the configured cap.
func (s *Store) AppendSegment(recordingID string, seg *models.Segment) error {
	_, err := s.db.Exec(`
INSERT INTO segments(recording_id, seq, compressed, event_count, raw_size, payload)
VALUES (?, ?, ?, ?, ?, ?)
`, recordingID, seg.Seq, boolToInt(seg.Compressed), seg.EventCount, seg.RawSize, seg.Payload)
	if err != nil {
		return fmt.Errorf("insert segment %d for %s: %w", seg.Seq, recordingID, err)
	}
	if s.maxEvents > 0 {
		if err := s.trimSegments(recordingID); err != nil {
			return err
		}
	}
	return nil
}

// trimSegments drops whole leading segments while the remainder still holds
// at least maxEvents events. Trimming is segment-granular; a recording may
// briefly hold slightly more than the cap.
func (s *Store) trimSegments(recordingID string) error {
	rows, err := s.db.Query(`SELECT seq, event_count FROM segments WHERE recording_id = ? ORDER BY seq`, recordingID)
	if err != nil {
		return fmt.Errorf("trim segments for %s: %w", recordingID, err)
	}
	type segInfo struct{ seq, count int }
	var segs []segInfo
	total := 0
	for rows.Next() {
		var si segInfo
		if err := rows.Scan(&si.seq, &si.count); err != nil {
			rows.Close()
			return fmt.Errorf("trim segments for %s: %w", recordingID, err)
		}
		segs = append(segs, si)
		total += si.count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	dropBefore := -1
	for _, si := range segs {
		if total-si.count < s.maxEvents {
			break
		}
		total -= si.count
		dropBefore = si.seq
	}
	if dropBefore < 0 {
		return nil
	}
	if _, err := s.db.Exec(`DELETE FROM segments WHERE recording_id = ? AND seq <= ?`, recordingID, dropBefore); err != nil {
		return fmt.Errorf("trim segments for %s: %w", recordingID, err)
	}
	return nil
}

// Segments returns a recording's segments in append order.
func (s *Store) Segments(recordingID string) ([]*models.Segment, error) {
	rows, err := s.db.Query(`
SELECT seq, compressed, event_count, raw_size, payload FROM segments
WHERE recording_id = ? ORDER BY seq
`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("load segments for %s: %w", recordingID, err)
	}
	defer rows.Close()

	var out []*models.Segment
	for rows.Next() {
		var seg models.Segment
		var compressed int
		if err := rows.Scan(&seg.Seq, &compressed, &seg.EventCount, &seg.RawSize, &seg.Payload); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.Compressed = compressed != 0
		out = append(out, &seg)
	}
	return out, rows.Err()
}

// AddCheckpoint stores one checkpoint.
func (s *Store) AddCheckpoint(recordingID string, cp *models.Checkpoint) error {
	_, err := s.db.Exec(`
INSERT INTO checkpoints(recording_id, created_at, event_index, description, terminal_state)
VALUES (?, ?, ?, ?, ?)
`, recordingID, ts(cp.Timestamp), cp.EventIndex, cp.Description, cp.TerminalState)
	if err != nil {
		return fmt.Errorf("insert checkpoint for %s: %w", recordingID, err)
	}
	return nil
}

// Checkpoints returns a recording's checkpoints in event order.
func (s *Store) Checkpoints(recordingID string) ([]*models.Checkpoint, error) {
	rows, err := s.db.Query(`
SELECT created_at, event_index, description, terminal_state FROM checkpoints
WHERE recording_id = ? ORDER BY event_index, checkpoint_id
`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoints for %s: %w", recordingID, err)
	}
	defer rows.Close()

	var out []*models.Checkpoint
	for rows.Next() {
		var cp models.Checkpoint
		var created string
		if err := rows.Scan(&created, &cp.EventIndex, &cp.Description, &cp.TerminalState); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		t, err := parseTS(created)
		if err != nil {
			return nil, fmt.Errorf("parse checkpoint time: %w", err)
		}
		cp.Timestamp = t
		out = append(out, &cp)
	}
	return out, rows.Err()
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
