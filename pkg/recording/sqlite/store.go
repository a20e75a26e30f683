// Package sqlite provides the default embedded [recording.Store] backed by a
// single SQLite file through the pure-Go modernc driver.
//
// Timestamps are stored as Unix milliseconds. The schema is created on Open
// and is safe to re-apply.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/voxlog/pkg/recording"
)

var _ recording.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    file_name       TEXT    NOT NULL,
    file_path       TEXT    NOT NULL,
    day_folder      TEXT    NOT NULL,
    hour_folder     TEXT    NOT NULL,
    timestamp       INTEGER NOT NULL,
    duration_ms     INTEGER NOT NULL,
    file_size_bytes INTEGER NOT NULL,
    transcription   TEXT,
    transcribed_at  INTEGER,
    ai_title        TEXT,
    titled_at       INTEGER
);

CREATE INDEX IF NOT EXISTS idx_recordings_day
    ON recordings (day_folder);

CREATE INDEX IF NOT EXISTS idx_recordings_day_hour
    ON recordings (day_folder, hour_folder);

CREATE INDEX IF NOT EXISTS idx_recordings_timestamp
    ON recordings (timestamp);
`

const selectColumns = `
	SELECT id, file_name, file_path, day_folder, hour_folder, timestamp,
	       duration_ms, file_size_bytes, transcription, transcribed_at,
	       ai_title, titled_at
	FROM recordings`

// Store is a SQLite-backed recording store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. The parent directory is created when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite store: create dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Insert implements [recording.Store].
func (s *Store) Insert(ctx context.Context, rec recording.Recording) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (file_name, file_path, day_folder, hour_folder, timestamp,
		                        duration_ms, file_size_bytes, transcription, transcribed_at,
		                        ai_title, titled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FileName, rec.FilePath, rec.DayFolder, rec.HourFolder, rec.Timestamp.UnixMilli(),
		rec.DurationMs, rec.FileSizeBytes, nullString(rec.Transcription), nullMillis(rec.TranscribedAt),
		nullString(rec.AITitle), nullMillis(rec.TitledAt),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite store: insert id: %w", err)
	}
	return id, nil
}

// Update implements [recording.Store].
func (s *Store) Update(ctx context.Context, rec recording.Recording) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recordings
		SET duration_ms = ?, file_size_bytes = ?, transcription = ?, transcribed_at = ?,
		    ai_title = ?, titled_at = ?
		WHERE id = ?`,
		rec.DurationMs, rec.FileSizeBytes, nullString(rec.Transcription), nullMillis(rec.TranscribedAt),
		nullString(rec.AITitle), nullMillis(rec.TitledAt), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: update: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return recording.ErrNotFound
	}
	return nil
}

// Get implements [recording.Store].
func (s *Store) Get(ctx context.Context, id int64) (recording.Recording, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return recording.Recording{}, recording.ErrNotFound
	}
	if err != nil {
		return recording.Recording{}, fmt.Errorf("sqlite store: get %d: %w", id, err)
	}
	return rec, nil
}

// Days implements [recording.Store].
func (s *Store) Days(ctx context.Context) ([]string, error) {
	return s.strings(ctx, `SELECT DISTINCT day_folder FROM recordings ORDER BY day_folder DESC`)
}

// Hours implements [recording.Store].
func (s *Store) Hours(ctx context.Context, day string) ([]string, error) {
	return s.strings(ctx, `
		SELECT DISTINCT hour_folder FROM recordings
		WHERE day_folder = ?
		ORDER BY hour_folder DESC`, day)
}

// InHour implements [recording.Store].
func (s *Store) InHour(ctx context.Context, day, hour string) ([]recording.Recording, error) {
	return s.list(ctx, selectColumns+`
		WHERE day_folder = ? AND hour_folder = ?
		ORDER BY timestamp DESC, id DESC`, day, hour)
}

// ByDay implements [recording.Store].
func (s *Store) ByDay(ctx context.Context, day string) ([]recording.Recording, error) {
	return s.list(ctx, selectColumns+`
		WHERE day_folder = ?
		ORDER BY timestamp DESC, id DESC`, day)
}

// Delete implements [recording.Store].
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite store: delete: %w", err)
	}
	return nil
}

// DeleteDay implements [recording.Store].
func (s *Store) DeleteDay(ctx context.Context, day string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE day_folder = ?`, day); err != nil {
		return fmt.Errorf("sqlite store: delete day: %w", err)
	}
	return nil
}

// DayStats implements [recording.Store].
func (s *Store) DayStats(ctx context.Context, day string) (recording.DayStats, error) {
	var st recording.DayStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(duration_ms), 0)
		FROM recordings WHERE day_folder = ?`, day).Scan(&st.Count, &st.DurationMs)
	if err != nil {
		return recording.DayStats{}, fmt.Errorf("sqlite store: day stats: %w", err)
	}
	return st, nil
}

// Search implements [recording.Store]. SQLite LIKE is case-insensitive for
// ASCII only.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]recording.Recording, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + query + "%"
	return s.list(ctx, selectColumns+`
		WHERE ai_title LIKE ? OR transcription LIKE ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, pattern, pattern, limit)
}

func (s *Store) strings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) list(ctx context.Context, q string, args ...any) ([]recording.Recording, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query: %w", err)
	}
	defer rows.Close()

	out := []recording.Recording{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecording(sc scanner) (recording.Recording, error) {
	var (
		rec           recording.Recording
		ts            int64
		transcription sql.NullString
		transcribedAt sql.NullInt64
		title         sql.NullString
		titledAt      sql.NullInt64
	)
	err := sc.Scan(&rec.ID, &rec.FileName, &rec.FilePath, &rec.DayFolder, &rec.HourFolder, &ts,
		&rec.DurationMs, &rec.FileSizeBytes, &transcription, &transcribedAt, &title, &titledAt)
	if err != nil {
		return recording.Recording{}, err
	}
	rec.Timestamp = time.UnixMilli(ts)
	rec.Transcription = transcription.String
	rec.AITitle = title.String
	rec.TranscribedAt = timeFromMillis(transcribedAt)
	rec.TitledAt = timeFromMillis(titledAt)
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timeFromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
