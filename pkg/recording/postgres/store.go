package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/voxlog/pkg/recording"
)

var (
	_ recording.Store       = (*Store)(nil)
	_ recording.VectorIndex = (*Store)(nil)
)

const selectColumns = `
	SELECT r.id, r.file_name, r.file_path, r.day_folder, r.hour_folder, r.timestamp,
	       r.duration_ms, r.file_size_bytes, r.transcription, r.transcribed_at,
	       r.ai_title, r.titled_at
	FROM recordings r`

// Store is a PostgreSQL recording store. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, registers pgvector types on every connection,
// and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping implements [recording.Store].
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Insert implements [recording.Store].
func (s *Store) Insert(ctx context.Context, rec recording.Recording) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO recordings (file_name, file_path, day_folder, hour_folder, timestamp,
		                        duration_ms, file_size_bytes, transcription, transcribed_at,
		                        ai_title, titled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		rec.FileName, rec.FilePath, rec.DayFolder, rec.HourFolder, rec.Timestamp,
		rec.DurationMs, rec.FileSizeBytes, textOrNil(rec.Transcription), rec.TranscribedAt,
		textOrNil(rec.AITitle), rec.TitledAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres store: insert: %w", err)
	}
	return id, nil
}

// Update implements [recording.Store].
func (s *Store) Update(ctx context.Context, rec recording.Recording) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE recordings
		SET duration_ms = $1, file_size_bytes = $2, transcription = $3, transcribed_at = $4,
		    ai_title = $5, titled_at = $6
		WHERE id = $7`,
		rec.DurationMs, rec.FileSizeBytes, textOrNil(rec.Transcription), rec.TranscribedAt,
		textOrNil(rec.AITitle), rec.TitledAt, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres store: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return recording.ErrNotFound
	}
	return nil
}

// Get implements [recording.Store].
func (s *Store) Get(ctx context.Context, id int64) (recording.Recording, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` WHERE r.id = $1`, id)
	if err != nil {
		return recording.Recording{}, fmt.Errorf("postgres store: get %d: %w", id, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecording)
	if errors.Is(err, pgx.ErrNoRows) {
		return recording.Recording{}, recording.ErrNotFound
	}
	if err != nil {
		return recording.Recording{}, fmt.Errorf("postgres store: get %d: %w", id, err)
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
		WHERE day_folder = $1
		ORDER BY hour_folder DESC`, day)
}

// InHour implements [recording.Store].
func (s *Store) InHour(ctx context.Context, day, hour string) ([]recording.Recording, error) {
	return s.list(ctx, selectColumns+`
		WHERE r.day_folder = $1 AND r.hour_folder = $2
		ORDER BY r.timestamp DESC, r.id DESC`, day, hour)
}

// ByDay implements [recording.Store].
func (s *Store) ByDay(ctx context.Context, day string) ([]recording.Recording, error) {
	return s.list(ctx, selectColumns+`
		WHERE r.day_folder = $1
		ORDER BY r.timestamp DESC, r.id DESC`, day)
}

// Delete implements [recording.Store]. The embedding row cascades.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres store: delete: %w", err)
	}
	return nil
}

// DeleteDay implements [recording.Store].
func (s *Store) DeleteDay(ctx context.Context, day string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM recordings WHERE day_folder = $1`, day); err != nil {
		return fmt.Errorf("postgres store: delete day: %w", err)
	}
	return nil
}

// DayStats implements [recording.Store].
func (s *Store) DayStats(ctx context.Context, day string) (recording.DayStats, error) {
	var st recording.DayStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(duration_ms), 0)
		FROM recordings WHERE day_folder = $1`, day).Scan(&st.Count, &st.DurationMs)
	if err != nil {
		return recording.DayStats{}, fmt.Errorf("postgres store: day stats: %w", err)
	}
	return st, nil
}

// Search implements [recording.Store].
func (s *Store) Search(ctx context.Context, query string, limit int) ([]recording.Recording, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + query + "%"
	return s.list(ctx, selectColumns+`
		WHERE r.ai_title ILIKE $1 OR r.transcription ILIKE $1
		ORDER BY r.timestamp DESC, r.id DESC
		LIMIT $2`, pattern, limit)
}

// IndexEmbedding implements [recording.VectorIndex]. Re-indexing a
// recording replaces its previous vector.
func (s *Store) IndexEmbedding(ctx context.Context, id int64, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recording_embeddings (recording_id, embedding)
		VALUES ($1, $2)
		ON CONFLICT (recording_id) DO UPDATE
		SET embedding = EXCLUDED.embedding, indexed_at = now()`,
		id, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("postgres store: index embedding %d: %w", id, err)
	}
	return nil
}

// SemanticSearch implements [recording.VectorIndex] using cosine distance.
func (s *Store) SemanticSearch(ctx context.Context, embedding []float32, limit int) ([]recording.Match, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.file_name, r.file_path, r.day_folder, r.hour_folder, r.timestamp,
		       r.duration_ms, r.file_size_bytes, r.transcription, r.transcribed_at,
		       r.ai_title, r.titled_at, e.embedding <=> $1 AS distance
		FROM recording_embeddings e
		JOIN recordings r ON r.id = e.recording_id
		ORDER BY distance
		LIMIT $2`,
		pgvector.NewVector(embedding), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: semantic search: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (recording.Match, error) {
		var m recording.Match
		rec, err := scanInto(row, &m.Distance)
		m.Recording = rec
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: semantic search: %w", err)
	}
	if matches == nil {
		matches = []recording.Match{}
	}
	return matches, nil
}

func (s *Store) strings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres store: collect: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func (s *Store) list(ctx context.Context, q string, args ...any) ([]recording.Recording, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanRecording)
	if err != nil {
		return nil, fmt.Errorf("postgres store: collect: %w", err)
	}
	if out == nil {
		out = []recording.Recording{}
	}
	return out, nil
}

func scanRecording(row pgx.CollectableRow) (recording.Recording, error) {
	return scanInto(row)
}

// scanInto scans the recording columns followed by any extra destinations.
func scanInto(row pgx.CollectableRow, extra ...any) (recording.Recording, error) {
	var (
		rec           recording.Recording
		transcription *string
		transcribedAt *time.Time
		title         *string
		titledAt      *time.Time
	)
	dest := []any{&rec.ID, &rec.FileName, &rec.FilePath, &rec.DayFolder, &rec.HourFolder, &rec.Timestamp,
		&rec.DurationMs, &rec.FileSizeBytes, &transcription, &transcribedAt, &title, &titledAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return recording.Recording{}, err
	}
	if transcription != nil {
		rec.Transcription = *transcription
	}
	if title != nil {
		rec.AITitle = *title
	}
	rec.TranscribedAt = transcribedAt
	rec.TitledAt = titledAt
	return rec, nil
}

func textOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
