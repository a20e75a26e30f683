// Package postgres provides a PostgreSQL-backed [recording.Store] that also
// implements [recording.VectorIndex] through the pgvector extension.
//
// Recordings and their transcript embeddings share a single [pgxpool.Pool].
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
//
//	store, err := postgres.NewStore(ctx, dsn, 768)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlRecordings = `
CREATE TABLE IF NOT EXISTS recordings (
    id               BIGSERIAL    PRIMARY KEY,
    file_name        TEXT         NOT NULL,
    file_path        TEXT         NOT NULL,
    day_folder       TEXT         NOT NULL,
    hour_folder      TEXT         NOT NULL,
    timestamp        TIMESTAMPTZ  NOT NULL,
    duration_ms      BIGINT       NOT NULL DEFAULT 0,
    file_size_bytes  BIGINT       NOT NULL DEFAULT 0,
    transcription    TEXT,
    transcribed_at   TIMESTAMPTZ,
    ai_title         TEXT,
    titled_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_recordings_day
    ON recordings (day_folder);

CREATE INDEX IF NOT EXISTS idx_recordings_day_hour
    ON recordings (day_folder, hour_folder);

CREATE INDEX IF NOT EXISTS idx_recordings_timestamp
    ON recordings (timestamp);
`

// ddlEmbeddings returns the embedding DDL with the vector dimension
// substituted. The dimension is fixed at schema creation time.
func ddlEmbeddings(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS recording_embeddings (
    recording_id  BIGINT       PRIMARY KEY REFERENCES recordings (id) ON DELETE CASCADE,
    embedding     vector(%d)   NOT NULL,
    indexed_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_recording_embeddings_hnsw
    ON recording_embeddings USING hnsw (embedding vector_cosine_ops);
`, dims)
}

// Migrate creates all tables, indexes, and extensions. It is idempotent and
// safe to call on every start. dims must match the embedding model output;
// changing it later requires a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	for _, stmt := range []string{ddlRecordings, ddlEmbeddings(dims)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
