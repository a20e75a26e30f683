// Package recording defines the persisted recording model, the row-level
// [Store] contract implemented by the database back-ends, the on-disk
// [Layout] of audio files, and the [Repository] that keeps both in step.
//
// Audio files live under <root>/recordings/<YYYY-MM-DD>/<HH:00-HH+1:00>/ and
// are named after the capture start time (YYYYMMDD_HHmmss.m4a). The day and
// hour folders double as the navigation keys stored alongside each row.
//
// Rows are inserted once by the capture path and later updated in place by
// the enrichment pipeline (transcript first, then title).
package recording

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no recording exists for the requested id.
	ErrNotFound = errors.New("recording: not found")

	// ErrFileMissing is returned by [Repository.Save] when the audio file that
	// should back the new row does not exist on disk.
	ErrFileMissing = errors.New("recording: audio file missing")

	// ErrInvalidName is returned when a file name, day, or hour key does not
	// follow the storage naming convention.
	ErrInvalidName = errors.New("recording: invalid name")
)

// Recording is a persisted audio segment together with its enrichment
// results. Transcript and title fields are empty until the corresponding
// enrichment job has completed.
type Recording struct {
	ID            int64      `json:"id"`
	FileName      string     `json:"file_name"`
	FilePath      string     `json:"file_path"`
	DayFolder     string     `json:"day_folder"`
	HourFolder    string     `json:"hour_folder"`
	Timestamp     time.Time  `json:"timestamp"`
	DurationMs    int64      `json:"duration_ms"`
	FileSizeBytes int64      `json:"file_size_bytes"`
	Transcription string     `json:"transcription,omitempty"`
	TranscribedAt *time.Time `json:"transcribed_at,omitempty"`
	AITitle       string     `json:"ai_title,omitempty"`
	TitledAt      *time.Time `json:"titled_at,omitempty"`
}

// HasTranscript reports whether a transcript has been stored.
func (r Recording) HasTranscript() bool { return r.TranscribedAt != nil }

// DisplayTitle returns the generated title, or the capture time when no title
// exists yet.
func (r Recording) DisplayTitle() string {
	if r.AITitle != "" {
		return r.AITitle
	}
	return r.Timestamp.Format("15:04:05")
}

// DayStats aggregates the recordings of one day folder.
type DayStats struct {
	Count      int   `json:"count"`
	DurationMs int64 `json:"duration_ms"`
}

// Match is a recording returned by a similarity search with its distance to
// the query (lower is closer).
type Match struct {
	Recording Recording `json:"recording"`
	Distance  float64   `json:"distance"`
}

// Store is the row-level persistence contract. Implementations must be safe
// for concurrent use. Get returns [ErrNotFound] for unknown ids; list methods
// return an empty (non-nil) slice when nothing matches.
type Store interface {
	// Insert stores rec and returns the assigned id. rec.ID is ignored.
	Insert(ctx context.Context, rec Recording) (int64, error)

	// Update replaces the mutable fields of the row identified by rec.ID.
	Update(ctx context.Context, rec Recording) error

	Get(ctx context.Context, id int64) (Recording, error)

	// Days lists distinct day folders, newest first.
	Days(ctx context.Context) ([]string, error)

	// Hours lists the distinct hour folders of day, newest first.
	Hours(ctx context.Context, day string) ([]string, error)

	// InHour lists the recordings of one hour folder, newest first.
	InHour(ctx context.Context, day, hour string) ([]Recording, error)

	// ByDay lists every recording of a day folder, newest first.
	ByDay(ctx context.Context, day string) ([]Recording, error)

	Delete(ctx context.Context, id int64) error
	DeleteDay(ctx context.Context, day string) error
	DayStats(ctx context.Context, day string) (DayStats, error)

	// Search performs a case-insensitive substring match over titles and
	// transcripts, newest first, capped at limit rows.
	Search(ctx context.Context, query string, limit int) ([]Recording, error)

	Ping(ctx context.Context) error
	Close() error
}

// VectorIndex is implemented by stores that can persist transcript
// embeddings and answer nearest-neighbour queries over them.
type VectorIndex interface {
	IndexEmbedding(ctx context.Context, id int64, embedding []float32) error
	SemanticSearch(ctx context.Context, embedding []float32, limit int) ([]Match, error)
}
