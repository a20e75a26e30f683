package recording

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Repository combines a row [Store] with the file [Layout] so that rows and
// audio files are created and removed together. It is safe for concurrent
// use when the underlying Store is.
type Repository struct {
	store  Store
	layout Layout
	now    func() time.Time
}

// RepositoryOption configures a [Repository].
type RepositoryOption func(*Repository)

// WithNow overrides the wall clock used for "today" queries.
func WithNow(now func() time.Time) RepositoryOption {
	return func(r *Repository) { r.now = now }
}

// NewRepository returns a Repository over store and layout.
func NewRepository(store Store, layout Layout, opts ...RepositoryOption) *Repository {
	r := &Repository{store: store, layout: layout, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Layout returns the file layout used by the repository.
func (r *Repository) Layout() Layout { return r.layout }

// Store returns the underlying row store.
func (r *Repository) Store() Store { return r.store }

// Save inserts a row for the segment file fileName, which must already exist
// under the layout. Day, hour, and timestamp are derived from the file name.
func (r *Repository) Save(ctx context.Context, fileName string, durationMs, sizeBytes int64) (Recording, error) {
	ts, err := ParseFileName(fileName)
	if err != nil {
		return Recording{}, err
	}
	path := r.layout.PathFor(ts)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Recording{}, fmt.Errorf("%w: %s", ErrFileMissing, path)
		}
		return Recording{}, fmt.Errorf("recording: stat %q: %w", path, err)
	}

	rec := Recording{
		FileName:      FileName(ts),
		FilePath:      path,
		DayFolder:     DayFolder(ts),
		HourFolder:    HourFolder(ts),
		Timestamp:     ts,
		DurationMs:    durationMs,
		FileSizeBytes: sizeBytes,
	}
	id, err := r.store.Insert(ctx, rec)
	if err != nil {
		return Recording{}, fmt.Errorf("recording: save %q: %w", fileName, err)
	}
	rec.ID = id
	return rec, nil
}

// Get returns one recording by id.
func (r *Repository) Get(ctx context.Context, id int64) (Recording, error) {
	return r.store.Get(ctx, id)
}

// Update persists enrichment results for rec.
func (r *Repository) Update(ctx context.Context, rec Recording) error {
	if err := r.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("recording: update %d: %w", rec.ID, err)
	}
	return nil
}

// SetTranscript stores text as the transcript of id.
func (r *Repository) SetTranscript(ctx context.Context, id int64, text string) (Recording, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return Recording{}, err
	}
	now := r.now()
	rec.Transcription = text
	rec.TranscribedAt = &now
	return rec, r.Update(ctx, rec)
}

// SetTitle stores title as the generated title of id.
func (r *Repository) SetTitle(ctx context.Context, id int64, title string) (Recording, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return Recording{}, err
	}
	now := r.now()
	rec.AITitle = title
	rec.TitledAt = &now
	return rec, r.Update(ctx, rec)
}

// Days lists day folders that have at least one recording, newest first.
func (r *Repository) Days(ctx context.Context) ([]string, error) { return r.store.Days(ctx) }

// Hours lists the hour folders of day, newest first.
func (r *Repository) Hours(ctx context.Context, day string) ([]string, error) {
	if !ValidDay(day) {
		return nil, fmt.Errorf("%w: day %q", ErrInvalidName, day)
	}
	return r.store.Hours(ctx, day)
}

// InHour lists the recordings of one hour folder, newest first.
func (r *Repository) InHour(ctx context.Context, day, hour string) ([]Recording, error) {
	if !ValidDay(day) || !ValidHour(hour) {
		return nil, fmt.Errorf("%w: %q/%q", ErrInvalidName, day, hour)
	}
	return r.store.InHour(ctx, day, hour)
}

// Search runs a substring search over titles and transcripts.
func (r *Repository) Search(ctx context.Context, query string, limit int) ([]Recording, error) {
	return r.store.Search(ctx, query, limit)
}

// Delete removes the audio file, the row, and any folders left empty.
// A file that is already gone is not an error.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := os.Remove(rec.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("recording: remove file %q: %w", rec.FilePath, err)
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("recording: delete %d: %w", id, err)
	}
	return r.layout.CleanEmptyFolders(rec.DayFolder, rec.HourFolder)
}

// DeleteDay removes every recording of day, both files and rows, and the
// day folder itself. It returns the number of rows removed.
func (r *Repository) DeleteDay(ctx context.Context, day string) (int, error) {
	if !ValidDay(day) {
		return 0, fmt.Errorf("%w: day %q", ErrInvalidName, day)
	}
	recs, err := r.store.ByDay(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("recording: list day %s: %w", day, err)
	}
	if err := r.store.DeleteDay(ctx, day); err != nil {
		return 0, fmt.Errorf("recording: delete day %s: %w", day, err)
	}
	if err := os.RemoveAll(r.layout.DayDir(day)); err != nil {
		return len(recs), fmt.Errorf("recording: remove day folder %s: %w", day, err)
	}
	return len(recs), nil
}

// TodayStats aggregates the recordings of the current local day.
func (r *Repository) TodayStats(ctx context.Context) (DayStats, error) {
	return r.store.DayStats(ctx, DayFolder(r.now()))
}

// StorageUsed returns the bytes occupied by segment files.
func (r *Repository) StorageUsed() (int64, error) { return r.layout.StorageUsed() }
