package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxlog/pkg/recording"
	"github.com/MrWong99/voxlog/pkg/recording/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "db", "voxlog.sqlite"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sample(ts time.Time, durMs int64) recording.Recording {
	return recording.Recording{
		FileName:      recording.FileName(ts),
		FilePath:      "/tmp/" + recording.FileName(ts),
		DayFolder:     recording.DayFolder(ts),
		HourFolder:    recording.HourFolder(ts),
		Timestamp:     ts,
		DurationMs:    durMs,
		FileSizeBytes: 1024,
	}
}

func TestStore_InsertGetUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	ts := time.Date(2026, 3, 14, 9, 0, 5, 0, time.Local)

	id, err := s.Insert(ctx, sample(ts, 61_000))
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != id || !got.Timestamp.Equal(ts) || got.DurationMs != 61_000 {
		t.Errorf("Get() = %+v", got)
	}
	if got.TranscribedAt != nil || got.Transcription != "" {
		t.Errorf("fresh row has transcript: %+v", got)
	}

	at := ts.Add(time.Minute).Truncate(time.Millisecond)
	got.Transcription = "hello world"
	got.TranscribedAt = &at
	got.AITitle = "Hello"
	got.TitledAt = &at
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	again, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if again.Transcription != "hello world" || again.AITitle != "Hello" {
		t.Errorf("after Update = %+v", again)
	}
	if again.TranscribedAt == nil || !again.TranscribedAt.Equal(at) {
		t.Errorf("TranscribedAt = %v, want %v", again.TranscribedAt, at)
	}
}

func TestStore_NotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Get(ctx, 42); !errors.Is(err, recording.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if err := s.Update(ctx, recording.Recording{ID: 42}); !errors.Is(err, recording.ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestStore_Navigation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	times := []time.Time{
		base,
		base.Add(10 * time.Minute),
		base.Add(2 * time.Hour),
		base.AddDate(0, 0, 1),
	}
	for _, ts := range times {
		if _, err := s.Insert(ctx, sample(ts, 1000)); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}
	}

	days, err := s.Days(ctx)
	if err != nil {
		t.Fatalf("Days() error: %v", err)
	}
	if len(days) != 2 || days[0] != "2026-03-15" || days[1] != "2026-03-14" {
		t.Errorf("Days() = %v", days)
	}

	hours, err := s.Hours(ctx, "2026-03-14")
	if err != nil {
		t.Fatalf("Hours() error: %v", err)
	}
	if len(hours) != 2 || hours[0] != "11:00-12:00" || hours[1] != "09:00-10:00" {
		t.Errorf("Hours() = %v", hours)
	}

	recs, err := s.InHour(ctx, "2026-03-14", "09:00-10:00")
	if err != nil {
		t.Fatalf("InHour() error: %v", err)
	}
	if len(recs) != 2 || !recs[0].Timestamp.After(recs[1].Timestamp) {
		t.Errorf("InHour() not newest first: %+v", recs)
	}

	stats, err := s.DayStats(ctx, "2026-03-14")
	if err != nil {
		t.Fatalf("DayStats() error: %v", err)
	}
	if stats.Count != 3 || stats.DurationMs != 3000 {
		t.Errorf("DayStats() = %+v", stats)
	}

	empty, err := s.InHour(ctx, "2020-01-01", "00:00-01:00")
	if err != nil {
		t.Fatalf("InHour() error: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("InHour(empty) = %#v, want empty non-nil", empty)
	}

	if err := s.DeleteDay(ctx, "2026-03-14"); err != nil {
		t.Fatalf("DeleteDay() error: %v", err)
	}
	days, _ = s.Days(ctx)
	if len(days) != 1 {
		t.Errorf("Days() after DeleteDay = %v", days)
	}
}

func TestStore_Search(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)

	a := sample(base, 1000)
	a.Transcription = "we talked about the Budget review"
	b := sample(base.Add(time.Minute), 1000)
	b.AITitle = "Budget"
	c := sample(base.Add(2*time.Minute), 1000)
	c.Transcription = "lunch plans"
	for _, r := range []recording.Recording{a, b, c} {
		if _, err := s.Insert(ctx, r); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}
	}

	got, err := s.Search(ctx, "budget", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search() returned %d rows, want 2", len(got))
	}
	if got[0].AITitle != "Budget" {
		t.Errorf("Search() not newest first: %+v", got)
	}
}
