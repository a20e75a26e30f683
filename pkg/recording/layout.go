package recording

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// Ext is the container extension of every stored segment.
	Ext = ".m4a"

	dirName      = "recordings"
	dayLayout    = "2006-01-02"
	fileLayout   = "20060102_150405"
	probePattern = "temp_*" + Ext
)

// DayFolder returns the day bucket for t, e.g. "2026-03-14".
func DayFolder(t time.Time) string { return t.Format(dayLayout) }

// HourFolder returns the one-hour bucket for t, e.g. "09:00-10:00". The
// bucket of 23h wraps to "23:00-00:00".
func HourFolder(t time.Time) string {
	h := t.Hour()
	return fmt.Sprintf("%02d:00-%02d:00", h, (h+1)%24)
}

// FileName returns the segment file name for a capture started at t.
func FileName(t time.Time) string { return t.Format(fileLayout) + Ext }

// ParseFileName recovers the capture start time encoded in name. The time is
// interpreted in the local zone, matching [FileName].
func ParseFileName(name string) (time.Time, error) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, Ext) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	t, err := time.ParseInLocation(fileLayout, strings.TrimSuffix(base, Ext), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidName, name, err)
	}
	return t, nil
}

// ValidDay reports whether day is a well-formed day folder key.
func ValidDay(day string) bool {
	_, err := time.Parse(dayLayout, day)
	return err == nil
}

// ValidHour reports whether hour is a well-formed hour folder key.
func ValidHour(hour string) bool {
	var from, to int
	if n, err := fmt.Sscanf(hour, "%02d:00-%02d:00", &from, &to); err != nil || n != 2 {
		return false
	}
	return from >= 0 && from < 24 && to == (from+1)%24 && len(hour) == len("00:00-01:00")
}

// Layout maps capture times to paths below a root directory.
type Layout struct {
	Root string
}

// Dir returns the directory holding all day folders.
func (l Layout) Dir() string { return filepath.Join(l.Root, dirName) }

// DayDir returns the folder of one day.
func (l Layout) DayDir(day string) string { return filepath.Join(l.Dir(), day) }

// HourDir returns the folder of one hour bucket.
func (l Layout) HourDir(day, hour string) string { return filepath.Join(l.Dir(), day, hour) }

// PathFor returns the file path for a capture started at t without touching
// the file system.
func (l Layout) PathFor(t time.Time) string {
	return filepath.Join(l.HourDir(DayFolder(t), HourFolder(t)), FileName(t))
}

// FileFor resolves a segment file name back to its full path.
func (l Layout) FileFor(name string) (string, error) {
	t, err := ParseFileName(name)
	if err != nil {
		return "", err
	}
	return l.PathFor(t), nil
}

// NewFilePath creates the day and hour folders for t and returns the path the
// segment should be written to.
func (l Layout) NewFilePath(t time.Time) (string, error) {
	p := l.PathFor(t)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("recording: create folders: %w", err)
	}
	return p, nil
}

// CleanEmptyFolders removes the hour folder and then the day folder when
// they no longer contain anything.
func (l Layout) CleanEmptyFolders(day, hour string) error {
	for _, dir := range []string{l.HourDir(day, hour), l.DayDir(day)} {
		empty, err := isEmptyDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("recording: inspect %q: %w", dir, err)
		}
		if !empty {
			return nil
		}
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("recording: remove %q: %w", dir, err)
		}
	}
	return nil
}

// StorageUsed returns the summed size of all stored segment files.
func (l Layout) StorageUsed() (int64, error) {
	var total int64
	err := filepath.WalkDir(l.Dir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), Ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recording: storage used: %w", err)
	}
	return total, nil
}

// ProbePath returns a scratch path in dir for a discardable probe capture.
func ProbePath(dir string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("temp_%d%s", t.UnixMilli(), Ext))
}

// RemoveProbes deletes leftover probe files from dir and returns how many
// were removed.
func RemoveProbes(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, probePattern))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			n++
		}
	}
	return n, nil
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
