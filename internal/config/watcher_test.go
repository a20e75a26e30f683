package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxlog/internal/config"
)

const (
	quietDoc = `
server:
  log_level: info
monitor:
  volume_threshold: 100
`
	loudDoc = `
server:
  log_level: debug
monitor:
  volume_threshold: 400
  silence_timeout: 30s
`
	brokenDoc = `
monitor:
  silence_timeout: 7s
`
)

// changes records every onChange invocation.
type changes struct {
	mu    sync.Mutex
	pairs [][2]*config.Config
	seen  chan struct{}
}

func newChanges() *changes {
	return &changes{seen: make(chan struct{}, 16)}
}

func (c *changes) record(old, new *config.Config) {
	c.mu.Lock()
	c.pairs = append(c.pairs, [2]*config.Config{old, new})
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pairs)
}

func (c *changes) last() (old, new *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pairs[len(c.pairs)-1]
	return p[0], p[1]
}

// configFile writes doc to a fresh temp file and returns its path.
func configFile(t *testing.T, doc string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "voxlog.yaml")
	rewrite(t, p, doc)
	return p
}

func rewrite(t *testing.T, path, doc string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile(%q) error: %v", path, err)
	}
}

// manualWatcher returns a watcher whose poller effectively never fires, so
// only explicit Reload calls observe the file.
func manualWatcher(t *testing.T, path string, c *changes) *config.Watcher {
	t.Helper()
	w, err := config.NewWatcher(path, c.record, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestNewWatcher_LoadsInitialConfig(t *testing.T) {
	t.Parallel()
	w := manualWatcher(t, configFile(t, quietDoc), newChanges())

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil")
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Monitor.Params().VolumeThreshold != 100 {
		t.Errorf("Current() = level %q threshold %d", cfg.Server.LogLevel, cfg.Monitor.Params().VolumeThreshold)
	}
}

func TestNewWatcher_Errors(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"missing file": filepath.Join(t.TempDir(), "absent.yaml"),
		"invalid file": configFile(t, brokenDoc),
	}
	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := config.NewWatcher(path, nil); err == nil {
				t.Error("NewWatcher() expected error")
			}
		})
	}
}

func TestWatcher_ReloadReportsOnlyContentChanges(t *testing.T) {
	t.Parallel()
	path := configFile(t, quietDoc)
	c := newChanges()
	w := manualWatcher(t, path, c)

	// Same bytes, new mtime.
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes() error: %v", err)
	}
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if n := c.count(); n != 0 {
		t.Fatalf("touch without edit produced %d callbacks", n)
	}

	rewrite(t, path, loudDoc)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if n := c.count(); n != 1 {
		t.Fatalf("callbacks after edit = %d, want 1", n)
	}
	old, cur := c.last()
	if old.Server.LogLevel != config.LogInfo || cur.Server.LogLevel != config.LogDebug {
		t.Errorf("callback levels = %q -> %q", old.Server.LogLevel, cur.Server.LogLevel)
	}
	d := config.Diff(old, cur)
	if !d.LogLevelChanged || !d.VolumeThresholdChanged || !d.SilenceTimeoutChanged {
		t.Errorf("Diff() = %+v, want level, threshold and silence changes", d)
	}
	if w.Current() != cur {
		t.Error("Current() does not return the config passed to the callback")
	}
}

func TestWatcher_ReloadKeepsConfigOnError(t *testing.T) {
	t.Parallel()
	path := configFile(t, loudDoc)
	c := newChanges()
	w := manualWatcher(t, path, c)
	before := w.Current()

	rewrite(t, path, brokenDoc)
	if err := w.Reload(); err == nil {
		t.Fatal("Reload() of an invalid file: expected error")
	}
	if w.Current() != before {
		t.Error("Current() changed after a failed reload")
	}
	if n := c.count(); n != 0 {
		t.Errorf("failed reload produced %d callbacks", n)
	}

	// A fix after the failure is picked up normally.
	rewrite(t, path, quietDoc)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() level = %q after fix", w.Current().Server.LogLevel)
	}
}

func TestWatcher_PollsForChanges(t *testing.T) {
	t.Parallel()
	path := configFile(t, quietDoc)
	c := newChanges()
	w, err := config.NewWatcher(path, c.record, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Stop()

	// Push the mtime forward so coarse filesystem timestamps still differ.
	rewrite(t, path, loudDoc)
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes() error: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for w.Current().Monitor.Params().VolumeThreshold != 400 {
		select {
		case <-c.seen:
		case <-deadline:
			t.Fatal("poller did not report the edit")
		}
	}

	w.Stop()
	w.Stop()
}
