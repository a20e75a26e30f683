package monitor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxlog/internal/monitor"
	"github.com/MrWong99/voxlog/internal/status"
	"github.com/MrWong99/voxlog/pkg/capture"
	capturemock "github.com/MrWong99/voxlog/pkg/capture/mock"
	"github.com/MrWong99/voxlog/pkg/recording"
)

// fakeClock advances virtual time on every After call until limit is
// reached; the call that would pass limit blocks forever and closes parked.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	limit  time.Time
	parked chan struct{}
	closed bool
}

func newFakeClock(limitMs int) *fakeClock {
	return &fakeClock{now: at(0), limit: at(limitMs), parked: make(chan struct{})}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.Add(d).After(c.limit) {
		if !c.closed {
			close(c.parked)
			c.closed = true
		}
		return nil
	}
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type sink struct {
	mu   sync.Mutex
	segs []monitor.Segment
	err  error
}

func (s *sink) Persist(_ context.Context, seg monitor.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segs = append(s.segs, seg)
	return s.err
}

func (s *sink) segments() []monitor.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]monitor.Segment(nil), s.segs...)
}

type eventLog struct {
	mu  sync.Mutex
	evs []status.Event
}

func (l *eventLog) Publish(ev status.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evs = append(l.evs, ev)
}

func (l *eventLog) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.evs))
	for _, ev := range l.evs {
		out = append(out, ev.Message)
	}
	return out
}

type harness struct {
	dev     *capturemock.Device
	clock   *fakeClock
	sink    *sink
	events  *eventLog
	mon     *monitor.Monitor
	root    string
	scratch string
}

func newHarness(t *testing.T, dev *capturemock.Device, limitMs int) *harness {
	t.Helper()
	h := &harness{
		dev:     dev,
		clock:   newFakeClock(limitMs),
		sink:    &sink{},
		events:  &eventLog{},
		root:    t.TempDir(),
		scratch: t.TempDir(),
	}
	dev.Clock = h.clock.Now
	dev.CreateFiles = true
	if dev.FileSize == 0 {
		dev.FileSize = 128
	}
	layout := recording.Layout{Root: h.root}
	mon, err := monitor.New(monitor.Config{
		Device:     dev,
		Sink:       h.sink,
		Paths:      layout.NewFilePath,
		Publisher:  h.events,
		ScratchDir: h.scratch,
		Params:     testParams(),
		Clock:      h.clock,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	h.mon = mon
	return h
}

// run starts the loop, waits until virtual time reaches the limit, then
// stops it.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.mon.Run(ctx) }()

	select {
	case <-h.clock.parked:
	case <-time.After(5 * time.Second):
		t.Fatal("loop never reached the time limit")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func (h *harness) assertReleased(t *testing.T) {
	t.Helper()
	if got := h.mon.State(); got != monitor.Idle {
		t.Errorf("State() = %v, want idle", got)
	}
	if n := h.dev.OpenCount(); n != 0 {
		t.Errorf("%d sessions left open", n)
	}
	if n := h.dev.MaxConcurrent(); n > 1 {
		t.Errorf("MaxConcurrent() = %d, want at most 1", n)
	}
	probes, _ := filepath.Glob(filepath.Join(h.scratch, "temp_*.m4a"))
	if len(probes) != 0 {
		t.Errorf("probe files left behind: %v", probes)
	}
}

func containsInOrder(got []string, want ...string) bool {
	i := 0
	for _, g := range got {
		if i < len(want) && g == want[i] {
			i++
		}
	}
	return i == len(want)
}

func TestRun_SegmentClosesAfterSilence(t *testing.T) {
	t.Parallel()

	// Onset at index 3 opens the segment at t=1000; the last sound is at
	// t=1200 and the burst boundary at t=7000 sees 5.8s of silence.
	dev := &capturemock.Device{Script: []uint16{0, 0, 0, 150, 150, 150, 150}}
	h := newHarness(t, dev, 8000)
	h.run(t)

	segs := h.sink.segments()
	if len(segs) != 1 {
		t.Fatalf("persisted %d segments, want 1", len(segs))
	}
	seg := segs[0]
	if seg.Result.DurationMs != 6000 {
		t.Errorf("DurationMs = %d, want 6000", seg.Result.DurationMs)
	}
	if seg.Result.FileSizeBytes != 128 {
		t.Errorf("FileSizeBytes = %d, want 128", seg.Result.FileSizeBytes)
	}
	if !seg.StartedAt.Equal(at(1000)) {
		t.Errorf("StartedAt = %v, want t=1000", seg.StartedAt)
	}
	if want := (recording.Layout{Root: h.root}).PathFor(at(1000)); seg.Path != want {
		t.Errorf("Path = %q, want %q", seg.Path, want)
	}
	if _, err := os.Stat(seg.Path); err != nil {
		t.Errorf("persisted file missing: %v", err)
	}

	msgs := h.events.messages()
	if !containsInOrder(msgs, "started monitoring", "started recording", "recording... 2s", "recording... 4s", "back to monitoring", "stopped") {
		t.Errorf("status messages = %q", msgs)
	}
	h.assertReleased(t)
}

func TestRun_StopDiscardsShortSegment(t *testing.T) {
	t.Parallel()

	// Recording starts at t=600 and is stopped at t=1600, 1s in.
	dev := &capturemock.Device{Script: []uint16{150, 150, 150, 150}, After: 150}
	h := newHarness(t, dev, 1600)
	h.run(t)

	if segs := h.sink.segments(); len(segs) != 0 {
		t.Fatalf("persisted %d segments, want none", len(segs))
	}
	paths := h.dev.Paths()
	last := paths[len(paths)-1]
	if _, err := os.Stat(last); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("short segment file still present: %v", err)
	}
	h.assertReleased(t)
}

func TestRun_StopPersistsQualifyingSegment(t *testing.T) {
	t.Parallel()

	dev := &capturemock.Device{Script: []uint16{150, 150, 150, 150}, After: 150}
	h := newHarness(t, dev, 3000)
	h.run(t)

	segs := h.sink.segments()
	if len(segs) != 1 {
		t.Fatalf("persisted %d segments, want 1", len(segs))
	}
	if segs[0].Result.DurationMs != 2400 {
		t.Errorf("DurationMs = %d, want 2400", segs[0].Result.DurationMs)
	}
	h.assertReleased(t)
}

func TestRun_EmptyFileIsDiscarded(t *testing.T) {
	t.Parallel()

	dev := &capturemock.Device{Script: []uint16{150, 150, 150, 150}, After: 150}
	h := newHarness(t, dev, 3000)
	dev.CreateFiles = false
	dev.Result = capture.Result{FileSizeBytes: 0}
	h.run(t)

	if segs := h.sink.segments(); len(segs) != 0 {
		t.Errorf("persisted %d empty segments", len(segs))
	}
}

func TestRun_PersistFailureRemovesFile(t *testing.T) {
	t.Parallel()

	dev := &capturemock.Device{Script: []uint16{150, 150, 150, 150}, After: 150}
	h := newHarness(t, dev, 3000)
	h.sink.err = errors.New("disk full")
	h.run(t)

	segs := h.sink.segments()
	if len(segs) != 1 {
		t.Fatalf("Persist called %d times, want 1", len(segs))
	}
	if _, err := os.Stat(segs[0].Path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file of failed segment still present: %v", err)
	}
	h.assertReleased(t)
}

func TestRun_SegmentOpenFailureFallsBack(t *testing.T) {
	t.Parallel()

	dev := &capturemock.Device{
		Script:   []uint16{150, 150, 150, 150},
		OpenErrs: []error{nil, capture.ErrHardwareUnavailable},
	}
	h := newHarness(t, dev, 1000)
	h.run(t)

	if got := dev.CallCount("Open"); got != 3 {
		t.Errorf("Open called %d times, want 3 (probe, failed segment, probe)", got)
	}
	if segs := h.sink.segments(); len(segs) != 0 {
		t.Errorf("persisted %d segments, want none", len(segs))
	}
	msgs := h.events.messages()
	if !containsInOrder(msgs, "started monitoring", "stopped") {
		t.Errorf("status messages = %q", msgs)
	}
	for _, m := range msgs {
		if m == "started recording" || m == "back to monitoring" {
			t.Errorf("failed segment open announced %q; messages = %q", m, msgs)
		}
	}
	h.assertReleased(t)
}

func TestRun_ReadErrorsCountAsSilence(t *testing.T) {
	t.Parallel()

	boom := errors.New("read failed")
	dev := &capturemock.Device{
		Script:     []uint16{150, 150, 150, 150},
		SampleErrs: map[int]error{2: boom},
	}
	h := newHarness(t, dev, 1000)
	h.run(t)

	if got := dev.CallCount("Open"); got != 1 {
		t.Errorf("Open called %d times, want only the probe", got)
	}
	h.assertReleased(t)
}

func TestRun_ProbeRecycling(t *testing.T) {
	t.Parallel()

	dev := &capturemock.Device{}
	h := newHarness(t, dev, 10000)
	h.run(t)

	// Initial probe plus recycles at t=5000 and t=10000.
	if got := dev.CallCount("Open"); got != 3 {
		t.Errorf("Open called %d times, want 3", got)
	}
	h.assertReleased(t)
}

func TestRun_Restartable(t *testing.T) {
	t.Parallel()

	dev := &capturemock.Device{}
	h := newHarness(t, dev, 400)
	h.run(t)

	h.clock.mu.Lock()
	h.clock.limit = h.clock.now.Add(400 * time.Millisecond)
	h.clock.parked = make(chan struct{})
	h.clock.closed = false
	h.clock.mu.Unlock()
	h.run(t)

	if got := dev.CallCount("Open"); got != 2 {
		t.Errorf("Open called %d times, want one probe per run", got)
	}
	h.assertReleased(t)
}

func TestRun_Concurrent(t *testing.T) {
	t.Parallel()

	dev := &capturemock.Device{}
	h := newHarness(t, dev, 200)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.mon.Run(ctx) }()
	<-h.clock.parked

	if err := h.mon.Run(ctx); !errors.Is(err, monitor.ErrRunning) {
		t.Errorf("second Run() error = %v, want ErrRunning", err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error: %v", err)
	}
}

func TestSetParams(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &capturemock.Device{}, 0)
	p := h.mon.Params()
	p.VolumeThreshold = 400
	p.SilenceTimeout = 30 * time.Second
	if err := h.mon.SetParams(p); err != nil {
		t.Fatalf("SetParams() error: %v", err)
	}
	if got := h.mon.Params(); got.VolumeThreshold != 400 || got.SilenceTimeout != 30*time.Second {
		t.Errorf("Params() = %+v", got)
	}

	p.BurstSize = -1
	if err := h.mon.SetParams(p); err == nil {
		t.Error("SetParams() with invalid burst size returned nil")
	}
	if got := h.mon.Params().BurstSize; got != monitor.DefaultBurstSize {
		t.Errorf("BurstSize = %d after rejected update", got)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	layout := recording.Layout{Root: t.TempDir()}
	tests := []struct {
		name string
		cfg  monitor.Config
	}{
		{name: "no device", cfg: monitor.Config{Sink: &sink{}, Paths: layout.NewFilePath}},
		{name: "no sink", cfg: monitor.Config{Device: &capturemock.Device{}, Paths: layout.NewFilePath}},
		{name: "no paths", cfg: monitor.Config{Device: &capturemock.Device{}, Sink: &sink{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := monitor.New(tt.cfg); err == nil {
				t.Error("New() returned nil error")
			}
		})
	}
}

func TestQualifies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		res  capture.Result
		want bool
	}{
		{capture.Result{DurationMs: 2000, FileSizeBytes: 1}, true},
		{capture.Result{DurationMs: 1999, FileSizeBytes: 1 << 20}, false},
		{capture.Result{DurationMs: 60000, FileSizeBytes: 0}, false},
	}
	for _, tt := range tests {
		if got := monitor.Qualifies(tt.res, 2*time.Second); got != tt.want {
			t.Errorf("Qualifies(%+v) = %v, want %v", tt.res, got, tt.want)
		}
	}
}
