// Package monitor implements the voice-activity monitor: a single decision
// loop that samples the capture device, opens and closes probe and segment
// sessions, and hands finished segments to persistence.
//
// All decisions are made by the pure [Step] function. [Monitor] only turns
// its effects into device calls, so every timing rule can be tested without
// hardware by feeding events to Step directly.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxlog/internal/observe"
	"github.com/MrWong99/voxlog/internal/status"
	"github.com/MrWong99/voxlog/pkg/capture"
	"github.com/MrWong99/voxlog/pkg/recording"
)

// ErrRunning is returned by [Monitor.Run] while another Run is active.
var ErrRunning = errors.New("monitor: already running")

// Clock supplies the loop's notion of time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Segment is a closed segment that qualified for persistence.
type Segment struct {
	Path      string
	StartedAt time.Time
	Result    capture.Result
}

// SegmentSink persists qualifying segments. When Persist fails the monitor
// deletes the segment file.
type SegmentSink interface {
	Persist(ctx context.Context, seg Segment) error
}

// Publisher receives status events.
type Publisher interface {
	Publish(ev status.Event)
}

// PathFunc returns the destination for a segment starting at t and makes
// sure its folder exists.
type PathFunc func(t time.Time) (string, error)

// Config holds the dependencies of a [Monitor].
type Config struct {
	// Device is the capture device. Required.
	Device capture.Device

	// Sink receives qualifying segments. Required.
	Sink SegmentSink

	// Paths names segment files. Required.
	Paths PathFunc

	// Publisher receives status events. May be nil.
	Publisher Publisher

	// ScratchDir holds probe files. Defaults to os.TempDir().
	ScratchDir string

	// Params are the decision parameters. Zero fields take defaults.
	Params Params

	// Clock defaults to the wall clock.
	Clock Clock

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type openSegment struct {
	sess    capture.Session
	path    string
	started time.Time
}

// Monitor runs the decision loop. Run may be called again after it returns.
// State, Params and SetParams are safe for concurrent use.
type Monitor struct {
	dev     capture.Device
	sink    SegmentSink
	paths   PathFunc
	pub     Publisher
	scratch string
	clock   Clock
	metrics *observe.Metrics

	running atomic.Bool

	mu     sync.Mutex
	params Params
	snap   Snapshot

	// Owned by the Run goroutine.
	probe     capture.Session
	probePath string
	seg       *openSegment
}

// New validates cfg and creates a Monitor in the Idle state.
func New(cfg Config) (*Monitor, error) {
	if cfg.Device == nil {
		return nil, errors.New("monitor: device is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("monitor: segment sink is required")
	}
	if cfg.Paths == nil {
		return nil, errors.New("monitor: path func is required")
	}
	params := cfg.Params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	m := &Monitor{
		dev:     cfg.Device,
		sink:    cfg.Sink,
		paths:   cfg.Paths,
		pub:     cfg.Publisher,
		scratch: cfg.ScratchDir,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		params:  params,
	}
	if m.scratch == "" {
		m.scratch = os.TempDir()
	}
	if m.clock == nil {
		m.clock = systemClock{}
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m, nil
}

// State returns the current capture state.
func (m *Monitor) State() CaptureState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.State
}

// Snapshot returns a copy of the full decision state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Params returns the active parameters.
func (m *Monitor) Params() Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

// SetParams replaces the parameters. They apply from the next event.
func (m *Monitor) SetParams(p Params) error {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.params = p
	m.mu.Unlock()
	slog.Info("monitor: parameters updated",
		"volume_threshold", p.VolumeThreshold,
		"silence_timeout", p.SilenceTimeout,
	)
	return nil
}

// Run drives the loop until ctx is cancelled, then closes any open session
// and returns to Idle. Errors inside an iteration are logged, never returned.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer m.running.Store(false)

	if n, err := recording.RemoveProbes(m.scratch); err != nil {
		slog.Warn("monitor: failed to clean stale probes", "dir", m.scratch, "err", err)
	} else if n > 0 {
		slog.Debug("monitor: removed stale probes", "count", n)
	}

	m.apply(ctx, Started{At: m.clock.Now()})
	for ctx.Err() == nil {
		m.apply(ctx, Sampled{At: m.clock.Now(), Amplitude: m.sample()})

		select {
		case <-ctx.Done():
		case <-m.clock.After(m.Params().CheckInterval):
		}
	}
	m.apply(context.WithoutCancel(ctx), Stopped{At: m.clock.Now()})
	return nil
}

// sample reads the open session. Read failures count as silence.
func (m *Monitor) sample() uint16 {
	sess := m.probe
	if m.seg != nil {
		sess = m.seg.sess
	}
	if sess == nil {
		return 0
	}
	amp, err := sess.SampleAmplitude()
	if err != nil {
		slog.Debug("monitor: amplitude read failed", "err", err)
		return 0
	}
	return amp
}

func (m *Monitor) apply(ctx context.Context, ev Event) {
	m.mu.Lock()
	prev := m.snap
	next, effects := Step(prev, m.params, ev)
	m.snap = next
	params := m.params
	m.mu.Unlock()

	if prev.State != next.State {
		m.metrics.RecordTransition(ctx, prev.State.String(), next.State.String())
		slog.Debug("monitor: state changed", "from", prev.State, "to", next.State)
	}
	for _, eff := range effects {
		m.execute(ctx, params, eff)
	}
}

func (m *Monitor) execute(ctx context.Context, p Params, eff Effect) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("monitor: effect panicked", "effect", fmt.Sprintf("%T", eff), "panic", r)
		}
	}()

	switch e := eff.(type) {
	case OpenProbe:
		m.openProbe(ctx, e.At)
	case CloseProbe:
		m.closeProbe(ctx, e.Recycle)
	case OpenSegment:
		m.openSegment(ctx, e.At)
	case CloseSegment:
		m.closeSegment(ctx, p)
	case Publish:
		// A failed open earlier in the batch may have moved the state on.
		if cur := m.State(); cur != e.State {
			slog.Debug("monitor: dropped stale publish", "state", e.State, "current", cur)
			return
		}
		m.publish(status.Event{Kind: status.KindState, State: e.State.String(), Message: e.Message})
	case Progress:
		m.publish(status.Event{
			Kind:      status.KindProgress,
			State:     Recording.String(),
			Message:   ProgressMessage(e.Elapsed),
			ElapsedMs: e.Elapsed.Milliseconds(),
		})
	}
}

func (m *Monitor) openProbe(ctx context.Context, at time.Time) {
	path := recording.ProbePath(m.scratch, at)
	sess, err := m.dev.Open(ctx, path)
	if err != nil {
		m.openFailed(ctx, TargetProbe, at, path, err)
		return
	}
	m.probe, m.probePath = sess, path
}

func (m *Monitor) closeProbe(ctx context.Context, recycle bool) {
	if m.probe == nil {
		return
	}
	if _, err := m.probe.Close(); err != nil {
		slog.Warn("monitor: probe close failed", "err", err)
	}
	removeFile(m.probePath)
	m.probe, m.probePath = nil, ""
	if recycle {
		m.metrics.ProbeRecycles.Add(ctx, 1)
		slog.Debug("monitor: probe recycled")
	}
}

func (m *Monitor) openSegment(ctx context.Context, at time.Time) {
	path, err := m.paths(at)
	if err != nil {
		m.openFailed(ctx, TargetSegment, at, "", err)
		return
	}
	sess, err := m.dev.Open(ctx, path)
	if err != nil {
		m.openFailed(ctx, TargetSegment, at, path, err)
		return
	}
	m.seg = &openSegment{sess: sess, path: path, started: at}
	slog.Info("monitor: segment opened", "path", path)
}

func (m *Monitor) openFailed(ctx context.Context, target Target, at time.Time, path string, err error) {
	m.metrics.RecordOpenFailure(ctx, target.String())
	slog.Warn("monitor: capture open failed", "target", target, "path", path, "err", err)
	if path != "" {
		removeFile(path)
	}
	m.apply(ctx, OpenFailed{At: at, Target: target})
}

func (m *Monitor) closeSegment(ctx context.Context, p Params) {
	seg := m.seg
	if seg == nil {
		return
	}
	m.seg = nil

	res, err := seg.sess.Close()
	if err != nil {
		slog.Error("monitor: segment close failed", "path", seg.path, "err", err)
		m.metrics.RecordSegment(ctx, "failed", 0)
		removeFile(seg.path)
		return
	}
	if !Qualifies(res, p.MinRecording) {
		slog.Info("monitor: segment discarded",
			"path", seg.path,
			"duration_ms", res.DurationMs,
			"file_size_bytes", res.FileSizeBytes,
		)
		m.metrics.RecordSegment(ctx, "discarded", 0)
		removeFile(seg.path)
		return
	}
	if err := m.sink.Persist(ctx, Segment{Path: seg.path, StartedAt: seg.started, Result: res}); err != nil {
		slog.Error("monitor: failed to persist segment", "path", seg.path, "err", err)
		m.metrics.RecordSegment(ctx, "failed", 0)
		removeFile(seg.path)
		return
	}
	m.metrics.RecordSegment(ctx, "persisted", time.Duration(res.DurationMs)*time.Millisecond)
	slog.Info("monitor: segment persisted", "path", seg.path, "duration_ms", res.DurationMs)
}

func (m *Monitor) publish(ev status.Event) {
	if m.pub != nil {
		m.pub.Publish(ev)
	}
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("monitor: failed to remove file", "path", path, "err", err)
	}
}
