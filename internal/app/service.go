package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxlog/internal/enrich"
	"github.com/MrWong99/voxlog/internal/monitor"
	"github.com/MrWong99/voxlog/internal/observe"
	"github.com/MrWong99/voxlog/internal/power"
	"github.com/MrWong99/voxlog/internal/status"
	"github.com/MrWong99/voxlog/pkg/capture"
	"github.com/MrWong99/voxlog/pkg/recording"
)

// Enricher receives persisted recordings. [*enrich.Coordinator] implements it.
type Enricher interface {
	Submit(rec recording.Recording) *enrich.Task
	Stop(policy enrich.StopPolicy) int
}

// ServiceConfig holds all dependencies for a [Service].
type ServiceConfig struct {
	Device     capture.Device
	Repository *recording.Repository
	Enricher   Enricher
	Hub        *status.Hub

	// Power defaults to a no-op lock.
	Power   power.Lock
	MaxHold time.Duration

	Params     monitor.Params
	ScratchDir string
	StopPolicy enrich.StopPolicy

	// Clock is passed to the monitor; nil uses the wall clock.
	Clock   monitor.Clock
	Metrics *observe.Metrics
}

// Service owns the start/stop lifecycle of capturing. Only one capture run is
// active at a time. All exported methods are safe for concurrent use.
type Service struct {
	mon      *monitor.Monitor
	keeper   *power.Keeper
	hub      *status.Hub
	repo     *recording.Repository
	enricher Enricher
	policy   atomic.Value // enrich.StopPolicy

	// mu serialises Start and Stop.
	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	saved atomic.Int64
}

// sinkFunc adapts a function to [monitor.SegmentSink].
type sinkFunc func(ctx context.Context, seg monitor.Segment) error

func (f sinkFunc) Persist(ctx context.Context, seg monitor.Segment) error { return f(ctx, seg) }

// NewService builds the monitor and wires its segments into the repository
// and the enricher.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, errors.New("app: repository is required")
	}
	if cfg.Enricher == nil {
		return nil, errors.New("app: enricher is required")
	}
	if cfg.Hub == nil {
		cfg.Hub = status.NewHub()
	}
	if cfg.Power == nil {
		cfg.Power = &power.Noop{}
	}
	policy := cfg.StopPolicy
	if policy == "" {
		policy = enrich.StopDetach
	}

	s := &Service{
		keeper:   power.NewKeeper(cfg.Power, cfg.MaxHold),
		hub:      cfg.Hub,
		repo:     cfg.Repository,
		enricher: cfg.Enricher,
	}
	s.policy.Store(policy)

	layout := cfg.Repository.Layout()
	mon, err := monitor.New(monitor.Config{
		Device:     cfg.Device,
		Sink:       sinkFunc(s.persist),
		Paths:      layout.NewFilePath,
		Publisher:  cfg.Hub,
		ScratchDir: cfg.ScratchDir,
		Params:     cfg.Params,
		Clock:      cfg.Clock,
		Metrics:    cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	s.mon = mon
	return s, nil
}

// persist saves a qualifying segment and hands it to enrichment. The
// monitor deletes the file when this fails.
func (s *Service) persist(ctx context.Context, seg monitor.Segment) error {
	rec, err := s.repo.Save(ctx, filepath.Base(seg.Path), seg.Result.DurationMs, seg.Result.FileSizeBytes)
	if err != nil {
		return fmt.Errorf("app: save segment: %w", err)
	}
	s.saved.Add(1)
	slog.Info("segment saved",
		"recording_id", rec.ID,
		"file", rec.FileName,
		"duration_ms", rec.DurationMs,
		"size_bytes", rec.FileSizeBytes,
	)
	s.enricher.Submit(rec)
	return nil
}

// Start begins capturing. It is a no-op while already running. The power
// lock is acquired before the monitor starts; if it cannot be acquired,
// capture does not start.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := s.keeper.Hold(ctx); err != nil {
		return fmt.Errorf("app: start: %w", err)
	}

	// The run outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.mon.Run(runCtx); err != nil {
			slog.Error("capture loop exited", "err", err)
		}
	}()

	s.running = true
	s.startedAt = time.Now()
	s.cancel = cancel
	s.done = done

	slog.Info("capture started", "power_lock", s.keeper.Held())
	return nil
}

// Stop drives the monitor back to Idle, applies the enrichment stop policy,
// and releases the power lock. It is a no-op when not running. Teardown
// always completes: the loop exits at its next tick, so Stop keeps waiting
// for it even after ctx ends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		slog.Warn("capture stop: caller went away, finishing teardown", "err", ctx.Err())
		<-s.done
	}

	policy := s.StopPolicy()
	if n := s.enricher.Stop(policy); n > 0 {
		slog.Info("enrichment jobs cancelled on stop", "count", n)
	}

	var errs []error
	if err := s.keeper.Release(); err != nil {
		errs = append(errs, err)
	}
	if cur := s.hub.Current(); cur.State != monitor.Idle.String() {
		s.hub.Publish(status.Event{Kind: status.KindState, State: monitor.Idle.String(), Message: "stopped"})
	}

	s.running = false
	s.startedAt = time.Time{}
	s.cancel = nil
	s.done = nil

	slog.Info("capture stopped", "stop_policy", policy)
	return errors.Join(errs...)
}

// State returns the monitor's capture state.
func (s *Service) State() monitor.CaptureState { return s.mon.State() }

// Running reports whether a capture run is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// StartedAt returns when the current run began, or the zero time when idle.
func (s *Service) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Saved returns the number of segments persisted since the process started.
func (s *Service) Saved() int64 { return s.saved.Load() }

// PowerHeld reports whether the power lock is held.
func (s *Service) PowerHeld() bool { return s.keeper.Held() }

// Subscribe registers a status observer. The current state is delivered
// first.
func (s *Service) Subscribe() *status.Subscription { return s.hub.Subscribe() }

// Params returns the active monitor parameters.
func (s *Service) Params() monitor.Params { return s.mon.Params() }

// SetParams hot-swaps the monitor parameters.
func (s *Service) SetParams(p monitor.Params) error { return s.mon.SetParams(p) }

// StopPolicy returns the policy applied to enrichment jobs on Stop.
func (s *Service) StopPolicy() enrich.StopPolicy { return s.policy.Load().(enrich.StopPolicy) }

// SetStopPolicy changes the policy for subsequent stops.
func (s *Service) SetStopPolicy(p enrich.StopPolicy) { s.policy.Store(p) }
