// Package enrich runs the background jobs that follow a persisted segment:
// transcription, then title generation and (optionally) embedding for
// semantic search.
//
// Every submitted recording gets its own goroutine and [Task] handle. Jobs
// of different recordings share nothing but the worker semaphore. Within
// one recording the title and index jobs start only after the transcript
// has been stored. Failures are logged and recorded on the task; they never
// reach the capture loop and are never retried.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voxlog/internal/observe"
	"github.com/MrWong99/voxlog/internal/resilience"
	"github.com/MrWong99/voxlog/internal/status"
	"github.com/MrWong99/voxlog/pkg/provider/embeddings"
	"github.com/MrWong99/voxlog/pkg/provider/stt"
	"github.com/MrWong99/voxlog/pkg/recording"
)

// ErrClosed is reported by tasks submitted after [Coordinator.Shutdown].
var ErrClosed = errors.New("enrich: coordinator closed")

// JobKind names an enrichment job.
type JobKind string

const (
	KindTranscribe JobKind = "transcribe"
	KindTitle      JobKind = "title"
	KindIndex      JobKind = "index"
)

// JobStatus is the lifecycle of a single job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
	StatusSkipped   JobStatus = "skipped"
)

// StopPolicy decides what [Coordinator.Stop] does with jobs in flight.
type StopPolicy string

const (
	// StopDetach lets running jobs finish on their own.
	StopDetach StopPolicy = "detach"
	// StopCancel cancels every job in flight.
	StopCancel StopPolicy = "cancel"
)

// ParseStopPolicy parses a policy name. The empty string is [StopDetach].
func ParseStopPolicy(s string) (StopPolicy, error) {
	switch StopPolicy(s) {
	case "", StopDetach:
		return StopDetach, nil
	case StopCancel:
		return StopCancel, nil
	}
	return "", fmt.Errorf("enrich: unknown stop policy %q", s)
}

// Store is the slice of the recording repository the jobs need.
type Store interface {
	SetTranscript(ctx context.Context, id int64, text string) (recording.Recording, error)
	SetTitle(ctx context.Context, id int64, title string) (recording.Recording, error)
}

// Publisher receives transcription and title notifications.
type Publisher interface {
	Publish(ev status.Event)
}

// Config holds the dependencies of a [Coordinator].
type Config struct {
	// Store persists results. Required.
	Store Store

	// Transcriber produces transcripts. Required.
	Transcriber stt.Provider

	// Titler generates titles. Nil disables the title job.
	Titler Titler

	// Embedder and Index together enable the index job.
	Embedder embeddings.Provider
	Index    recording.VectorIndex

	// Workers bounds the number of jobs running at once. Default 2.
	Workers int

	// JobTimeout bounds each job. Zero means no limit.
	JobTimeout time.Duration

	// UnwindTimeout is how long Shutdown waits for cancelled jobs to
	// return. Default 5s.
	UnwindTimeout time.Duration

	// Publisher may be nil.
	Publisher Publisher

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Breakers guard the backends. Missing breakers are created with
	// defaults.
	TranscribeBreaker *resilience.CircuitBreaker
	TitleBreaker      *resilience.CircuitBreaker
	IndexBreaker      *resilience.CircuitBreaker
}

// Coordinator launches and tracks enrichment tasks. All methods are safe for
// concurrent use.
type Coordinator struct {
	store       Store
	transcriber stt.Provider
	titler      Titler
	embedder    embeddings.Provider
	index       recording.VectorIndex
	jobTimeout  time.Duration
	unwind      time.Duration
	pub         Publisher
	metrics     *observe.Metrics
	sem         *semaphore.Weighted

	sttBreaker   *resilience.CircuitBreaker
	titleBreaker *resilience.CircuitBreaker
	indexBreaker *resilience.CircuitBreaker

	// base outlives any single capture run; only Shutdown cancels it.
	base       context.Context
	cancelBase context.CancelFunc

	mu     sync.Mutex
	tasks  map[*Task]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("enrich: store is required")
	}
	if cfg.Transcriber == nil {
		return nil, errors.New("enrich: transcriber is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.UnwindTimeout <= 0 {
		cfg.UnwindTimeout = 5 * time.Second
	}
	c := &Coordinator{
		store:        cfg.Store,
		transcriber:  cfg.Transcriber,
		titler:       cfg.Titler,
		embedder:     cfg.Embedder,
		index:        cfg.Index,
		jobTimeout:   cfg.JobTimeout,
		unwind:       cfg.UnwindTimeout,
		pub:          cfg.Publisher,
		metrics:      cfg.Metrics,
		sem:          semaphore.NewWeighted(int64(cfg.Workers)),
		sttBreaker:   cfg.TranscribeBreaker,
		titleBreaker: cfg.TitleBreaker,
		indexBreaker: cfg.IndexBreaker,
		tasks:        make(map[*Task]struct{}),
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.sttBreaker == nil {
		c.sttBreaker = c.newBreaker("stt")
	}
	if c.titleBreaker == nil {
		c.titleBreaker = c.newBreaker("title")
	}
	if c.indexBreaker == nil {
		c.indexBreaker = c.newBreaker("embeddings")
	}
	c.base, c.cancelBase = context.WithCancel(context.Background())
	return c, nil
}

func (c *Coordinator) newBreaker(name string) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: name,
		OnStateChange: func(name string, _, to resilience.State) {
			c.metrics.RecordBreaker(context.Background(), name, to.String())
		},
	})
}

// Submit starts enrichment of rec and returns immediately.
func (c *Coordinator) Submit(rec recording.Recording) *Task {
	ctx, cancel := context.WithCancel(c.base)
	t := newTask(rec.ID, cancel)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		t.finish(ErrClosed)
		return t
	}
	c.tasks[t] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(ctx, t, rec)
	return t
}

// Tasks returns the jobs of every task still in flight.
func (c *Coordinator) Tasks() []JobInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []JobInfo
	for t := range c.tasks {
		out = append(out, t.Jobs()...)
	}
	return out
}

// InFlight returns the number of unfinished tasks.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// Stop applies policy to the tasks in flight and returns how many there
// were. New submissions are still accepted afterwards.
func (c *Coordinator) Stop(policy StopPolicy) int {
	c.mu.Lock()
	tasks := make([]*Task, 0, len(c.tasks))
	for t := range c.tasks {
		tasks = append(tasks, t)
	}
	c.mu.Unlock()

	if policy == StopCancel {
		for _, t := range tasks {
			t.Cancel()
		}
	}
	if len(tasks) > 0 {
		slog.Info("enrich: capture stopped with jobs in flight", "tasks", len(tasks), "policy", policy)
	}
	return len(tasks)
}

// Wait blocks until every task has finished or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses new work, waits for in-flight tasks until ctx is done,
// then cancels whatever is left and waits briefly for it to unwind.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	err := c.Wait(ctx)
	c.cancelBase()
	if err == nil {
		return nil
	}
	slog.Warn("enrich: grace period over, cancelling jobs", "tasks", c.InFlight())
	unwind, cancel := context.WithTimeout(context.Background(), c.unwind)
	defer cancel()
	if werr := c.Wait(unwind); werr != nil {
		return fmt.Errorf("enrich: shutdown: %d tasks did not stop: %w", c.InFlight(), errors.Join(err, werr))
	}
	return nil
}

func (c *Coordinator) run(ctx context.Context, t *Task, rec recording.Recording) {
	err := c.enrich(ctx, t, rec)
	c.mu.Lock()
	delete(c.tasks, t)
	c.mu.Unlock()
	t.finish(err)
	c.wg.Done()
}

// enrich runs the job chain and returns the transcription error, if any.
func (c *Coordinator) enrich(ctx context.Context, t *Task, rec recording.Recording) error {
	var transcript string
	err := c.runJob(ctx, t, KindTranscribe, func(ctx context.Context) error {
		text, err := resilience.Call(ctx, c.sttBreaker, func(ctx context.Context) (string, error) {
			return c.transcriber.Transcribe(ctx, rec.FilePath)
		})
		if err != nil {
			return err
		}
		if _, err := c.store.SetTranscript(ctx, t.RecordingID, text); err != nil {
			return err
		}
		transcript = text
		return nil
	})
	if err != nil {
		t.skip(KindTitle, KindIndex)
		return err
	}
	c.publish(status.Event{Kind: status.KindTranscription, RecordingID: t.RecordingID, Text: transcript})

	if c.titler != nil {
		_ = c.runJob(ctx, t, KindTitle, func(ctx context.Context) error {
			title, err := resilience.Call(ctx, c.titleBreaker, func(ctx context.Context) (string, error) {
				return c.titler.GenerateTitle(ctx, transcript)
			})
			if err != nil {
				return err
			}
			if _, err := c.store.SetTitle(ctx, t.RecordingID, title); err != nil {
				return err
			}
			c.publish(status.Event{Kind: status.KindTitle, RecordingID: t.RecordingID, Text: title})
			return nil
		})
	} else {
		t.skip(KindTitle)
	}

	if c.embedder != nil && c.index != nil {
		_ = c.runJob(ctx, t, KindIndex, func(ctx context.Context) error {
			return c.indexBreaker.Execute(ctx, func(ctx context.Context) error {
				vec, err := c.embedder.Embed(ctx, transcript)
				if err != nil {
					return err
				}
				return c.index.IndexEmbedding(ctx, t.RecordingID, vec)
			})
		})
	} else {
		t.skip(KindIndex)
	}
	return nil
}

// runJob waits for a worker slot, runs fn inside a span, and records the
// outcome on the task and in metrics.
func (c *Coordinator) runJob(ctx context.Context, t *Task, kind JobKind, fn func(context.Context) error) (err error) {
	t.set(kind, StatusPending)
	c.metrics.EnrichmentInFlight.Add(ctx, 1)
	defer c.metrics.EnrichmentInFlight.Add(context.WithoutCancel(ctx), -1)

	if err := c.sem.Acquire(ctx, 1); err != nil {
		t.set(kind, StatusCancelled)
		c.metrics.RecordJob(context.WithoutCancel(ctx), string(kind), string(StatusCancelled), 0)
		return err
	}
	defer c.sem.Release(1)

	if c.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.jobTimeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "enrich."+string(kind),
		trace.WithAttributes(attribute.Int64("recording.id", t.RecordingID)))
	log := observe.Logger(ctx).With("recording_id", t.RecordingID, "job", kind)

	t.set(kind, StatusRunning)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enrich: %s panicked: %v", kind, r)
		}
		st := StatusSucceeded
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			st = StatusCancelled
		default:
			st = StatusFailed
		}
		t.set(kind, st)
		elapsed := time.Since(start)
		c.metrics.RecordJob(context.WithoutCancel(ctx), string(kind), string(st), elapsed)
		observe.EndSpan(span, err)

		switch st {
		case StatusSucceeded:
			log.Info("enrich: job finished", "duration", elapsed)
		case StatusCancelled:
			log.Info("enrich: job cancelled", "duration", elapsed)
		default:
			log.Warn("enrich: job failed", "duration", elapsed, "err", err)
		}
	}()

	return fn(ctx)
}

func (c *Coordinator) publish(ev status.Event) {
	if c.pub != nil {
		c.pub.Publish(ev)
	}
}
