package enrich

import (
	"context"
	"sync"
)

// JobInfo is a point-in-time view of one job.
type JobInfo struct {
	RecordingID int64     `json:"recording_id"`
	Kind        JobKind   `json:"kind"`
	Status      JobStatus `json:"status"`
}

var jobOrder = []JobKind{KindTranscribe, KindTitle, KindIndex}

// Task is the handle of one recording's enrichment.
type Task struct {
	RecordingID int64

	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	jobs map[JobKind]JobStatus
	err  error
}

func newTask(id int64, cancel context.CancelFunc) *Task {
	return &Task{
		RecordingID: id,
		cancel:      cancel,
		done:        make(chan struct{}),
		jobs:        make(map[JobKind]JobStatus, len(jobOrder)),
	}
}

// Done is closed once every job of the task has ended.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel cancels the task's remaining jobs.
func (t *Task) Cancel() { t.cancel() }

// Err returns why the transcript could not be produced, or nil. Title and
// index failures are not reported here.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Status returns the status of kind, or "" when the job has not been
// scheduled yet.
func (t *Task) Status(kind JobKind) JobStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jobs[kind]
}

// Jobs lists the scheduled jobs in pipeline order.
func (t *Task) Jobs() []JobInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JobInfo, 0, len(t.jobs))
	for _, k := range jobOrder {
		if st, ok := t.jobs[k]; ok {
			out = append(out, JobInfo{RecordingID: t.RecordingID, Kind: k, Status: st})
		}
	}
	return out
}

func (t *Task) set(kind JobKind, st JobStatus) {
	t.mu.Lock()
	t.jobs[kind] = st
	t.mu.Unlock()
}

func (t *Task) skip(kinds ...JobKind) {
	for _, k := range kinds {
		t.set(k, StatusSkipped)
	}
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.cancel()
	close(t.done)
}
