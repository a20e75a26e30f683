// Package mock provides a scripted [capture.Device] for tests.
//
// Amplitudes are consumed from Script in sample order across all sessions;
// once the script is exhausted every sample returns After. The device
// enforces the one-open-session rule like a real device and tracks the
// largest number of sessions it ever saw open at once.
//
//	dev := &mock.Device{Script: []uint16{0, 0, 150, 150}, CreateFiles: true}
//	// run the monitor …
//	if dev.MaxConcurrent() > 1 { … }
package mock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/voxlog/pkg/capture"
)

var _ capture.Device = (*Device)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Device is a configurable capture device.
type Device struct {
	// Script lists amplitudes returned by successive SampleAmplitude calls.
	Script []uint16

	// After is returned once Script is exhausted.
	After uint16

	// SampleErrs maps a global sample index to an error returned instead of
	// an amplitude.
	SampleErrs map[int]error

	// OpenErrs is consumed one entry per Open; a nil entry (or an exhausted
	// slice) means success. Non-nil entries are wrapped in *capture.OpenError.
	OpenErrs []error

	// Result is returned by Close when Clock is nil.
	Result capture.Result

	// Clock, when set, derives Result.DurationMs from the time between Open
	// and Close.
	Clock func() time.Time

	// CloseErr is returned by every Close when non-nil.
	CloseErr error

	// CreateFiles writes FileSize bytes to the destination on Open.
	CreateFiles bool
	FileSize    int

	mu        sync.Mutex
	calls     []Call
	excl      capture.Exclusive
	sampled   int
	opens     int
	openNow   int
	maxOpen   int
	openPaths []string
}

// Name implements [capture.Device].
func (d *Device) Name() string { return "mock" }

// Calls returns a copy of all recorded method invocations.
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (d *Device) CallCount(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// MaxConcurrent returns the largest number of simultaneously open sessions.
func (d *Device) MaxConcurrent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxOpen
}

// OpenCount returns the number of currently open sessions.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openNow
}

// Paths returns the destinations of all successful opens, in order.
func (d *Device) Paths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.openPaths))
	copy(out, d.openPaths)
	return out
}

// Samples returns how many amplitude samples have been taken.
func (d *Device) Samples() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sampled
}

// Open implements [capture.Device].
func (d *Device) Open(_ context.Context, dest string) (capture.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Method: "Open", Args: []any{dest}})

	idx := d.opens
	d.opens++
	if idx < len(d.OpenErrs) && d.OpenErrs[idx] != nil {
		return nil, &capture.OpenError{Path: dest, Err: d.OpenErrs[idx]}
	}
	if err := d.excl.Acquire(dest); err != nil {
		return nil, err
	}
	if d.CreateFiles {
		if err := os.WriteFile(dest, make([]byte, d.FileSize), 0o644); err != nil {
			d.excl.Release()
			return nil, &capture.OpenError{Path: dest, Err: fmt.Errorf("%w: %v", capture.ErrHardwareUnavailable, err)}
		}
	}
	d.openNow++
	d.maxOpen = max(d.maxOpen, d.openNow)
	d.openPaths = append(d.openPaths, dest)

	s := &session{dev: d, dest: dest}
	if d.Clock != nil {
		s.opened = d.Clock()
	}
	return s, nil
}

type session struct {
	dev    *Device
	dest   string
	opened time.Time
	closed bool
}

// SampleAmplitude implements [capture.Session].
func (s *session) SampleAmplitude() (uint16, error) {
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.closed {
		return 0, capture.ErrClosed
	}
	i := d.sampled
	d.sampled++
	if err, ok := d.SampleErrs[i]; ok {
		return 0, err
	}
	if i < len(d.Script) {
		return d.Script[i], nil
	}
	return d.After, nil
}

// Close implements [capture.Session].
func (s *session) Close() (capture.Result, error) {
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.closed {
		return capture.Result{}, nil
	}
	s.closed = true
	d.calls = append(d.calls, Call{Method: "Close", Args: []any{s.dest}})
	d.openNow--
	d.excl.Release()

	res := d.Result
	if d.Clock != nil {
		res.DurationMs = d.Clock().Sub(s.opened).Milliseconds()
	}
	if d.CreateFiles && res.FileSizeBytes == 0 {
		res.FileSizeBytes = int64(d.FileSize)
	}
	return res, d.CloseErr
}
