// Package capture defines the exclusive audio capture contract used by the
// voice-activity monitor.
//
// A [Device] opens at most one [Session] at a time. A session records mono
// 16 kHz audio, AAC-encoded at 64 kbit/s into an MPEG-4 (.m4a) container, and
// exposes the peak amplitude observed since the previous sample so the caller
// can decide whether anyone is speaking without touching the encoded stream.
//
// Implementations live in sub-packages: portaudio (microphone through
// PortAudio and an ffmpeg encoder) and mock (scripted test double).
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrAlreadyOpen is returned by [Device.Open] while another session of the
	// same device is still open.
	ErrAlreadyOpen = errors.New("capture: session already open")

	// ErrHardwareUnavailable is returned by [Device.Open] when the input
	// device cannot be acquired (busy, missing, or permission denied).
	ErrHardwareUnavailable = errors.New("capture: hardware unavailable")

	// ErrClosed is returned by [Session.SampleAmplitude] after Close.
	ErrClosed = errors.New("capture: session closed")
)

// OpenError describes a failed [Device.Open]. Err unwraps to
// [ErrAlreadyOpen] or [ErrHardwareUnavailable].
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string { return fmt.Sprintf("capture: open %q: %v", e.Path, e.Err) }

func (e *OpenError) Unwrap() error { return e.Err }

// Format describes the fixed encoding parameters of every session.
type Format struct {
	Channels   int
	SampleRate int
	BitRate    int
	Codec      string
	Ext        string
}

// DefaultFormat is the only format sessions are recorded in.
var DefaultFormat = Format{
	Channels:   1,
	SampleRate: 16000,
	BitRate:    64000,
	Codec:      "aac",
	Ext:        ".m4a",
}

// MaxAmplitude is the largest value [Session.SampleAmplitude] can report.
const MaxAmplitude = 32767

// Result is reported by [Session.Close].
type Result struct {
	DurationMs    int64 `json:"duration_ms"`
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// Device opens exclusive capture sessions writing to a destination file.
type Device interface {
	// Open starts capturing into dest. On failure it returns an *OpenError.
	Open(ctx context.Context, dest string) (Session, error)

	// Name identifies the device in logs and health checks.
	Name() string
}

// Session is one open capture.
type Session interface {
	// SampleAmplitude returns the peak absolute sample value (0..32767) seen
	// since the previous call, then resets the peak.
	SampleAmplitude() (uint16, error)

	// Close stops capture, finalises the file, and reports what was written.
	// A second Close returns a zero Result and nil.
	Close() (Result, error)
}

// Exclusive enforces the one-open-session rule for a device.
type Exclusive struct {
	open atomic.Bool
}

// Acquire marks the device as open or returns an *OpenError wrapping
// [ErrAlreadyOpen].
func (e *Exclusive) Acquire(path string) error {
	if !e.open.CompareAndSwap(false, true) {
		return &OpenError{Path: path, Err: ErrAlreadyOpen}
	}
	return nil
}

// Release marks the device as free again.
func (e *Exclusive) Release() { e.open.Store(false) }

// Held reports whether a session is currently open.
func (e *Exclusive) Held() bool { return e.open.Load() }

// Peak tracks the largest absolute sample value since the last Take.
// Observe and Take may be called from different goroutines.
type Peak struct {
	v atomic.Uint32
}

// Observe folds a buffer of PCM samples into the running peak.
func (p *Peak) Observe(samples []int16) {
	var m uint32
	for _, s := range samples {
		a := int32(s)
		if a < 0 {
			a = -a
		}
		if uint32(a) > m {
			m = uint32(a)
		}
	}
	if m > MaxAmplitude {
		m = MaxAmplitude
	}
	for {
		cur := p.v.Load()
		if m <= cur || p.v.CompareAndSwap(cur, m) {
			return
		}
	}
}

// Take returns the peak and resets it to zero.
func (p *Peak) Take() uint16 { return uint16(p.v.Swap(0)) }
