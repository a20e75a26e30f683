// Package portaudio implements [capture.Device] on the default input device
// through PortAudio. PCM is piped into an ffmpeg child process that encodes
// AAC into the destination .m4a file.
//
// Amplitude is tracked from the raw PCM before encoding, so
// SampleAmplitude lags real time by at most one buffer (FramesPerBuffer
// samples, 64 ms with the default of 1024 frames at 16 kHz).
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxlog/pkg/capture"
)

const defaultFramesPerBuffer = 1024

var _ capture.Device = (*Device)(nil)

// Device captures from the system default input.
type Device struct {
	ffmpegPath string
	frames     int
	format     capture.Format

	excl capture.Exclusive

	initOnce sync.Once
	initErr  error
	ready    atomic.Bool
}

// Option configures a [Device].
type Option func(*Device)

// WithFFmpegPath sets the ffmpeg executable. Defaults to "ffmpeg" on PATH.
func WithFFmpegPath(path string) Option {
	return func(d *Device) { d.ffmpegPath = path }
}

// WithFramesPerBuffer sets the PortAudio buffer size in frames.
func WithFramesPerBuffer(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.frames = n
		}
	}
}

// New returns a Device. PortAudio is initialised lazily on the first Open.
func New(opts ...Option) *Device {
	d := &Device{
		ffmpegPath: "ffmpeg",
		frames:     defaultFramesPerBuffer,
		format:     capture.DefaultFormat,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Name implements [capture.Device].
func (d *Device) Name() string { return "portaudio" }

// Check verifies that an input device and the encoder are present. It is
// used as a readiness probe and does not open a stream.
func (d *Device) Check(_ context.Context) error {
	if err := d.init(); err != nil {
		return err
	}
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrHardwareUnavailable, err)
	}
	if _, err := exec.LookPath(d.ffmpegPath); err != nil {
		return fmt.Errorf("portaudio: encoder: %w", err)
	}
	return nil
}

// Close terminates PortAudio if it was initialised. Open sessions must be
// closed first.
func (d *Device) Close() error {
	if !d.ready.Load() {
		return nil
	}
	if d.excl.Held() {
		slog.Warn("portaudio: terminating with an open session")
	}
	return portaudio.Terminate()
}

func (d *Device) init() error {
	d.initOnce.Do(func() {
		if err := portaudio.Initialize(); err != nil {
			d.initErr = fmt.Errorf("%w: initialise portaudio: %v", capture.ErrHardwareUnavailable, err)
			return
		}
		d.ready.Store(true)
	})
	return d.initErr
}

// Open implements [capture.Device].
func (d *Device) Open(_ context.Context, dest string) (capture.Session, error) {
	if err := d.excl.Acquire(dest); err != nil {
		return nil, err
	}
	s, err := d.open(dest)
	if err != nil {
		d.excl.Release()
		return nil, &capture.OpenError{Path: dest, Err: err}
	}
	return s, nil
}

func (d *Device) open(dest string) (*session, error) {
	if err := d.init(); err != nil {
		return nil, err
	}

	buf := make([]int16, d.frames)
	stream, err := portaudio.OpenDefaultStream(d.format.Channels, 0, float64(d.format.SampleRate), d.frames, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrHardwareUnavailable, err)
	}

	enc, err := startEncoder(d.ffmpegPath, dest, d.format)
	if err != nil {
		stream.Close()
		return nil, err
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		enc.abort()
		return nil, fmt.Errorf("%w: start stream: %v", capture.ErrHardwareUnavailable, err)
	}

	s := &session{
		dev:    d,
		dest:   dest,
		stream: stream,
		buf:    buf,
		enc:    enc,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

type session struct {
	dev    *Device
	dest   string
	stream *portaudio.Stream
	buf    []int16
	enc    *encoder

	peak    capture.Peak
	samples atomic.Int64
	readErr atomic.Pointer[error]

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// pump moves PCM from the stream to the encoder until stopped. Read blocks
// for at most one buffer.
func (s *session) pump() {
	defer close(s.done)
	pcm := make([]byte, 0, len(s.buf)*2)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			// Input overflow drops samples but the stream is still usable.
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			s.readErr.Store(&err)
			slog.Warn("portaudio: read failed", "path", s.dest, "err", err)
			return
		}
		s.peak.Observe(s.buf)

		pcm = pcm[:0]
		for _, v := range s.buf {
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(v))
		}
		if _, err := s.enc.stdin.Write(pcm); err != nil {
			s.readErr.Store(&err)
			slog.Warn("portaudio: encoder write failed", "path", s.dest, "err", err)
			return
		}
		s.samples.Add(int64(len(s.buf)))
	}
}

// SampleAmplitude implements [capture.Session].
func (s *session) SampleAmplitude() (uint16, error) {
	if s.closed.Load() {
		return 0, capture.ErrClosed
	}
	if p := s.readErr.Load(); p != nil {
		return 0, *p
	}
	return s.peak.Take(), nil
}

// Close implements [capture.Session].
func (s *session) Close() (capture.Result, error) {
	var (
		res capture.Result
		err error
	)
	first := false
	s.closeOnce.Do(func() {
		first = true
		s.closed.Store(true)
		close(s.stop)
		<-s.done

		errs := []error{}
		if e := s.stream.Stop(); e != nil {
			errs = append(errs, fmt.Errorf("stop stream: %w", e))
		}
		if e := s.stream.Close(); e != nil {
			errs = append(errs, fmt.Errorf("close stream: %w", e))
		}
		if e := s.enc.finish(); e != nil {
			errs = append(errs, e)
		}
		s.dev.excl.Release()

		res.DurationMs = s.samples.Load() * 1000 / int64(s.dev.format.SampleRate)
		if info, e := os.Stat(s.dest); e == nil {
			res.FileSizeBytes = info.Size()
		} else {
			errs = append(errs, fmt.Errorf("stat output: %w", e))
		}
		if len(errs) > 0 {
			err = fmt.Errorf("portaudio: close %q: %w", s.dest, errors.Join(errs...))
		}
	})
	if !first {
		return capture.Result{}, nil
	}
	return res, err
}

// encoder is an ffmpeg process reading s16le PCM on stdin.
type encoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
}

func startEncoder(ffmpeg, dest string, f capture.Format) (*encoder, error) {
	stderr := &tailBuffer{max: 2048}
	cmd := exec.Command(ffmpeg,
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "s16le",
		"-ar", strconv.Itoa(f.SampleRate),
		"-ac", strconv.Itoa(f.Channels),
		"-i", "pipe:0",
		"-c:a", f.Codec,
		"-b:a", strconv.Itoa(f.BitRate),
		"-movflags", "+faststart",
		dest,
	)
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("portaudio: encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("portaudio: start encoder: %w", err)
	}
	return &encoder{cmd: cmd, stdin: stdin, stderr: stderr}, nil
}

func (e *encoder) finish() error {
	_ = e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder: %w: %s", err, e.stderr.String())
	}
	return nil
}

func (e *encoder) abort() {
	_ = e.stdin.Close()
	_ = e.cmd.Process.Kill()
	_ = e.cmd.Wait()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	b   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.b = append(t.b, p...)
	if len(t.b) > t.max {
		t.b = t.b[len(t.b)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.b)
}
