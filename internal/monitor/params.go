package monitor

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/voxlog/pkg/capture"
)

// Default decision parameters.
const (
	DefaultVolumeThreshold = 100
	DefaultSustain         = 500 * time.Millisecond
	DefaultReprobe         = 5 * time.Second
	DefaultCheckInterval   = 200 * time.Millisecond
	DefaultMinRecording    = 2 * time.Second
	DefaultSilenceTimeout  = 10 * time.Minute
	DefaultBurstSize       = 10
)

// SilenceTimeouts lists the selectable silence timeouts.
var SilenceTimeouts = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	10 * time.Minute,
}

// Params are the tunables of the voice-activity decision loop.
type Params struct {
	// VolumeThreshold is the peak amplitude a sample must exceed to count as
	// sound. Range 0..32767.
	VolumeThreshold uint16

	// Sustain is how long continuous excess must last before a segment opens.
	Sustain time.Duration

	// Reprobe is how long a probe may stay quiet before it is recycled.
	Reprobe time.Duration

	// CheckInterval is the sampling period.
	CheckInterval time.Duration

	// MinRecording is the shortest segment that is ever persisted.
	MinRecording time.Duration

	// SilenceTimeout closes a segment after this much trailing silence.
	SilenceTimeout time.Duration

	// BurstSize is the number of samples between duration checks while
	// recording.
	BurstSize int
}

// DefaultParams returns the default parameters.
func DefaultParams() Params {
	return Params{
		VolumeThreshold: DefaultVolumeThreshold,
		Sustain:         DefaultSustain,
		Reprobe:         DefaultReprobe,
		CheckInterval:   DefaultCheckInterval,
		MinRecording:    DefaultMinRecording,
		SilenceTimeout:  DefaultSilenceTimeout,
		BurstSize:       DefaultBurstSize,
	}
}

// WithDefaults returns p with zero fields replaced by their defaults.
// VolumeThreshold 0 is a legal value and is kept.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.Sustain == 0 {
		p.Sustain = d.Sustain
	}
	if p.Reprobe == 0 {
		p.Reprobe = d.Reprobe
	}
	if p.CheckInterval == 0 {
		p.CheckInterval = d.CheckInterval
	}
	if p.MinRecording == 0 {
		p.MinRecording = d.MinRecording
	}
	if p.SilenceTimeout == 0 {
		p.SilenceTimeout = d.SilenceTimeout
	}
	if p.BurstSize == 0 {
		p.BurstSize = d.BurstSize
	}
	return p
}

// Validate reports every invalid field.
func (p Params) Validate() error {
	var errs []error
	if p.VolumeThreshold > capture.MaxAmplitude {
		errs = append(errs, fmt.Errorf("volume threshold %d exceeds %d", p.VolumeThreshold, capture.MaxAmplitude))
	}
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"sustain", p.Sustain},
		{"reprobe", p.Reprobe},
		{"check interval", p.CheckInterval},
		{"min recording", p.MinRecording},
		{"silence timeout", p.SilenceTimeout},
	} {
		if f.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", f.name, f.d))
		}
	}
	if p.BurstSize < 1 {
		errs = append(errs, fmt.Errorf("burst size must be at least 1, got %d", p.BurstSize))
	}
	if p.CheckInterval > 0 && p.Sustain > 0 && p.Sustain < p.CheckInterval {
		errs = append(errs, fmt.Errorf("sustain %s is shorter than the check interval %s", p.Sustain, p.CheckInterval))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("monitor: invalid params: %w", err)
	}
	return nil
}

// ValidSilenceTimeout reports whether d is one of [SilenceTimeouts].
func ValidSilenceTimeout(d time.Duration) bool {
	return slices.Contains(SilenceTimeouts, d)
}

// Qualifies reports whether a closed segment may be persisted: it must be at
// least minRecording long and the file must not be empty.
func Qualifies(res capture.Result, minRecording time.Duration) bool {
	return res.DurationMs >= minRecording.Milliseconds() && res.FileSizeBytes > 0
}
