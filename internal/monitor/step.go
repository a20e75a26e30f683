package monitor

import (
	"fmt"
	"time"
)

// CaptureState is the coarse state of the monitor.
type CaptureState int

const (
	Idle CaptureState = iota
	Monitoring
	Recording
)

// String returns the lower-case state name used in status events and logs.
func (s CaptureState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Monitoring:
		return "monitoring"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("CaptureState(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s CaptureState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Target names the kind of session an open attempt was for.
type Target int

const (
	TargetProbe Target = iota
	TargetSegment
)

func (t Target) String() string {
	if t == TargetSegment {
		return "segment"
	}
	return "probe"
}

// Snapshot is the complete decision state. The zero value is Idle.
type Snapshot struct {
	State CaptureState

	// ProbeOpenedAt is when the current probe was (re)opened.
	ProbeOpenedAt time.Time
	// LastSampleAt is the time of the previous sample, or the probe open
	// time before the first one.
	LastSampleAt time.Time
	// SustainSince is where the current run of loud samples began. Zero
	// when the last sample was quiet.
	SustainSince time.Time
	// LastExcessAt is the last loud sample seen by the current probe.
	LastExcessAt time.Time

	// SegmentStart is when the open segment began.
	SegmentStart time.Time
	// LastSound is the last loud sample of the open segment.
	LastSound time.Time
	// BurstCount is the number of samples taken in the current burst.
	BurstCount int
}

// Event is an input to [Step].
type Event interface{ event() }

// Started requests Idle -> Monitoring.
type Started struct{ At time.Time }

// Stopped requests a transition to Idle from any state.
type Stopped struct{ At time.Time }

// Sampled carries one amplitude reading. Failed reads arrive as 0.
type Sampled struct {
	At        time.Time
	Amplitude uint16
}

// OpenFailed reports that an OpenProbe or OpenSegment effect failed.
type OpenFailed struct {
	At     time.Time
	Target Target
}

func (Started) event()    {}
func (Stopped) event()    {}
func (Sampled) event()    {}
func (OpenFailed) event() {}

// Effect is an action the runner performs on behalf of [Step].
type Effect interface{ effect() }

// OpenProbe opens a discardable probe session.
type OpenProbe struct{ At time.Time }

// CloseProbe closes the probe session and discards its output. Recycle is
// set when the probe is replaced because it stayed quiet.
type CloseProbe struct{ Recycle bool }

// OpenSegment opens a recording segment starting at At.
type OpenSegment struct{ At time.Time }

// CloseSegment closes the open segment and hands it to persistence.
type CloseSegment struct {
	At      time.Time
	Elapsed time.Duration
}

// Publish announces a state change.
type Publish struct {
	State   CaptureState
	Message string
}

// Progress reports the elapsed time of the open segment.
type Progress struct{ Elapsed time.Duration }

func (OpenProbe) effect()    {}
func (CloseProbe) effect()   {}
func (OpenSegment) effect()  {}
func (CloseSegment) effect() {}
func (Publish) effect()      {}
func (Progress) effect()     {}

// Status messages.
const (
	msgStarted     = "started monitoring"
	msgStopped     = "stopped"
	msgRecording   = "started recording"
	msgBackToWatch = "back to monitoring"
)

// ProgressMessage formats the notification text shown while recording.
func ProgressMessage(elapsed time.Duration) string {
	return fmt.Sprintf("recording... %ds", int64(elapsed/time.Second))
}

// Step computes the next snapshot and the effects to execute for ev. It has
// no side effects and never fails; events that do not apply to the current
// state are ignored.
func Step(s Snapshot, p Params, ev Event) (Snapshot, []Effect) {
	switch ev := ev.(type) {
	case Started:
		if s.State != Idle {
			return s, nil
		}
		return enterMonitoring(ev.At), []Effect{OpenProbe{At: ev.At}, Publish{State: Monitoring, Message: msgStarted}}

	case Stopped:
		var effs []Effect
		switch s.State {
		case Idle:
			return s, nil
		case Monitoring:
			effs = append(effs, CloseProbe{})
		case Recording:
			effs = append(effs, CloseSegment{At: ev.At, Elapsed: ev.At.Sub(s.SegmentStart)})
		}
		return Snapshot{}, append(effs, Publish{State: Idle, Message: msgStopped})

	case Sampled:
		switch s.State {
		case Monitoring:
			return sampleMonitoring(s, p, ev)
		case Recording:
			return sampleRecording(s, p, ev)
		}
		return s, nil

	case OpenFailed:
		if s.State == Idle {
			return s, nil
		}
		// Recording was never announced, so observers still see Monitoring.
		if ev.Target == TargetSegment && s.State == Recording {
			return enterMonitoring(ev.At), []Effect{OpenProbe{At: ev.At}}
		}
		// A failed probe stays in Monitoring; the quiet probe is retried at
		// the next reprobe deadline.
		return s, nil
	}
	return s, nil
}

func enterMonitoring(at time.Time) Snapshot {
	return Snapshot{State: Monitoring, ProbeOpenedAt: at, LastSampleAt: at}
}

func sampleMonitoring(s Snapshot, p Params, ev Sampled) (Snapshot, []Effect) {
	prev := s.LastSampleAt
	s.LastSampleAt = ev.At

	if ev.Amplitude > p.VolumeThreshold {
		if s.SustainSince.IsZero() {
			// The excess is taken to have covered the whole interval since
			// the previous reading.
			s.SustainSince = prev
		}
		s.LastExcessAt = ev.At
		if ev.At.Sub(s.SustainSince) >= p.Sustain {
			next := Snapshot{
				State:        Recording,
				SegmentStart: ev.At,
				LastSound:    ev.At,
				LastSampleAt: ev.At,
			}
			return next, []Effect{
				CloseProbe{},
				OpenSegment{At: ev.At},
				Publish{State: Recording, Message: msgRecording},
			}
		}
		return s, nil
	}

	s.SustainSince = time.Time{}
	quietSince := s.ProbeOpenedAt
	if s.LastExcessAt.After(quietSince) {
		quietSince = s.LastExcessAt
	}
	if ev.At.Sub(quietSince) >= p.Reprobe {
		return enterMonitoring(ev.At), []Effect{CloseProbe{Recycle: true}, OpenProbe{At: ev.At}}
	}
	return s, nil
}

func sampleRecording(s Snapshot, p Params, ev Sampled) (Snapshot, []Effect) {
	s.LastSampleAt = ev.At
	s.BurstCount++
	if ev.Amplitude > p.VolumeThreshold {
		s.LastSound = ev.At
	}
	if s.BurstCount < p.BurstSize {
		return s, nil
	}
	s.BurstCount = 0

	elapsed := ev.At.Sub(s.SegmentStart)
	if elapsed < p.MinRecording {
		return s, nil
	}
	if ev.At.Sub(s.LastSound) >= p.SilenceTimeout {
		return enterMonitoring(ev.At), []Effect{
			CloseSegment{At: ev.At, Elapsed: elapsed},
			OpenProbe{At: ev.At},
			Publish{State: Monitoring, Message: msgBackToWatch},
		}
	}
	return s, []Effect{Progress{Elapsed: elapsed}}
}
