// Package stt defines the Provider interface for speech-to-text back-ends.
//
// A provider transcribes one finished recording file at a time. Enrichment
// calls it from a background worker, so implementations may block for as
// long as inference takes but must honour ctx cancellation between stages.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyTranscript is returned when a recording produced no text, for
// example because it contains only silence or noise.
var ErrEmptyTranscript = errors.New("stt: empty transcript")

// Provider is the abstraction over any speech-to-text back-end.
type Provider interface {
	// Transcribe returns the text spoken in the audio file at path. It
	// returns [ErrEmptyTranscript] when the result is blank.
	Transcribe(ctx context.Context, path string) (string, error)
}

// Finalize trims model output and maps blank results to
// [ErrEmptyTranscript].
func Finalize(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

// JoinSegments concatenates per-segment model output with single spaces,
// dropping blank segments.
func JoinSegments(segments []string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
