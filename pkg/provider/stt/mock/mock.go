// Package mock provides a test double for [stt.Provider].
//
//	p := &mock.Provider{Text: "hello"}
//	text, _ := p.Transcribe(ctx, "/rec/a.m4a")
//	if len(p.Calls()) != 1 { … }
//
// Set Gate to make Transcribe block until a value is sent or the gate is
// closed, which lets tests hold jobs in flight.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxlog/pkg/provider/stt"
)

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Ctx  context.Context
	Path string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned when Texts has no entry for the path.
	Text string

	// Texts maps a path to the text returned for it.
	Texts map[string]string

	// Err, if non-nil, is returned by every call.
	Err error

	// Gate, if non-nil, is received from before returning. Cancellation of
	// the call's context returns ctx.Err() instead.
	Gate chan struct{}

	// Started, if non-nil, receives the path when a call begins.
	Started chan string

	calls []TranscribeCall
}

// Transcribe records the call and returns the configured text or error.
func (p *Provider) Transcribe(ctx context.Context, path string) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, TranscribeCall{Ctx: ctx, Path: path})
	gate, started := p.Gate, p.Started
	text, ok := p.Texts[path]
	if !ok {
		text = p.Text
	}
	err := p.Err
	p.mu.Unlock()

	if started != nil {
		started <- path
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return stt.Finalize(text)
}

// Calls returns a copy of all recorded calls.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
