// Package mock provides a test double for [power.Lock].
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxlog/internal/power"
)

var _ power.Lock = (*Lock)(nil)

// Lock is a mock power.Lock recording every call.
type Lock struct {
	mu sync.Mutex

	// AcquireErr, if non-nil, is returned by Acquire.
	AcquireErr error
	// ReleaseErr, if non-nil, is returned by Release (the lock is still
	// dropped).
	ReleaseErr error

	held     bool
	acquires []time.Duration
	releases int
}

// Acquire implements power.Lock.
func (l *Lock) Acquire(_ context.Context, maxHold time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires = append(l.acquires, maxHold)
	if l.AcquireErr != nil {
		return l.AcquireErr
	}
	l.held = true
	return nil
}

// Release implements power.Lock.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	l.held = false
	return l.ReleaseErr
}

// Held implements power.Lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Acquires returns the maxHold of every Acquire call.
func (l *Lock) Acquires() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.acquires...)
}

// Releases returns the number of Release calls.
func (l *Lock) Releases() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releases
}
