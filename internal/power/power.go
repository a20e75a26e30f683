// Package power keeps the machine awake while capture is running.
//
// A [Lock] is acquired with a bounded maximum hold time so a crashed process
// can never pin the system awake forever. [Keeper] renews the lock before the
// bound expires for as long as the caller holds it.
package power

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxHold bounds a single acquisition.
const DefaultMaxHold = 10 * time.Minute

// ErrUnavailable is returned when the platform mechanism cannot be used.
var ErrUnavailable = errors.New("power: inhibitor unavailable")

// Lock is a system-exclusive power-management resource.
type Lock interface {
	// Acquire takes the lock for at most maxHold. Acquiring a held lock
	// replaces the previous hold.
	Acquire(ctx context.Context, maxHold time.Duration) error

	// Release drops the lock. Releasing an unheld lock is a no-op.
	Release() error

	// Held reports whether the lock is currently held.
	Held() bool
}

// Noop is a Lock that only tracks its state. It is used when no inhibitor is
// configured.
type Noop struct {
	mu   sync.Mutex
	held bool
}

// Acquire implements Lock.
func (n *Noop) Acquire(context.Context, time.Duration) error {
	n.mu.Lock()
	n.held = true
	n.mu.Unlock()
	return nil
}

// Release implements Lock.
func (n *Noop) Release() error {
	n.mu.Lock()
	n.held = false
	n.mu.Unlock()
	return nil
}

// Held implements Lock.
func (n *Noop) Held() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.held
}

// Keeper holds a Lock and renews it at 90 % of maxHold.
type Keeper struct {
	lock    Lock
	maxHold time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewKeeper wraps lock. A non-positive maxHold selects DefaultMaxHold.
func NewKeeper(lock Lock, maxHold time.Duration) *Keeper {
	if maxHold <= 0 {
		maxHold = DefaultMaxHold
	}
	return &Keeper{lock: lock, maxHold: maxHold}
}

// Hold acquires the lock and starts renewing it. Calling Hold while already
// holding is a no-op.
func (k *Keeper) Hold(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		return nil
	}
	if err := k.lock.Acquire(ctx, k.maxHold); err != nil {
		return fmt.Errorf("power: acquire: %w", err)
	}

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	k.cancel = cancel
	k.done = make(chan struct{})
	go k.renew(rctx, k.done)
	return nil
}

func (k *Keeper) renew(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(k.maxHold * 9 / 10)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := k.lock.Acquire(ctx, k.maxHold); err != nil {
				slog.Warn("power: renew failed", "err", err)
			}
		}
	}
}

// Release stops renewing and releases the lock.
func (k *Keeper) Release() error {
	k.mu.Lock()
	cancel, done := k.cancel, k.done
	k.cancel, k.done = nil, nil
	k.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := k.lock.Release(); err != nil {
		return fmt.Errorf("power: release: %w", err)
	}
	return nil
}

// Held reports whether the underlying lock is held.
func (k *Keeper) Held() bool { return k.lock.Held() }
