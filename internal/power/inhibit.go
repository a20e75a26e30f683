package power

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// Inhibitor takes a logind sleep/idle inhibitor lock by running
// systemd-inhibit around a sleep that lasts maxHold. The lock disappears as
// soon as the child exits, so the bound holds even if voxlog is killed.
type Inhibitor struct {
	// Path to systemd-inhibit. Defaults to looking it up in PATH.
	Path string
	// What is the inhibited operation list. Defaults to "sleep:idle".
	What string
	// Why is shown by `systemd-inhibit --list`.
	Why string

	mu   sync.Mutex
	cmd  *exec.Cmd
	exit chan struct{}
}

// Available reports whether systemd-inhibit can be found.
func (in *Inhibitor) Available() error {
	if _, err := exec.LookPath(in.path()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (in *Inhibitor) path() string {
	if in.Path != "" {
		return in.Path
	}
	return "systemd-inhibit"
}

// Acquire implements Lock.
func (in *Inhibitor) Acquire(_ context.Context, maxHold time.Duration) error {
	if maxHold <= 0 {
		maxHold = DefaultMaxHold
	}
	what, why := in.What, in.Why
	if what == "" {
		what = "sleep:idle"
	}
	if why == "" {
		why = "voice activity capture"
	}

	secs := strconv.Itoa(int(maxHold.Round(time.Second) / time.Second))
	cmd := exec.Command(in.path(),
		"--what="+what,
		"--who=voxlog",
		"--why="+why,
		"--mode=block",
		"sleep", secs,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	exit := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exit)
	}()

	in.mu.Lock()
	prev, prevExit := in.cmd, in.exit
	in.cmd, in.exit = cmd, exit
	in.mu.Unlock()

	// The new hold is in place before the old one goes away.
	if prev != nil {
		stop(prev, prevExit)
	}
	return nil
}

// Release implements Lock.
func (in *Inhibitor) Release() error {
	in.mu.Lock()
	cmd, exit := in.cmd, in.exit
	in.cmd, in.exit = nil, nil
	in.mu.Unlock()
	if cmd == nil {
		return nil
	}
	return stop(cmd, exit)
}

// Held implements Lock.
func (in *Inhibitor) Held() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.exit == nil {
		return false
	}
	select {
	case <-in.exit:
		return false
	default:
		return true
	}
}

func stop(cmd *exec.Cmd, exit chan struct{}) error {
	select {
	case <-exit:
		return nil
	default:
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("power: kill inhibitor: %w", err)
	}
	<-exit
	return nil
}
