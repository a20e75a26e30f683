package power_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxlog/internal/power"
	"github.com/MrWong99/voxlog/internal/power/mock"
)

func TestNoop(t *testing.T) {
	t.Parallel()

	var n power.Noop
	if n.Held() {
		t.Fatal("zero Noop reports held")
	}
	if err := n.Acquire(context.Background(), time.Minute); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !n.Held() {
		t.Error("Held() = false after Acquire")
	}
	_ = n.Release()
	if n.Held() {
		t.Error("Held() = true after Release")
	}
}

func TestKeeper_HoldRelease(t *testing.T) {
	t.Parallel()

	lock := &mock.Lock{}
	k := power.NewKeeper(lock, 0)
	if err := k.Hold(context.Background()); err != nil {
		t.Fatalf("Hold() error: %v", err)
	}
	if err := k.Hold(context.Background()); err != nil {
		t.Fatalf("second Hold() error: %v", err)
	}
	if got := lock.Acquires(); len(got) != 1 || got[0] != power.DefaultMaxHold {
		t.Errorf("acquires = %v, want one with the default bound", got)
	}
	if !k.Held() {
		t.Error("Held() = false while holding")
	}
	if err := k.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if k.Held() || lock.Releases() != 1 {
		t.Errorf("after Release: held=%v releases=%d", k.Held(), lock.Releases())
	}
}

func TestKeeper_Renews(t *testing.T) {
	t.Parallel()

	lock := &mock.Lock{}
	k := power.NewKeeper(lock, 50*time.Millisecond)
	if err := k.Hold(context.Background()); err != nil {
		t.Fatalf("Hold() error: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(lock.Acquires()) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	_ = k.Release()
	if n := len(lock.Acquires()); n < 3 {
		t.Errorf("acquires = %d, want renewals", n)
	}
}

func TestKeeper_AcquireError(t *testing.T) {
	t.Parallel()

	boom := errors.New("denied")
	k := power.NewKeeper(&mock.Lock{AcquireErr: boom}, time.Minute)
	if err := k.Hold(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Hold() error = %v, want %v", err, boom)
	}
	if k.Held() {
		t.Error("Held() = true after failed Hold")
	}
}

func TestInhibitor_Unavailable(t *testing.T) {
	t.Parallel()

	in := &power.Inhibitor{Path: filepath.Join(t.TempDir(), "no-such-binary")}
	if err := in.Available(); !errors.Is(err, power.ErrUnavailable) {
		t.Errorf("Available() error = %v, want ErrUnavailable", err)
	}
	if err := in.Acquire(context.Background(), time.Second); !errors.Is(err, power.ErrUnavailable) {
		t.Errorf("Acquire() error = %v, want ErrUnavailable", err)
	}
	if in.Held() {
		t.Error("Held() = true without a child")
	}
	if err := in.Release(); err != nil {
		t.Errorf("Release() error: %v", err)
	}
}

// fakeInhibit writes a shell script that ignores its flags and sleeps, so the
// process lifecycle can be tested without logind.
func fakeInhibit(t *testing.T) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	p := filepath.Join(t.TempDir(), "systemd-inhibit")
	script := "#!/bin/sh\nexec sleep 30\n"
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestInhibitor_Lifecycle(t *testing.T) {
	t.Parallel()

	in := &power.Inhibitor{Path: fakeInhibit(t)}
	if err := in.Acquire(context.Background(), time.Minute); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !in.Held() {
		t.Fatal("Held() = false after Acquire")
	}
	if err := in.Acquire(context.Background(), time.Minute); err != nil {
		t.Fatalf("renewing Acquire() error: %v", err)
	}
	if err := in.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if in.Held() {
		t.Error("Held() = true after Release")
	}
}
