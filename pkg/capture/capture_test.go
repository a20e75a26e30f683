package capture_test

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/MrWong99/voxlog/pkg/capture"
)

func TestExclusive(t *testing.T) {
	t.Parallel()

	var ex capture.Exclusive
	if err := ex.Acquire("a.m4a"); err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}
	err := ex.Acquire("b.m4a")
	if !errors.Is(err, capture.ErrAlreadyOpen) {
		t.Fatalf("second Acquire() error = %v, want ErrAlreadyOpen", err)
	}
	var oe *capture.OpenError
	if !errors.As(err, &oe) || oe.Path != "b.m4a" {
		t.Errorf("second Acquire() error = %#v, want *OpenError for b.m4a", err)
	}
	ex.Release()
	if ex.Held() {
		t.Error("Held() = true after Release")
	}
	if err := ex.Acquire("c.m4a"); err != nil {
		t.Errorf("Acquire() after Release error: %v", err)
	}
}

func TestExclusive_Concurrent(t *testing.T) {
	t.Parallel()

	var (
		ex   capture.Exclusive
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ex.Acquire("x") == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("concurrent Acquire winners = %d, want 1", wins)
	}
}

func TestPeak(t *testing.T) {
	t.Parallel()

	var p capture.Peak
	p.Observe([]int16{10, -300, 200})
	p.Observe([]int16{5})
	if got := p.Take(); got != 300 {
		t.Errorf("Take() = %d, want 300", got)
	}
	if got := p.Take(); got != 0 {
		t.Errorf("Take() after reset = %d, want 0", got)
	}

	p.Observe([]int16{math.MinInt16})
	if got := p.Take(); got != capture.MaxAmplitude {
		t.Errorf("Take() for MinInt16 = %d, want %d", got, capture.MaxAmplitude)
	}
}
