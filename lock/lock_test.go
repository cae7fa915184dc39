package lock

import (
	"sync"
	"testing"
	"time"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	dir := t.TempDir()

	g, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := g.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestReleaseIsSafeOnNilGuard(t *testing.T) {
	var g *Guard
	if err := g.Release(); err != nil {
		t.Fatalf("Release on nil guard: %v", err)
	}
}

func TestAcquireBlocksConcurrentHolder(t *testing.T) {
	dir := t.TempDir()

	g1, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var wg sync.WaitGroup
	acquired := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		g2, err := Acquire(dir)
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			return
		}
		close(acquired)
		g2.Release()
	}()

	select {
	case <-acquired:
		t.Fatalf("second Acquire should not succeed while the first guard is held")
	case <-time.After(100 * time.Millisecond):
	}

	if err := g1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	wg.Wait()
}
