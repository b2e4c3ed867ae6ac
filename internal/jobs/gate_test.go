package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGateSerialisesSameKey(t *testing.T) {
	g := NewGate(t.TempDir())
	ctx := context.Background()

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(ctx, TBDBAccessKey)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer release()
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Fatalf("expected at most one holder, saw %d", peak)
	}
}

func TestGateKeysAreIndependent(t *testing.T) {
	g := NewGate("")
	ctx := context.Background()

	releaseA, err := g.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	releaseB, err := g.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("Acquire b while a is held: %v", err)
	}
	releaseB()
}

func TestGateAcquireHonoursContext(t *testing.T) {
	g := NewGate("")
	release, err := g.Acquire(context.Background(), TBDBAccessKey)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(ctx, TBDBAccessKey); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	release()
	release() // second call is a no-op

	again, err := g.Acquire(context.Background(), TBDBAccessKey)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again()
}

func TestGateFileLockSharedAcrossGates(t *testing.T) {
	dir := t.TempDir()
	first := NewGate(dir)
	second := NewGate(dir)

	release, err := first.Acquire(context.Background(), TBDBAccessKey)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := second.Acquire(ctx, TBDBAccessKey); err == nil {
		t.Fatal("expected second gate to wait on the file lock")
	}

	release()
	got, err := second.Acquire(context.Background(), TBDBAccessKey)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	got()
}
