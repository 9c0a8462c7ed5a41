package syncutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutexAcquireRelease(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	release, err := m.Acquire(ctx, "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	release()

	// Reacquire after release must succeed immediately.
	release, err = m.Acquire(ctx, "0xabc")
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	release()
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var inCritical atomic.Int32
	var maxSeen atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "same-key")
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			n := inCritical.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inCritical.Add(-1)
			release()
		}()
	}
	wg.Wait()

	if got := maxSeen.Load(); got != 1 {
		t.Errorf("expected exclusive access, saw %d holders at once", got)
	}
}

func TestKeyedMutexCancelledWaiter(t *testing.T) {
	m := NewKeyedMutex()

	release, err := m.Acquire(context.Background(), "held")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := m.Acquire(ctx, "held"); err == nil {
		t.Fatal("expected context error while lock is held")
	}
}

func TestKeyedMutexIndependentKeysDoNotBlock(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	// Distinct keys may share a shard; find two that do not.
	keyA := "0x1111111111111111111111111111111111111111"
	keyB := keyA
	for i := 0; m.shardIdx(keyA) == m.shardIdx(keyB); i++ {
		keyB = string(rune('a'+i)) + keyA
	}

	releaseA, err := m.Acquire(ctx, keyA)
	if err != nil {
		t.Fatalf("acquire A failed: %v", err)
	}
	defer releaseA()

	ctxB, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	releaseB, err := m.Acquire(ctxB, keyB)
	if err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
	releaseB()
}
