// Package syncutil provides keyed synchronization primitives.
package syncutil

import (
	"context"
	"hash/fnv"
)

const keyedMutexShards = 128

// KeyedMutex serializes work per string key using a fixed pool of
// channel-based locks, so memory stays bounded no matter how many keys
// are seen. Keys that hash to the same shard contend with each other;
// that is acceptable for dedupe use, where a spurious wait only delays
// a caller briefly.
type KeyedMutex struct {
	shards [keyedMutexShards]chan struct{}
}

// NewKeyedMutex creates a keyed mutex with all shards unlocked.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// Acquire takes the lock for key, waiting until it is free or ctx is
// cancelled. On success it returns a release function the caller must
// invoke exactly once; on cancellation it returns the context error.
func (m *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	shard := m.shards[m.shardIdx(key)]
	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % keyedMutexShards
}
