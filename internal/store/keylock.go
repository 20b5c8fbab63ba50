package store

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// KeyLock serializes in-process work per string key.
//
// The grant and release paths lock on the server ID so that concurrent
// requests for the same instance never interleave their read-compute-write
// sequences within one orchestrator replica. Cross-replica races are
// resolved at the KV layer by revision compare-and-swap.
//
// Mutexes are created on first use and kept for the process lifetime; the
// population is bounded by the fleet size.
type KeyLock struct {
	locks *xsync.Map[string, *sync.Mutex]
}

// NewKeyLock creates an empty lock set.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: xsync.NewMap[string, *sync.Mutex]()}
}

// Lock acquires the mutex for key and returns its unlock function.
//
// Example:
//
//	unlock := locks.Lock(serverID)
//	defer unlock()
func (l *KeyLock) Lock(key string) func() {
	mu, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	mu.Lock()

	return mu.Unlock
}
