package records

import "sync"

// KeyedMutex serializes work per record identifier. Entries are discarded once
// the last holder releases them, so the map stays bounded by concurrency, not
// by record count.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu      sync.Mutex
	holders int
}

// NewKeyedMutex constructs an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key, creating it on first use.
func (keyed *KeyedMutex) Lock(key string) {
	keyed.mu.Lock()
	lock, ok := keyed.locks[key]
	if !ok {
		lock = &keyedLock{}
		keyed.locks[key] = lock
	}
	lock.holders++
	keyed.mu.Unlock()

	lock.mu.Lock()
}

// Unlock releases the mutex for key.
func (keyed *KeyedMutex) Unlock(key string) {
	keyed.mu.Lock()
	lock, ok := keyed.locks[key]
	if !ok {
		keyed.mu.Unlock()
		return
	}
	lock.holders--
	if lock.holders == 0 {
		delete(keyed.locks, key)
	}
	keyed.mu.Unlock()

	lock.mu.Unlock()
}
