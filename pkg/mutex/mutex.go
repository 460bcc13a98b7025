package mutex

import "sync"

// KeyedMutex holds at most one lock per key. It never blocks: a caller that
// finds the key taken is expected to give up.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]struct{}
}

// TryLock takes the key and reports whether it was free.
func (km *KeyedMutex) TryLock(key string) bool {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.locks == nil {
		km.locks = make(map[string]struct{})
	}
	if _, busy := km.locks[key]; busy {
		return false
	}
	km.locks[key] = struct{}{}

	return true
}

func (km *KeyedMutex) Unlock(key string) {
	km.mu.Lock()
	defer km.mu.Unlock()

	delete(km.locks, key)
}
