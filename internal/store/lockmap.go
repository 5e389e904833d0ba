package store

import "sync"

// lockMap hands out one mutex per key. A key's gate is a channel that is
// closed when its holder unlocks.
type lockMap struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newLockMap() *lockMap {
	return &lockMap{gates: map[string]chan struct{}{}}
}

// Lock blocks until key is free and returns the matching unlock func
func (m *lockMap) Lock(key string) func() {
	for {
		m.mu.Lock()
		gate, held := m.gates[key]
		if !held {
			released := make(chan struct{})
			m.gates[key] = released
			m.mu.Unlock()

			return func() {
				m.mu.Lock()
				defer m.mu.Unlock()
				delete(m.gates, key)
				close(released)
			}
		}
		m.mu.Unlock()

		// someone else might win the race after the release, so retry
		<-gate
	}
}
