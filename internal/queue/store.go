package queue

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("queue")

// Store serializes mutations of a State and notifies observers after each one
type Store struct {
	mu        sync.Mutex
	state     State
	nextID    int
	observers map[int]func(State)
	subs      map[int]chan struct{}
}

// NewStore returns an empty queue store
func NewStore() *Store {
	return &Store{
		state:     Empty(),
		observers: make(map[int]func(State)),
		subs:      make(map[int]chan struct{}),
	}
}

// Snapshot returns the current state
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Upsert adds or replaces e and returns its id
func (s *Store) Upsert(e Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, id, err := s.state.Upsert(e)
	if err != nil {
		return "", err
	}
	s.commit(next)
	return id, nil
}

// Replace rebuilds the queue from entries
func (s *Store) Replace(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.state.Replace(entries)
	if err != nil {
		return err
	}
	s.commit(next)
	return nil
}

// Remove deletes id
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit(s.state.Remove(id))
}

// SetActive enables or disables id
func (s *Store) SetActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit(s.state.SetActive(id, active))
}

// UpdateProgress publishes transfer progress for id. Only the byte counters are
// written so a concurrent SetActive is never undone. bytesSent is clamped to
// [0, max]. Returns false if id is no longer queued.
func (s *Store) UpdateProgress(id string, bytesSent, max int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.state.Get(id)
	if !ok {
		return false
	}
	if max < 0 {
		max = 0
	}
	if bytesSent > max {
		bytesSent = max
	}
	if bytesSent < 0 {
		bytesSent = 0
	}
	e.BytesSent = bytesSent
	e.Max = max

	next, _, err := s.state.Upsert(e)
	if err != nil {
		log.Errorf("failed to update progress of %s: %v", id, err)
		return false
	}
	s.commit(next)
	return true
}

// Observe registers fn to be called synchronously with every new state. fn
// must not call back into the store.
func (s *Store) Observe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// Subscribe returns a channel that receives a value after mutations. Bursts
// of mutations coalesce into a single pending notification.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// commit must be called with mu held
func (s *Store) commit(next State) {
	s.state = next
	for _, fn := range s.observers {
		fn(next)
	}
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
