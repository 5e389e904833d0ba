// Package queue holds the ordered, deduplicated list of pending uploads.
package queue

import (
	"errors"

	"github.com/google/uuid"

	"mediaup/pkg/types"
)

// ErrInvalidEntry is returned when an entry has no destination target
var ErrInvalidEntry = errors.New("invalid entry: target is required")

// Entry is one pending or in-flight upload
type Entry struct {
	ID        string
	Target    *types.Target
	SourceRef string
	Filename  string
	BytesSent int64
	Max       int64
	Active    bool
}

// State is an immutable snapshot of the queue. Every mutation returns a new
// value and leaves the receiver untouched.
type State struct {
	order   []string
	entries map[string]Entry
}

// Empty returns a queue with no entries
func Empty() State {
	return State{entries: map[string]Entry{}}
}

func (s State) clone() State {
	order := make([]string, len(s.order))
	copy(order, s.order)
	entries := make(map[string]Entry, len(s.entries))
	for id, e := range s.entries {
		entries[id] = e
	}
	return State{order: order, entries: entries}
}

func withID(e Entry) (Entry, error) {
	if e.Target == nil {
		return e, ErrInvalidEntry
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return e, nil
}

// Upsert appends e to the order if its id is new and always replaces the
// stored value. The returned id is the one generated when e had none.
func (s State) Upsert(e Entry) (State, string, error) {
	e, err := withID(e)
	if err != nil {
		return s, "", err
	}

	next := s.clone()
	if _, ok := next.entries[e.ID]; !ok {
		next.order = append(next.order, e.ID)
	}
	next.entries[e.ID] = e
	return next, e.ID, nil
}

// Replace discards the current contents and rebuilds the queue from entries.
// A duplicate id keeps the position of its first appearance and the value of
// its last.
func (s State) Replace(entries []Entry) (State, error) {
	next := Empty()
	for _, e := range entries {
		e, err := withID(e)
		if err != nil {
			return s, err
		}
		if _, ok := next.entries[e.ID]; !ok {
			next.order = append(next.order, e.ID)
		}
		next.entries[e.ID] = e
	}
	return next, nil
}

// Remove deletes id. Missing ids are ignored.
func (s State) Remove(id string) State {
	if _, ok := s.entries[id]; !ok {
		return s
	}
	next := s.clone()
	delete(next.entries, id)
	for i, v := range next.order {
		if v == id {
			next.order = append(next.order[:i], next.order[i+1:]...)
			break
		}
	}
	return next
}

// SetActive changes only the active flag of id
func (s State) SetActive(id string, active bool) State {
	e, ok := s.entries[id]
	if !ok {
		return s
	}
	next := s.clone()
	e.Active = active
	next.entries[id] = e
	return next
}

// Get returns the entry stored under id
func (s State) Get(id string) (Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Order returns the ids in enqueue order
func (s State) Order() []string {
	order := make([]string, len(s.order))
	copy(order, s.order)
	return order
}

// Len returns the number of entries
func (s State) Len() int {
	return len(s.order)
}

// ActiveOrdered is the drain work list: active entries in enqueue order
func (s State) ActiveOrdered() []Entry {
	var out []Entry
	for _, id := range s.order {
		if e := s.entries[id]; e.Active {
			out = append(out, e)
		}
	}
	return out
}
