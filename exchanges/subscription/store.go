package subscription

import (
	"fmt"
	"slices"
	"sync"
)

// Store is an insertion-ordered registry of subscriptions. Order
// matters: on reconnect, subscribe payloads replay in the order the
// channels were first registered.
type Store struct {
	mtx   sync.RWMutex
	subs  map[string]*Subscription
	order []string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{subs: make(map[string]*Subscription)}
}

// Add registers a subscription under its key.
func (s *Store) Add(sub *Subscription) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.subs[sub.Key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, sub.Key)
	}
	s.subs[sub.Key] = sub
	s.order = append(s.order, sub.Key)
	return nil
}

// Get returns the subscription for a key.
func (s *Store) Get(key string) (*Subscription, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	sub, ok := s.subs[key]
	return sub, ok
}

// Remove deletes the subscription for a key.
func (s *Store) Remove(key string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.subs[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(s.subs, key)
	if i := slices.Index(s.order, key); i != -1 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return nil
}

// List returns all subscriptions in insertion order.
func (s *Store) List() []*Subscription {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	out := make([]*Subscription, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.subs[key])
	}
	return out
}

// Len returns the number of registered subscriptions.
func (s *Store) Len() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.subs)
}

// Clear removes every subscription.
func (s *Store) Clear() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.subs = make(map[string]*Subscription)
	s.order = nil
}
