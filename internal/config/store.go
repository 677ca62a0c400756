package config

import (
	"sync"
)

// Store holds the live configuration and notifies subscribers when it changes.
// It is safe for concurrent use.
type Store struct {
	// notifyMu is held from the swap through the subscriber loop, so
	// subscribers observe changes in commit order.
	notifyMu sync.Mutex

	mu     sync.RWMutex
	cfg    Config
	nextID int
	subs   []subscription
}

type subscription struct {
	id int
	fn func(old, new Config)
}

// NewStore creates a store seeded with cfg. A nil cfg uses DefaultConfig.
func NewStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Store{cfg: *cfg}
}

// Current returns a copy of the live configuration.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update applies fn to a copy of the live configuration. The candidate is
// validated first; an invalid candidate is rejected and nothing changes.
// Subscribers run synchronously, in registration order, after the swap.
// Concurrent updates are delivered one at a time; a subscriber must not
// call Update itself.
func (s *Store) Update(fn func(*Config)) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	old := s.cfg
	candidate := old
	fn(&candidate)
	if err := candidate.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg = candidate
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(old, candidate)
	}
	return nil
}

// Subscribe registers fn to be called after every successful Update.
// The returned function cancels the subscription.
func (s *Store) Subscribe(fn func(old, new Config)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}
