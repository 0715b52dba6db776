package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Secondary is a TTL key/value map. Expiry is checked when a key is read;
// there is no background sweeper.
type Secondary struct {
	mu      sync.Mutex
	entries map[string]entry

	// Now is the clock used for expiry. Defaults to time.Now.
	Now func() time.Time
}

func NewSecondary() *Secondary {
	return &Secondary{entries: make(map[string]entry), Now: time.Now}
}

func (s *Secondary) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Secondary) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key)
}

// Take returns key and removes it under one lock.
func (s *Secondary) Take(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, found, err := s.get(key)
	delete(s.entries, key)
	return v, found, err
}

// get requires s.mu.
func (s *Secondary) get(key string) (string, bool, error) {
	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *Secondary) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return nil
}

func (s *Secondary) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
