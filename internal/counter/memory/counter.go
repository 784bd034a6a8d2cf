// Package memory provides an in-process counter store for single-instance
// deployments.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/studylens/video-pipeline/internal/pipeline"
)

type entry struct {
	count int64
	reset time.Time
}

// Store implements pipeline.CounterStore with a mutex-guarded map.
// Expired counters are cleaned up lazily on the next increment for the key.
type Store struct {
	mu       sync.Mutex
	counters map[string]*entry
	clock    pipeline.Clock
}

// New constructs a Store using the provided clock.
func New(clock pipeline.Clock) *Store {
	return &Store{
		counters: make(map[string]*entry),
		clock:    clock,
	}
}

// Increment atomically bumps the counter for key, creating it with an expiry
// of now+window on first use, and returns the post-increment count plus the
// expiry time.
func (s *Store) Increment(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.counters[key]
	if !ok || !now.Before(e.reset) {
		e = &entry{reset: now.Add(window)}
		s.counters[key] = e
	}
	e.count++
	return e.count, e.reset, nil
}

// Reset clears every counter whose key starts with prefix. An empty prefix
// clears everything.
func (s *Store) Reset(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.counters {
		if strings.HasPrefix(key, prefix) {
			delete(s.counters, key)
		}
	}
	return nil
}

// Len reports the number of live counters; expired entries still pending lazy
// cleanup are included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}
