package scheduler

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Store is a generic id→job map with TTL-based eviction of terminal
// jobs, mirroring the teacher's cache.Cache[T] shape but backed by
// patrickmn/go-cache so finished jobs expire instead of being retained
// forever (spec.md §3: "terminal states retained for a cleanup TTL then
// removed").
type Store[T any] struct {
	c *cache.Cache
}

// NewStore builds a Store whose entries expire cleanupTTL after their
// last Store call unless refreshed again.
func NewStore[T any](cleanupTTL time.Duration) *Store[T] {
	return &Store[T]{c: cache.New(cleanupTTL, cleanupTTL/2)}
}

func (s *Store[T]) Store(id string, value T) {
	s.c.Set(id, value, cache.DefaultExpiration)
}

func (s *Store[T]) Get(id string) (T, bool) {
	v, ok := s.c.Get(id)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

func (s *Store[T]) Remove(id string) {
	s.c.Delete(id)
}

// Len reports how many entries the store currently holds.
func (s *Store[T]) Len() int {
	return s.c.ItemCount()
}
