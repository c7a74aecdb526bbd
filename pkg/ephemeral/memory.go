package ephemeral

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore keeps entries in process memory. It is safe for concurrent use.
type MemoryStore[V any] struct {
	name  string
	mu    sync.Mutex
	cache *ttlcache.Cache[string, V]
}

var _ Store[struct{}] = (*MemoryStore[struct{}])(nil)

// NewMemoryStore creates an empty store. The name only appears in errors and
// logs, so callers can tell stores apart.
func NewMemoryStore[V any](
	name string,
) *MemoryStore[V] {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, V](),
	)
	return &MemoryStore[V]{
		name:  name,
		cache: cache,
	}
}

func (s *MemoryStore[V]) Name() string {
	return s.name
}

func (s *MemoryStore[V]) Put(
	_ context.Context,
	key string,
	value V,
	ttl time.Duration,
) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTTL, s.name, ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.cache.Get(key); item != nil && !item.IsExpired() {
		return fmt.Errorf("%w: %s", ErrExists, s.name)
	}
	s.cache.Set(key, value, ttl)
	return nil
}

func (s *MemoryStore[V]) Get(
	_ context.Context,
	key string,
) (
	V,
	bool,
	error,
) {
	var zero V
	item := s.cache.Get(key)
	if item == nil || item.IsExpired() {
		return zero, false, nil
	}
	return item.Value(), true, nil
}

// TakeOnce returns the entry and removes it in one step. Of any number of
// concurrent calls for the same key, at most one reports a hit.
func (s *MemoryStore[V]) TakeOnce(
	_ context.Context,
	key string,
) (
	V,
	bool,
	error,
) {
	var zero V

	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(key)
	if item == nil {
		return zero, false, nil
	}
	s.cache.Delete(key)
	if item.IsExpired() {
		return zero, false, nil
	}
	return item.Value(), true, nil
}

func (s *MemoryStore[V]) Delete(
	_ context.Context,
	key string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(key)
	return nil
}

// Sweep drops every expired entry and reports how many were removed.
func (s *MemoryStore[V]) Sweep(
	_ context.Context,
) (
	int,
	error,
) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed atomic.Int64
	unsubscribe := s.cache.OnEviction(func(
		_ context.Context,
		reason ttlcache.EvictionReason,
		_ *ttlcache.Item[string, V],
	) {
		if reason == ttlcache.EvictionReasonExpired {
			removed.Add(1)
		}
	})
	s.cache.DeleteExpired()
	// waits for the eviction handlers to return
	unsubscribe()
	return int(removed.Load()), nil
}

// Len counts live entries. Expired entries are left out even before a sweep
// removes them.
func (s *MemoryStore[V]) Len() int {
	return s.cache.Len()
}
