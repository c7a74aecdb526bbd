// Package ephemeral provides short-lived keyed stores with per-entry TTL.
//
// Three stores in rolepass are built on it: the correlation store that holds
// in-flight authorization attempts, the session handoff store that moves a
// freshly minted token set across a redirect, and the replay guard used by
// protected services. All of them share the same contract:
//
//   - Put never overwrites a live entry; it fails with ErrExists instead.
//   - TakeOnce atomically reads and deletes, so concurrent callers racing on
//     the same key observe exactly one hit.
//   - A miss is reported through the boolean result, never as an error.
//   - Sweep removes expired entries on demand, which keeps expiry testable
//     without relying on background timers.
//
// MemoryStore serves single-instance deployments. RedisStore is the shared
// TTL cache to use once more than one instance handles callbacks.
package ephemeral

import (
	"context"
	"errors"
	"time"
)

var (
	ErrExists     = errors.New("key already present")
	ErrInvalidTTL = errors.New("ttl must be positive")
	ErrInternal   = errors.New("internal store error")
)

// Store is a keyed container whose entries expire after their TTL.
type Store[V any] interface {
	Put(ctx context.Context, key string, value V, ttl time.Duration) error
	Get(ctx context.Context, key string) (V, bool, error)
	TakeOnce(ctx context.Context, key string) (V, bool, error)
	Delete(ctx context.Context, key string) error
	Sweep(ctx context.Context) (int, error)
}

// Sweepable is the part of a Store the Sweeper needs.
type Sweepable interface {
	Sweep(ctx context.Context) (int, error)
}
