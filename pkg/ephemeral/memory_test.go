package ephemeral_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/rolepass/pkg/ephemeral"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pending struct {
	Verifier string
	Target   string
}

func TestMemoryStore_PutGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := ephemeral.NewMemoryStore[pending]("correlation")

	require.NoError(t, store.Put(ctx, "state-1", pending{Verifier: "v1", Target: "/home"}, time.Minute))

	got, ok, err := store.Get(ctx, "state-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", got.Verifier)

	// reads do not consume
	_, ok, err = store.Get(ctx, "state-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_PutRejectsCollision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := ephemeral.NewMemoryStore[pending]("correlation")

	require.NoError(t, store.Put(ctx, "state-1", pending{Verifier: "first"}, time.Minute))

	err := store.Put(ctx, "state-1", pending{Verifier: "second"}, time.Minute)
	require.ErrorIs(t, err, ephemeral.ErrExists)

	// original entry is untouched
	got, ok, err := store.Get(ctx, "state-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", got.Verifier)
}

func TestMemoryStore_PutRejectsNonPositiveTTL(t *testing.T) {
	t.Parallel()
	store := ephemeral.NewMemoryStore[pending]("correlation")

	err := store.Put(context.Background(), "k", pending{}, 0)
	assert.ErrorIs(t, err, ephemeral.ErrInvalidTTL)
}

func TestMemoryStore_TakeOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := ephemeral.NewMemoryStore[pending]("correlation")

	require.NoError(t, store.Put(ctx, "state-1", pending{Verifier: "v1"}, time.Minute))

	got, ok, err := store.TakeOnce(ctx, "state-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", got.Verifier)

	// second take is a miss, not an error
	_, ok, err = store.TakeOnce(ctx, "state-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// so is a key that never existed
	_, ok, err = store.TakeOnce(ctx, "never")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_TakeOnceConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := ephemeral.NewMemoryStore[pending]("correlation")
	require.NoError(t, store.Put(ctx, "state-1", pending{Verifier: "v1"}, time.Minute))

	const racers = 32
	var hits atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, err := store.TakeOnce(ctx, "state-1"); err == nil && ok {
				hits.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
}

func TestMemoryStore_ExpiredEntryIsAMiss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := ephemeral.NewMemoryStore[pending]("correlation")

	require.NoError(t, store.Put(ctx, "state-1", pending{Verifier: "v1"}, 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	// never consumed, but past its TTL
	_, ok, err := store.TakeOnce(ctx, "state-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_PutAfterExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := ephemeral.NewMemoryStore[pending]("replay")

	require.NoError(t, store.Put(ctx, "nonce", pending{Verifier: "old"}, 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	// an expired key may be recorded again
	require.NoError(t, store.Put(ctx, "nonce", pending{Verifier: "new"}, time.Minute))
	got, ok, err := store.Get(ctx, "nonce")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", got.Verifier)
}

func TestMemoryStore_Sweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := ephemeral.NewMemoryStore[pending]("handoff")

	require.NoError(t, store.Put(ctx, "short-1", pending{}, 20*time.Millisecond))
	require.NoError(t, store.Put(ctx, "short-2", pending{}, 20*time.Millisecond))
	require.NoError(t, store.Put(ctx, "long", pending{}, time.Minute))
	time.Sleep(40 * time.Millisecond)

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Len())

	// sweeping again is harmless
	removed, err = store.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestMemoryStore_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := ephemeral.NewMemoryStore[pending]("handoff")

	require.NoError(t, store.Put(ctx, "session", pending{}, time.Minute))
	require.NoError(t, store.Delete(ctx, "session"))
	require.NoError(t, store.Delete(ctx, "session"))

	_, ok, err := store.Get(ctx, "session")
	require.NoError(t, err)
	assert.False(t, ok)
}
