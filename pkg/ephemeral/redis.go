package ephemeral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries in Redis so several instances can share them.
// Values are stored as JSON under "<prefix>:<key>". Expiry is left to Redis,
// so Sweep has nothing to do.
type RedisStore[V any] struct {
	client redis.UniversalClient
	prefix string
}

var _ Store[struct{}] = (*RedisStore[struct{}])(nil)

func NewRedisStore[V any](
	client redis.UniversalClient,
	prefix string,
) *RedisStore[V] {
	return &RedisStore[V]{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore[V]) key(k string) string {
	return s.prefix + ":" + k
}

func (s *RedisStore[V]) Put(
	ctx context.Context,
	key string,
	value V,
	ttl time.Duration,
) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTTL, s.prefix, ttl)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: failed to encode entry: %v", ErrInternal, err)
	}

	ok, err := s.client.SetNX(ctx, s.key(key), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrExists, s.prefix)
	}
	return nil
}

func (s *RedisStore[V]) Get(
	ctx context.Context,
	key string,
) (
	V,
	bool,
	error,
) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	return s.decode(data, err)
}

// TakeOnce relies on GETDEL, which Redis executes atomically.
func (s *RedisStore[V]) TakeOnce(
	ctx context.Context,
	key string,
) (
	V,
	bool,
	error,
) {
	data, err := s.client.GetDel(ctx, s.key(key)).Bytes()
	return s.decode(data, err)
}

func (s *RedisStore[V]) Delete(
	ctx context.Context,
	key string,
) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return nil
}

func (s *RedisStore[V]) Sweep(
	_ context.Context,
) (
	int,
	error,
) {
	return 0, nil
}

func (s *RedisStore[V]) decode(
	data []byte,
	err error,
) (
	V,
	bool,
	error,
) {
	var value V
	if errors.Is(err, redis.Nil) {
		return value, false, nil
	}
	if err != nil {
		return value, false, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false, fmt.Errorf("%w: failed to decode entry: %v", ErrInternal, err)
	}
	return value, true, nil
}
