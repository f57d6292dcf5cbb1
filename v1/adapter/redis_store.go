package adapter

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultRedisOpTimeout = 5 * time.Second

// RedisStore implements Store using a Redis backend. Keys are namespaced
// with an optional prefix which Keys strips again.
type RedisStore[T any] struct {
	client  *redis.Client
	timeout time.Duration
	codec   Codec
	prefix  string
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisStoreOptions)

type redisStoreOptions struct {
	timeout time.Duration
	codec   Codec
	prefix  string
}

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisStoreOptions) {
		o.timeout = d
	}
}

// WithRedisCodec sets the codec for serialization. JSON is the default.
func WithRedisCodec(c Codec) RedisOption {
	return func(o *redisStoreOptions) {
		o.codec = c
	}
}

// WithKeyPrefix namespaces every key, e.g. "users:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *redisStoreOptions) {
		o.prefix = prefix
	}
}

// NewRedisStore returns a new RedisStore using the provided Redis client.
func NewRedisStore[T any](client *redis.Client, opts ...RedisOption) *RedisStore[T] {
	o := redisStoreOptions{timeout: defaultRedisOpTimeout, codec: JSONCodec{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore[T]{client: client, timeout: o.timeout, codec: o.codec, prefix: o.prefix}
}

// Get implements Store.Get.
func (s *RedisStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctxErr(ctx); err != nil {
		return zero, false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := s.client.Get(cctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, mapErr(err)
	}
	var v T
	if err := s.codec.Unmarshal(data, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set implements Store.Set.
func (s *RedisStore[T]) Set(ctx context.Context, key string, value T) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	data, err := s.codec.Marshal(value)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return mapErr(s.client.Set(cctx, s.prefix+key, data, 0).Err())
}

// Keys implements Store.Keys using SCAN to iterate over keys.
func (s *RedisStore[T]) Keys(ctx context.Context) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(cctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, mapErr(err)
		}
		for _, k := range batch {
			keys = append(keys, k[len(s.prefix):])
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return keys, nil
}
