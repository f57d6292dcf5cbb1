// Package presets wires a cache together with a backing store and a
// removal event bus for the common deployments.
package presets

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-lrucache/v1/adapter"
	"github.com/mirkobrombin/go-lrucache/v1/cache"
	"github.com/mirkobrombin/go-lrucache/v1/notify"
	"github.com/mirkobrombin/go-lrucache/v1/syncbus"
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces the values loaded from Redis.
	KeyPrefix string
	// Topic is where removal events go. Defaults to notify.DefaultTopic.
	Topic string
}

// Cache is a string-keyed cache that reads through Store and reports
// removals on Bus.
type Cache[T any] struct {
	*cache.Cache[string, T]
	Store     adapter.Store[T]
	Bus       syncbus.Bus
	Publisher *notify.Publisher

	release []func() error
}

// OnClose registers fn to run when the cache is closed, after pending
// events are flushed. Functions run in registration order.
func (c *Cache[T]) OnClose(fn func() error) {
	c.release = append(c.release, fn)
}

// Close stops the cache, flushes pending removal events and releases the
// resources registered with OnClose.
func (c *Cache[T]) Close(ctx context.Context) error {
	c.Cache.Close()
	errs := []error{c.Publisher.Close(ctx)}
	for _, fn := range c.release {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}

// New returns a cache called name loading misses from store and publishing
// removal events on topic of bus. An empty topic selects
// notify.DefaultTopic.
func New[T any](name string, store adapter.Store[T], bus syncbus.Bus, topic string, opts ...cache.Option[string, T]) (*Cache[T], error) {
	var popts []notify.Option
	if topic != "" {
		popts = append(popts, notify.WithTopic(topic))
	}
	pub := notify.NewPublisher(bus, popts...)

	all := append([]cache.Option[string, T]{
		cache.WithName[string, T](name),
		cache.WithLoader[string, T](adapter.Loader(store)),
		cache.WithRemovalListener[string, T](notify.Listener[string](pub, name)),
	}, opts...)
	c, err := cache.New(all...)
	if err != nil {
		_ = pub.Close(context.Background())
		return nil, err
	}
	return &Cache[T]{
		Cache:     c,
		Store:     store,
		Bus:       bus,
		Publisher: pub,
	}, nil
}

// NewInMemoryStandalone returns a cache backed by an in-memory store and an
// in-memory bus. Useful for local development or simple caching.
func NewInMemoryStandalone[T any](name string, opts ...cache.Option[string, T]) (*Cache[T], error) {
	return New[T](name, adapter.NewInMemoryStore[T](), syncbus.NewInMemoryBus(), "", opts...)
}

// NewRedisBacked returns a cache loading misses from Redis and publishing
// removal events on Redis pub/sub. Publishing goes through a circuit
// breaker so an unreachable Redis does not pile up failing calls.
func NewRedisBacked[T any](name string, ro RedisOptions, opts ...cache.Option[string, T]) (*Cache[T], error) {
	client := redis.NewClient(&redis.Options{
		Addr:     ro.Addr,
		Password: ro.Password,
		DB:       ro.DB,
	})
	store := adapter.NewRedisStore[T](client, adapter.WithKeyPrefix(ro.KeyPrefix))
	redisBus := syncbus.NewRedisBus(client)
	bus := syncbus.NewCircuitBreaker(redisBus, 5, 10*time.Second)

	c, err := New[T](name, store, bus, ro.Topic, opts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	c.OnClose(redisBus.Close)
	c.OnClose(client.Close)
	return c, nil
}

// NewSQLBacked returns a cache loading misses from the SQLite database at
// dsn. Removal events stay in process.
func NewSQLBacked[T any](name, dsn string, opts ...cache.Option[string, T]) (*Cache[T], error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("presets: open %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	store, err := adapter.NewGormStore[T](db)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	c, err := New[T](name, store, syncbus.NewInMemoryBus(), "", opts...)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	c.OnClose(sqlDB.Close)
	return c, nil
}
