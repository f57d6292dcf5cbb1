package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-lrucache/v1/adapter"
	"github.com/mirkobrombin/go-lrucache/v1/cache"
	"github.com/mirkobrombin/go-lrucache/v1/config"
	"github.com/mirkobrombin/go-lrucache/v1/presets"
	"github.com/mirkobrombin/go-lrucache/v1/syncbus"
)

// openCache builds the string cache served by serve and proxy. backend picks
// the value source (memory, redis or sqlite); the event bus comes from the
// bus section of the configuration.
func (a *app) openCache(backend string, reg prometheus.Registerer) (*presets.Cache[string], error) {
	opts := append(config.CacheOptions[string](a.cfg.Cache),
		cache.WithLogger[string, string](a.logger),
	)
	if reg != nil {
		opts = append(opts, cache.WithMetrics[string, string](reg))
	}
	if a.cfg.Telemetry.Tracing {
		opts = append(opts, cache.WithTracing[string, string]())
	}

	var release []func() error
	cleanup := func() {
		for _, fn := range release {
			_ = fn()
		}
	}

	var redisClient *redis.Client
	getRedis := func() *redis.Client {
		if redisClient == nil {
			rc := a.cfg.Redis
			redisClient = redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
			release = append(release, redisClient.Close)
		}
		return redisClient
	}

	var store adapter.Store[string]
	switch backend {
	case "memory":
		store = adapter.NewInMemoryStore[string]()
	case "redis":
		store = adapter.NewRedisStore[string](getRedis(), adapter.WithKeyPrefix(a.cfg.Redis.KeyPrefix))
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(a.cfg.SQL.DSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", a.cfg.SQL.DSN, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		release = append(release, sqlDB.Close)
		gs, err := adapter.NewGormStore[string](db)
		if err != nil {
			cleanup()
			return nil, err
		}
		store = gs
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}

	bus, closeBus, err := a.openBus(getRedis)
	if err != nil {
		cleanup()
		return nil, err
	}
	if closeBus != nil {
		// the bus goes before the connections it may share
		release = append([]func() error{closeBus}, release...)
	}

	c, err := presets.New[string](a.cfg.Cache.Name, store, bus, a.cfg.Bus.Topic, opts...)
	if err != nil {
		cleanup()
		return nil, err
	}
	for _, fn := range release {
		c.OnClose(fn)
	}
	return c, nil
}

// openBus returns the configured event bus. Remote buses sit behind a
// circuit breaker.
func (a *app) openBus(getRedis func() *redis.Client) (syncbus.Bus, func() error, error) {
	bc := a.cfg.Bus
	breaker := func(b syncbus.Bus) syncbus.Bus {
		return syncbus.NewCircuitBreaker(b, 5, 10*time.Second)
	}
	switch bc.Kind {
	case "", "memory":
		return syncbus.NewInMemoryBus(), nil, nil
	case "redis":
		b := syncbus.NewRedisBus(getRedis())
		return breaker(b), b.Close, nil
	case "nats":
		conn, err := nats.Connect(bc.NATSURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats %s: %w", bc.NATSURL, err)
		}
		return breaker(syncbus.NewNATSBus(conn)), func() error {
			conn.Close()
			return nil
		}, nil
	case "kafka":
		if len(bc.KafkaBrokers) == 0 {
			return nil, nil, errors.New("kafka bus needs at least one broker")
		}
		b, err := syncbus.NewKafkaBus(bc.KafkaBrokers, sarama.NewConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("connect kafka: %w", err)
		}
		return breaker(b), func() error {
			b.Close()
			return nil
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown bus kind %q", bc.Kind)
	}
}
