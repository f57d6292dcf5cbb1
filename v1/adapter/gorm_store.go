package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultGormTableName = "lrucache_kv"
	defaultGormOpTimeout = 5 * time.Second
)

// gormKV is the row model: one encoded value per key.
type gormKV struct {
	Key       string `gorm:"primaryKey;column:key_id"`
	Value     []byte `gorm:"column:value"`
	UpdatedAt time.Time
}

// GormStore implements Store on top of any SQL database GORM can open.
type GormStore[T any] struct {
	db        *gorm.DB
	tableName string
	timeout   time.Duration
	codec     Codec
}

// GormOption configures a GormStore.
type GormOption func(*gormStoreOptions)

type gormStoreOptions struct {
	tableName string
	timeout   time.Duration
	codec     Codec
}

// WithGormTableName sets the table name for the GormStore.
func WithGormTableName(name string) GormOption {
	return func(o *gormStoreOptions) {
		o.tableName = name
	}
}

// WithGormTimeout sets the operation timeout for GORM calls.
func WithGormTimeout(d time.Duration) GormOption {
	return func(o *gormStoreOptions) {
		o.timeout = d
	}
}

// WithGormCodec sets the codec for serialization. Gob is the default.
func WithGormCodec(c Codec) GormOption {
	return func(o *gormStoreOptions) {
		o.codec = c
	}
}

// NewGormStore returns a GormStore, creating its table when missing.
func NewGormStore[T any](db *gorm.DB, opts ...GormOption) (*GormStore[T], error) {
	o := gormStoreOptions{
		tableName: defaultGormTableName,
		timeout:   defaultGormOpTimeout,
		codec:     GobCodec{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := db.Table(o.tableName).AutoMigrate(&gormKV{}); err != nil {
		return nil, fmt.Errorf("adapter: migrate %s: %w", o.tableName, err)
	}
	return &GormStore[T]{
		db:        db,
		tableName: o.tableName,
		timeout:   o.timeout,
		codec:     o.codec,
	}, nil
}

// Get implements Store.Get.
func (s *GormStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctxErr(ctx); err != nil {
		return zero, false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var kv gormKV
	err := s.db.WithContext(cctx).Table(s.tableName).First(&kv, "key_id = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, mapErr(err)
	}
	var v T
	if err := s.codec.Unmarshal(kv.Value, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set implements Store.Set as an upsert.
func (s *GormStore[T]) Set(ctx context.Context, key string, value T) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	data, err := s.codec.Marshal(value)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	kv := gormKV{Key: key, Value: data}
	err = s.db.WithContext(cctx).Table(s.tableName).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&kv).Error
	return mapErr(err)
}

// Keys implements Store.Keys in primary key order.
func (s *GormStore[T]) Keys(ctx context.Context) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var keys []string
	if err := s.db.WithContext(cctx).Table(s.tableName).Order("key_id").Pluck("key_id", &keys).Error; err != nil {
		return nil, mapErr(err)
	}
	return keys, nil
}
