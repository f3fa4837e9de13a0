// Package kvsink implements the Storage Factory's kv (key/value, with
// TTL, lists, hashes, sets, multi-key transactions) sink kind over Redis
// via go-redis/v9.
package kvsink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config is the kv sink's JSON config shape (spec §6): host, port,
// password, database, timeout(ms), poolSize.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	Database int    `json:"database"`
	Timeout  int    `json:"timeout"` // milliseconds
	PoolSize int    `json:"poolSize"`
}

// ConfigFromJSON parses the Storage Factory's JSON config document,
// matching StorageFactory::CreateRedisConfigFromJson's role in the
// original implementation.
func ConfigFromJSON(doc []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return Config{}, fmt.Errorf("kvsink: parse config: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3000
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	return cfg, nil
}

// Sink wraps a go-redis client behind the kv surface the Processor's
// storage pipelines expect: TTL'd keys, lists, hashes, sets, and
// multi-key transactions via the client's Pipelined/TxPipelined.
type Sink struct {
	cfg    Config
	client *redis.Client
}

// New opens a Redis client for cfg. go-redis connects lazily per
// command, so this neither dials nor checks the address; Ping below is
// what the registry uses for liveness.
func New(cfg Config) *Sink {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  time.Duration(cfg.Timeout) * time.Millisecond,
		ReadTimeout:  time.Duration(cfg.Timeout) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Timeout) * time.Millisecond,
	})
	return &Sink{cfg: cfg, client: client}
}

// Ping checks the connection's liveness.
func (s *Sink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// TestConnection is an alias for Ping matching the Storage Factory
// contract's naming.
func (s *Sink) TestConnection(ctx context.Context) error {
	return s.Ping(ctx)
}

// SetWithTTL stores a value with an expiry, the sink kind's headline
// capability over the row sink.
func (s *Sink) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// HSet writes a hash field, exercising the kv sink's hash capability.
func (s *Sink) HSet(ctx context.Context, key string, values ...any) error {
	return s.client.HSet(ctx, key, values...).Err()
}

// LPush pushes onto a list, exercising the kv sink's list capability.
func (s *Sink) LPush(ctx context.Context, key string, values ...any) error {
	return s.client.LPush(ctx, key, values...).Err()
}

// SAdd adds to a set, exercising the kv sink's set capability.
func (s *Sink) SAdd(ctx context.Context, key string, members ...any) error {
	return s.client.SAdd(ctx, key, members...).Err()
}

// Transact runs fn inside a WATCH/MULTI/EXEC pipeline, the kv sink's
// multi-key transaction capability.
func (s *Sink) Transact(ctx context.Context, fn func(pipe redis.Pipeliner) error, keys ...string) error {
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, fn)
		return err
	}, keys...)
}

// Close releases the client's connection pool.
func (s *Sink) Close() error {
	return s.client.Close()
}
