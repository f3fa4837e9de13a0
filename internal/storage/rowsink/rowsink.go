// Package rowsink implements the Storage Factory's row (record-oriented,
// queryable) sink kind over PostgreSQL via pgx/v5.
package rowsink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config is the row sink's JSON config shape (spec §6): host, port,
// username, password, database, timeout(s), poolSize.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
	Timeout  int    `json:"timeout"` // seconds
	PoolSize int    `json:"poolSize"`
}

// ConfigFromJSON parses the Storage Factory's JSON config document into
// a Config, matching StorageFactory::CreateMySQLConfigFromJson's role in
// the original implementation (row sink here targets Postgres, the
// relational driver grounded in the example corpus).
func ConfigFromJSON(doc []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return Config{}, fmt.Errorf("rowsink: parse config: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	return cfg, nil
}

// Sink is a pooled Postgres connection handle.
type Sink struct {
	cfg  Config
	pool *pgxpool.Pool
}

// New builds a pool for cfg. pgxpool returns without establishing a
// connection, so an unreachable server is only reported by the first
// query or by the registry's liveness check (Ping/TestConnection).
func New(ctx context.Context, cfg Config) (*Sink, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?pool_max_conns=%d",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.PoolSize)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("rowsink: parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.PoolSize)
	poolCfg.ConnConfig.ConnectTimeout = time.Duration(cfg.Timeout) * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("rowsink: connect: %w", err)
	}
	return &Sink{cfg: cfg, pool: pool}, nil
}

// Ping checks the pool's liveness.
func (s *Sink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// TestConnection is an alias for Ping matching the Storage Factory
// contract's naming (spec §4.6: "Ping/TestConnection for liveness").
func (s *Sink) TestConnection(ctx context.Context) error {
	return s.Ping(ctx)
}

// Exec runs a statement with no result rows, for Processor pipelines
// that write rows through this sink.
func (s *Sink) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := s.pool.Exec(ctx, sql, args...)
	return err
}

// Query runs a statement and returns the row set for the caller to scan.
func (s *Sink) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.pool.Query(ctx, sql, args...)
}

// Close releases the pool.
func (s *Sink) Close() {
	s.pool.Close()
}
