// Package store provides the key/value backends the cache engine writes
// through: Redis for shared deployments, SQLite for single-node persistence,
// and an in-memory map for tests and embedded use.
//
// All backends enforce per-key TTL themselves (native Redis expiry, lazy plus
// background sweeps for SQLite and in-memory) so a value past its TTL is never
// returned. Every operation takes a context and runs under a bounded per-query
// timeout; a slow or dead backend surfaces as an error the engine treats as a
// miss, never as a hang.
package store

import (
	"context"
	"errors"
	"time"
)

// Store is a key/value backend with per-key TTL and pattern deletion.
// Values are opaque byte slices; serialization is the caller's concern.
type Store interface {
	// Get returns the value for key, or found=false if the key is absent
	// or expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Put stores value under key with the given TTL. ttl must be positive.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePattern removes every key matching the glob pattern and returns
	// the number removed. The pattern is matched against full keys, prefix
	// included. Passing an empty pattern is an error; broader validation is
	// the caller's responsibility.
	DeletePattern(ctx context.Context, pattern string) (int, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases resources owned by the store.
	Close() error
}

// ErrEmptyPattern is returned by DeletePattern when the pattern is empty.
var ErrEmptyPattern = errors.New("store: empty delete pattern")

// DefaultQueryTimeout bounds each backend operation. Prevents a slow or
// unreachable backend from stalling request handling.
const DefaultQueryTimeout = 2 * time.Second

type config struct {
	queryTimeout time.Duration
	expiryCheck  time.Duration
	prefix       string
}

// Option configures a Store implementation.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		queryTimeout: DefaultQueryTimeout,
		expiryCheck:  time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithQueryTimeout sets the per-operation timeout. Defaults to
// DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the background cleanup interval for backends that
// sweep expired entries themselves (in-memory, SQLite). Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPrefix sets a key prefix for namespacing multiple caches on the same
// backend. Applies to the Redis store.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}
