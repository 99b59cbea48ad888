package store

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrBreakerOpen is returned by a breaker-wrapped store while the breaker is
// open. The engine treats it like any other store error: a miss.
var ErrBreakerOpen = errors.New("store: circuit breaker open")

// BreakerState is the current state of a store circuit breaker.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half_open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the circuit breaker wrapper.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the breaker
	// opens.
	MaxFailures int
	// Cooldown is how long the breaker stays open before allowing a probe.
	Cooldown time.Duration
	// SuccessThreshold is the number of consecutive probe successes needed
	// to close the breaker again.
	SuccessThreshold int
}

// DefaultBreakerConfig returns the default breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:      5,
		Cooldown:         15 * time.Second,
		SuccessThreshold: 2,
	}
}

type breakerStore struct {
	inner Store
	cfg   BreakerConfig

	state       atomic.Int32
	failures    atomic.Int32
	successes   atomic.Int32
	lastFailure atomic.Int64 // unix nanos
}

var _ Store = (*breakerStore)(nil)

// WithBreaker wraps a Store with a circuit breaker. After MaxFailures
// consecutive errors the breaker opens and calls fail fast with
// ErrBreakerOpen instead of waiting out per-query timeouts against a dead
// backend. After the cooldown a single probe is let through; enough probe
// successes close the breaker.
func WithBreaker(inner Store, cfg BreakerConfig) Store {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	return &breakerStore{inner: inner, cfg: cfg}
}

// BreakerStateOf reports the breaker state of a store returned by
// WithBreaker, and ok=false for any other store.
func BreakerStateOf(s Store) (BreakerState, bool) {
	b, ok := s.(*breakerStore)
	if !ok {
		return BreakerClosed, false
	}
	return BreakerState(b.state.Load()), true
}

func (b *breakerStore) allow() error {
	switch BreakerState(b.state.Load()) {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	default: // open
		last := b.lastFailure.Load()
		if time.Since(time.Unix(0, last)) >= b.cfg.Cooldown {
			b.state.CompareAndSwap(int32(BreakerOpen), int32(BreakerHalfOpen))
			return nil
		}
		return ErrBreakerOpen
	}
}

func (b *breakerStore) record(err error) {
	if err != nil {
		b.lastFailure.Store(time.Now().UnixNano())
		b.successes.Store(0)
		failures := b.failures.Add(1)
		if BreakerState(b.state.Load()) == BreakerHalfOpen || int(failures) >= b.cfg.MaxFailures {
			b.state.Store(int32(BreakerOpen))
		}
		return
	}
	b.failures.Store(0)
	if BreakerState(b.state.Load()) == BreakerHalfOpen {
		if int(b.successes.Add(1)) >= b.cfg.SuccessThreshold {
			b.successes.Store(0)
			b.state.Store(int32(BreakerClosed))
		}
	}
}

func (b *breakerStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := b.allow(); err != nil {
		return nil, false, err
	}
	value, found, err := b.inner.Get(ctx, key)
	b.record(err)
	return value, found, err
}

func (b *breakerStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := b.inner.Put(ctx, key, value, ttl)
	b.record(err)
	return err
}

func (b *breakerStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if err := b.allow(); err != nil {
		return 0, err
	}
	n, err := b.inner.DeletePattern(ctx, pattern)
	// A bad pattern is a caller mistake, not backend health.
	if !errors.Is(err, ErrEmptyPattern) {
		b.record(err)
	}
	return n, err
}

// Ping always reaches the backend so health checks can observe recovery
// directly; the result still feeds the breaker.
func (b *breakerStore) Ping(ctx context.Context) error {
	err := b.inner.Ping(ctx)
	b.record(err)
	return err
}

func (b *breakerStore) Close() error {
	return b.inner.Close()
}
