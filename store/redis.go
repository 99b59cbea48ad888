package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	cfg    config
}

var _ Store = (*redisStore)(nil)

// NewRedis returns a Store backed by Redis. TTL expiry is native Redis
// expiry. The caller owns the redis.Client lifecycle — Close is a no-op on
// the client.
func NewRedis(client *redis.Client, opts ...Option) Store {
	return &redisStore{
		client: client,
		cfg:    applyOptions(opts),
	}
}

func (s *redisStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.queryTimeout)
}

func (s *redisStore) prefixKey(key string) string {
	if s.cfg.prefix == "" {
		return key
	}
	return s.cfg.prefix + ":" + key
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	data, err := s.client.Get(qctx, s.prefixKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *redisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	return s.client.Set(qctx, s.prefixKey(key), value, ttl).Err()
}

func (s *redisStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, ErrEmptyPattern
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var removed int
	var cursor uint64
	match := s.prefixKey(pattern)
	for {
		batch, next, err := s.client.Scan(qctx, cursor, match, 256).Result()
		if err != nil {
			return removed, err
		}
		if len(batch) > 0 {
			n, err := s.client.Del(qctx, batch...).Result()
			removed += int(n)
			if err != nil {
				return removed, err
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (s *redisStore) Ping(ctx context.Context) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	return s.client.Ping(qctx).Err()
}

// Close is a no-op — the caller owns the redis.Client lifecycle.
func (s *redisStore) Close() error {
	return nil
}
