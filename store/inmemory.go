package store

import (
	"context"
	"path"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

type memoryStore struct {
	ctx       context.Context
	cancel    context.CancelFunc
	mutex     sync.Mutex
	entries   map[string]memoryEntry
	waitGroup sync.WaitGroup
	once      sync.Once
	now       func() time.Time
	cfg       config
}

var _ Store = (*memoryStore)(nil)

// NewInMemory returns an in-process Store. Expired entries are dropped
// lazily on read and swept by a background goroutine at the configured
// expiry-check interval.
func NewInMemory(parent context.Context, opts ...Option) Store {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	s := &memoryStore{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		cfg:     cfg,
	}
	s.waitGroup.Add(1)
	go s.run()
	return s
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.expires.Before(s.now()) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *memoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mutex.Lock()
	s.entries[key] = memoryEntry{value: value, expires: s.now().Add(ttl)}
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) DeletePattern(_ context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, ErrEmptyPattern
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var removed int
	for key := range s.entries {
		if ok, err := path.Match(pattern, key); err != nil {
			return removed, err
		} else if ok {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *memoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *memoryStore) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.waitGroup.Wait()
	})
	return nil
}

func (s *memoryStore) run() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := s.now()
			s.mutex.Lock()
			for key, entry := range s.entries {
				if entry.expires.Before(now) {
					delete(s.entries, key)
				}
			}
			s.mutex.Unlock()
		}
	}
}
