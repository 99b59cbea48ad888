package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db        *sql.DB
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Store = (*sqliteStore)(nil)

// NewSQLite returns a Store backed by a SQLite database, useful for
// single-node deployments that want cache persistence across restarts.
// If dbPath is empty or ":memory:", an in-memory database is used.
func NewSQLite(parent context.Context, dbPath string, opts ...Option) (Store, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	cfg := applyOptions(opts)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode for concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at)`); err != nil {
		db.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	s := &sqliteStore{
		db:     db,
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}
	s.waitGroup.Add(1)
	go s.run()
	return s, nil
}

func (s *sqliteStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.queryTimeout)
}

func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	now := time.Now().UnixNano()
	var data []byte
	var expiresAt int64
	err := s.db.QueryRowContext(qctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&data, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expiresAt < now {
		// Lazily delete the expired entry.
		_, _ = s.db.ExecContext(qctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, false, nil
	}
	return data, true, nil
}

func (s *sqliteStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	expiresAt := time.Now().Add(ttl).UnixNano()
	_, err := s.db.ExecContext(qctx,
		`INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	return err
}

func (s *sqliteStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, ErrEmptyPattern
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	result, err := s.db.ExecContext(qctx, `DELETE FROM cache_entries WHERE key GLOB ?`, pattern)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	return s.db.PingContext(qctx)
}

func (s *sqliteStore) Close() error {
	var dbErr error
	s.once.Do(func() {
		s.cancel()
		s.waitGroup.Wait()
		dbErr = s.db.Close()
	})
	return dbErr
}

func (s *sqliteStore) run() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			_, _ = s.db.Exec(`DELETE FROM cache_entries WHERE expires_at < ?`, now)
		}
	}
}
