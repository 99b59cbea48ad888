package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/agentuity/go-common/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/agentuity/rescache/embeddings"
	"github.com/agentuity/rescache/keys"
	"github.com/agentuity/rescache/semantic"
	"github.com/agentuity/rescache/store"
)

// ErrInvalidPattern is returned by Invalidate for an empty or effectively
// universal pattern. This is the one failure the engine refuses to swallow:
// a mass delete caused by a sloppy pattern is a correctness problem, not an
// availability one.
var ErrInvalidPattern = errors.New("engine: invalid invalidation pattern")

// Result is the outcome of a Get. A miss is a first-class outcome
// (Hit=false), never an error — every internal failure on the read path
// degrades to a miss.
type Result struct {
	Hit     bool
	Level   string
	Value   *Payload
	Latency time.Duration
}

// PutResult reports which levels a Put reached. OK is true when at least
// one level's store write succeeded; a failed semantic-index insert never
// clears it, since the exact entry is still servable.
type PutResult struct {
	OK            bool
	LevelsWritten []string
}

// ComputeFunc produces a value on a cache miss. It is invoked by
// GetOrCompute and is expected to be the expensive pipeline call the cache
// exists to avoid.
type ComputeFunc func(ctx context.Context) (*Payload, error)

// Engine is the multi-level cache coordinator. It tries each configured
// level in fixed priority order on reads, writes through to every
// applicable level, and keeps hit/miss bookkeeping. Construct one with New
// and pass it to callers explicitly; there is no package-level instance.
//
// The engine is a latency and cost optimization, never a point of failure:
// backing store and embedding provider errors are logged and treated as
// misses, and the caller's pipeline remains the source of truth.
type Engine struct {
	id       string
	log      logger.Logger
	cfg      Config
	store    store.Store
	index    semantic.Index
	provider embeddings.Provider
	metrics  *aggregator
	flights  *singleflight.Group
	once     sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithSingleflight coalesces concurrent GetOrCompute misses for the same
// key into one pipeline call. Off by default: the historical behavior is
// that concurrent identical misses each compute and last write wins, which
// is harmless since writes are idempotent.
func WithSingleflight() Option {
	return func(e *Engine) { e.flights = &singleflight.Group{} }
}

// New returns an Engine over the given store, semantic index, and embedding
// provider. The engine takes ownership of st and idx; Close releases both.
// idx and provider may be nil, in which case semantic levels are disabled
// and only exact levels serve traffic.
func New(log logger.Logger, cfg Config, st store.Store, idx semantic.Index, provider embeddings.Provider, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("engine: a backing store is required")
	}
	id := uuid.New().String()
	e := &Engine{
		id:       id,
		log:      log.With(map[string]interface{}{"component": "rescache", "instance": id}),
		cfg:      cfg,
		store:    st,
		index:    idx,
		provider: provider,
		metrics:  newAggregator(cfg),
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.semanticEnabled() {
		for _, level := range cfg.Levels {
			if level.Strategy == StrategySemantic {
				e.log.Warn("no semantic index or embedding provider configured, level %s will not serve lookups", level.Name)
			}
		}
	}
	return e, nil
}

func (e *Engine) semanticEnabled() bool {
	return e.index != nil && e.provider != nil
}

// Get tries every configured level in priority order and returns the first
// hit, or a miss Result if no level has the query. It never returns an
// error: store, index, and embedding failures degrade to a miss.
func (e *Engine) Get(ctx context.Context, query string, turns []string) Result {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "rescache.Get")
	defer span.End()

	// The embedding covers the normalized query only, so it is computed at
	// most once per call and shared by all semantic levels.
	var embedded []float32
	embedFailed := false

	for i := range e.cfg.Levels {
		level := &e.cfg.Levels[i]
		switch level.Strategy {
		case StrategyExact:
			if value, ok := e.lookupExact(ctx, level, query, turns); ok {
				return e.hit(span, level.Name, value, start)
			}
		case StrategySemantic:
			if !e.semanticEnabled() || embedFailed {
				continue
			}
			if embedded == nil {
				vec, err := e.provider.Embed(ctx, keys.Normalize(query))
				if err != nil {
					// Degrade for this call only; exact levels are unaffected.
					e.log.Warn("embedding failed, skipping semantic levels: %s", err)
					embedFailed = true
					continue
				}
				embedded = vec
			}
			if value, ok := e.lookupSemantic(ctx, level, embedded); ok {
				return e.hit(span, level.Name, value, start)
			}
		}
	}

	e.metrics.get(false)
	span.SetAttributes(attribute.Bool("cache.hit", false))
	return Result{Hit: false, Latency: time.Since(start)}
}

func (e *Engine) hit(span trace.Span, level string, value *Payload, start time.Time) Result {
	e.metrics.levelHit(level)
	e.metrics.get(true)
	span.SetAttributes(
		attribute.Bool("cache.hit", true),
		attribute.String("cache.level", level),
	)
	return Result{Hit: true, Level: level, Value: value, Latency: time.Since(start)}
}

func (e *Engine) lookupExact(ctx context.Context, level *Policy, query string, turns []string) (*Payload, bool) {
	key := keys.Storage(level.Name, keys.Exact(query, turns, level.KeyWindow))
	data, found, err := e.store.Get(ctx, key)
	if err != nil {
		e.log.Warn("store get failed for level %s, treating as miss: %s", level.Name, err)
		e.metrics.levelMiss(level.Name)
		return nil, false
	}
	if !found {
		e.metrics.levelMiss(level.Name)
		return nil, false
	}
	value, err := decodePayload(data)
	if err != nil {
		// Corrupt entry: delete it so the next write starts clean.
		e.log.Warn("undecodable payload at %s, deleting: %s", key, err)
		if _, derr := e.store.DeletePattern(ctx, key); derr != nil {
			e.log.Warn("failed to delete corrupt entry %s: %s", key, derr)
		}
		e.metrics.levelMiss(level.Name)
		return nil, false
	}
	return value, true
}

func (e *Engine) lookupSemantic(ctx context.Context, level *Policy, embedded []float32) (*Payload, bool) {
	candidates, err := e.index.Query(ctx, embedded, level.TopK)
	if err != nil {
		e.log.Warn("semantic index query failed for level %s, treating as miss: %s", level.Name, err)
		e.metrics.levelMiss(level.Name)
		return nil, false
	}
	prefix := level.Name + ":"
	for _, candidate := range candidates {
		if candidate.Score < level.SimilarityThreshold {
			break // candidates are ordered best-first
		}
		if !strings.HasPrefix(candidate.Key, prefix) {
			continue // vector belongs to another level
		}
		data, found, err := e.store.Get(ctx, candidate.Key)
		if err != nil {
			e.log.Warn("store get failed for semantic candidate %s: %s", candidate.Key, err)
			continue
		}
		if !found {
			// The payload aged out of the store but the vector is still
			// indexed. Drop the dangling vector and try the next candidate.
			if rerr := e.index.Remove(ctx, candidate.Key); rerr != nil {
				e.log.Warn("failed to remove dangling vector %s: %s", candidate.Key, rerr)
			}
			continue
		}
		value, err := decodePayload(data)
		if err != nil {
			e.log.Warn("undecodable payload at %s, deleting: %s", candidate.Key, err)
			if _, derr := e.store.DeletePattern(ctx, candidate.Key); derr != nil {
				e.log.Warn("failed to delete corrupt entry %s: %s", candidate.Key, derr)
			}
			if rerr := e.index.Remove(ctx, candidate.Key); rerr != nil {
				e.log.Warn("failed to remove vector for corrupt entry %s: %s", candidate.Key, rerr)
			}
			continue
		}
		return value, true
	}
	e.metrics.levelMiss(level.Name)
	return nil, false
}

// Put writes value into each of the named levels, using each level's TTL
// and key derivation. Levels are independent caches: a failed write to one
// is logged and does not roll back the others. For semantic levels the
// query embedding is registered in the index alongside the store write;
// index insertion failure costs semantic recall for that entry but never
// fails the Put.
func (e *Engine) Put(ctx context.Context, query string, turns []string, value *Payload, levels []string) PutResult {
	ctx, span := tracer.Start(ctx, "rescache.Put")
	defer span.End()

	var result PutResult
	data, err := encodePayload(value)
	if err != nil {
		e.log.Warn("dropping cache write: %s", err)
		return result
	}

	var embedded []float32
	embedFailed := false

	for _, name := range levels {
		level, ok := e.cfg.policy(name)
		if !ok {
			e.log.Warn("put requested for unknown level %s, skipping", name)
			continue
		}
		key := keys.Storage(level.Name, keys.Exact(query, turns, level.KeyWindow))
		if err := e.store.Put(ctx, key, data, level.TTL); err != nil {
			// Best effort: a cache outage degrades to "always miss".
			e.log.Warn("store put failed for level %s: %s", level.Name, err)
			continue
		}
		result.OK = true
		result.LevelsWritten = append(result.LevelsWritten, level.Name)

		if level.Strategy != StrategySemantic || !e.semanticEnabled() || embedFailed {
			continue
		}
		if embedded == nil {
			vec, err := e.provider.Embed(ctx, keys.Normalize(query))
			if err != nil {
				e.log.Warn("embedding failed, entry at %s will be exact-match only: %s", key, err)
				embedFailed = true
				continue
			}
			embedded = vec
		}
		if err := e.index.Insert(ctx, key, embedded, level.TTL); err != nil {
			e.log.Warn("semantic index insert failed for %s: %s", key, err)
		}
	}

	e.metrics.put()
	span.SetAttributes(
		attribute.Bool("cache.put.ok", result.OK),
		attribute.StringSlice("cache.put.levels", result.LevelsWritten),
	)
	return result
}

// Invalidate removes every stored entry matching the glob pattern, plus any
// matching vectors in the semantic index, and returns the number of store
// entries removed. Which patterns map to which upstream change (say, a
// knowledge document edit) is the caller's mapping to maintain.
//
// The pattern must be non-empty and anchored to something: patterns that
// are all wildcards are rejected with ErrInvalidPattern rather than
// clearing the whole cache.
func (e *Engine) Invalidate(ctx context.Context, pattern string) (int, error) {
	ctx, span := tracer.Start(ctx, "rescache.Invalidate")
	defer span.End()

	if !validPattern(pattern) {
		return 0, ErrInvalidPattern
	}
	removed, err := e.store.DeletePattern(ctx, pattern)
	if err != nil {
		return removed, err
	}
	if e.index != nil {
		if _, ierr := e.index.RemovePattern(ctx, pattern); ierr != nil {
			e.log.Warn("semantic index invalidation failed for %s: %s", pattern, ierr)
		}
	}
	span.SetAttributes(attribute.Int("cache.invalidated", removed))
	return removed, nil
}

func validPattern(pattern string) bool {
	if strings.TrimSpace(pattern) == "" {
		return false
	}
	// A pattern with no literal content matches everything.
	return strings.Trim(pattern, "*?[]: \t") != ""
}

// flightWindow bounds the context window used for the single-flight key.
// It only needs to distinguish "same query, same recent context" well
// enough to coalesce a stampede.
const flightWindow = 3

// GetOrCompute is the cache-aside path: Get, and on a miss run compute and
// write its result through to the named levels. The returned Result carries
// the computed value with Hit=false on the miss path. When the engine was
// built WithSingleflight, concurrent misses for the same query+context
// share one compute call.
func (e *Engine) GetOrCompute(ctx context.Context, query string, turns []string, levels []string, compute ComputeFunc) (Result, error) {
	if result := e.Get(ctx, query, turns); result.Hit {
		return result, nil
	}
	start := time.Now()

	if e.flights == nil {
		value, err := compute(ctx)
		if err != nil {
			return Result{}, err
		}
		e.Put(ctx, query, turns, value, levels)
		return Result{Value: value, Latency: time.Since(start)}, nil
	}

	flightKey := keys.Exact(query, turns, flightWindow)
	shared, err, _ := e.flights.Do(flightKey, func() (interface{}, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		e.Put(ctx, query, turns, value, levels)
		return value, nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Value: shared.(*Payload), Latency: time.Since(start)}, nil
}

// Metrics returns a point-in-time snapshot of hit/miss counters.
func (e *Engine) Metrics() Snapshot {
	return e.metrics.snapshot()
}

// Ping reports backing store reachability.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// ID returns the engine instance identifier used in logs and metrics.
func (e *Engine) ID() string {
	return e.id
}

// Close releases the backing store and semantic index. Safe to call more
// than once.
func (e *Engine) Close() error {
	var firstErr error
	e.once.Do(func() {
		if err := e.store.Close(); err != nil {
			firstErr = err
		}
		if e.index != nil {
			if err := e.index.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
