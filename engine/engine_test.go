package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/go-common/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentuity/rescache/embeddings"
	"github.com/agentuity/rescache/keys"
	"github.com/agentuity/rescache/semantic"
	"github.com/agentuity/rescache/store"
)

func testConfig() Config {
	return Config{
		Levels: []Policy{
			{Name: LevelConversation, TTL: 30 * time.Minute, Strategy: StrategyExact, KeyWindow: 3},
			{Name: LevelIntent, TTL: time.Hour, Strategy: StrategyExact, KeyWindow: 0},
			{Name: LevelKnowledge, TTL: time.Hour, Strategy: StrategySemantic, SimilarityThreshold: 0.85, KeyWindow: 0},
			{Name: LevelFullResponse, TTL: time.Hour, Strategy: StrategySemantic, SimilarityThreshold: 0.92, KeyWindow: 3},
		},
		CostPerCall: 0.002,
	}
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *embeddings.Static) {
	t.Helper()
	provider := embeddings.NewStatic(8)
	eng, err := New(
		logger.NewTestLogger(),
		testConfig(),
		store.NewInMemory(context.Background()),
		semantic.NewMemoryIndex(),
		provider,
		opts...,
	)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng, provider
}

func payloadFixture() *Payload {
	return &Payload{
		Text:       "Refunds within 30 days.",
		Intent:     "refund_policy",
		Confidence: 0.97,
		Citations: []Citation{
			{DocumentID: "doc-42", Title: "Returns FAQ", Snippet: "30 day window", Score: 0.91},
		},
		Metadata: map[string]any{"source": "kb", "chunks": int8(2)},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	value := payloadFixture()

	put := eng.Put(ctx, "What's your refund policy?", nil, value, []string{LevelFullResponse})
	assert.True(t, put.OK)
	assert.Equal(t, []string{LevelFullResponse}, put.LevelsWritten)

	result := eng.Get(ctx, "what's your refund policy?", nil)
	assert.True(t, result.Hit)
	assert.Equal(t, LevelFullResponse, result.Level)
	assert.Equal(t, "Refunds within 30 days.", result.Value.Text)
	assert.Equal(t, "refund_policy", result.Value.Intent)
	assert.InDelta(t, 0.97, result.Value.Confidence, 1e-9)
	require.Len(t, result.Value.Citations, 1)
	assert.Equal(t, "doc-42", result.Value.Citations[0].DocumentID)
	assert.Equal(t, "kb", result.Value.Metadata["source"])
	assert.GreaterOrEqual(t, result.Latency, time.Duration(0))
}

func TestGetMissIsNotAnError(t *testing.T) {
	eng, _ := newTestEngine(t)

	result := eng.Get(context.Background(), "never cached", nil)
	assert.False(t, result.Hit)
	assert.Empty(t, result.Level)
	assert.Nil(t, result.Value)
}

func TestExactKeyNormalization(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	eng.Put(ctx, "What is your refund policy?", nil, payloadFixture(), []string{LevelConversation})

	// Case and whitespace do not matter.
	result := eng.Get(ctx, "what is your  refund policy?", nil)
	assert.True(t, result.Hit)
	assert.Equal(t, LevelConversation, result.Level)

	// Punctuation does: dropping the "?" is a documented miss.
	result = eng.Get(ctx, "What is your refund policy", nil)
	assert.False(t, result.Hit)
}

func TestContextWindowParticipatesInKey(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	turns := []string{"hi", "I bought a desk", "it arrived broken"}

	eng.Put(ctx, "can I return it?", turns, payloadFixture(), []string{LevelConversation})

	result := eng.Get(ctx, "can I return it?", turns)
	assert.True(t, result.Hit)

	// Same question in a different conversation: different key, miss.
	result = eng.Get(ctx, "can I return it?", []string{"hello", "I need a lamp"})
	assert.False(t, result.Hit)

	// The intent level ignores context (KeyWindow 0), so writes there hit
	// regardless of turns.
	eng.Put(ctx, "can I return it?", turns, payloadFixture(), []string{LevelIntent})
	result = eng.Get(ctx, "can I return it?", []string{"completely", "unrelated", "context"})
	assert.True(t, result.Hit)
	assert.Equal(t, LevelIntent, result.Level)
}

func TestSemanticThreshold(t *testing.T) {
	provider := embeddings.NewStatic(2)
	provider.Pin("How do I track my order?", []float32{1, 0})
	provider.Pin("Where is my package?", []float32{0.9, 0.1})   // cosine ~0.994
	provider.Pin("What are your store hours?", []float32{0, 1}) // cosine 0

	eng, err := New(
		logger.NewTestLogger(),
		testConfig(),
		store.NewInMemory(context.Background()),
		semantic.NewMemoryIndex(),
		provider,
	)
	require.NoError(t, err)
	defer eng.Close()
	ctx := context.Background()

	eng.Put(ctx, "How do I track my order?", nil, payloadFixture(), []string{LevelKnowledge})

	// Similar query above the 0.85 threshold: semantic hit.
	result := eng.Get(ctx, "Where is my package?", nil)
	assert.True(t, result.Hit)
	assert.Equal(t, LevelKnowledge, result.Level)
	assert.Equal(t, "Refunds within 30 days.", result.Value.Text)

	// Unrelated query below the threshold: miss.
	result = eng.Get(ctx, "What are your store hours?", nil)
	assert.False(t, result.Hit)
}

func TestLevelPriorityOrder(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	// Plant the same query in a low-priority and a high-priority level.
	eng.Put(ctx, "where is my order?", nil, &Payload{Text: "full response copy"}, []string{LevelFullResponse})
	eng.Put(ctx, "where is my order?", nil, &Payload{Text: "conversation copy"}, []string{LevelConversation})

	// The configured order is fixed: conversation wins and tags the result.
	result := eng.Get(ctx, "where is my order?", nil)
	assert.True(t, result.Hit)
	assert.Equal(t, LevelConversation, result.Level)
	assert.Equal(t, "conversation copy", result.Value.Text)
}

// failingStore simulates an unreachable backend.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}
func (failingStore) Put(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}
func (failingStore) DeletePattern(_ context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, store.ErrEmptyPattern
	}
	return 0, errors.New("connection refused")
}
func (failingStore) Ping(context.Context) error { return errors.New("connection refused") }
func (failingStore) Close() error               { return nil }

func TestUnreachableStoreDegradesToMiss(t *testing.T) {
	eng, err := New(
		logger.NewTestLogger(),
		testConfig(),
		failingStore{},
		semantic.NewMemoryIndex(),
		embeddings.NewStatic(8),
	)
	require.NoError(t, err)
	defer eng.Close()
	ctx := context.Background()

	// Reads are clean misses, writes report not-ok, nothing panics or errors.
	result := eng.Get(ctx, "anything", nil)
	assert.False(t, result.Hit)

	put := eng.Put(ctx, "anything", nil, payloadFixture(), []string{LevelConversation, LevelIntent})
	assert.False(t, put.OK)
	assert.Empty(t, put.LevelsWritten)

	assert.Error(t, eng.Ping(ctx))
}

func TestEmbeddingFailureSkipsSemanticLevels(t *testing.T) {
	eng, provider := newTestEngine(t)
	ctx := context.Background()

	eng.Put(ctx, "exact question?", nil, payloadFixture(), []string{LevelIntent})

	provider.Fail(errors.New("provider down"))

	// Exact levels still serve.
	result := eng.Get(ctx, "exact question?", nil)
	assert.True(t, result.Hit)
	assert.Equal(t, LevelIntent, result.Level)

	// Semantic-only entries are unreachable while embedding is down, but
	// the lookup is still a clean miss.
	result = eng.Get(ctx, "semantically similar question", nil)
	assert.False(t, result.Hit)

	provider.Fail(nil)
}

func TestSemanticDisabledWithoutIndex(t *testing.T) {
	eng, err := New(
		logger.NewTestLogger(),
		testConfig(),
		store.NewInMemory(context.Background()),
		nil,
		nil,
	)
	require.NoError(t, err)
	defer eng.Close()
	ctx := context.Background()

	// Exact levels work; semantic writes still land in the store for their
	// level but only exact lookups can find anything.
	put := eng.Put(ctx, "hello?", nil, payloadFixture(), []string{LevelConversation, LevelKnowledge})
	assert.True(t, put.OK)
	assert.ElementsMatch(t, []string{LevelConversation, LevelKnowledge}, put.LevelsWritten)

	result := eng.Get(ctx, "hello?", nil)
	assert.True(t, result.Hit)
	assert.Equal(t, LevelConversation, result.Level)
}

func TestInvalidate(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	eng.Put(ctx, "what is the warranty on doc 42?", nil, payloadFixture(), []string{LevelIntent})
	result := eng.Get(ctx, "what is the warranty on doc 42?", nil)
	require.True(t, result.Hit)

	removed, err := eng.Invalidate(ctx, "intent:*")
	assert.NoError(t, err)
	assert.Equal(t, 1, removed)

	result = eng.Get(ctx, "what is the warranty on doc 42?", nil)
	assert.False(t, result.Hit)
}

func TestInvalidateRemovesVectors(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	eng.Put(ctx, "How long is shipping?", nil, payloadFixture(), []string{LevelKnowledge})
	require.True(t, eng.Get(ctx, "How long is shipping?", nil).Hit)

	_, err := eng.Invalidate(ctx, "knowledge:*")
	assert.NoError(t, err)

	// Both the stored payload and its vector are gone: re-putting the
	// payload directly into the store without a vector would be the only
	// way to resurrect it, so a lookup now is a full miss.
	assert.False(t, eng.Get(ctx, "How long is shipping?", nil).Hit)
}

func TestInvalidatePatternValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	for _, pattern := range []string{"", "   ", "*", "**", "*:*", "?*"} {
		_, err := eng.Invalidate(ctx, pattern)
		assert.ErrorIs(t, err, ErrInvalidPattern, "pattern %q", pattern)
	}

	// Anchored patterns are fine.
	_, err := eng.Invalidate(ctx, "knowledge:*")
	assert.NoError(t, err)
}

func TestCorruptEntrySelfHeals(t *testing.T) {
	st := store.NewInMemory(context.Background())
	eng, err := New(
		logger.NewTestLogger(),
		testConfig(),
		st,
		semantic.NewMemoryIndex(),
		embeddings.NewStatic(8),
	)
	require.NoError(t, err)
	defer eng.Close()
	ctx := context.Background()

	// Plant bytes that are not a msgpack payload at the exact storage key.
	key := keys.Storage(LevelIntent, keys.Exact("broken entry?", nil, 0))
	require.NoError(t, st.Put(ctx, key, []byte("\x00garbage"), time.Minute))

	result := eng.Get(ctx, "broken entry?", nil)
	assert.False(t, result.Hit)

	// The corrupt entry was deleted, not left to fail every future read.
	_, found, err := st.Get(ctx, key)
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestDanglingVectorSelfHeals(t *testing.T) {
	idx := semantic.NewMemoryIndex()
	provider := embeddings.NewStatic(2)
	provider.Pin("orphaned question?", []float32{1, 0})

	eng, err := New(
		logger.NewTestLogger(),
		testConfig(),
		store.NewInMemory(context.Background()),
		idx,
		provider,
	)
	require.NoError(t, err)
	defer eng.Close()
	ctx := context.Background()

	// A vector whose payload already aged out of the store.
	key := keys.Storage(LevelKnowledge, keys.Exact("orphaned question?", nil, 0))
	require.NoError(t, idx.Insert(ctx, key, []float32{1, 0}, time.Minute))

	result := eng.Get(ctx, "orphaned question?", nil)
	assert.False(t, result.Hit)

	// The dangling vector was dropped.
	candidates, err := idx.Query(ctx, []float32{1, 0}, 4)
	assert.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestTTLExpiryThroughEngine(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := Config{
		Levels: []Policy{
			{Name: LevelIntent, TTL: 10 * time.Second, Strategy: StrategyExact},
		},
	}
	eng, err := New(logger.NewTestLogger(), cfg, store.NewRedis(client), nil, nil)
	require.NoError(t, err)
	defer eng.Close()
	ctx := context.Background()

	eng.Put(ctx, "short lived?", nil, payloadFixture(), []string{LevelIntent})

	mr.FastForward(9 * time.Second)
	assert.True(t, eng.Get(ctx, "short lived?", nil).Hit)

	mr.FastForward(2 * time.Second)
	assert.False(t, eng.Get(ctx, "short lived?", nil).Hit)
}

func TestPutUnknownLevel(t *testing.T) {
	eng, _ := newTestEngine(t)

	put := eng.Put(context.Background(), "q?", nil, payloadFixture(), []string{"nonexistent"})
	assert.False(t, put.OK)
	assert.Empty(t, put.LevelsWritten)
}

// flakyIndex fails Insert but answers queries.
type flakyIndex struct {
	semantic.Index
}

func (f flakyIndex) Insert(context.Context, string, []float32, time.Duration) error {
	return errors.New("index write refused")
}

func TestPutSurvivesIndexInsertFailure(t *testing.T) {
	eng, err := New(
		logger.NewTestLogger(),
		testConfig(),
		store.NewInMemory(context.Background()),
		flakyIndex{semantic.NewMemoryIndex()},
		embeddings.NewStatic(8),
	)
	require.NoError(t, err)
	defer eng.Close()

	// Store write succeeded, so the put is OK even though the vector never
	// made it into the index.
	put := eng.Put(context.Background(), "q?", nil, payloadFixture(), []string{LevelKnowledge})
	assert.True(t, put.OK)
	assert.Equal(t, []string{LevelKnowledge}, put.LevelsWritten)
}

func TestGetOrCompute(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	var calls atomic.Int32

	compute := func(context.Context) (*Payload, error) {
		calls.Add(1)
		return &Payload{Text: "computed"}, nil
	}

	// Miss path: compute runs and the result is written through.
	result, err := eng.GetOrCompute(ctx, "fresh question?", nil, []string{LevelConversation}, compute)
	assert.NoError(t, err)
	assert.False(t, result.Hit)
	assert.Equal(t, "computed", result.Value.Text)
	assert.Equal(t, int32(1), calls.Load())

	// Hit path: served from cache, compute not called again.
	result, err = eng.GetOrCompute(ctx, "fresh question?", nil, []string{LevelConversation}, compute)
	assert.NoError(t, err)
	assert.True(t, result.Hit)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrComputeError(t *testing.T) {
	eng, _ := newTestEngine(t)

	boom := errors.New("pipeline exploded")
	_, err := eng.GetOrCompute(context.Background(), "q?", nil, []string{LevelConversation},
		func(context.Context) (*Payload, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestSingleflightCoalescesConcurrentMisses(t *testing.T) {
	eng, _ := newTestEngine(t, WithSingleflight())
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (*Payload, error) {
		calls.Add(1)
		<-release
		return &Payload{Text: "expensive"}, nil
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]Result, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := eng.GetOrCompute(ctx, "stampede?", nil, []string{LevelConversation}, compute)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}

	// Let every worker reach the flight before releasing the compute.
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "expensive", r.Value.Text)
	}
}

func TestEngineRequiresStore(t *testing.T) {
	_, err := New(logger.NewTestLogger(), testConfig(), nil, nil, nil)
	assert.Error(t, err)
}

func TestEngineID(t *testing.T) {
	a, _ := newTestEngine(t)
	b, _ := newTestEngine(t)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestCloseIdempotent(t *testing.T) {
	eng, _ := newTestEngine(t)
	assert.NoError(t, eng.Close())
	assert.NoError(t, eng.Close())
}
