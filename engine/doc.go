// Package engine implements the multi-level response cache coordinator
// that sits in front of an expensive AI response pipeline.
//
// # Levels
//
// An [Engine] is configured with an ordered list of cache levels
// ([Policy]), tried fastest/narrowest first on every lookup. Each level
// has its own TTL, its own key derivation (how many recent conversation
// turns join the query in the key), and one of two matching strategies:
//
//   - [StrategyExact] — the normalized query plus context window is hashed
//     to a 256-bit key and looked up directly in the backing store.
//   - [StrategySemantic] — the query is embedded and matched against
//     previously cached queries by cosine similarity; candidates at or
//     above the level's threshold resolve to backing-store entries.
//
// The default topology ([DefaultConfig]) is conversation → intent →
// knowledge → full_response. The order is fixed at construction: lookups
// are deterministic, never adaptive.
//
// # Failure posture
//
// The cache is an optimization for latency and cost, and is never allowed
// to become a correctness or availability risk. Every dependency failure
// on the read path — store unreachable, embedding provider down, index
// error, undecodable payload — is logged and degrades to a miss; writes
// are best-effort. The single loud failure is [Engine.Invalidate] with an
// empty or all-wildcard pattern, which returns [ErrInvalidPattern] instead
// of silently clearing the cache.
//
// # Consistency
//
// Levels are independent caches, not one transactional structure. A put
// writes each applicable level separately; partial success stands. No
// cross-request ordering is guaranteed, and concurrent identical misses
// may each compute and write — last write wins, which is harmless because
// writes are idempotent. Deployments that want stampede protection opt in
// with [WithSingleflight], which coalesces concurrent
// [Engine.GetOrCompute] misses per key.
//
// # Usage
//
//	st := store.NewRedis(client, store.WithPrefix("chatbot"))
//	eng, err := engine.New(log, engine.DefaultConfig(), st,
//	    semantic.NewMemoryIndex(), embeddings.NewOpenAI(apiKey, ""))
//	if err != nil { ... }
//	defer eng.Close()
//
//	result := eng.Get(ctx, msg, recentTurns)
//	if !result.Hit {
//	    value := runPipeline(ctx, msg)
//	    eng.Put(ctx, msg, recentTurns, value, []string{engine.LevelFullResponse})
//	}
package engine
