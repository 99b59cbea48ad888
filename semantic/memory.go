package semantic

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

type indexEntry struct {
	vector  []float32
	expires time.Time
	seq     uint64
}

type memoryIndex struct {
	mutex   sync.RWMutex
	entries map[string]*indexEntry
	seq     uint64
	now     func() time.Time
}

var _ Index = (*memoryIndex)(nil)

// NewMemoryIndex returns an in-process Index that scans all live vectors
// with exact cosine similarity. Linear scan is deliberate: the index holds
// at most one vector per cached query within the TTL window, which keeps it
// small enough that a brute-force scan beats the constant factors of an ANN
// structure.
func NewMemoryIndex() Index {
	return &memoryIndex{
		entries: make(map[string]*indexEntry),
		now:     time.Now,
	}
}

func (m *memoryIndex) Insert(_ context.Context, key string, vector []float32, ttl time.Duration) error {
	vec := make([]float32, len(vector))
	copy(vec, vector)
	m.mutex.Lock()
	m.seq++
	m.entries[key] = &indexEntry{
		vector:  vec,
		expires: m.now().Add(ttl),
		seq:     m.seq,
	}
	m.mutex.Unlock()
	return nil
}

func (m *memoryIndex) Query(_ context.Context, vector []float32, topK int) ([]Candidate, error) {
	if topK <= 0 {
		return nil, nil
	}
	now := m.now()

	type scored struct {
		Candidate
		seq uint64
	}

	m.mutex.RLock()
	matches := make([]scored, 0, len(m.entries))
	var mismatch bool
	for key, entry := range m.entries {
		if entry.expires.Before(now) {
			continue
		}
		if len(entry.vector) != len(vector) {
			mismatch = true
			continue
		}
		matches = append(matches, scored{
			Candidate: Candidate{Key: key, Score: Cosine(vector, entry.vector)},
			seq:       entry.seq,
		})
	}
	m.mutex.RUnlock()

	if len(matches) == 0 && mismatch {
		return nil, ErrDimensionMismatch
	}

	// Best score first; on ties the most recently inserted wins.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].seq > matches[j].seq
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	result := make([]Candidate, len(matches))
	for i, match := range matches {
		result[i] = match.Candidate
	}
	return result, nil
}

func (m *memoryIndex) Remove(_ context.Context, key string) error {
	m.mutex.Lock()
	delete(m.entries, key)
	m.mutex.Unlock()
	return nil
}

func (m *memoryIndex) RemovePattern(_ context.Context, pattern string) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var removed int
	for key := range m.entries {
		if ok, err := path.Match(pattern, key); err != nil {
			return removed, err
		} else if ok {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Prune drops expired vectors eagerly and reports how many were removed.
// Expired vectors are already invisible to Query; pruning just reclaims
// memory on long-running processes.
func (m *memoryIndex) Prune() int {
	now := m.now()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var removed int
	for key, entry := range m.entries {
		if entry.expires.Before(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

func (m *memoryIndex) Close() error {
	m.mutex.Lock()
	m.entries = make(map[string]*indexEntry)
	m.mutex.Unlock()
	return nil
}
