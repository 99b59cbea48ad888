package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"

	"github.com/agentuity/rescache/keys"
)

// Static is a deterministic in-process Provider for tests and offline use.
// Known phrases can be pinned to fixed vectors so similarity between inputs
// is controllable; unknown input hashes to a stable pseudo-random unit
// vector, which is effectively orthogonal to everything else at realistic
// dimensions.
type Static struct {
	dimension int
	mutex     sync.RWMutex
	vectors   map[string][]float32
	err       error
}

var _ Provider = (*Static)(nil)

// NewStatic returns a Static provider producing vectors of the given
// dimension.
func NewStatic(dimension int) *Static {
	return &Static{
		dimension: dimension,
		vectors:   make(map[string][]float32),
	}
}

// Pin fixes the vector returned for a phrase. The phrase is normalized the
// same way the cache normalizes queries, so pinning "Where is my order?"
// also covers "where is  my ORDER?". The vector must match the provider
// dimension; it is not copied.
func (s *Static) Pin(phrase string, vector []float32) {
	s.mutex.Lock()
	s.vectors[keys.Normalize(phrase)] = vector
	s.mutex.Unlock()
}

// Fail makes every subsequent Embed call return err. Pass nil to recover.
func (s *Static) Fail(err error) {
	s.mutex.Lock()
	s.err = err
	s.mutex.Unlock()
}

func (s *Static) Embed(_ context.Context, text string) ([]float32, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	if vec, ok := s.vectors[keys.Normalize(text)]; ok {
		return vec, nil
	}
	return s.hashVector(text), nil
}

func (s *Static) Dimension() int {
	return s.dimension
}

// hashVector expands the input's digest into a unit vector, stable across
// runs for the same normalized input.
func (s *Static) hashVector(text string) []float32 {
	seed := sha256.Sum256([]byte(keys.Normalize(text)))
	vec := make([]float32, s.dimension)
	var norm float64
	buf := seed[:]
	for i := range vec {
		if len(buf) < 8 {
			next := sha256.Sum256(buf)
			buf = next[:]
		}
		bits := binary.BigEndian.Uint64(buf[:8])
		buf = buf[8:]
		// Map to [-1, 1).
		v := float64(int64(bits)) / math.MaxInt64
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
