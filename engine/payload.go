package engine

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Citation references a knowledge-base chunk that contributed to a cached
// response.
type Citation struct {
	DocumentID string  `msgpack:"document_id"`
	Title      string  `msgpack:"title"`
	Snippet    string  `msgpack:"snippet"`
	Score      float64 `msgpack:"score"`
}

// Payload is the value stored by the cache. The cache round-trips it
// losslessly but never interprets it — what ends up in these fields is the
// pipeline's business, not the cache's.
type Payload struct {
	Text       string         `msgpack:"text"`
	Intent     string         `msgpack:"intent"`
	Confidence float64        `msgpack:"confidence"`
	Citations  []Citation     `msgpack:"citations"`
	Metadata   map[string]any `msgpack:"metadata"`
}

func encodePayload(p *Payload) ([]byte, error) {
	data, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to encode payload: %w", err)
	}
	return data, nil
}

func decodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("engine: failed to decode payload: %w", err)
	}
	return &p, nil
}
