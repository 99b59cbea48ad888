// Package keys derives canonical cache keys from chat queries.
//
// A key is a stable 256-bit digest over the normalized query plus a bounded
// window of recent conversation turns, so the same logical question asked in
// the same recent context always lands on the same cache entry. Normalization
// lowercases and collapses whitespace but deliberately preserves punctuation:
// "where is my order?" and "where is my order" are distinct keys. That costs
// some recall on near-duplicates and the semantic levels exist to win it back.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize canonicalizes a query or conversation turn for key derivation:
// lowercase, trimmed, with internal whitespace runs collapsed to a single
// space. Punctuation is preserved.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Exact returns the hex-encoded sha256 digest of the normalized query plus
// the last window turns, each normalized and newline-joined. A window of 0
// keys on the query alone. Turns are expected oldest-first; only the trailing
// window entries participate.
func Exact(query string, turns []string, window int) string {
	h := sha256.New()
	h.Write([]byte(Normalize(query)))
	if window > 0 && len(turns) > 0 {
		start := len(turns) - window
		if start < 0 {
			start = 0
		}
		for _, turn := range turns[start:] {
			h.Write([]byte{'\n'})
			h.Write([]byte(Normalize(turn)))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Storage namespaces an exact key under a cache level, producing the key
// actually written to the backing store: "{level}:{digest}".
func Storage(level, exactKey string) string {
	return level + ":" + exactKey
}

// LevelPattern returns a match pattern covering every stored key in a level.
func LevelPattern(level string) string {
	return level + ":*"
}
