// Package cache provides content-addressed caching of decoded group payloads.
//
// Keys are SHA-256 digests of a group's encoded bytes as stored in the data
// channel. Values are the payloads those bytes decode to, so a hit skips
// decryption and decompression entirely. Because the key covers the stored
// bytes, a group rewritten in the cache gets a new key.
package cache

import (
	"sync"

	"github.com/opencontainers/go-digest"
)

// Cache stores decoded payloads by the digest of their encoded form.
//
// Implementations handle their own size limits and eviction policies and
// must be safe for concurrent use.
type Cache interface {
	// Get retrieves the payload for d.
	// Returns nil, false if the payload is not cached.
	Get(d digest.Digest) ([]byte, bool)

	// Put stores the payload for d.
	Put(d digest.Digest, payload []byte) error
}

// Memory is an unbounded in-memory Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[digest.Digest][]byte
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[digest.Digest][]byte)}
}

// Get implements Cache.
func (m *Memory) Get(d digest.Digest) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.entries[d]
	return p, ok
}

// Put implements Cache. The payload is retained; callers must not modify it.
func (m *Memory) Put(d digest.Digest, payload []byte) error {
	if err := d.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[d] = payload
	m.mu.Unlock()
	return nil
}

// Len returns the number of cached payloads.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
