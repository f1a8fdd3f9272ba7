// Package testutil provides deterministic payloads, a counting cache and
// channel helpers shared by tests.
package testutil

import (
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/js5/internal/sector"
)

// Payload returns n pseudo-random bytes determined by seed.
func Payload(seed int64, n int) []byte {
	b := make([]byte, n)
	r := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic test data
	r.Read(b)
	return b
}

// Text returns n bytes of repetitive, compressible text.
func Text(n int) []byte {
	const words = "the quick brown fox jumps over the lazy dog "
	b := make([]byte, n)
	for i := range b {
		b[i] = words[i%len(words)]
	}
	return b
}

// MockCache implements a concurrency-safe in-memory cache that counts hits
// and misses.
type MockCache struct {
	mu     sync.RWMutex
	data   map[digest.Digest][]byte
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMockCache constructs an empty cache.
func NewMockCache() *MockCache {
	return &MockCache{data: make(map[digest.Digest][]byte)}
}

// Get returns the payload stored for d.
func (c *MockCache) Get(d digest.Digest) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.data[d]
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return p, ok
}

// Put stores a copy of payload under d.
func (c *MockCache) Put(d digest.Digest, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[d] = append([]byte(nil), payload...)
	return nil
}

// Len returns the number of stored payloads.
func (c *MockCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Hits returns the number of successful lookups.
func (c *MockCache) Hits() int64 { return c.hits.Load() }

// Misses returns the number of failed lookups.
func (c *MockCache) Misses() int64 { return c.misses.Load() }

// Chain appends payload to data as a sector chain owned by id and records it
// in index, failing the test on error.
func Chain(tb testing.TB, archive uint8, id uint32, payload, data, index []byte) (newData, newIndex []byte) {
	tb.Helper()
	data, rec, err := sector.Write(archive, id, payload, data)
	if err != nil {
		tb.Fatalf("sector.Write(%d, %d) error = %v", archive, id, err)
	}
	index, err = sector.PutIndex(index, id, rec)
	if err != nil {
		tb.Fatalf("sector.PutIndex(%d) error = %v", id, err)
	}
	return data, index
}

// WriteCacheDir writes channels to dir using the standard file names.
func WriteCacheDir(tb testing.TB, dir string, data []byte, indexes map[uint8][]byte) {
	tb.Helper()
	if err := os.WriteFile(filepath.Join(dir, "main_file_cache.dat2"), data, 0o600); err != nil {
		tb.Fatalf("write data channel: %v", err)
	}
	for id, idx := range indexes {
		path := filepath.Join(dir, "main_file_cache.idx"+strconv.Itoa(int(id)))
		if err := os.WriteFile(path, idx, 0o600); err != nil {
			tb.Fatalf("write index channel %d: %v", id, err)
		}
	}
}
