// Package disk provides a disk-backed cache implementation.
package disk

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencontainers/go-digest"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	tempPattern           = ".js5-cache-*"
)

// Cache implements cache.Cache using the local filesystem.
type Cache struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64

	size    atomic.Int64
	pruneMu sync.Mutex
}

// Option configures a disk cache.
type Option func(*Cache)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithMaxBytes bounds the cache size. When a Put grows the cache past the
// bound, the least recently used entries are removed. Zero disables the bound.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// New creates a disk-backed cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	if c.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, err
	}
	c.size.Store(size)
	return c, nil
}

// Get retrieves the payload for d and marks it recently used.
func (c *Cache) Get(d digest.Digest) ([]byte, bool) {
	path, err := c.path(d)
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from a validated digest
	if err != nil {
		return nil, false
	}
	if c.maxBytes > 0 {
		now := time.Now()
		_ = os.Chtimes(path, now, now) //nolint:errcheck // recency is best effort
	}
	return data, true
}

// Put stores the payload for d.
func (c *Cache) Put(d digest.Digest, payload []byte) error {
	path, err := c.path(d)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		if _, statErr := os.Stat(path); statErr == nil {
			return nil
		}
		return err
	}

	if c.size.Add(int64(len(payload))) > c.maxBytes && c.maxBytes > 0 {
		_, err := c.Prune(c.maxBytes)
		return err
	}
	return nil
}

// Size returns the tracked size of cached payloads in bytes.
func (c *Cache) Size() int64 {
	return c.size.Load()
}

// Prune removes least recently used entries until the cache holds at most
// target bytes, and returns the number of bytes freed.
func (c *Cache) Prune(target int64) (int64, error) {
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()
	freed, remaining, err := pruneDir(c.dir, target)
	c.size.Store(remaining)
	return freed, err
}

func (c *Cache) path(d digest.Digest) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	encoded := d.Encoded()
	root := filepath.Join(c.dir, d.Algorithm().String())
	if c.shardPrefixLen <= 0 {
		return filepath.Join(root, encoded), nil
	}
	prefixLen := min(c.shardPrefixLen, len(encoded))
	return filepath.Join(root, encoded[:prefixLen], encoded), nil
}
