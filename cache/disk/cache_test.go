package disk

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
)

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	encoded := []byte("encoded group")
	payload := []byte("hello")
	d := digest.FromBytes(encoded)

	if err := c.Put(d, payload); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok := c.Get(d)
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get() payload = %q, want %q", got, payload)
	}

	hexHash := d.Encoded()
	path := filepath.Join(dir, "sha256", hexHash[:defaultShardPrefixLen], hexHash)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected cache file at %s: %v", path, err)
	}
	if c.Size() != int64(len(payload)) {
		t.Fatalf("Size() = %d, want %d", c.Size(), len(payload))
	}
}

func TestCacheMiss(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := c.Get(digest.FromString("absent")); ok {
		t.Fatal("Get() ok = true for absent digest")
	}
	if _, ok := c.Get(digest.Digest("sha256:nothex")); ok {
		t.Fatal("Get() ok = true for invalid digest")
	}
	if err := c.Put(digest.Digest("bogus"), []byte("x")); err == nil {
		t.Fatal("Put() error = nil for invalid digest")
	}
}

func TestCacheNoSharding(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithShardPrefixLen(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	d := digest.FromString("flat")
	if err := c.Put(d, []byte("x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sha256", d.Encoded())); err != nil {
		t.Fatalf("expected unsharded cache file: %v", err)
	}
}

func TestCachePrunesOldest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithMaxBytes(25))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	old := digest.FromString("old")
	if err := c.Put(old, bytes.Repeat([]byte{1}, 10)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	past := time.Now().Add(-time.Hour)
	oldPath, _ := c.path(old)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	mid := digest.FromString("mid")
	if err := c.Put(mid, bytes.Repeat([]byte{2}, 10)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	newest := digest.FromString("new")
	if err := c.Put(newest, bytes.Repeat([]byte{3}, 10)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if _, ok := c.Get(old); ok {
		t.Fatal("oldest entry survived prune")
	}
	if _, ok := c.Get(newest); !ok {
		t.Fatal("newest entry was pruned")
	}
	if c.Size() > 25 {
		t.Fatalf("Size() = %d, want <= 25", c.Size())
	}
}

func TestNewTracksExistingSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Put(digest.FromString("a"), []byte("12345")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if reopened.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", reopened.Size())
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") error = nil")
	}
	if _, err := New(t.TempDir(), WithShardPrefixLen(-1)); err == nil {
		t.Fatal("New() error = nil for negative shard prefix")
	}
	if _, err := New(t.TempDir(), WithMaxBytes(-1)); err == nil {
		t.Fatal("New() error = nil for negative max bytes")
	}
}
