package disk

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type cacheEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// walkEntries visits committed cache files, skipping in-flight temp files.
func walkEntries(root string, fn func(cacheEntry)) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".js5-cache-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fn(cacheEntry{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func dirSize(root string) (int64, error) {
	var total int64
	err := walkEntries(root, func(e cacheEntry) { total += e.size })
	return total, err
}

// pruneDir removes the oldest entries under root until at most targetBytes remain.
func pruneDir(root string, targetBytes int64) (freed int64, remaining int64, err error) {
	targetBytes = max(targetBytes, 0)

	var entries []cacheEntry
	if err := walkEntries(root, func(e cacheEntry) {
		remaining += e.size
		entries = append(entries, e)
	}); err != nil {
		return 0, 0, err
	}
	if remaining <= targetBytes {
		return 0, remaining, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].path < entries[j].path
		}
		return entries[i].modTime.Before(entries[j].modTime)
	})

	for _, entry := range entries {
		if remaining <= targetBytes {
			break
		}
		if err := os.Remove(entry.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return freed, remaining, err
		}
		remaining -= entry.size
		freed += entry.size
	}
	return freed, remaining, nil
}
