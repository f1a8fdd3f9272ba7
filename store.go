package js5

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/js5/cache"
	"github.com/meigma/js5/config"
	"github.com/meigma/js5/internal/asset"
	"github.com/meigma/js5/internal/index"
	"github.com/meigma/js5/internal/sector"
)

const (
	// DataFileName is the name of the data channel file in a cache directory.
	DataFileName = "main_file_cache.dat2"

	// IndexFilePrefix prefixes the index channel files; the archive id follows.
	IndexFilePrefix = "main_file_cache.idx"
)

// Store decodes archives from in-memory data and index channels.
//
// A Store is safe for concurrent use. Decoded archives are retained, so
// loading an archive twice decodes it once.
type Store struct {
	data    []byte
	indexes [256][]byte // nil = absent

	logger       *slog.Logger
	keys         KeyResolver
	gameVersion  string
	configs      map[uint8]ArchiveConfig
	workers      int
	memoryBudget int64
	cache        cache.Cache
	names        *config.NameTable
	codec        *asset.Codec

	mu       sync.RWMutex
	archives [256]*Archive
	reports  [256]*ArchiveReport
	loads    singleflight.Group
}

// New creates a Store over a data channel and per-archive index channels.
// The channels are retained; callers must not modify them.
func New(data []byte, indexes map[uint8][]byte, opts ...Option) *Store {
	s := &Store{
		data:    data,
		configs: make(map[uint8]ArchiveConfig),
	}
	for id, idx := range indexes {
		s.indexes[id] = idx
	}
	for _, opt := range opts {
		opt(s)
	}
	s.codec = asset.NewCodec(
		asset.WithKeys(s.keys),
		asset.WithGameVersion(s.gameVersion),
		asset.WithLogger(s.log()),
	)
	return s
}

// Open loads a cache directory's data channel and every index channel
// present into memory.
func Open(dir string, opts ...Option) (*Store, error) {
	data, err := os.ReadFile(filepath.Join(dir, DataFileName)) //nolint:gosec // dir is supplied by the caller
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	indexes := make(map[uint8][]byte)
	for id := range 256 {
		path := filepath.Join(dir, IndexFilePrefix+strconv.Itoa(id))
		idx, err := os.ReadFile(path) //nolint:gosec // path is built from dir and a numeric suffix
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		indexes[uint8(id)] = idx
	}
	if indexes[MetaArchive] == nil {
		return nil, fmt.Errorf("open %s: %w: no meta index", dir, ErrArchiveNotFound)
	}
	return New(data, indexes, opts...), nil
}

func (s *Store) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Archives returns the ids of archives with an index channel, excluding the
// meta archive, in ascending order.
func (s *Store) Archives() []uint8 {
	var ids []uint8
	for id := range MetaArchive {
		if s.indexes[id] != nil {
			ids = append(ids, uint8(id))
		}
	}
	return ids
}

// Config returns the configuration used for an archive.
func (s *Store) Config(archive uint8) ArchiveConfig {
	if cfg, ok := s.configs[archive]; ok {
		return cfg
	}
	return defaultConfig(archive)
}

// ReadRaw returns a group's encoded bytes as stored in the data channel.
func (s *Store) ReadRaw(archive uint8, group uint32) ([]byte, error) {
	idx := s.indexes[archive]
	if idx == nil {
		return nil, fmt.Errorf("%w: %d", ErrArchiveNotFound, archive)
	}
	raw, err := sector.Extract(archive, group, idx, s.data)
	if err != nil {
		return nil, fmt.Errorf("read %d/%d: %w", archive, group, err)
	}
	return raw, nil
}

func (s *Store) table(archive uint8) (*index.Table, error) {
	raw, err := s.ReadRaw(MetaArchive, uint32(archive))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %d has no reference table", ErrArchiveNotFound, archive)
	}
	if err != nil {
		return nil, err
	}
	f := asset.Packed(strconv.Itoa(int(archive)), raw, EncryptionNone)
	if err := s.codec.Decompress(f); err != nil {
		return nil, fmt.Errorf("reference table %d: %w", archive, err)
	}
	t, err := index.Load(f.Data)
	if err != nil {
		return nil, fmt.Errorf("reference table %d: %w", archive, err)
	}
	return t, nil
}

// ReadGroup decodes a single group without retaining it.
func (s *Store) ReadGroup(archive uint8, group uint32) (*Group, error) {
	t, err := s.table(archive)
	if err != nil {
		return nil, err
	}
	entry, ok := t.Group(group)
	if !ok {
		return nil, fmt.Errorf("%w: group %d of archive %d", ErrNotFound, group, archive)
	}
	g, _, err := s.decodeGroup(s.Config(archive), t.Named, entry, nil)
	if err != nil {
		return nil, &GroupError{Archive: archive, Group: group, Err: err}
	}
	return g, nil
}

// ReadFile decodes a single file.
func (s *Store) ReadFile(archive uint8, group, file uint32) ([]byte, error) {
	g, err := s.ReadGroup(archive, group)
	if err != nil {
		return nil, err
	}
	f, ok := g.File(file)
	if !ok {
		return nil, fmt.Errorf("%w: file %d of group %d/%d", ErrNotFound, file, archive, group)
	}
	return f.Data, nil
}

// Archive returns a previously loaded archive.
func (s *Store) Archive(id uint8) (*Archive, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a := s.archives[id]
	return a, a != nil
}

type loadResult struct {
	archive *Archive
	report  ArchiveReport
}

// Load decodes every group of an archive.
//
// Groups that fail are recorded in the report and left out of the archive;
// the error is non-nil only when the reference table cannot be decoded or
// ctx is done.
func (s *Store) Load(ctx context.Context, id uint8) (*Archive, ArchiveReport, error) {
	s.mu.RLock()
	a, rep := s.archives[id], s.reports[id]
	s.mu.RUnlock()
	if a != nil {
		return a, *rep, nil
	}

	v, err, _ := s.loads.Do(strconv.Itoa(int(id)), func() (any, error) {
		a, rep, err := s.loadArchive(ctx, id)
		if err == nil {
			s.mu.Lock()
			s.archives[id] = a
			s.reports[id] = &rep
			s.mu.Unlock()
		}
		return loadResult{archive: a, report: rep}, err
	})
	res := v.(loadResult) //nolint:errcheck,forcetypeassert // the closure always returns loadResult
	return res.archive, res.report, err
}

// LoadAll loads every archive in ascending id order.
//
// An archive whose reference table fails is reported and skipped. ctx is
// checked between archives; on cancellation the report covers the archives
// finished so far.
func (s *Store) LoadAll(ctx context.Context) (*Report, error) {
	r := &Report{}
	for _, id := range s.Archives() {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		_, rep, err := s.Load(ctx, id)
		if err != nil && ctx.Err() != nil {
			return r, ctx.Err()
		}
		r.Archives = append(r.Archives, rep)
	}
	return r, nil
}
