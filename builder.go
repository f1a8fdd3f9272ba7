package js5

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/meigma/js5/config"
	"github.com/meigma/js5/internal/asset"
	"github.com/meigma/js5/internal/batch"
	"github.com/meigma/js5/internal/index"
	"github.com/meigma/js5/internal/sector"
	"github.com/meigma/js5/internal/stripe"
)

const defaultFormat = 6

// GroupSpec describes a group added to a Builder.
type GroupSpec struct {
	ID      uint32
	Name    string
	Version int32
}

// FileSpec describes a file added to a Builder.
type FileSpec struct {
	ID   uint32
	Name string
	Data []byte
}

// Builder assembles data and index channels from archives of groups of files.
//
// Groups are striped or flattened according to their archive's
// configuration, framed with its compression, encrypted when the archive
// uses XTEA, and chained into the data channel. Each archive's reference
// table is written to the meta archive.
type Builder struct {
	keys        KeyResolver
	gameVersion string
	stripes     int
	format      uint8
	logger      *slog.Logger

	archives map[uint8]*archiveBuild
}

type archiveBuild struct {
	cfg    ArchiveConfig
	groups map[uint32]*groupBuild
}

type groupBuild struct {
	spec  GroupSpec
	files map[uint32]FileSpec
}

// NewBuilder creates an empty Builder.
func NewBuilder(opts ...BuildOption) *Builder {
	b := &Builder{
		stripes:  1,
		format:   defaultFormat,
		archives: make(map[uint8]*archiveBuild),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.New(slog.DiscardHandler)
}

// AddArchive declares an archive. Archives that are never declared but
// receive groups use the default configuration.
func (b *Builder) AddArchive(cfg ArchiveConfig) error {
	if cfg.ID == MetaArchive {
		return fmt.Errorf("js5: archive %d is reserved", MetaArchive)
	}
	if a, ok := b.archives[cfg.ID]; ok {
		a.cfg = cfg
		return nil
	}
	b.archives[cfg.ID] = &archiveBuild{cfg: cfg, groups: make(map[uint32]*groupBuild)}
	return nil
}

// Add adds a group with its files to an archive.
func (b *Builder) Add(archive uint8, group GroupSpec, files ...FileSpec) error {
	if _, ok := b.archives[archive]; !ok {
		if err := b.AddArchive(defaultConfig(archive)); err != nil {
			return err
		}
	}
	a := b.archives[archive]
	if _, dup := a.groups[group.ID]; dup {
		return fmt.Errorf("js5: group %d of archive %d added twice", group.ID, archive)
	}
	g := &groupBuild{spec: group, files: make(map[uint32]FileSpec, len(files))}
	for _, f := range files {
		if _, dup := g.files[f.ID]; dup {
			return fmt.Errorf("js5: file %d of group %d/%d added twice", f.ID, archive, group.ID)
		}
		g.files[f.ID] = f
	}
	a.groups[group.ID] = g
	return nil
}

// Channels holds encoded data and index channels.
type Channels struct {
	Data    []byte
	Indexes map[uint8][]byte
}

// Build encodes every archive.
func (b *Builder) Build() (*Channels, error) {
	ch := &Channels{Indexes: make(map[uint8][]byte)}
	codec := asset.NewCodec(
		asset.WithKeys(b.keys),
		asset.WithGameVersion(b.gameVersion),
		asset.WithLogger(b.log()),
	)

	ids := make([]uint8, 0, len(b.archives))
	for id := range b.archives {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var meta []byte
	for _, id := range ids {
		table, err := b.buildArchive(ch, codec, b.archives[id])
		if err != nil {
			return nil, fmt.Errorf("archive %d: %w", id, err)
		}
		encoded, err := table.Encode()
		if err != nil {
			return nil, fmt.Errorf("archive %d: %w", id, err)
		}
		f := asset.Raw(strconv.Itoa(int(id)), encoded, b.archives[id].cfg.Compression, EncryptionNone, 0)
		if _, err := codec.Compress(f, nil); err != nil {
			return nil, fmt.Errorf("archive %d: reference table: %w", id, err)
		}
		if meta, err = b.put(ch, meta, MetaArchive, uint32(id), f.Data); err != nil {
			return nil, err
		}
	}
	if meta == nil {
		meta = []byte{}
	}
	ch.Indexes[MetaArchive] = meta
	return ch, nil
}

func (b *Builder) buildArchive(ch *Channels, codec *asset.Codec, a *archiveBuild) (*index.Table, error) {
	groupIDs := sortedKeys(a.groups)
	table := &index.Table{Format: b.format, Groups: make([]index.Group, 0, len(groupIDs))}

	idx := []byte{}
	for _, gid := range groupIDs {
		g := a.groups[gid]
		payload, entry, err := b.encodeGroup(a.cfg, g)
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", gid, err)
		}
		if entry.NameHash != 0 || slices.ContainsFunc(entry.Files, func(f index.File) bool { return f.NameHash != 0 }) {
			table.Named = true
		}

		var tally asset.Tally
		f := asset.Raw(keyName(g.spec.Name, gid), payload, a.cfg.Compression, a.cfg.Encryption, uint16(g.spec.Version)) //nolint:gosec // low 16 bits are the trailer
		if _, err := codec.Compress(f, &tally); err != nil {
			return nil, fmt.Errorf("group %d: %w", gid, err)
		}
		if tally.MissingKeys() > 0 {
			return nil, fmt.Errorf("group %d: no xtea key for %q", gid, f.Name)
		}
		entry.CRC = f.CRC

		if idx, err = b.put(ch, idx, a.cfg.ID, gid, f.Data); err != nil {
			return nil, err
		}
		table.Groups = append(table.Groups, entry)
	}
	ch.Indexes[a.cfg.ID] = idx
	b.log().Debug("archive built", "archive", a.cfg.ID, "groups", len(groupIDs))
	return table, nil
}

// encodeGroup produces a group's logical payload and its table entry.
func (b *Builder) encodeGroup(cfg ArchiveConfig, g *groupBuild) ([]byte, index.Group, error) {
	entry := index.Group{ID: g.spec.ID, Version: g.spec.Version}
	if g.spec.Name != "" {
		entry.NameHash = config.NameHash(g.spec.Name)
	}
	fileIDs := sortedKeys(g.files)
	datas := make([][]byte, len(fileIDs))
	for i, fid := range fileIDs {
		f := g.files[fid]
		fe := index.File{ID: fid}
		if f.Name != "" {
			fe.NameHash = config.NameHash(f.Name)
		}
		entry.Files = append(entry.Files, fe)
		datas[i] = f.Data
	}

	switch {
	case len(datas) == 0:
		return nil, entry, nil
	case len(datas) == 1 && cfg.Flatten:
		return datas[0], entry, nil
	}
	payload, err := stripe.Join(datas, b.stripes)
	return payload, entry, err
}

func (b *Builder) put(ch *Channels, idx []byte, archive uint8, id uint32, framed []byte) ([]byte, error) {
	data, rec, err := sector.Write(archive, id, framed, ch.Data)
	if err != nil {
		return nil, fmt.Errorf("write %d/%d: %w", archive, id, err)
	}
	ch.Data = data
	idx, err = sector.PutIndex(idx, id, rec)
	if err != nil {
		return nil, fmt.Errorf("index %d/%d: %w", archive, id, err)
	}
	return idx, nil
}

// Store builds the channels and opens a Store over them.
func (b *Builder) Store(opts ...Option) (*Store, error) {
	ch, err := b.Build()
	if err != nil {
		return nil, err
	}
	cfgs := make(map[uint8]ArchiveConfig, len(b.archives))
	for id, a := range b.archives {
		cfgs[id] = a.cfg
	}
	opts = append([]Option{WithArchiveConfigs(cfgs)}, opts...)
	return New(ch.Data, ch.Indexes, opts...), nil
}

// Save builds the channels and writes them to dir as a cache directory.
// Files are replaced atomically; parent directories are created as needed.
func (b *Builder) Save(dir string) error {
	ch, err := b.Build()
	if err != nil {
		return err
	}
	return ch.Save(dir)
}

// Save writes the channels to dir as a cache directory.
func (ch *Channels) Save(dir string) error {
	sink := batch.NewFileSink(dir, batch.WithOverwrite(true))
	var errs []error
	if _, err := sink.Write(DataFileName, ch.Data); err != nil {
		return fmt.Errorf("write data file: %w", err)
	}
	for id, idx := range ch.Indexes {
		name := IndexFilePrefix + strconv.Itoa(int(id))
		if _, err := sink.Write(name, idx); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", filepath.Join(dir, name), err))
		}
	}
	return errors.Join(errs...)
}
