package js5

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/meigma/js5/internal/asset"
	"github.com/meigma/js5/internal/batch"
	"github.com/meigma/js5/internal/index"
	"github.com/meigma/js5/internal/sector"
	"github.com/meigma/js5/internal/stripe"
)

func (s *Store) loadArchive(ctx context.Context, id uint8) (*Archive, ArchiveReport, error) {
	cfg := s.Config(id)
	rep := ArchiveReport{Archive: id, Name: cfg.Name}

	t, err := s.table(id)
	if err != nil {
		rep.Err = err
		s.log().Warn("archive unreadable", "archive", id, "error", err)
		return nil, rep, err
	}
	rep.Groups = t.Len()

	a := &Archive{
		ID:     id,
		Config: cfg,
		Format: t.Format,
		Named:  t.Named,
		Groups: make(map[uint32]*Group, t.Len()),
	}

	tasks := make([]batch.Task, len(t.Groups))
	for i := range t.Groups {
		tasks[i] = batch.Task{ID: t.Groups[i].ID, Size: s.encodedSize(id, t.Groups[i].ID)}
	}

	var (
		mu         sync.Mutex
		tally      asset.Tally
		mismatches atomic.Int64
	)
	proc := batch.NewProcessor(batch.WithWorkers(s.workers), batch.WithMemoryBudget(s.memoryBudget))
	res, err := proc.Process(ctx, tasks, func(_ context.Context, task batch.Task) error {
		entry, _ := t.Group(task.ID)
		g, crcOK, err := s.decodeGroup(cfg, t.Named, entry, &tally)
		if !crcOK {
			mismatches.Add(1)
		}
		if err != nil {
			s.log().Debug("group failed", "archive", id, "group", task.ID, "error", err)
			return err
		}
		mu.Lock()
		a.Groups[g.ID] = g
		mu.Unlock()
		return nil
	})

	rep.Decoded = res.Done
	rep.Failed = len(res.Failed)
	rep.CRCMismatches = int(mismatches.Load())
	rep.MissingKeys = tally.MissingKeys()
	for _, f := range res.Failed {
		rep.Failures = append(rep.Failures, &GroupError{Archive: id, Group: f.ID, Err: f.Err})
	}
	for _, g := range a.Groups {
		rep.Files += len(g.Files)
	}
	if err != nil {
		return nil, rep, err
	}

	s.log().Info("archive decoded",
		"archive", id,
		"name", cfg.Name,
		"groups", rep.Groups,
		"decoded", rep.Decoded,
		"failed", rep.Failed,
		"missing_keys", rep.MissingKeys,
	)
	return a, rep, nil
}

// encodedSize returns a group's size from its index record, or 0 when the
// record is unreadable.
func (s *Store) encodedSize(archive uint8, group uint32) int64 {
	rec, err := sector.ReadIndex(s.indexes[archive], group)
	if err != nil {
		return 0
	}
	return int64(rec.Size)
}

// decodeGroup reads, decodes and demultiplexes one group. crcOK is false
// only when the group was read and its checksum disagrees with the table.
func (s *Store) decodeGroup(cfg ArchiveConfig, named bool, entry *index.Group, tally *asset.Tally) (g *Group, crcOK bool, err error) {
	raw, err := s.ReadRaw(cfg.ID, entry.ID)
	if err != nil {
		return nil, true, err
	}

	crcOK = asset.Checksum(raw) == entry.CRC
	if !crcOK {
		s.log().Warn("group checksum mismatch",
			"archive", cfg.ID, "group", entry.ID, "want", entry.CRC, "got", asset.Checksum(raw))
	}

	g = &Group{
		ID:       entry.ID,
		NameHash: entry.NameHash,
		CRC:      entry.CRC,
		Version:  entry.Version,
		Files:    make(map[uint32]*File, len(entry.Files)),
	}
	if named {
		g.Name, _ = s.names.Lookup(entry.NameHash)
	}

	payload, err := s.payload(cfg, keyName(g.Name, g.ID), raw, tally)
	if err != nil {
		return nil, crcOK, err
	}

	switch {
	case len(entry.Files) == 0:
		return g, crcOK, nil
	case len(entry.Files) == 1 && cfg.Flatten:
		g.Files[entry.Files[0].ID] = &File{
			ID:       entry.Files[0].ID,
			Name:     g.Name,
			NameHash: g.NameHash,
			CRC:      g.CRC,
			Version:  g.Version,
			Data:     payload,
		}
		return g, crcOK, nil
	}

	files, layout, err := stripe.Split(payload, len(entry.Files))
	if err != nil {
		return nil, crcOK, err
	}
	g.Stripes = layout.Stripes
	g.StripeSizes = layout.Sizes
	for i, fe := range entry.Files {
		f := &File{
			ID:       fe.ID,
			NameHash: fe.NameHash,
			CRC:      asset.CRC32(files[i]),
			Version:  g.Version,
			Data:     files[i],
		}
		if named {
			f.Name, _ = s.names.Lookup(fe.NameHash)
		}
		g.Files[fe.ID] = f
	}
	return g, crcOK, nil
}

// payload decodes a group's raw bytes, consulting the cache first.
func (s *Store) payload(cfg ArchiveConfig, name string, raw []byte, tally *asset.Tally) ([]byte, error) {
	key := asset.SHA256(raw)
	if s.cache != nil && key != "" {
		if p, ok := s.cache.Get(key); ok {
			s.log().Debug("cache hit", "archive", cfg.ID, "name", name, "digest", key)
			return p, nil
		}
	}

	f := asset.Packed(name, raw, cfg.Encryption)
	if err := s.codec.Decode(f, tally); err != nil {
		return nil, err
	}

	if s.cache != nil && key != "" {
		if err := s.cache.Put(key, f.Data); err != nil {
			s.log().Warn("cache put failed", "digest", key, "error", err)
		}
	}
	return f.Data, nil
}
