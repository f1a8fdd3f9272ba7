package js5

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/js5/internal/asset"
	"github.com/meigma/js5/internal/batch"
)

// ManifestFileName is the name of the manifest Export writes.
const ManifestFileName = "manifest.json"

// ExportOption configures Export.
type ExportOption func(*exportConfig)

type exportConfig struct {
	overwrite bool
	archives  []uint8
}

// ExportWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func ExportWithOverwrite(overwrite bool) ExportOption {
	return func(c *exportConfig) {
		c.overwrite = overwrite
	}
}

// ExportWithArchives limits the export to the given archives.
// By default every archive is exported.
func ExportWithArchives(ids ...uint8) ExportOption {
	return func(c *exportConfig) {
		c.archives = ids
	}
}

// ManifestEntry describes one exported file.
type ManifestEntry struct {
	Archive uint8         `json:"archive"`
	Group   uint32        `json:"group"`
	File    uint32        `json:"file"`
	Name    string        `json:"name,omitempty"`
	Path    string        `json:"path"`
	Size    int           `json:"size"`
	Digest  digest.Digest `json:"digest,omitempty"`
}

// Manifest lists exported files.
type Manifest struct {
	Files   []ManifestEntry `json:"files"`
	Skipped int             `json:"skipped"`
}

// ExportPath returns the slash-separated path Export writes a file to.
func ExportPath(archive uint8, group, file uint32) string {
	return fmt.Sprintf("%d/%d/%d.dat", archive, group, file)
}

// Export decodes archives and writes their files below dest, one file per
// path from ExportPath, followed by a JSON manifest.
//
// Archives whose reference table fails are skipped, as are groups that fail
// to decode; ctx is checked between archives.
func (s *Store) Export(ctx context.Context, dest string, opts ...ExportOption) (*Manifest, error) {
	cfg := exportConfig{archives: s.Archives()}
	for _, opt := range opts {
		opt(&cfg)
	}
	sink := batch.NewFileSink(dest, batch.WithOverwrite(cfg.overwrite))

	m := &Manifest{Files: []ManifestEntry{}}
	for _, id := range cfg.archives {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		a, _, err := s.Load(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return m, ctx.Err()
			}
			continue
		}
		for _, gid := range a.GroupIDs() {
			g := a.Groups[gid]
			for _, fid := range g.FileIDs() {
				f := g.Files[fid]
				rel := ExportPath(id, gid, fid)
				wrote, err := sink.Write(rel, f.Data)
				if err != nil {
					return m, fmt.Errorf("export %s: %w", rel, err)
				}
				if !wrote {
					m.Skipped++
				}
				m.Files = append(m.Files, ManifestEntry{
					Archive: id,
					Group:   gid,
					File:    fid,
					Name:    f.Name,
					Path:    rel,
					Size:    len(f.Data),
					Digest:  asset.SHA256(f.Data),
				})
			}
		}
		s.log().Debug("archive exported", "archive", id, "dest", dest)
	}

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return m, err
	}
	manifest := batch.NewFileSink(dest, batch.WithOverwrite(true))
	if _, err := manifest.Write(ManifestFileName, raw); err != nil {
		return m, fmt.Errorf("export manifest: %w", err)
	}
	return m, nil
}
