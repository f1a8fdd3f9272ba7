package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/meigma/js5/internal/asset"
	"github.com/meigma/js5/internal/envelope"
	"github.com/meigma/js5/internal/sector"
)

// Archive describes how one archive is encoded.
type Archive struct {
	ID          uint8
	Name        string
	Encryption  asset.Encryption
	Compression envelope.Compression

	// Flatten gives single-file groups their group's payload directly
	// instead of a striped layout.
	Flatten bool
}

type archiveJSON struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Encryption  string `json:"encryption"`
	Compression string `json:"compression"`
	Flatten     bool   `json:"flatten"`
}

// ParseArchives decodes a JSON list of archive definitions:
//
//	[{"id": 5, "name": "maps", "encryption": "xtea", "compression": "gzip", "flatten": true}]
func ParseArchives(r io.Reader) (map[uint8]Archive, error) {
	var raw []archiveJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse archives: %w", err)
	}
	out := make(map[uint8]Archive, len(raw))
	for _, a := range raw {
		if a.ID < 0 || a.ID >= sector.MetaArchive {
			return nil, fmt.Errorf("parse archives: id %d out of range", a.ID)
		}
		id := uint8(a.ID)
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("parse archives: duplicate id %d", id)
		}
		enc, err := asset.ParseEncryption(a.Encryption)
		if err != nil {
			return nil, fmt.Errorf("parse archives: archive %d: %w", id, err)
		}
		c, err := envelope.ParseCompression(a.Compression)
		if err != nil {
			return nil, fmt.Errorf("parse archives: archive %d: %w", id, err)
		}
		out[id] = Archive{ID: id, Name: a.Name, Encryption: enc, Compression: c, Flatten: a.Flatten}
	}
	return out, nil
}

// LoadArchives reads archive definitions from path.
func LoadArchives(path string) (map[uint8]Archive, error) {
	f, err := os.Open(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseArchives(f)
}
