package js5

import (
	"slices"
	"strconv"

	"github.com/meigma/js5/config"
	"github.com/meigma/js5/internal/asset"
	"github.com/meigma/js5/internal/envelope"
	"github.com/meigma/js5/internal/sector"
)

// MetaArchive is the archive holding every other archive's reference table.
const MetaArchive = sector.MetaArchive

// Compression identifies the compression method of a group.
type Compression = envelope.Compression

const (
	CompressionNone  = envelope.None
	CompressionBzip2 = envelope.Bzip2
	CompressionGzip  = envelope.Gzip
)

// Encryption identifies how a group's body is protected.
type Encryption = asset.Encryption

const (
	EncryptionNone = asset.EncryptionNone
	EncryptionXTEA = asset.EncryptionXTEA
)

// ArchiveConfig describes how an archive is encoded.
type ArchiveConfig = config.Archive

// KeyResolver looks up the XTEA key of a named group for a game version.
// [config.KeySet] implements it.
type KeyResolver = asset.KeyResolver

// defaultConfig is used for archives without a configuration: plain groups
// whose single files are stored unstriped.
func defaultConfig(id uint8) ArchiveConfig {
	return ArchiveConfig{ID: id, Flatten: true}
}

// Archive is a decoded archive.
type Archive struct {
	ID     uint8
	Config ArchiveConfig

	// Format and Named come from the reference table header.
	Format uint8
	Named  bool

	// Groups holds every group that decoded successfully.
	Groups map[uint32]*Group
}

// Group returns the group with the given id.
func (a *Archive) Group(id uint32) (*Group, bool) {
	g, ok := a.Groups[id]
	return g, ok
}

// GroupIDs returns the ids of decoded groups in ascending order.
func (a *Archive) GroupIDs() []uint32 {
	return sortedKeys(a.Groups)
}

// Group is a decoded group.
type Group struct {
	ID       uint32
	Name     string
	NameHash int32
	CRC      uint32
	Version  int32

	// Stripes is the stripe count of a striped group, 0 when flattened.
	Stripes int

	// StripeSizes holds, per file in ascending id order, the length of each
	// stripe. It is nil when the group was flattened.
	StripeSizes [][]uint32

	Files map[uint32]*File
}

// File returns the file with the given id.
func (g *Group) File(id uint32) (*File, bool) {
	f, ok := g.Files[id]
	return f, ok
}

// FileIDs returns the ids of the group's files in ascending order.
func (g *Group) FileIDs() []uint32 {
	return sortedKeys(g.Files)
}

// File is a decoded file.
type File struct {
	ID       uint32
	Name     string
	NameHash int32
	CRC      uint32
	Version  int32
	Data     []byte
}

// keyName is the name a group's XTEA key is looked up by: its resolved name,
// or its decimal id when the name is unknown.
func keyName(name string, id uint32) string {
	if name != "" {
		return name
	}
	return strconv.FormatUint(uint64(id), 10)
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
