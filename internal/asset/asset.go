// Package asset carries a group's bytes through the decode lifecycle
// (packed, decrypted, decompressed) and its inverse on the write path.
package asset

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash/crc32"
	"sync/atomic"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/js5/internal/envelope"
	"github.com/meigma/js5/internal/xtea"
)

// ErrEmptyData is returned when decompressing a file that holds no bytes.
var ErrEmptyData = errors.New("js5: empty data")

// Encryption identifies how a file's envelope body is protected.
type Encryption uint8

const (
	EncryptionNone Encryption = iota
	EncryptionXTEA
)

// String returns the configuration name of the encryption method.
func (e Encryption) String() string {
	switch e {
	case EncryptionNone:
		return "none"
	case EncryptionXTEA:
		return "xtea"
	default:
		return "unknown"
	}
}

// ParseEncryption maps a configuration name to an Encryption.
func ParseEncryption(name string) (Encryption, error) {
	switch name {
	case "", "none":
		return EncryptionNone, nil
	case "xtea":
		return EncryptionXTEA, nil
	default:
		return EncryptionNone, fmt.Errorf("js5: unknown encryption %q", name)
	}
}

// File is one unit of encoded data moving through the lifecycle.
//
// A freshly extracted file is Compressed (still framed) and, when its
// Encryption is XTEA, Encrypted. Decrypt and Decompress clear those flags and
// replace Data. Compress sets them again.
type File struct {
	// Name selects the key set when decrypting.
	Name string

	Data        []byte
	Compression envelope.Compression
	Encryption  Encryption
	Encrypted   bool
	Compressed  bool

	// Version is the envelope's trailing version, 0 when absent.
	Version uint16

	// CRC is the last recorded checksum of the framed bytes.
	CRC uint32
}

// Packed wraps bytes read from a sector chain.
func Packed(name string, data []byte, enc Encryption) *File {
	return &File{
		Name:       name,
		Data:       data,
		Encryption: enc,
		Encrypted:  enc == EncryptionXTEA,
		Compressed: true,
	}
}

// Raw wraps a logical payload ready to be compressed.
func Raw(name string, data []byte, c envelope.Compression, enc Encryption, version uint16) *File {
	return &File{
		Name:        name,
		Data:        data,
		Compression: c,
		Encryption:  enc,
		Version:     version,
	}
}

// Size returns the length of the current data.
func (f *File) Size() int {
	return len(f.Data)
}

// CRC32 returns the IEEE CRC32 of data, or 0 for an empty slice.
func CRC32(data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}
	return crc32.ChecksumIEEE(data)
}

// Checksum returns the CRC32 of a framed buffer excluding any trailing
// version, as recorded in reference tables.
func Checksum(framed []byte) uint32 {
	s, err := envelope.Measure(framed)
	if err != nil || !s.HasVersion {
		return CRC32(framed)
	}
	return CRC32(framed[:len(framed)-2])
}

// SHA256 returns the SHA-256 digest of data, or the empty digest for an
// empty slice.
func SHA256(data []byte) digest.Digest {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return digest.NewDigestFromBytes(digest.SHA256, sum[:])
}

// Tally accumulates soft failures across a decode run.
// It is safe for concurrent use.
type Tally struct {
	missingKeys atomic.Int64
}

// MissingKeys returns how many decrypts found no usable key.
func (t *Tally) MissingKeys() int64 {
	if t == nil {
		return 0
	}
	return t.missingKeys.Load()
}

func (t *Tally) missingKey() {
	if t != nil {
		t.missingKeys.Add(1)
	}
}

// KeyResolver looks up the XTEA key for a named file under a game version.
type KeyResolver interface {
	Key(name, gameVersion string) (xtea.Key, bool)
}
