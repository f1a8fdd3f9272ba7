// Package envelope frames group payloads with a compression method, length
// fields and an optional trailing version, and optionally encrypts the frame
// body.
//
// Frame layout (big-endian):
//
//	method:u8 compressedLength:u32 [uncompressedLength:u32] body [version:u16]
//
// The uncompressed length is present only for compressed methods. A version is
// present when at least two bytes follow the body; it is never encrypted.
package envelope

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/meigma/js5/internal/sizing"
	"github.com/meigma/js5/internal/xtea"
)

const (
	headerSize  = 5
	lengthSize  = 4
	versionSize = 2
)

var (
	// ErrTruncated is returned when a frame ends before its declared body.
	ErrTruncated = errors.New("js5: frame truncated")

	// ErrUnknownCompression is returned for an unsupported method byte.
	ErrUnknownCompression = errors.New("js5: unknown compression")

	// ErrLengthMismatch is returned when decompressed data disagrees with the
	// declared uncompressed length. A missing or wrong key is the usual cause.
	ErrLengthMismatch = errors.New("js5: decompressed length mismatch")

	// ErrDecompression is returned when the compressed body cannot be decoded.
	ErrDecompression = errors.New("js5: decompression failed")
)

// Frame is a decoded envelope.
type Frame struct {
	Compression Compression
	Payload     []byte

	// Version is the trailing version, or 0 when the frame has none.
	Version uint16
}

// Span describes where the parts of a frame lie.
type Span struct {
	Compression Compression

	// BodyStart is the offset of the body: 5 for uncompressed frames, 9 otherwise.
	BodyStart int

	// BodyEnd is the offset one past the body.
	BodyEnd int

	// HasVersion reports whether a trailing version follows the body.
	HasVersion bool
}

// Encrypted returns the range of buf covered by encryption.
func (s Span) Encrypted(buf []byte) []byte {
	end := len(buf)
	if s.HasVersion {
		end -= versionSize
	}
	return buf[headerSize:end]
}

// Measure reads a frame's header and locates its body.
// It only inspects the plaintext header, so it works on encrypted frames.
func Measure(buf []byte) (Span, error) {
	if len(buf) < headerSize {
		return Span{}, fmt.Errorf("%w: %d byte header", ErrTruncated, len(buf))
	}
	c := Compression(buf[0])
	if !c.valid() {
		return Span{}, fmt.Errorf("%w: method %d", ErrUnknownCompression, buf[0])
	}
	clen, err := sizing.ToInt(binary.BigEndian.Uint32(buf[1:]), ErrTruncated)
	if err != nil {
		return Span{}, err
	}

	s := Span{Compression: c, BodyStart: headerSize}
	if c != None {
		s.BodyStart += lengthSize
	}
	if !sizing.Fits(s.BodyStart, clen, len(buf)) {
		return Span{}, fmt.Errorf("%w: body of %d bytes at %d, frame has %d",
			ErrTruncated, clen, s.BodyStart, len(buf))
	}
	s.BodyEnd = s.BodyStart + clen
	s.HasVersion = len(buf)-s.BodyEnd >= versionSize
	return s, nil
}

// Decrypt decrypts the frame body of buf in place.
// A nil or zero key leaves buf unchanged.
func Decrypt(buf []byte, key *xtea.Key) error {
	if !xtea.Valid(key) {
		return nil
	}
	s, err := Measure(buf)
	if err != nil {
		return err
	}
	region := s.Encrypted(buf)
	xtea.Decrypt(region, key, len(region))
	return nil
}

// Encrypt encrypts the frame body of buf in place. It is the inverse of Decrypt.
func Encrypt(buf []byte, key *xtea.Key) error {
	if !xtea.Valid(key) {
		return nil
	}
	s, err := Measure(buf)
	if err != nil {
		return err
	}
	region := s.Encrypted(buf)
	xtea.Encrypt(region, key, len(region))
	return nil
}

// Decode decrypts (when key is valid) and unframes buf. buf is not modified.
func Decode(buf []byte, key *xtea.Key) (Frame, error) {
	if xtea.Valid(key) {
		buf = bytes.Clone(buf)
		if err := Decrypt(buf, key); err != nil {
			return Frame{}, err
		}
	}
	return Parse(buf)
}

// Parse unframes a plaintext frame and decompresses its body.
func Parse(buf []byte) (Frame, error) {
	s, err := Measure(buf)
	if err != nil {
		return Frame{}, err
	}
	body := buf[s.BodyStart:s.BodyEnd]

	f := Frame{Compression: s.Compression}
	if s.Compression == None {
		f.Payload = bytes.Clone(body)
	} else {
		ulen := binary.BigEndian.Uint32(buf[headerSize:])
		f.Payload, err = decompress(s.Compression, body, ulen)
		if err != nil {
			return Frame{}, err
		}
	}
	if s.HasVersion {
		f.Version = binary.BigEndian.Uint16(buf[s.BodyEnd:])
	}
	return f, nil
}

// Encode compresses payload with c, frames it, appends version when non-zero
// and encrypts the body when key is valid.
func Encode(payload []byte, c Compression, version uint16, key *xtea.Key) ([]byte, error) {
	if !c.valid() {
		return nil, fmt.Errorf("%w: method %d", ErrUnknownCompression, uint8(c))
	}
	if uint64(len(payload)) > 1<<32-1 {
		return nil, fmt.Errorf("js5: payload of %d bytes cannot be framed", len(payload))
	}

	body := payload
	if c != None {
		var err error
		body, err = compress(c, payload)
		if err != nil {
			return nil, err
		}
	}

	size := headerSize + len(body)
	if c != None {
		size += lengthSize
	}
	if version != 0 {
		size += versionSize
	}
	out := make([]byte, 0, size)
	out = append(out, byte(c))
	out = binary.BigEndian.AppendUint32(out, uint32(len(body))) //nolint:gosec // compressed output of a < 4GiB payload
	if c != None {
		out = binary.BigEndian.AppendUint32(out, uint32(len(payload))) //nolint:gosec // checked above
	}
	out = append(out, body...)
	if version != 0 {
		out = binary.BigEndian.AppendUint16(out, version)
	}

	if err := Encrypt(out, key); err != nil {
		return nil, err
	}
	return out, nil
}
