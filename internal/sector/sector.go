// Package sector implements the chained fixed-size sector layout of the data
// channel and the 6-byte index records that point into it.
//
// A data channel is a flat sequence of 520-byte sectors. Each sector carries a
// header naming the file that owns it, its position in the file's chain, the
// slot of the following sector and the archive the file belongs to. Files whose
// id does not fit in 16 bits use a 10-byte header with a 32-bit owner field.
package sector

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Size is the size of one physical sector.
	Size = 520

	// HeaderSize is the header size for owner ids up to 0xFFFF.
	HeaderSize = 8

	// ExtendedHeaderSize is the header size for owner ids above 0xFFFF.
	ExtendedHeaderSize = 10

	// PayloadSize is the payload capacity of a sector with a standard header.
	PayloadSize = Size - HeaderSize

	// ExtendedPayloadSize is the payload capacity of a sector with an extended header.
	ExtendedPayloadSize = Size - ExtendedHeaderSize

	// IndexRecordSize is the size of one record in an index channel.
	IndexRecordSize = 6

	// MetaArchive is the archive whose index channel indexes every other archive.
	MetaArchive = 255

	// MaxUint24 is the largest value of a 3-byte field.
	MaxUint24 = 1<<24 - 1
)

var (
	// ErrNotFound is returned when a file's index record lies outside the index channel.
	ErrNotFound = errors.New("js5: file not found")

	// ErrTruncated is returned when a channel ends before a record or sector does.
	ErrTruncated = errors.New("js5: truncated")

	// ErrChainCorrupt is returned when a sector header does not match the chain being read.
	ErrChainCorrupt = errors.New("js5: sector chain corrupt")

	// ErrTooLarge is returned when a size or slot does not fit in 24 bits.
	ErrTooLarge = errors.New("js5: value exceeds 24 bits")
)

// Extended reports whether files with this id use the 10-byte sector header.
func Extended(id uint32) bool {
	return id > 0xFFFF
}

func layout(id uint32) (headerSize, payloadSize int) {
	if Extended(id) {
		return ExtendedHeaderSize, ExtendedPayloadSize
	}
	return HeaderSize, PayloadSize
}

// Header is the per-sector header.
type Header struct {
	Owner   uint32
	Seq     uint16
	Next    uint32
	Archive uint8
}

// Put encodes h into b and returns the number of bytes written.
// b must hold at least ExtendedHeaderSize bytes when the owner is extended.
func (h Header) Put(b []byte) int {
	n := 0
	if Extended(h.Owner) {
		binary.BigEndian.PutUint32(b, h.Owner)
		n = 4
	} else {
		binary.BigEndian.PutUint16(b, uint16(h.Owner)) //nolint:gosec // checked by Extended
		n = 2
	}
	binary.BigEndian.PutUint16(b[n:], h.Seq)
	putUint24(b[n+2:], h.Next)
	b[n+5] = h.Archive
	return n + 6
}

// ParseHeader decodes a sector header. extended selects the 32-bit owner layout.
func ParseHeader(b []byte, extended bool) Header {
	var h Header
	n := 2
	if extended {
		h.Owner = binary.BigEndian.Uint32(b)
		n = 4
	} else {
		h.Owner = uint32(binary.BigEndian.Uint16(b))
	}
	h.Seq = binary.BigEndian.Uint16(b[n:])
	h.Next = uint24(b[n+2:])
	h.Archive = b[n+5]
	return h
}

// Slots returns the number of sector slots occupied by a channel of the given
// length, counting a trailing partial sector as a whole slot.
func Slots(length int) int {
	return (length + Size - 1) / Size
}

// Extract reads the file with the given id from the data channel, following
// the chain that starts at the sector named by its index record.
//
// Every sector header must name id as its owner, archive as its archive and
// carry a sequence number equal to its position in the chain. Sectors of the
// meta archive skip the owner and archive checks. The chain ends once the
// record's declared size has been read; the final sector's next pointer is
// never consulted.
func Extract(archive uint8, id uint32, index, data []byte) ([]byte, error) {
	rec, err := ReadIndex(index, id)
	if err != nil {
		return nil, err
	}
	return ReadChain(archive, id, rec, data)
}

// ReadChain reads the chain described by rec from the data channel.
func ReadChain(archive uint8, id uint32, rec IndexRecord, data []byte) ([]byte, error) {
	headerSize, payloadSize := layout(id)
	extended := Extended(id)
	checkOwner := archive != MetaArchive

	out := make([]byte, rec.Size)
	slot := rec.FirstSector
	var seq uint16
	for off := 0; off < len(out); seq++ {
		n := min(len(out)-off, payloadSize)
		pos := int64(slot) * Size
		end := pos + int64(headerSize) + int64(n)
		if end > int64(len(data)) {
			return nil, fmt.Errorf("%w: sector %d of file %d needs bytes up to %d, channel has %d",
				ErrTruncated, slot, id, end, len(data))
		}

		h := ParseHeader(data[pos:], extended)
		if checkOwner && h.Owner != id {
			return nil, fmt.Errorf("%w: sector %d owner %d, want %d", ErrChainCorrupt, slot, h.Owner, id)
		}
		if checkOwner && h.Archive != archive {
			return nil, fmt.Errorf("%w: sector %d archive %d, want %d", ErrChainCorrupt, slot, h.Archive, archive)
		}
		if h.Seq != seq {
			return nil, fmt.Errorf("%w: sector %d sequence %d, want %d", ErrChainCorrupt, slot, h.Seq, seq)
		}

		body := pos + int64(headerSize)
		copy(out[off:], data[body:body+int64(n)])
		off += n
		slot = h.Next
	}
	return out, nil
}

// Write appends payload to the data channel as a new chain of sectors owned by
// id and returns the grown channel with the index record that locates it.
//
// The chain starts at the first free slot past the channel's current length.
// Each sector points at the slot immediately after it; the final sector's next
// pointer is 0. An empty payload allocates no sectors.
func Write(archive uint8, id uint32, payload, data []byte) ([]byte, IndexRecord, error) {
	if len(payload) > MaxUint24 {
		return data, IndexRecord{}, fmt.Errorf("%w: payload of %d bytes", ErrTooLarge, len(payload))
	}
	headerSize, payloadSize := layout(id)

	first := Slots(len(data))
	last := first + (len(payload)+payloadSize-1)/payloadSize
	if last > MaxUint24 {
		return data, IndexRecord{}, fmt.Errorf("%w: sector slot %d", ErrTooLarge, last)
	}
	rec := IndexRecord{
		Size:        uint32(len(payload)), //nolint:gosec // checked against MaxUint24
		FirstSector: uint32(first),        //nolint:gosec // checked against MaxUint24
	}

	if pad := first*Size - len(data); pad > 0 {
		data = append(data, make([]byte, pad)...)
	}

	var buf [Size]byte
	slot := rec.FirstSector
	var seq uint16
	for off := 0; off < len(payload); seq++ {
		n := min(len(payload)-off, payloadSize)
		var next uint32
		if off+n < len(payload) {
			next = slot + 1
		}
		clear(buf[:])
		Header{Owner: id, Seq: seq, Next: next, Archive: archive}.Put(buf[:])
		copy(buf[headerSize:], payload[off:off+n])
		data = append(data, buf[:]...)
		off += n
		slot++
	}
	return data, rec, nil
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}
