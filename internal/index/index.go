// Package index decodes and encodes an archive's reference table: the list of
// groups it holds, their checksums and versions, and the files inside each
// group.
//
// Table layout, big-endian, read sequentially:
//
//	format:u8 flags:u8 groupCount:u16
//	groupCount × groupIdDelta:u16
//	groupCount × nameHash:i32        (named tables only)
//	groupCount × crc32:i32
//	groupCount × version:i32
//	groupCount × fileCount:u16
//	per group: fileCount × fileIdDelta:u16
//	per group: fileCount × nameHash:i32 (named tables only)
//
// Id deltas accumulate from 0. File id accumulators restart for every group.
package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrCorrupt is returned when a reference table ends early or cannot be encoded.
var ErrCorrupt = errors.New("js5: reference table corrupt")

const flagNamed = 0x01

// Table is a decoded reference table.
type Table struct {
	Format uint8
	Named  bool

	// Groups are ordered by ascending id.
	Groups []Group
}

// Group describes one group of an archive.
type Group struct {
	ID       uint32
	NameHash int32
	CRC      uint32
	Version  int32

	// Files are ordered by ascending id.
	Files []File
}

// File describes one file inside a group.
type File struct {
	ID       uint32
	NameHash int32
}

// Len returns the number of groups.
func (t *Table) Len() int {
	return len(t.Groups)
}

// Group returns the group with the given id.
func (t *Table) Group(id uint32) (*Group, bool) {
	i := sort.Search(len(t.Groups), func(i int) bool { return t.Groups[i].ID >= id })
	if i < len(t.Groups) && t.Groups[i].ID == id {
		return &t.Groups[i], true
	}
	return nil, false
}

// FileCount returns the number of files across all groups.
func (t *Table) FileCount() int {
	n := 0
	for i := range t.Groups {
		n += len(t.Groups[i].Files)
	}
	return n
}

// Load decodes a reference table. Any truncation fails the whole table with ErrCorrupt.
func Load(data []byte) (*Table, error) {
	r := reader{buf: data}
	t := &Table{Format: r.u8()}
	t.Named = r.u8()&flagNamed != 0
	count := int(r.u16())
	if r.err != nil {
		return nil, r.err
	}
	// Each group needs at least 12 bytes of columns; reject absurd counts
	// before allocating.
	if count*12 > len(data) {
		return nil, fmt.Errorf("%w: %d groups in %d bytes", ErrCorrupt, count, len(data))
	}

	t.Groups = make([]Group, count)
	var id uint32
	for i := range t.Groups {
		id += uint32(r.u16())
		t.Groups[i].ID = id
	}
	if t.Named {
		for i := range t.Groups {
			t.Groups[i].NameHash = r.i32()
		}
	}
	for i := range t.Groups {
		t.Groups[i].CRC = r.u32()
	}
	for i := range t.Groups {
		t.Groups[i].Version = r.i32()
	}
	counts := make([]int, count)
	total := 0
	for i := range counts {
		counts[i] = int(r.u16())
		total += counts[i]
	}
	if r.err != nil {
		return nil, r.err
	}
	if total*2 > len(data)-r.off {
		return nil, fmt.Errorf("%w: %d file ids in %d bytes", ErrCorrupt, total, len(data)-r.off)
	}
	for i := range t.Groups {
		t.Groups[i].Files = make([]File, counts[i])
	}
	for i := range t.Groups {
		var fid uint32
		files := t.Groups[i].Files
		for j := range files {
			fid += uint32(r.u16())
			files[j].ID = fid
		}
	}
	if t.Named {
		for i := range t.Groups {
			files := t.Groups[i].Files
			for j := range files {
				files[j].NameHash = r.i32()
			}
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return t, nil
}

// Encode is the inverse of Load. Group and file ids must be ascending with
// gaps that fit in 16 bits.
func (t *Table) Encode() ([]byte, error) {
	if len(t.Groups) > 0xFFFF {
		return nil, fmt.Errorf("%w: %d groups", ErrCorrupt, len(t.Groups))
	}
	groupIDs := make([]uint32, len(t.Groups))
	for i := range t.Groups {
		groupIDs[i] = t.Groups[i].ID
	}

	out := make([]byte, 0, 4+len(t.Groups)*16)
	var flags uint8
	if t.Named {
		flags |= flagNamed
	}
	out = append(out, t.Format, flags)
	out = binary.BigEndian.AppendUint16(out, uint16(len(t.Groups))) //nolint:gosec // checked above
	out, err := appendDeltas(out, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("group ids: %w", err)
	}
	if t.Named {
		for i := range t.Groups {
			out = binary.BigEndian.AppendUint32(out, uint32(t.Groups[i].NameHash)) //nolint:gosec // bit pattern
		}
	}
	for i := range t.Groups {
		out = binary.BigEndian.AppendUint32(out, t.Groups[i].CRC)
	}
	for i := range t.Groups {
		out = binary.BigEndian.AppendUint32(out, uint32(t.Groups[i].Version)) //nolint:gosec // bit pattern
	}
	for i := range t.Groups {
		n := len(t.Groups[i].Files)
		if n > 0xFFFF {
			return nil, fmt.Errorf("%w: group %d has %d files", ErrCorrupt, t.Groups[i].ID, n)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(n)) //nolint:gosec // checked above
	}
	for i := range t.Groups {
		ids := make([]uint32, len(t.Groups[i].Files))
		for j, f := range t.Groups[i].Files {
			ids[j] = f.ID
		}
		out, err = appendDeltas(out, ids)
		if err != nil {
			return nil, fmt.Errorf("group %d file ids: %w", t.Groups[i].ID, err)
		}
	}
	if t.Named {
		for i := range t.Groups {
			for _, f := range t.Groups[i].Files {
				out = binary.BigEndian.AppendUint32(out, uint32(f.NameHash)) //nolint:gosec // bit pattern
			}
		}
	}
	return out, nil
}

func appendDeltas(out []byte, ids []uint32) ([]byte, error) {
	var prev uint32
	for i, id := range ids {
		if i > 0 && id <= prev {
			return nil, fmt.Errorf("%w: id %d follows %d", ErrCorrupt, id, prev)
		}
		delta := id - prev
		if delta > 0xFFFF {
			return nil, fmt.Errorf("%w: gap of %d before id %d", ErrCorrupt, delta, id)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(delta))
		prev = id
	}
	return out, nil
}

// reader is a big-endian cursor that records the first overrun.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrCorrupt, n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) i32() int32 {
	return int32(r.u32()) //nolint:gosec // bit pattern
}
