// Package stripe demultiplexes the interleaved payload of a multi-file group
// into its files, and multiplexes files back into one payload.
//
// A striped payload is the stripe data followed by a trailer:
//
//	data    stripe 0 (file 0 bytes, file 1 bytes, ...), stripe 1 (...), ...
//	deltas  stripes × files × i32, stripe outer, file inner
//	count   stripes:u8, the final byte
//
// Each delta adjusts a running length kept per file, so a file's length in
// stripe s is the sum of its deltas for stripes 0 through s.
package stripe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrCorrupt is returned when a stripe trailer is inconsistent with its payload.
var ErrCorrupt = errors.New("js5: stripe data corrupt")

// MaxStripes is the largest stripe count the trailer can express.
const MaxStripes = math.MaxUint8

// Layout records how a group's files were striped.
type Layout struct {
	Stripes int

	// Sizes holds, per file, the byte length of each of its stripes.
	Sizes [][]uint32
}

// Total returns the sum of a file's stripe lengths.
func (l Layout) Total(file int) int {
	n := 0
	for _, s := range l.Sizes[file] {
		n += int(s)
	}
	return n
}

// Split divides a striped payload into files, in ascending file id order.
func Split(payload []byte, files int) ([][]byte, Layout, error) {
	if files < 1 {
		return nil, Layout{}, fmt.Errorf("%w: %d files", ErrCorrupt, files)
	}
	if len(payload) == 0 {
		return nil, Layout{}, fmt.Errorf("%w: empty payload", ErrCorrupt)
	}
	stripes := int(payload[len(payload)-1])
	trailer := stripes * files * 4
	dataEnd := len(payload) - 1 - trailer
	if dataEnd < 0 {
		return nil, Layout{}, fmt.Errorf("%w: %d stripes of %d files need a %d byte trailer, payload has %d",
			ErrCorrupt, stripes, files, trailer, len(payload)-1)
	}

	l := Layout{Stripes: stripes, Sizes: make([][]uint32, files)}
	for f := range l.Sizes {
		l.Sizes[f] = make([]uint32, stripes)
	}
	lengths := make([]int64, files)
	totals := make([]int64, files)
	var sum int64
	off := dataEnd
	for s := range stripes {
		for f := range files {
			lengths[f] += int64(int32(binary.BigEndian.Uint32(payload[off:]))) //nolint:gosec // signed delta
			off += 4
			if lengths[f] < 0 || lengths[f] > int64(dataEnd) {
				return nil, Layout{}, fmt.Errorf("%w: file %d stripe %d has length %d", ErrCorrupt, f, s, lengths[f])
			}
			l.Sizes[f][s] = uint32(lengths[f]) //nolint:gosec // bounded by dataEnd
			totals[f] += lengths[f]
			sum += lengths[f]
			if sum > int64(dataEnd) {
				return nil, Layout{}, fmt.Errorf("%w: stripes need more than %d data bytes", ErrCorrupt, dataEnd)
			}
		}
	}

	out := make([][]byte, files)
	for f := range out {
		out[f] = make([]byte, 0, totals[f])
	}
	pos := 0
	for s := range stripes {
		for f := range files {
			n := int(l.Sizes[f][s])
			out[f] = append(out[f], payload[pos:pos+n]...)
			pos += n
		}
	}
	return out, l, nil
}

// Join stripes files into one payload, dividing each file into the given
// number of nearly equal stripes.
func Join(files [][]byte, stripes int) ([]byte, error) {
	if stripes < 1 || stripes > MaxStripes {
		return nil, fmt.Errorf("%w: %d stripes", ErrCorrupt, stripes)
	}
	l := Layout{Stripes: stripes, Sizes: make([][]uint32, len(files))}
	for f, data := range files {
		if uint64(len(data)) > math.MaxInt32 {
			return nil, fmt.Errorf("%w: file %d of %d bytes", ErrCorrupt, f, len(data))
		}
		l.Sizes[f] = make([]uint32, stripes)
		base, extra := len(data)/stripes, len(data)%stripes
		for s := range stripes {
			n := base
			if s < extra {
				n++
			}
			l.Sizes[f][s] = uint32(n) //nolint:gosec // bounded by MaxInt32
		}
	}
	return Interleave(files, l)
}

// Interleave writes files in the stripe layout l. It is the inverse of Split.
func Interleave(files [][]byte, l Layout) ([]byte, error) {
	if l.Stripes < 0 || l.Stripes > MaxStripes {
		return nil, fmt.Errorf("%w: %d stripes", ErrCorrupt, l.Stripes)
	}
	if len(l.Sizes) != len(files) {
		return nil, fmt.Errorf("%w: layout has %d files, got %d", ErrCorrupt, len(l.Sizes), len(files))
	}
	size := 1 + l.Stripes*len(files)*4
	for f, data := range files {
		if len(l.Sizes[f]) != l.Stripes || l.Total(f) != len(data) {
			return nil, fmt.Errorf("%w: layout of file %d does not cover its %d bytes", ErrCorrupt, f, len(data))
		}
		size += len(data)
	}

	out := make([]byte, 0, size)
	offsets := make([]int, len(files))
	for s := range l.Stripes {
		for f, data := range files {
			n := int(l.Sizes[f][s])
			out = append(out, data[offsets[f]:offsets[f]+n]...)
			offsets[f] += n
		}
	}
	prev := make([]int64, len(files))
	for s := range l.Stripes {
		for f := range files {
			n := int64(l.Sizes[f][s])
			delta := n - prev[f]
			if delta < math.MinInt32 || delta > math.MaxInt32 {
				return nil, fmt.Errorf("%w: delta %d", ErrCorrupt, delta)
			}
			out = binary.BigEndian.AppendUint32(out, uint32(int32(delta))) //nolint:gosec // range checked
			prev[f] = n
		}
	}
	return append(out, byte(l.Stripes)), nil
}
