package sector

import "fmt"

// IndexRecord locates one file in the data channel.
type IndexRecord struct {
	// Size is the file's length in bytes.
	Size uint32

	// FirstSector is the slot of the first sector in the file's chain.
	FirstSector uint32
}

// ReadIndex decodes the record for id from an index channel.
func ReadIndex(index []byte, id uint32) (IndexRecord, error) {
	off := int64(id) * IndexRecordSize
	if off >= int64(len(index)) {
		return IndexRecord{}, fmt.Errorf("%w: file %d (index holds %d records)",
			ErrNotFound, id, len(index)/IndexRecordSize)
	}
	if off+IndexRecordSize > int64(len(index)) {
		return IndexRecord{}, fmt.Errorf("%w: index record for file %d", ErrTruncated, id)
	}
	b := index[off:]
	return IndexRecord{
		Size:        uint24(b),
		FirstSector: uint24(b[3:]),
	}, nil
}

// Put encodes r into the first IndexRecordSize bytes of b.
func (r IndexRecord) Put(b []byte) {
	putUint24(b, r.Size)
	putUint24(b[3:], r.FirstSector)
}

// PutIndex stores rec for id in the index channel, growing it with zeroed
// records as needed, and returns the updated channel.
func PutIndex(index []byte, id uint32, rec IndexRecord) ([]byte, error) {
	if rec.Size > MaxUint24 || rec.FirstSector > MaxUint24 {
		return index, fmt.Errorf("%w: index record %+v", ErrTooLarge, rec)
	}
	end := (int(id) + 1) * IndexRecordSize
	if end > len(index) {
		index = append(index, make([]byte, end-len(index))...)
	}
	rec.Put(index[end-IndexRecordSize:])
	return index, nil
}

// Records returns the number of complete records in an index channel.
func Records(index []byte) int {
	return len(index) / IndexRecordSize
}
