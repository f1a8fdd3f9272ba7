// Package sizing provides bounded reads and overflow-checked conversions for
// lengths decoded from untrusted headers.
package sizing

import (
	"io"
	"math"
)

// ToInt converts a uint32 length to int, returning overflowErr if it doesn't fit.
func ToInt(size uint32, overflowErr error) (int, error) {
	if uint64(size) > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// Fits reports whether off+n bytes lie within a buffer of length total.
func Fits(off, n, total int) bool {
	return off >= 0 && n >= 0 && off <= total && n <= total-off
}

// ReadAllWithLimit reads up to maxSize bytes from r.
// Returns overflowErr if more than maxSize bytes are available.
func ReadAllWithLimit(r io.Reader, maxSize uint64, overflowErr error) ([]byte, error) {
	if maxSize > uint64(math.MaxInt-1) {
		return nil, overflowErr
	}
	limit := int64(maxSize) + 1 //nolint:gosec // checked above
	lr := &io.LimitedReader{R: r, N: limit}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > maxSize {
		return nil, overflowErr
	}
	return data, nil
}
