package js5

import (
	"errors"
	"fmt"

	"github.com/meigma/js5/internal/asset"
	"github.com/meigma/js5/internal/envelope"
	"github.com/meigma/js5/internal/index"
	"github.com/meigma/js5/internal/sector"
	"github.com/meigma/js5/internal/stripe"
)

// ErrArchiveNotFound is returned when an archive has no index channel or no
// reference table.
var ErrArchiveNotFound = errors.New("js5: archive not found")

// Errors re-exported from the sector channel.
var (
	// ErrNotFound is returned when a group's index record lies outside its index channel.
	ErrNotFound = sector.ErrNotFound

	// ErrTruncated is returned when a channel ends before a record or sector does.
	ErrTruncated = sector.ErrTruncated

	// ErrChainCorrupt is returned when a sector header does not match the chain being read.
	ErrChainCorrupt = sector.ErrChainCorrupt
)

// Errors re-exported from the compression envelope.
var (
	// ErrFrameTruncated is returned when an envelope ends before its declared body.
	ErrFrameTruncated = envelope.ErrTruncated

	// ErrUnknownCompression is returned for an unsupported compression method.
	ErrUnknownCompression = envelope.ErrUnknownCompression

	// ErrLengthMismatch is returned when decompressed data disagrees with its
	// declared length, usually because of a missing or wrong XTEA key.
	ErrLengthMismatch = envelope.ErrLengthMismatch

	// ErrDecompression is returned when a bzip2 or gzip body cannot be decoded.
	ErrDecompression = envelope.ErrDecompression
)

// Errors re-exported from the hierarchy decoders.
var (
	// ErrCorrupt is returned when a reference table is truncated or cannot be encoded.
	ErrCorrupt = index.ErrCorrupt

	// ErrStripeCorrupt is returned when a group's stripe trailer does not match its payload.
	ErrStripeCorrupt = stripe.ErrCorrupt

	// ErrEmptyData is returned when a group decodes from no bytes.
	ErrEmptyData = asset.ErrEmptyData
)

// GroupError records the failure of one group.
type GroupError struct {
	Archive uint8
	Group   uint32
	Err     error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("archive %d group %d: %v", e.Archive, e.Group, e.Err)
}

func (e *GroupError) Unwrap() error {
	return e.Err
}
