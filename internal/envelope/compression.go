package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"

	"github.com/meigma/js5/internal/sizing"
)

// Compression identifies the compression method of a frame.
type Compression uint8

const (
	None Compression = iota
	Bzip2
	Gzip
)

// String returns the human-readable name of the compression method.
func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Bzip2:
		return "bzip2"
	case Gzip:
		return "gzip"
	default:
		return "unknown"
	}
}

func (c Compression) valid() bool {
	return c <= Gzip
}

// ParseCompression maps a configuration name to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return None, nil
	case "bzip", "bzip2":
		return Bzip2, nil
	case "gzip":
		return Gzip, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}

// bzipMagic is the stream header stripped from stored bzip2 bodies.
// Stored streams always use 100k blocks.
var bzipMagic = []byte("BZh1")

func decompress(c Compression, body []byte, ulen uint32) ([]byte, error) {
	var (
		r   io.Reader
		err error
	)
	switch c {
	case Bzip2:
		var br *bzip2.Reader
		br, err = bzip2.NewReader(io.MultiReader(bytes.NewReader(bzipMagic), bytes.NewReader(body)), nil)
		if err == nil {
			defer br.Close()
			r = br
		}
	case Gzip:
		var gr *gzip.Reader
		gr, err = gzip.NewReader(bytes.NewReader(body))
		if err == nil {
			defer gr.Close()
			r = gr
		}
	default:
		return nil, fmt.Errorf("%w: method %d", ErrUnknownCompression, uint8(c))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecompression, c, err)
	}

	out, err := sizing.ReadAllWithLimit(r, uint64(ulen), ErrLengthMismatch)
	if errors.Is(err, ErrLengthMismatch) {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrLengthMismatch, ulen)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecompression, c, err)
	}
	if uint64(len(out)) != uint64(ulen) {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrLengthMismatch, len(out), ulen)
	}
	return out, nil
}

func compress(c Compression, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch c {
	case Bzip2:
		w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: 1})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		out := buf.Bytes()
		if !bytes.HasPrefix(out, bzipMagic) {
			return nil, fmt.Errorf("js5: bzip2 writer produced header %q", out[:min(len(out), len(bzipMagic))])
		}
		return out[len(bzipMagic):], nil
	case Gzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: method %d", ErrUnknownCompression, uint8(c))
	}
}
