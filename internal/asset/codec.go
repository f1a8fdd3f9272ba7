package asset

import (
	"fmt"
	"log/slog"

	"github.com/meigma/js5/internal/envelope"
	"github.com/meigma/js5/internal/xtea"
)

// Codec applies the decrypt, decompress and compress steps to files.
// A Codec is safe for concurrent use; per-run counters live in a Tally.
type Codec struct {
	keys        KeyResolver
	gameVersion string
	logger      *slog.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithKeys sets the key resolver used for XTEA files.
func WithKeys(keys KeyResolver) Option {
	return func(c *Codec) {
		c.keys = keys
	}
}

// WithGameVersion sets the game version used to select key sets.
func WithGameVersion(v string) Option {
	return func(c *Codec) {
		c.gameVersion = v
	}
}

// WithLogger sets the logger for missing keys and checksum changes.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Codec) {
		c.logger = logger
	}
}

// NewCodec creates a Codec.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.New(slog.DiscardHandler)
}

func (c *Codec) key(f *File, tally *Tally) (*xtea.Key, bool) {
	if c.keys != nil {
		if k, ok := c.keys.Key(f.Name, c.gameVersion); ok && !k.IsZero() {
			return &k, true
		}
	}
	tally.missingKey()
	c.log().Warn("missing xtea key", "name", f.Name, "game_version", c.gameVersion)
	return nil, false
}

// Decrypt decrypts f in place when it is an encrypted XTEA file.
//
// A missing key is not an error: the tally is incremented, a warning is
// logged and f is left untouched so that decompression fails on it.
func (c *Codec) Decrypt(f *File, tally *Tally) error {
	if f.Encryption != EncryptionXTEA || !f.Encrypted {
		return nil
	}
	key, ok := c.key(f, tally)
	if !ok {
		return nil
	}
	if err := envelope.Decrypt(f.Data, key); err != nil {
		return fmt.Errorf("decrypt %s: %w", f.Name, err)
	}
	f.Encrypted = false
	return nil
}

// Decompress unframes f and replaces its data with the logical payload.
// f is left unchanged on error.
func (c *Codec) Decompress(f *File) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("decompress %s: %w", f.Name, ErrEmptyData)
	}
	if !f.Compressed {
		return nil
	}
	frame, err := envelope.Parse(f.Data)
	if err != nil {
		c.log().Debug("decompress failed", "name", f.Name, "error", err)
		return fmt.Errorf("decompress %s: %w", f.Name, err)
	}
	f.Data = frame.Payload
	f.Compression = frame.Compression
	f.Version = frame.Version
	f.Compressed = false
	return nil
}

// Decode runs Decrypt then Decompress.
func (c *Codec) Decode(f *File, tally *Tally) error {
	if err := c.Decrypt(f, tally); err != nil {
		return err
	}
	return c.Decompress(f)
}

// Compress frames f's payload with its compression and version, encrypts the
// body for XTEA files when a key resolves, and records the new checksum.
//
// Compress is a no-op on a file that is already compressed. changed reports
// that a previously recorded CRC differs from the new one.
func (c *Codec) Compress(f *File, tally *Tally) (changed bool, err error) {
	if f.Compressed {
		return false, nil
	}
	framed, err := envelope.Encode(f.Data, f.Compression, f.Version, nil)
	if err != nil {
		return false, fmt.Errorf("compress %s: %w", f.Name, err)
	}
	encrypted := false
	if f.Encryption == EncryptionXTEA {
		if key, ok := c.key(f, tally); ok {
			if err := envelope.Encrypt(framed, key); err != nil {
				return false, fmt.Errorf("encrypt %s: %w", f.Name, err)
			}
			encrypted = true
		}
	}

	prev := f.CRC
	f.Data = framed
	f.Compressed = true
	f.Encrypted = encrypted
	f.CRC = Checksum(framed)
	if prev != 0 && prev != f.CRC {
		c.log().Warn("checksum changed", "name", f.Name, "old", prev, "new", f.CRC)
		return true, nil
	}
	return false, nil
}
