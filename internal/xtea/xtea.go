// Package xtea encrypts and decrypts byte ranges with the 32-cycle XTEA block
// cipher used to protect individual groups.
//
// Keys are four 32-bit words. Blocks are two big-endian 32-bit words. Bytes
// past the last whole 8-byte block of a range are left untouched.
package xtea

import (
	"encoding/binary"

	"golang.org/x/crypto/xtea"
)

// BlockSize is the cipher block size in bytes.
const BlockSize = xtea.BlockSize

// Key is an XTEA key as stored in key files.
type Key [4]int32

// IsZero reports whether every word of k is zero. A zero key means the
// payload is not encrypted.
func (k Key) IsZero() bool {
	return k == Key{}
}

// Valid reports whether k can be used to decrypt: it must be non-nil and non-zero.
func Valid(k *Key) bool {
	return k != nil && !k.IsZero()
}

func (k Key) cipher() *xtea.Cipher {
	var raw [16]byte
	for i, w := range k {
		binary.BigEndian.PutUint32(raw[i*4:], uint32(w)) //nolint:gosec // key words are raw bit patterns
	}
	c, err := xtea.NewCipher(raw[:])
	if err != nil {
		// NewCipher only fails on a key length other than 16.
		panic(err)
	}
	return c
}

// Decrypt decrypts the first n bytes of buf in place and returns buf.
// Only whole blocks are processed. A nil or zero key leaves buf unchanged.
func Decrypt(buf []byte, key *Key, n int) []byte {
	if !Valid(key) {
		return buf
	}
	c := key.cipher()
	forBlocks(buf, n, func(b []byte) { c.Decrypt(b, b) })
	return buf
}

// Encrypt encrypts the first n bytes of buf in place and returns buf.
// It is the inverse of Decrypt for the same key and length.
func Encrypt(buf []byte, key *Key, n int) []byte {
	if !Valid(key) {
		return buf
	}
	c := key.cipher()
	forBlocks(buf, n, func(b []byte) { c.Encrypt(b, b) })
	return buf
}

func forBlocks(buf []byte, n int, fn func([]byte)) {
	n = max(0, min(n, len(buf)))
	for off := 0; off+BlockSize <= n; off += BlockSize {
		fn(buf[off : off+BlockSize])
	}
}
