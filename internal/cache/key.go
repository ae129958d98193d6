// Package cache is the content-addressed on-disk cache: entries live at
// <root>/<bucket>-v<n>/<shard>/<digest>, where the digest is a stable
// 64-bit hash of the entry's typed key and writes land via atomic rename.
package cache

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Key is implemented by values that can be hashed into a stable cache
// digest. Implementations must write every component through the typed
// Hasher methods so that layout changes change the digest.
type Key interface {
	CacheKey(h *Hasher)
}

// Hasher produces stable 64-bit digests. Every primitive write is width
// tagged (a uint32 and a uint64 of the same value hash differently) and
// variable-width values carry a length prefix, so concatenations can never
// collide by reshuffling boundaries.
type Hasher struct {
	digest *xxhash.Digest
	buf    [8]byte
}

// NewHasher creates an empty hasher.
func NewHasher() *Hasher {
	return &Hasher{digest: xxhash.New()}
}

// Digest hashes one key and renders the digest as lowercase hex.
func Digest(key Key) string {
	h := NewHasher()
	key.CacheKey(h)
	return h.Hex()
}

// Sum returns the 64-bit hash value.
func (h *Hasher) Sum() uint64 { return h.digest.Sum64() }

// Hex renders the hash as lowercase hex.
func (h *Hasher) Hex() string { return fmt.Sprintf("%x", h.Sum()) }

func (h *Hasher) writeRaw(b []byte) {
	// xxhash.Digest.Write never fails.
	_, _ = h.digest.Write(b)
}

// Uint8 writes one byte.
func (h *Hasher) Uint8(v uint8) {
	h.writeRaw([]byte{v})
}

// Uint16 writes two bytes.
func (h *Hasher) Uint16(v uint16) {
	binary.LittleEndian.PutUint16(h.buf[:2], v)
	h.writeRaw(h.buf[:2])
}

// Uint32 writes four bytes.
func (h *Hasher) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(h.buf[:4], v)
	h.writeRaw(h.buf[:4])
}

// Uint64 writes eight bytes.
func (h *Hasher) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:8], v)
	h.writeRaw(h.buf[:8])
}

// Int64 writes eight bytes.
func (h *Hasher) Int64(v int64) {
	h.Uint64(uint64(v))
}

// Bool writes a tag byte.
func (h *Hasher) Bool(v bool) {
	if v {
		h.Uint8(1)
	} else {
		h.Uint8(0)
	}
}

// String writes a length prefix then the bytes.
func (h *Hasher) String(s string) {
	h.Uint64(uint64(len(s)))
	h.writeRaw([]byte(s))
}

// Path hashes a filesystem path via its string form.
func (h *Hasher) Path(p string) {
	h.String(p)
}

// Option writes a presence tag; callers hash the inner value only when
// present.
func (h *Hasher) Option(present bool) {
	h.Bool(present)
}

// Len prefixes a sequence with its element count.
func (h *Hasher) Len(n int) {
	h.Uint64(uint64(n))
}

// Strings hashes a sequence of strings: length, then each element.
func (h *Hasher) Strings(items []string) {
	h.Len(len(items))
	for _, item := range items {
		h.String(item)
	}
}

// KeyFunc adapts a function to the Key interface.
type KeyFunc func(h *Hasher)

func (f KeyFunc) CacheKey(h *Hasher) { f(h) }

// StringsKey builds a key from an ordered tuple of strings.
func StringsKey(parts ...string) Key {
	return KeyFunc(func(h *Hasher) {
		for _, part := range parts {
			h.String(part)
		}
	})
}
