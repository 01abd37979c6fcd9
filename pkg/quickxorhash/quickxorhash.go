// Package quickxorhash computes QuickXorHash, the content hash OneDrive
// reports for files on every account type.
//
// Each input byte is XORed into a 160-bit circular register at a bit offset
// that advances by 11 per byte. The digest is the register with the total
// input length, as a little-endian uint64, XORed into its last 8 bytes.
package quickxorhash

import (
	"encoding/base64"
	"encoding/binary"
	"hash"
)

const (
	// Size is the length, in bytes, of a QuickXorHash digest.
	Size = 20

	// BlockSize is the preferred input block size for the hash, in bytes.
	BlockSize = 64

	shift       = 11
	widthInBits = Size * 8
	lengthAt    = Size - 8
)

// Hash is a running QuickXorHash. The zero value is ready to use.
type Hash struct {
	reg    [Size]byte
	offset int // bit offset of the next byte, in [0, widthInBits)
	length uint64
}

var _ hash.Hash = (*Hash)(nil)

// New returns a new QuickXorHash.
func New() *Hash {
	return &Hash{}
}

// Write absorbs p. It never returns an error.
func (h *Hash) Write(p []byte) (int, error) {
	offset := h.offset

	for _, b := range p {
		i, bit := offset/8, uint(offset%8)

		h.reg[i] ^= b << bit
		if bit != 0 {
			h.reg[(i+1)%Size] ^= b >> (8 - bit)
		}

		offset += shift
		if offset >= widthInBits {
			offset -= widthInBits
		}
	}

	h.offset = offset
	h.length += uint64(len(p))

	return len(p), nil
}

// Sum appends the digest to b. It does not change the running state.
func (h *Hash) Sum(b []byte) []byte {
	out := h.reg

	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], h.length)

	for i, v := range n {
		out[lengthAt+i] ^= v
	}

	return append(b, out[:]...)
}

// Reset returns the hash to its initial state.
func (h *Hash) Reset() {
	*h = Hash{}
}

// Size returns Size.
func (h *Hash) Size() int { return Size }

// BlockSize returns BlockSize.
func (h *Hash) BlockSize() int { return BlockSize }

// Base64 returns the digest in the encoding the service uses in
// file.hashes.quickXorHash.
func (h *Hash) Base64() string {
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
