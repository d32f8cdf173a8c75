// Package bitcoin builds and hashes Bitcoin block headers from Stratum job
// fields: coinbase assembly, merkle root folding, header serialization in
// wire order, and difficulty/target arithmetic.
package bitcoin

import (
	stdsha "crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	simdsha "github.com/minio/sha256-simd"
)

// HeaderSize is the serialized size of a block header.
const HeaderSize = 80

// nonceOffset is where the nonce starts inside a serialized header.
const nonceOffset = 76

type sha256SumFunc func([]byte) [32]byte

// Hasher computes the double SHA-256 used for block and coinbase hashes.
// The zero value uses crypto/sha256.
type Hasher struct {
	sum sha256SumFunc
}

// NewHasher returns a hasher backed by sha256-simd when useSIMD is set.
func NewHasher(useSIMD bool) Hasher {
	if useSIMD {
		return Hasher{sum: simdsha.Sum256}
	}
	return Hasher{sum: stdsha.Sum256}
}

// DoubleHash returns sha256(sha256(b)).
func (h Hasher) DoubleHash(b []byte) chainhash.Hash {
	sum := h.sum
	if sum == nil {
		sum = stdsha.Sum256
	}
	first := sum(b)
	return chainhash.Hash(sum(first[:]))
}

// FormatExtranonce2 renders v as big-endian hex, exactly 2*size characters.
// Sizes above four bytes are zero padded on the left, smaller sizes keep the
// low-order bytes.
func FormatExtranonce2(v uint32, size int) string {
	if size <= 0 {
		return ""
	}
	s := fmt.Sprintf("%0*x", size*2, v)
	return s[len(s)-size*2:]
}

// BuildCoinbase concatenates coinb1 || extranonce1 || extranonce2 || coinb2
// and decodes the result from hex.
func BuildCoinbase(coinb1, extranonce1, extranonce2, coinb2 string) ([]byte, error) {
	parts := [...]struct{ name, value string }{
		{"coinb1", coinb1},
		{"extranonce1", extranonce1},
		{"extranonce2", extranonce2},
		{"coinb2", coinb2},
	}

	size := 0
	for _, p := range parts {
		if len(p.value)%2 != 0 {
			return nil, fmt.Errorf("%s has odd hex length %d", p.name, len(p.value))
		}
		size += len(p.value) / 2
	}

	out := make([]byte, size)
	off := 0
	for _, p := range parts {
		n, err := hex.Decode(out[off:], []byte(p.value))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", p.name, err)
		}
		off += n
	}
	return out, nil
}

// MerkleRoot hashes the coinbase and folds the branch into it left to right:
// root = H(root || branch[i]). Branch entries are 32-byte hashes in hex, in
// the byte order the pool sent them.
func (h Hasher) MerkleRoot(coinbase []byte, branch []string) (chainhash.Hash, error) {
	root := h.DoubleHash(coinbase)

	var buf [2 * chainhash.HashSize]byte
	for i, b := range branch {
		if len(b) != 2*chainhash.HashSize {
			return chainhash.Hash{}, fmt.Errorf("merkle branch %d: expected %d hex characters, got %d",
				i, 2*chainhash.HashSize, len(b))
		}
		copy(buf[:chainhash.HashSize], root[:])
		if _, err := hex.Decode(buf[chainhash.HashSize:], []byte(b)); err != nil {
			return chainhash.Hash{}, fmt.Errorf("merkle branch %d: %w", i, err)
		}
		root = h.DoubleHash(buf[:])
	}
	return root, nil
}

// Header is a serialized 80-byte block header.
type Header [HeaderSize]byte

// BuildHeader serializes a header in Bitcoin wire order from Stratum fields.
// version, ntime and nbits are 8-character big-endian hex numbers and are
// written little endian. prevHash is in Stratum order (each 32-bit word byte
// swapped relative to the wire) and is swapped back.
func BuildHeader(version, prevHash string, merkleRoot chainhash.Hash, ntime, nbits string, nonce uint32) (Header, error) {
	var hdr Header

	v, err := ParseHexUint32(version)
	if err != nil {
		return hdr, fmt.Errorf("invalid version: %w", err)
	}
	t, err := ParseHexUint32(ntime)
	if err != nil {
		return hdr, fmt.Errorf("invalid ntime: %w", err)
	}
	bits, err := ParseHexUint32(nbits)
	if err != nil {
		return hdr, fmt.Errorf("invalid nbits: %w", err)
	}
	prev, err := decodeStratumPrevHash(prevHash)
	if err != nil {
		return hdr, err
	}

	binary.LittleEndian.PutUint32(hdr[0:4], v)
	copy(hdr[4:36], prev[:])
	copy(hdr[36:68], merkleRoot[:])
	binary.LittleEndian.PutUint32(hdr[68:72], t)
	binary.LittleEndian.PutUint32(hdr[72:76], bits)
	hdr.SetNonce(nonce)
	return hdr, nil
}

// SetNonce overwrites the nonce field.
func (h *Header) SetNonce(nonce uint32) {
	binary.LittleEndian.PutUint32(h[nonceOffset:], nonce)
}

// Nonce returns the nonce field.
func (h *Header) Nonce() uint32 {
	return binary.LittleEndian.Uint32(h[nonceOffset:])
}

// Bits returns the compact network target field.
func (h *Header) Bits() uint32 {
	return binary.LittleEndian.Uint32(h[72:76])
}

// Hash returns the double hash of the header.
func (h *Header) Hash(hasher Hasher) chainhash.Hash {
	return hasher.DoubleHash(h[:])
}

// StratumPrevHash converts a wire-order previous block hash to the word
// swapped form pools send in mining.notify.
func StratumPrevHash(prev chainhash.Hash) string {
	var out [chainhash.HashSize]byte
	swapWords(out[:], prev[:])
	return hex.EncodeToString(out[:])
}

func decodeStratumPrevHash(s string) ([chainhash.HashSize]byte, error) {
	var raw, out [chainhash.HashSize]byte
	if len(s) != 2*chainhash.HashSize {
		return out, fmt.Errorf("invalid prevhash: expected %d hex characters, got %d", 2*chainhash.HashSize, len(s))
	}
	if _, err := hex.Decode(raw[:], []byte(s)); err != nil {
		return out, fmt.Errorf("invalid prevhash: %w", err)
	}
	swapWords(out[:], raw[:])
	return out, nil
}

func swapWords(dst, src []byte) {
	for i := 0; i < len(src); i += 4 {
		dst[i], dst[i+1], dst[i+2], dst[i+3] = src[i+3], src[i+2], src[i+1], src[i]
	}
}

// ParseHexUint32 parses an 8-character hex string as a big-endian number.
func ParseHexUint32(s string) (uint32, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("invalid hex string length: expected 8 characters, got %d", len(s))
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid hex string %q: %w", s, err)
	}
	return uint32(v), nil
}
