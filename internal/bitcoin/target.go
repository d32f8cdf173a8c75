package bitcoin

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/holiman/uint256"
)

// diff1Target is the target at difficulty 1:
// 0x00000000FFFF0000000000000000000000000000000000000000000000000000
var diff1Target = new(big.Int).Lsh(big.NewInt(0xFFFF), 208)

var maxTarget = new(uint256.Int).SetAllOne()

// Diff1Target returns the difficulty-1 target.
func Diff1Target() *uint256.Int {
	t, _ := uint256.FromBig(diff1Target)
	return t
}

// DifficultyToTarget returns floor(diff1 / difficulty) computed exactly on
// the float's rational value, clamped to 2^256-1. Non-positive or NaN
// difficulties yield the difficulty-1 target; +Inf yields zero.
func DifficultyToTarget(difficulty float64) *uint256.Int {
	if math.IsNaN(difficulty) || difficulty <= 0 {
		return Diff1Target()
	}
	if math.IsInf(difficulty, 1) {
		return new(uint256.Int)
	}

	d := new(big.Rat).SetFloat64(difficulty)
	q := new(big.Rat).SetInt(diff1Target)
	q.Quo(q, d)

	target := new(big.Int).Quo(q.Num(), q.Denom())
	if target.BitLen() > 256 {
		return new(uint256.Int).Set(maxTarget)
	}
	t, _ := uint256.FromBig(target)
	return t
}

// HashToUint256 interprets a hash as the 256-bit number Bitcoin compares
// against targets. The digest is a little-endian number, so its 64-bit
// words map directly onto uint256 limbs.
func HashToUint256(hash chainhash.Hash) *uint256.Int {
	v := hashValue(&hash)
	return &v
}

func hashValue(hash *chainhash.Hash) uint256.Int {
	return uint256.Int{
		binary.LittleEndian.Uint64(hash[0:8]),
		binary.LittleEndian.Uint64(hash[8:16]),
		binary.LittleEndian.Uint64(hash[16:24]),
		binary.LittleEndian.Uint64(hash[24:32]),
	}
}

// HashMeetsTarget reports whether hash <= target.
func HashMeetsTarget(hash chainhash.Hash, target *uint256.Int) bool {
	v := hashValue(&hash)
	return v.Cmp(target) <= 0
}

// HashDifficulty is the share difficulty a hash represents: diff1 / hash.
func HashDifficulty(hash chainhash.Hash) float64 {
	h := HashToUint256(hash)
	if h.IsZero() {
		return math.Inf(1)
	}
	q := new(big.Rat).SetFrac(diff1Target, h.ToBig())
	f, _ := q.Float64()
	return f
}

// NetworkTarget decodes the compact nbits field into a target. The second
// return value is false when the encoding is negative or overflows 256 bits.
func NetworkTarget(bits uint32) (*uint256.Int, bool) {
	n := blockchain.CompactToBig(bits)
	if n.Sign() <= 0 {
		return new(uint256.Int), n.Sign() == 0
	}
	t, overflow := uint256.FromBig(n)
	return t, !overflow
}
