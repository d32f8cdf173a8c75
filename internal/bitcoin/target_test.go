package bitcoin

import (
	"math"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/holiman/uint256"
)

func TestDifficultyToTarget(t *testing.T) {
	diff1 := uint256.MustFromHex("0xffff0000000000000000000000000000000000000000000000000000")

	tests := []struct {
		name       string
		difficulty float64
		want       *uint256.Int
	}{
		{"difficulty 1", 1, diff1},
		{"zero falls back to diff1", 0, diff1},
		{"negative falls back to diff1", -5, diff1},
		{"NaN falls back to diff1", math.NaN(), diff1},
		{"difficulty 2", 2, new(uint256.Int).Rsh(diff1, 1)},
		{"difficulty 65536", 65536, new(uint256.Int).Rsh(diff1, 16)},
		{"difficulty 0.5", 0.5, new(uint256.Int).Lsh(diff1, 1)},
		{"infinite", math.Inf(1), new(uint256.Int)},
		{"tiny difficulty clamps", 1e-80, new(uint256.Int).SetAllOne()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DifficultyToTarget(tt.difficulty); !got.Eq(tt.want) {
				t.Errorf("DifficultyToTarget(%v) = %s, want %s", tt.difficulty, got.Hex(), tt.want.Hex())
			}
		})
	}
}

func TestDifficultyToTarget_Monotonic(t *testing.T) {
	difficulties := []float64{0.001, 0.5, 1, 1.5, 2, 1024, 1e6, 3.5e12}

	prev := DifficultyToTarget(difficulties[0])
	for _, d := range difficulties[1:] {
		cur := DifficultyToTarget(d)
		if cur.Cmp(prev) >= 0 {
			t.Errorf("target for %v (%s) is not below the previous one (%s)", d, cur.Hex(), prev.Hex())
		}
		prev = cur
	}
}

func TestHashMeetsTarget(t *testing.T) {
	// Internal byte order: the last byte is the most significant.
	low := chainhash.Hash{0: 0x01}
	high := chainhash.Hash{31: 0x01}

	tests := []struct {
		name   string
		hash   chainhash.Hash
		target *uint256.Int
		want   bool
	}{
		{"low hash meets diff1", low, Diff1Target(), true},
		{"high hash misses diff1", high, Diff1Target(), false},
		{"equal meets", low, uint256.NewInt(1), true},
		{"above misses", low, new(uint256.Int), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashMeetsTarget(tt.hash, tt.target); got != tt.want {
				t.Errorf("HashMeetsTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashDifficulty(t *testing.T) {
	var h chainhash.Hash
	// 0x00000000ffff0000... in internal order
	h[27], h[26] = 0xff, 0xff

	if got := HashDifficulty(h); got != 1 {
		t.Errorf("HashDifficulty(diff1) = %v, want 1", got)
	}
	if got := HashDifficulty(chainhash.Hash{}); !math.IsInf(got, 1) {
		t.Errorf("HashDifficulty(0) = %v, want +Inf", got)
	}
}

func TestNetworkTarget(t *testing.T) {
	target, ok := NetworkTarget(0x1d00ffff)
	if !ok {
		t.Fatal("NetworkTarget(0x1d00ffff) not ok")
	}
	if !target.Eq(Diff1Target()) {
		t.Errorf("NetworkTarget(0x1d00ffff) = %s, want diff1", target.Hex())
	}

	if _, ok := NetworkTarget(0x1d800001); ok {
		t.Error("negative compact target should not be ok")
	}
}
