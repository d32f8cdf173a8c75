package miner

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bardlex/gompminer/internal/bitcoin"
	"github.com/bardlex/gompminer/internal/session"
	"github.com/bardlex/gompminer/internal/stratum"
	minerErrors "github.com/bardlex/gompminer/pkg/errors"
	"github.com/bardlex/gompminer/pkg/log"
)

// genesisWork rebuilds the genesis block as a pool job.
func genesisWork(t *testing.T, target *uint256.Int) *session.Work {
	t.Helper()

	block := chaincfg.MainNetParams.GenesisBlock
	var buf bytes.Buffer
	require.NoError(t, block.Transactions[0].SerializeNoWitness(&buf))
	raw := buf.Bytes()

	return &session.Work{
		Job: &stratum.Job{
			JobID:    "genesis",
			PrevHash: bitcoin.StratumPrevHash(chainhash.Hash{}),
			Coinb1:   hex.EncodeToString(raw[:50]),
			Coinb2:   hex.EncodeToString(raw[58:]),
			Version:  fmt.Sprintf("%08x", uint32(block.Header.Version)),
			NBits:    fmt.Sprintf("%08x", block.Header.Bits),
			NTime:    fmt.Sprintf("%08x", uint32(block.Header.Timestamp.Unix())),
		},
		ExtraNonce1:     hex.EncodeToString(raw[50:54]),
		ExtraNonce2:     binary.BigEndian.Uint32(raw[54:58]),
		ExtraNonce2Size: 4,
		Difficulty:      1,
		Target:          target,
	}
}

func TestSearch_FindsGenesisNonce(t *testing.T) {
	nonce := uint64(chaincfg.MainNetParams.GenesisBlock.Header.Nonce)

	for _, threads := range []int{1, 3} {
		t.Run(fmt.Sprintf("threads=%d", threads), func(t *testing.T) {
			w := New(Config{
				Threads:    threads,
				BatchSize:  64,
				NonceStart: nonce - 200,
				NonceEnd:   nonce + 200,
			}, log.Nop())

			res, err := w.Search(context.Background(), genesisWork(t, bitcoin.Diff1Target()))
			require.NoError(t, err)
			require.Equal(t, Solution, res.Outcome)
			require.NotNil(t, res.Share)

			s := res.Share
			assert.Equal(t, "genesis", s.JobID)
			assert.Equal(t, fmt.Sprintf("%08x", nonce), s.Nonce)
			assert.Equal(t, *chaincfg.MainNetParams.GenesisHash, s.Hash)
			assert.True(t, s.BlockCandidate)
			assert.GreaterOrEqual(t, s.Difficulty, 1.0)
			assert.Equal(t, "495fab29", s.NTime)
			assert.Positive(t, res.Hashes)
		})
	}
}

func TestSearch_Exhausted(t *testing.T) {
	var reported atomic.Uint64
	w := New(Config{
		Threads:   4,
		BatchSize: 100,
		NonceEnd:  1000,
		OnHashes:  func(n uint64) { reported.Add(n) },
	}, log.Nop())

	res, err := w.Search(context.Background(), genesisWork(t, new(uint256.Int)))
	require.NoError(t, err)
	assert.Equal(t, Exhausted, res.Outcome)
	assert.Nil(t, res.Share)
	assert.Equal(t, uint64(1000), res.Hashes)
	assert.Equal(t, uint64(1000), reported.Load())
}

func TestSearch_Cancelled(t *testing.T) {
	w := New(Config{Threads: 2, BatchSize: 256}, log.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan Result, 1)
	go func() {
		res, err := w.Search(ctx, genesisWork(t, new(uint256.Int)))
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case res := <-done:
		assert.Equal(t, Cancelled, res.Outcome)
		assert.Less(t, res.Hashes, uint64(1)<<32)
	case <-time.After(5 * time.Second):
		t.Fatal("search ignored cancellation")
	}
}

func TestSearch_EasyTargetSolvesImmediately(t *testing.T) {
	w := New(Config{}, log.Nop())
	work := genesisWork(t, new(uint256.Int).SetAllOne())

	res, err := w.Search(context.Background(), work)
	require.NoError(t, err)
	require.Equal(t, Solution, res.Outcome)
	assert.Equal(t, "00000000", res.Share.Nonce)
	assert.Equal(t, work.ExtraNonce2Hex(), res.Share.ExtraNonce2)

	hdr := res.Share.Header
	assert.Equal(t, res.Share.Hash, hdr.Hash(bitcoin.NewHasher(false)))
}

func TestSearch_MalformedJob(t *testing.T) {
	w := New(Config{}, log.Nop())
	work := genesisWork(t, bitcoin.Diff1Target())
	work.Job.Version = "zz"

	_, err := w.Search(context.Background(), work)
	assert.True(t, minerErrors.IsType(err, minerErrors.ErrorTypeProtocol))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "solution", Solution.String())
	assert.Equal(t, "exhausted", Exhausted.String())
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "unknown", Outcome(9).String())
}
