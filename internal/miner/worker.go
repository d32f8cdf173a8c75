// Package miner searches the nonce space of a job for headers whose hash
// meets the share target.
package miner

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/remeh/sizedwaitgroup"

	"github.com/bardlex/gompminer/internal/bitcoin"
	"github.com/bardlex/gompminer/internal/session"
	minerErrors "github.com/bardlex/gompminer/pkg/errors"
	"github.com/bardlex/gompminer/pkg/log"
)

// DefaultBatchSize is how many nonces are hashed between cancellation checks.
const DefaultBatchSize = 4096

// nonceSpace is the number of distinct 32-bit nonces.
const nonceSpace = uint64(math.MaxUint32) + 1

// Outcome classifies how a search ended.
type Outcome int

const (
	// Solution means a header met the target.
	Solution Outcome = iota
	// Exhausted means every nonce in range was tried.
	Exhausted
	// Cancelled means the job context ended first.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Solution:
		return "solution"
	case Exhausted:
		return "exhausted"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Share is a solution ready to submit.
type Share struct {
	JobID       string
	ExtraNonce2 string
	NTime       string
	Nonce       string
	NonceValue  uint32
	Header      bitcoin.Header
	Hash        chainhash.Hash
	// Difficulty is the difficulty the hash itself achieves.
	Difficulty float64
	// BlockCandidate is set when the hash also meets the network target.
	BlockCandidate bool
}

// Result reports one search.
type Result struct {
	Outcome Outcome
	Work    *session.Work
	Share   *Share
	Hashes  uint64
	Elapsed time.Duration
}

// Config controls the search.
type Config struct {
	Threads   int
	BatchSize uint32
	UseSIMD   bool
	// NonceStart and NonceEnd bound the searched range, end exclusive.
	// Zero NonceEnd means the full 32-bit space.
	NonceStart uint64
	NonceEnd   uint64
	// OnHashes, if set, is called after every batch with the batch size.
	OnHashes func(n uint64)
}

// Worker runs searches. A Worker may be reused but runs one search at a time.
type Worker struct {
	config Config
	hasher bitcoin.Hasher
	logger *log.Logger
}

// New creates a worker.
func New(config Config, logger *log.Logger) *Worker {
	if config.Threads <= 0 {
		config.Threads = 1
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.NonceEnd == 0 || config.NonceEnd > nonceSpace {
		config.NonceEnd = nonceSpace
	}
	return &Worker{
		config: config,
		hasher: bitcoin.NewHasher(config.UseSIMD),
		logger: logger.WithComponent("miner"),
	}
}

// Prepare builds the header template for work with a zero nonce.
func (w *Worker) Prepare(work *session.Work) (bitcoin.Header, error) {
	job := work.Job
	coinbase, err := bitcoin.BuildCoinbase(job.Coinb1, work.ExtraNonce1, work.ExtraNonce2Hex(), job.Coinb2)
	if err != nil {
		return bitcoin.Header{}, minerErrors.Protocol("build_coinbase", err.Error()).WithContext("job_id", job.JobID)
	}
	root, err := w.hasher.MerkleRoot(coinbase, job.MerkleBranch)
	if err != nil {
		return bitcoin.Header{}, minerErrors.Protocol("merkle_root", err.Error()).WithContext("job_id", job.JobID)
	}
	hdr, err := bitcoin.BuildHeader(job.Version, job.PrevHash, root, job.NTime, job.NBits, 0)
	if err != nil {
		return bitcoin.Header{}, minerErrors.Protocol("build_header", err.Error()).WithContext("job_id", job.JobID)
	}
	return hdr, nil
}

// Search scans the configured nonce range for a header meeting work.Target.
// It returns an error only when the job cannot be turned into a header.
func (w *Worker) Search(ctx context.Context, work *session.Work) (Result, error) {
	start := time.Now()

	template, err := w.Prepare(work)
	if err != nil {
		return Result{}, err
	}

	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		hashes  atomic.Uint64
		once    sync.Once
		found   *Share
		threads = w.config.Threads
		lo, hi  = w.config.NonceStart, w.config.NonceEnd
	)

	span := (hi - lo + uint64(threads) - 1) / uint64(threads)
	swg := sizedwaitgroup.New(threads)
	for i := range threads {
		from := lo + uint64(i)*span
		if from >= hi {
			break
		}
		to := min(from+span, hi)

		swg.Add()
		go func() {
			defer swg.Done()
			hdr, ok, n := w.scan(searchCtx, template, work, from, to)
			hashes.Add(n)
			if ok {
				once.Do(func() {
					found = w.share(work, hdr)
					cancel()
				})
			}
		}()
	}
	swg.Wait()

	res := Result{
		Work:    work,
		Hashes:  hashes.Load(),
		Elapsed: time.Since(start),
	}
	switch {
	case found != nil:
		res.Outcome = Solution
		res.Share = found
	case ctx.Err() != nil:
		res.Outcome = Cancelled
	default:
		res.Outcome = Exhausted
	}

	w.logger.Debug("search finished",
		"job_id", work.Job.JobID,
		"outcome", res.Outcome.String(),
		"hashes", res.Hashes,
		"elapsed", res.Elapsed.String(),
	)
	return res, nil
}

// scan hashes nonces in [from, to) and returns the first header meeting the
// target along with the number of hashes computed.
func (w *Worker) scan(ctx context.Context, hdr bitcoin.Header, work *session.Work, from, to uint64) (bitcoin.Header, bool, uint64) {
	batch := uint64(w.config.BatchSize)
	var done uint64

	for base := from; base < to; base += batch {
		if ctx.Err() != nil {
			return hdr, false, done
		}

		end := min(base+batch, to)
		for n := base; n < end; n++ {
			hdr.SetNonce(uint32(n))
			if bitcoin.HashMeetsTarget(hdr.Hash(w.hasher), work.Target) {
				hashed := n - base + 1
				w.reportHashes(hashed)
				return hdr, true, done + hashed
			}
		}
		w.reportHashes(end - base)
		done += end - base
	}
	return hdr, false, done
}

func (w *Worker) reportHashes(n uint64) {
	if w.config.OnHashes != nil {
		w.config.OnHashes(n)
	}
}

func (w *Worker) share(work *session.Work, hdr bitcoin.Header) *Share {
	hash := hdr.Hash(w.hasher)
	nonce := hdr.Nonce()

	s := &Share{
		JobID:       work.Job.JobID,
		ExtraNonce2: work.ExtraNonce2Hex(),
		NTime:       work.Job.NTime,
		Nonce:       fmt.Sprintf("%08x", nonce),
		NonceValue:  nonce,
		Header:      hdr,
		Hash:        hash,
		Difficulty:  bitcoin.HashDifficulty(hash),
	}
	if netTarget, ok := bitcoin.NetworkTarget(hdr.Bits()); ok {
		s.BlockCandidate = bitcoin.HashMeetsTarget(hash, netTarget)
	}
	return s
}
