// Package session holds the per-connection mining state: subscription
// data, authorization, difficulty and target, the extranonce2 counter and
// share counters. All methods are safe for concurrent use.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/bardlex/gompminer/internal/bitcoin"
	"github.com/bardlex/gompminer/internal/stratum"
)

// Phase is the connection lifecycle position.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseSubscribed
	PhaseAuthorized
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseSubscribed:
		return "subscribed"
	case PhaseAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// DefaultDifficulty applies until the pool sends mining.set_difficulty.
const DefaultDifficulty = 1.0

// Work is an immutable snapshot handed to a mining worker.
type Work struct {
	Job             *stratum.Job
	ExtraNonce1     string
	ExtraNonce2     uint32
	ExtraNonce2Size int
	Difficulty      float64
	Target          *uint256.Int
}

// ExtraNonce2Hex renders the extranonce2 exactly as it goes into the
// coinbase and the submit.
func (w *Work) ExtraNonce2Hex() string {
	return bitcoin.FormatExtranonce2(w.ExtraNonce2, w.ExtraNonce2Size)
}

// Stats is a point-in-time copy of the counters.
type Stats struct {
	Phase           Phase
	Difficulty      float64
	SharesSubmitted uint64
	SharesAccepted  uint64
	SharesRejected  uint64
	SharesStale     uint64
	Hashes          uint64
	StartedAt       time.Time
	LastShareAt     time.Time
}

// State is owned by the client; workers only see Work snapshots.
type State struct {
	mu sync.Mutex

	phase           Phase
	extraNonce1     string
	extraNonce2Size int
	extraNonce2     uint32
	difficulty      float64
	target          *uint256.Int

	sharesSubmitted uint64
	sharesAccepted  uint64
	sharesRejected  uint64
	sharesStale     uint64
	hashes          uint64
	startedAt       time.Time
	lastShareAt     time.Time

	authorized chan struct{}
}

// New returns a disconnected state at the default difficulty.
func New() *State {
	return &State{
		extraNonce2Size: stratum.DefaultExtraNonce2Size,
		difficulty:      DefaultDifficulty,
		target:          bitcoin.DifficultyToTarget(DefaultDifficulty),
		startedAt:       time.Now(),
		authorized:      make(chan struct{}),
	}
}

// Phase returns the current lifecycle phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetConnecting marks the transport as being established.
func (s *State) SetConnecting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseConnecting
}

// SetSubscribed stores the subscribe result.
func (s *State) SetSubscribed(res *stratum.SubscribeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraNonce1 = res.ExtraNonce1
	s.extraNonce2Size = res.ExtraNonce2Size
	if s.phase < PhaseSubscribed {
		s.phase = PhaseSubscribed
	}
}

// SetExtranonce applies mining.set_extranonce. Jobs built afterwards use the
// new values.
func (s *State) SetExtranonce(extraNonce1 string, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraNonce1 = extraNonce1
	s.extraNonce2Size = size
}

// SetAuthorized marks the worker as authorized and releases AwaitAuthorized.
// Repeated calls, e.g. from keepalive re-authorization, are no-ops.
func (s *State) SetAuthorized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseAuthorized {
		return
	}
	s.phase = PhaseAuthorized
	close(s.authorized)
}

// IsAuthorized reports whether the pool accepted mining.authorize.
func (s *State) IsAuthorized() bool {
	return s.Phase() == PhaseAuthorized
}

// AwaitAuthorized blocks until the worker is authorized or ctx ends.
func (s *State) AwaitAuthorized(ctx context.Context) error {
	select {
	case <-s.authorized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetDifficulty updates the difficulty and recomputes the target.
func (s *State) SetDifficulty(difficulty float64) {
	target := bitcoin.DifficultyToTarget(difficulty)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.difficulty = difficulty
	s.target = target
}

// Difficulty returns the current share difficulty.
func (s *State) Difficulty() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.difficulty
}

// Target returns a copy of the current target.
func (s *State) Target() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(uint256.Int).Set(s.target)
}

// ExtraNonce1 returns the pool-assigned extranonce1.
func (s *State) ExtraNonce1() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extraNonce1
}

// NextWork advances extranonce2 for job and snapshots everything a worker
// needs. A clean job resets the counter to zero before the increment, so
// the first job after a clean signal uses 1.
func (s *State) NextWork(job *stratum.Job) *Work {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.CleanJobs {
		s.extraNonce2 = 0
	}
	s.extraNonce2++

	return &Work{
		Job:             job,
		ExtraNonce1:     s.extraNonce1,
		ExtraNonce2:     s.extraNonce2,
		ExtraNonce2Size: s.extraNonce2Size,
		Difficulty:      s.difficulty,
		Target:          new(uint256.Int).Set(s.target),
	}
}

// RecordSubmitted counts a share sent to the pool.
func (s *State) RecordSubmitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sharesSubmitted++
	s.lastShareAt = time.Now()
}

// RecordAccepted counts a share the pool accepted.
func (s *State) RecordAccepted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sharesAccepted++
}

// RecordRejected counts a share the pool rejected.
func (s *State) RecordRejected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sharesRejected++
}

// RecordStale counts a solution dropped because its job was superseded.
func (s *State) RecordStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sharesStale++
}

// AddHashes adds to the total hash count.
func (s *State) AddHashes(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes += n
}

// Stats returns a copy of the counters.
func (s *State) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Phase:           s.phase,
		Difficulty:      s.difficulty,
		SharesSubmitted: s.sharesSubmitted,
		SharesAccepted:  s.sharesAccepted,
		SharesRejected:  s.sharesRejected,
		SharesStale:     s.sharesStale,
		Hashes:          s.hashes,
		StartedAt:       s.startedAt,
		LastShareAt:     s.lastShareAt,
	}
}
