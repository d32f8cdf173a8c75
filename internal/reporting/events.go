// Package reporting fans share events and stats snapshots out to optional
// backends without blocking the mining session.
package reporting

import (
	"context"
	"time"
)

// ShareStatus is the lifecycle point a ShareEvent describes.
type ShareStatus string

const (
	StatusSubmitted ShareStatus = "submitted"
	StatusAccepted  ShareStatus = "accepted"
	StatusRejected  ShareStatus = "rejected"
	StatusStale     ShareStatus = "stale"
	StatusInvalid   ShareStatus = "invalid"
)

// ShareEvent describes one share.
type ShareEvent struct {
	Pool             string      `json:"pool"`
	User             string      `json:"user"`
	JobID            string      `json:"job_id"`
	ExtraNonce2      string      `json:"extranonce2"`
	NTime            string      `json:"ntime"`
	Nonce            string      `json:"nonce"`
	Hash             string      `json:"hash"`
	Difficulty       float64     `json:"difficulty"`
	TargetDifficulty float64     `json:"target_difficulty"`
	Status           ShareStatus `json:"status"`
	Reason           string      `json:"reason,omitempty"`
	BlockCandidate   bool        `json:"block_candidate"`
	At               time.Time   `json:"at"`
}

// StatsSnapshot is a periodic summary of the session.
type StatsSnapshot struct {
	Pool            string        `json:"pool"`
	User            string        `json:"user"`
	Phase           string        `json:"phase"`
	Difficulty      float64       `json:"difficulty"`
	SharesSubmitted uint64        `json:"shares_submitted"`
	SharesAccepted  uint64        `json:"shares_accepted"`
	SharesRejected  uint64        `json:"shares_rejected"`
	SharesStale     uint64        `json:"shares_stale"`
	Hashes          uint64        `json:"hashes"`
	Hashrate        float64       `json:"hashrate"`
	Uptime          time.Duration `json:"uptime"`
	At              time.Time     `json:"at"`
}

// Sink is a reporting backend.
type Sink interface {
	Name() string
	RecordShare(ctx context.Context, ev ShareEvent) error
	RecordStats(ctx context.Context, snap StatsSnapshot) error
	Close() error
}
