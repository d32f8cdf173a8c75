package messaging

import (
	"time"

	"github.com/bardlex/gompminer/internal/reporting"
)

// ShareMessage is the Kafka payload for a share event.
type ShareMessage struct {
	Pool             string    `json:"pool"`
	WorkerName       string    `json:"worker_name"`
	JobID            string    `json:"job_id"`
	ExtraNonce2      string    `json:"extra_nonce2"`
	Ntime            string    `json:"ntime"`
	Nonce            string    `json:"nonce"`
	BlockHash        string    `json:"block_hash,omitempty"`
	Difficulty       float64   `json:"difficulty,omitempty"`
	TargetDifficulty float64   `json:"target_difficulty"`
	Status           string    `json:"status"`
	Reason           string    `json:"reason,omitempty"`
	IsBlockCandidate bool      `json:"is_block_candidate"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// NewShareMessage converts a reporting event to its wire form.
func NewShareMessage(ev reporting.ShareEvent) ShareMessage {
	return ShareMessage{
		Pool:             ev.Pool,
		WorkerName:       ev.User,
		JobID:            ev.JobID,
		ExtraNonce2:      ev.ExtraNonce2,
		Ntime:            ev.NTime,
		Nonce:            ev.Nonce,
		BlockHash:        ev.Hash,
		Difficulty:       ev.Difficulty,
		TargetDifficulty: ev.TargetDifficulty,
		Status:           string(ev.Status),
		Reason:           ev.Reason,
		IsBlockCandidate: ev.BlockCandidate,
		OccurredAt:       ev.At.UTC(),
	}
}
