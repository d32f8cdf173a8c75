package postgres

import (
	"time"

	"github.com/bardlex/gompminer/internal/reporting"
)

// Share is one journal row. A share that is submitted and then answered
// produces two rows.
type Share struct {
	ID               int64     `db:"id"`
	Pool             string    `db:"pool"`
	Username         string    `db:"username"`
	JobID            string    `db:"job_id"`
	ExtraNonce2      string    `db:"extra_nonce2"`
	Ntime            string    `db:"ntime"`
	Nonce            string    `db:"nonce"`
	Hash             string    `db:"hash"`
	Difficulty       float64   `db:"difficulty"`
	TargetDifficulty float64   `db:"target_difficulty"`
	Status           string    `db:"status"`
	Reason           string    `db:"reason"`
	IsBlockCandidate bool      `db:"is_block_candidate"`
	RecordedAt       time.Time `db:"recorded_at"`
}

// ShareFromEvent maps a reporting event to a journal row.
func ShareFromEvent(ev reporting.ShareEvent) *Share {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return &Share{
		Pool:             ev.Pool,
		Username:         ev.User,
		JobID:            ev.JobID,
		ExtraNonce2:      ev.ExtraNonce2,
		Ntime:            ev.NTime,
		Nonce:            ev.Nonce,
		Hash:             ev.Hash,
		Difficulty:       ev.Difficulty,
		TargetDifficulty: ev.TargetDifficulty,
		Status:           string(ev.Status),
		Reason:           ev.Reason,
		IsBlockCandidate: ev.BlockCandidate,
		RecordedAt:       at.UTC(),
	}
}
