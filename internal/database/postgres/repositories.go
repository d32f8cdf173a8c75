package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bardlex/gompminer/internal/reporting"
)

// ShareRepository handles share journal operations
type ShareRepository struct {
	db *sql.DB
}

// NewShareRepository creates a new share repository
func NewShareRepository(db *sql.DB) *ShareRepository {
	return &ShareRepository{db: db}
}

// CreateShare inserts a journal row and sets its ID.
func (r *ShareRepository) CreateShare(ctx context.Context, share *Share) error {
	query := `
		INSERT INTO miner_shares (pool, username, job_id, extra_nonce2, ntime, nonce, hash,
		                          difficulty, target_difficulty, status, reason, is_block_candidate, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		share.Pool, share.Username, share.JobID, share.ExtraNonce2, share.Ntime, share.Nonce, share.Hash,
		share.Difficulty, share.TargetDifficulty, share.Status, share.Reason, share.IsBlockCandidate, share.RecordedAt,
	).Scan(&share.ID)

	if err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}

	return nil
}

// CountByStatus returns journal row counts per status since the given time.
func (r *ShareRepository) CountByStatus(ctx context.Context, since time.Time) (map[reporting.ShareStatus]int64, error) {
	query := `
		SELECT status, COUNT(*)
		FROM miner_shares
		WHERE recorded_at >= $1
		GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[reporting.ShareStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan share count: %w", err)
		}
		counts[reporting.ShareStatus(status)] = n
	}
	return counts, rows.Err()
}
