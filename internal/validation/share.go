// Package validation re-checks a found share against the work it was mined
// from before it is submitted. The checks use an independent code path
// (btcd wire header decoding and the portable SHA-256) so that a fault in
// the search loop is caught locally instead of by the pool.
package validation

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/gompminer/internal/bitcoin"
	"github.com/bardlex/gompminer/internal/miner"
	"github.com/bardlex/gompminer/internal/session"
	"github.com/bardlex/gompminer/pkg/errors"
)

// ShareValidator handles validation of found shares
type ShareValidator struct {
	maxTimeSkew time.Duration
	hasher      bitcoin.Hasher
	now         func() time.Time
}

// NewShareValidator creates a validator. A positive maxTimeSkew rejects
// shares whose ntime is that far ahead of the local clock.
func NewShareValidator(maxTimeSkew time.Duration) *ShareValidator {
	return &ShareValidator{
		maxTimeSkew: maxTimeSkew,
		hasher:      bitcoin.NewHasher(false),
		now:         time.Now,
	}
}

// ValidateShare performs the full set of checks.
func (v *ShareValidator) ValidateShare(share *miner.Share, work *session.Work) error {
	if share == nil || work == nil || work.Job == nil {
		return reject(ReasonMissingField, "", "share or work is missing")
	}

	if err := v.validateBasicFields(share, work); err != nil {
		return err
	}
	if err := v.validateJob(share, work); err != nil {
		return err
	}
	if err := v.validateTime(share); err != nil {
		return err
	}
	return v.validateProofOfWork(share, work)
}

// validateBasicFields checks that every submitted field is present and
// correctly sized hex
func (v *ShareValidator) validateBasicFields(share *miner.Share, work *session.Work) error {
	fields := []struct {
		name  string
		value string
		width int
	}{
		{"job_id", share.JobID, 0},
		{"extranonce2", share.ExtraNonce2, 2 * work.ExtraNonce2Size},
		{"ntime", share.NTime, 8},
		{"nonce", share.Nonce, 8},
	}

	for _, f := range fields {
		if f.value == "" {
			return reject(ReasonMissingField, share.JobID, f.name+" is required")
		}
		if f.width == 0 {
			continue
		}
		if len(f.value) != f.width {
			return reject(ReasonMalformed, share.JobID,
				fmt.Sprintf("%s must be %d hex characters, got %d", f.name, f.width, len(f.value)))
		}
		if _, err := hex.DecodeString(f.value); err != nil {
			return reject(ReasonMalformed, share.JobID, f.name+" is not valid hex")
		}
	}
	return nil
}

// validateJob checks that the share references the work it was mined from
func (v *ShareValidator) validateJob(share *miner.Share, work *session.Work) error {
	switch {
	case share.JobID != work.Job.JobID:
		return reject(ReasonJobMismatch, share.JobID, "job ID mismatch").
			WithContext("work_job_id", work.Job.JobID)
	case share.NTime != work.Job.NTime:
		return reject(ReasonJobMismatch, share.JobID, "ntime differs from the job")
	case share.ExtraNonce2 != work.ExtraNonce2Hex():
		return reject(ReasonJobMismatch, share.JobID, "extranonce2 differs from the work")
	}
	return nil
}

// validateTime checks that the timestamp is not too far in the future
func (v *ShareValidator) validateTime(share *miner.Share) error {
	if v.maxTimeSkew <= 0 {
		return nil
	}

	ntime, err := bitcoin.ParseHexUint32(share.NTime)
	if err != nil {
		return reject(ReasonMalformed, share.JobID, "invalid ntime format")
	}
	if time.Unix(int64(ntime), 0).After(v.now().Add(v.maxTimeSkew)) {
		return reject(ReasonTimeSkew, share.JobID, "share time too far in future")
	}
	return nil
}

// validateProofOfWork decodes the header with btcd, recomputes the merkle
// root from the job and confirms the hash meets the work target.
func (v *ShareValidator) validateProofOfWork(share *miner.Share, work *session.Work) error {
	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(share.Header[:])); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "validate_share", "cannot decode header").
			WithContext("reason", string(ReasonMalformed)).
			WithContext("job_id", share.JobID)
	}

	if header.Nonce != share.NonceValue || fmt.Sprintf("%08x", header.Nonce) != share.Nonce {
		return reject(ReasonHashMismatch, share.JobID, "nonce does not match the header")
	}

	coinbase, err := bitcoin.BuildCoinbase(work.Job.Coinb1, work.ExtraNonce1, share.ExtraNonce2, work.Job.Coinb2)
	if err != nil {
		return reject(ReasonMalformed, share.JobID, err.Error())
	}
	root, err := v.hasher.MerkleRoot(coinbase, work.Job.MerkleBranch)
	if err != nil {
		return reject(ReasonMalformed, share.JobID, err.Error())
	}
	if header.MerkleRoot != root {
		return reject(ReasonMerkleInvalid, share.JobID, "merkle root does not match the job")
	}

	hash := header.BlockHash()
	if hash != share.Hash {
		return reject(ReasonHashMismatch, share.JobID, "header hash does not match the share").
			WithContext("hash", hash.String())
	}

	if work.Target != nil && !bitcoin.HashMeetsTarget(hash, work.Target) {
		return reject(ReasonAboveTarget, share.JobID, "hash does not meet difficulty target").
			WithContext("hash", hash.String())
	}
	return nil
}

func reject(reason Reason, jobID, msg string) *errors.ServiceError {
	e := errors.New(errors.ErrorTypeValidation, "validate_share", msg).
		WithContext("reason", string(reason))
	if jobID != "" {
		e.WithContext("job_id", jobID)
	}
	return e
}

// ReasonOf extracts the rejection reason from a validation error.
func ReasonOf(err error) Reason {
	if r, ok := errors.GetContext(err)["reason"].(string); ok {
		return Reason(r)
	}
	return ""
}
