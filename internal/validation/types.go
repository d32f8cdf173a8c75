package validation

// Reason identifies why a found share was held back.
type Reason string

const (
	ReasonMissingField  Reason = "missing_field"
	ReasonMalformed     Reason = "malformed"
	ReasonJobMismatch   Reason = "job_mismatch"
	ReasonTimeSkew      Reason = "time_skew"
	ReasonHashMismatch  Reason = "hash_mismatch"
	ReasonAboveTarget   Reason = "above_target"
	ReasonMerkleInvalid Reason = "merkle_mismatch"
)
