package types

import "time"

// VerificationState is a state of a single verification attempt
type VerificationState string

const (
	VerificationIdle      VerificationState = "idle"
	VerificationVerifying VerificationState = "verifying"
	VerificationVerified  VerificationState = "verified"
	VerificationFailed    VerificationState = "failed"
)

// Failure reasons reported on a Failed verification
const (
	ReasonOracleUnavailable = "oracle unavailable"
	ReasonMismatch          = "mismatch"
)

// Attestation is what the ledger oracle reports for a record
type Attestation struct {
	ContentHash string `json:"contentHash"`
	Signature   string `json:"signature"`
	Raw         string `json:"raw"`
}

// VerificationResult is the ephemeral outcome of comparing local and ledger data
type VerificationResult struct {
	PrescriptionID   int64             `json:"prescription_id"`
	Status           VerificationState `json:"status"`
	Reason           string            `json:"reason,omitempty"`
	ContentHash      string            `json:"contentHash"`
	Signature        string            `json:"signature"`
	Raw              string            `json:"raw"`
	LocalFingerprint string            `json:"local_fingerprint"`
	LocalSignature   string            `json:"local_signature"`
	CheckedAt        time.Time         `json:"checked_at"`
}

// Authentic reports whether the attempt ended Verified
func (r *VerificationResult) Authentic() bool {
	return r != nil && r.Status == VerificationVerified
}
