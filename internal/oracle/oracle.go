// Package oracle talks to the external ledger. An Oracle reports what the
// ledger holds for a prescription; a Notarizer records a newly issued one.
// Two backends exist: an external process (the production ledger scripts)
// and an embedded LevelDB ledger for single-node deployments and tests.
package oracle

import (
	"context"

	"github.com/medrex/rx-ledger/pkg/types"
)

// Oracle answers authenticity queries for a prescription
type Oracle interface {
	Attest(ctx context.Context, prescriptionID int64) (*types.Attestation, error)
}

// Notarizer records an issued prescription's fingerprint and signer key
type Notarizer interface {
	Notarize(ctx context.Context, prescriptionID int64, contentHash, signature string) error
}

// NoSignature is passed to the notarizer when the doctor has no public key on file
const NoSignature = "0x"
