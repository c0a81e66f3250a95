package prescription

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medrex/rx-ledger/pkg/types"
)

// fingerprintTimeLayout is the issue time rendering hashed into a fingerprint
const fingerprintTimeLayout = "2006-01-02 15:04:05"

// fingerprintItem keeps the key names hashed by records issued before this
// service, so their fingerprints can be reproduced.
type fingerprintItem struct {
	ID     int64  `json:"id"`
	Dosage string `json:"dosis"`
}

// Fingerprint computes the content hash of a prescription at issuance:
// "0x" + hex(SHA-256("<patient>|<doctor>|<issued_at UTC>|<line items JSON>")).
// It is computed once and stored; it is never recomputed from stored rows.
func Fingerprint(patientID, doctorID int64, issuedAt time.Time, items []types.NewLineItem) string {
	entries := make([]fingerprintItem, len(items))
	for i, item := range items {
		entries[i] = fingerprintItem{ID: item.MedicineID, Dosage: item.Dosage}
	}

	var encoded bytes.Buffer
	enc := json.NewEncoder(&encoded)
	enc.SetEscapeHTML(false)
	enc.Encode(entries)

	payload := fmt.Sprintf("%d|%d|%s|%s",
		patientID,
		doctorID,
		issuedAt.UTC().Format(fingerprintTimeLayout),
		bytes.TrimRight(encoded.Bytes(), "\n"),
	)

	sum := sha256.Sum256([]byte(payload))
	return "0x" + hex.EncodeToString(sum[:])
}
