package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/types"
)

// ledgerEntry is the value stored per notarized prescription
type ledgerEntry struct {
	ContentHash string    `json:"contentHash"`
	Signature   string    `json:"signature"`
	NotarizedAt time.Time `json:"notarized_at"`
}

// Ledger is an append-only LevelDB store of notarized prescriptions. It
// serves as both Oracle and Notarizer. Entries are written once and never
// overwritten.
type Ledger struct {
	db     *leveldb.DB
	logger *logger.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// OpenLedger opens (or creates) a LevelDB ledger at path
func OpenLedger(path string, log *logger.Logger) (*Ledger, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger at %s: %w", path, err)
	}
	log.WithComponent("ledger").WithField("path", path).Info("LevelDB ledger opened")
	return NewLedger(db, log), nil
}

// NewLedger wraps an already open LevelDB handle
func NewLedger(db *leveldb.DB, log *logger.Logger) *Ledger {
	return &Ledger{db: db, logger: log, now: time.Now}
}

func ledgerKey(prescriptionID int64) []byte {
	return []byte(fmt.Sprintf("attestation_%d", prescriptionID))
}

// Notarize records the prescription's hash and signature. A second call for
// the same prescription is rejected.
func (l *Ledger) Notarize(ctx context.Context, prescriptionID int64, contentHash, signature string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(ledgerEntry{
		ContentHash: contentHash,
		Signature:   signature,
		NotarizedAt: l.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode ledger entry: %w", err)
	}

	key := ledgerKey(prescriptionID)

	l.mu.Lock()
	defer l.mu.Unlock()

	exists, err := l.db.Has(key, nil)
	if err != nil {
		return types.NewDependencyError(types.ErrCodeOracleUnavailable, "ledger read failed", err)
	}
	if exists {
		return types.NewConflictError(types.ErrCodeConflict,
			fmt.Sprintf("prescription %d is already notarized", prescriptionID))
	}

	if err := l.db.Put(key, value, nil); err != nil {
		return types.NewDependencyError(types.ErrCodeOracleUnavailable, "ledger write failed", err)
	}

	l.logger.WithComponent("ledger").WithField("prescription_id", prescriptionID).Info("Prescription notarized")
	return nil
}

// Attest returns the recorded entry in the same shape the external oracle
// reports, including a textual Raw rendering.
func (l *Ledger) Attest(ctx context.Context, prescriptionID int64) (*types.Attestation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	value, err := l.db.Get(ledgerKey(prescriptionID), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, types.NewDependencyError(types.ErrCodeOracleUnavailable,
				fmt.Sprintf("no ledger entry for prescription %d", prescriptionID), err)
		}
		return nil, types.NewDependencyError(types.ErrCodeOracleUnavailable, "ledger read failed", err)
	}

	var entry ledgerEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		return nil, types.NewDependencyError(types.ErrCodeMalformedAttestation, "corrupt ledger entry", err)
	}

	return &types.Attestation{
		ContentHash: entry.ContentHash,
		Signature:   entry.Signature,
		Raw:         fmt.Sprintf("contentHash: %s\nsignature: %s", entry.ContentHash, entry.Signature),
	}, nil
}

// Ping reports whether the ledger is still usable
func (l *Ledger) Ping(ctx context.Context) error {
	_, err := l.db.GetProperty("leveldb.num-files-at-level0")
	return err
}

// Close closes the underlying database
func (l *Ledger) Close() error {
	return l.db.Close()
}
