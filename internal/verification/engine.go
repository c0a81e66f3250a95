// Package verification decides whether a prescription is authentic by
// comparing its stored fingerprint and the issuing doctor's public key with
// what the ledger oracle reports.
package verification

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medrex/rx-ledger/internal/oracle"
	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/monitoring"
	"github.com/medrex/rx-ledger/pkg/types"
)

// DefaultTimeout bounds an oracle call when no timeout is configured
const DefaultTimeout = 10 * time.Second

// AnchorStore loads the locally stored values an attestation is compared with
type AnchorStore interface {
	GetVerificationAnchor(ctx context.Context, prescriptionID int64) (fingerprint, signerKey string, err error)
}

// Engine runs verification attempts. It keeps no state between calls.
type Engine struct {
	store   AnchorStore
	oracle  oracle.Oracle
	timeout time.Duration
	monitor *monitoring.MonitoringMiddleware
	metrics *monitoring.MetricsCollector
	logger  *logger.Logger
	now     func() time.Time
}

// NewEngine creates a verification engine
func NewEngine(store AnchorStore, o oracle.Oracle, timeout time.Duration, monitor *monitoring.MonitoringMiddleware, metrics *monitoring.MetricsCollector, log *logger.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if monitor == nil {
		monitor = monitoring.NewMonitoringMiddleware(metrics, nil, log)
	}
	return &Engine{
		store:   store,
		oracle:  o,
		timeout: timeout,
		monitor: monitor,
		metrics: metrics,
		logger:  log,
		now:     time.Now,
	}
}

// Verify runs one attempt for a prescription. Oracle problems end the attempt
// Failed rather than returning an error; only lookup errors are returned.
func (e *Engine) Verify(ctx context.Context, prescriptionID int64) (*types.VerificationResult, error) {
	fingerprint, signerKey, err := e.store.GetVerificationAnchor(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}

	a := newAttempt()
	if err := a.moveTo(types.VerificationVerifying); err != nil {
		return nil, err
	}

	result := &types.VerificationResult{
		PrescriptionID:   prescriptionID,
		Status:           a.state,
		LocalFingerprint: fingerprint,
		LocalSignature:   signerKey,
	}

	attestation, err := e.attest(ctx, prescriptionID)
	if err != nil {
		e.logger.WithContext(ctx).WithFields(logrus.Fields{
			"prescription_id": prescriptionID,
			"error":           err.Error(),
		}).Warn("Oracle unavailable during verification")
		return e.finish(ctx, a, result, types.VerificationFailed, types.ReasonOracleUnavailable)
	}

	result.ContentHash = attestation.ContentHash
	result.Signature = attestation.Signature
	result.Raw = attestation.Raw

	if sameHex(fingerprint, attestation.ContentHash) && sameHex(signerKey, attestation.Signature) {
		return e.finish(ctx, a, result, types.VerificationVerified, "")
	}
	return e.finish(ctx, a, result, types.VerificationFailed, types.ReasonMismatch)
}

// attest calls the oracle under the engine timeout. The call is abandoned
// when the deadline passes even if the oracle ignores its context.
func (e *Engine) attest(ctx context.Context, prescriptionID int64) (*types.Attestation, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var attestation *types.Attestation
	err := e.monitor.LedgerCall(ctx, "attest", prescriptionID, func(ctx context.Context) error {
		type reply struct {
			attestation *types.Attestation
			err         error
		}
		replies := make(chan reply, 1)

		go func() {
			a, err := e.oracle.Attest(ctx, prescriptionID)
			replies <- reply{attestation: a, err: err}
		}()

		select {
		case r := <-replies:
			attestation = r.attestation
			return r.err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err == nil && attestation == nil {
		err = types.NewDependencyError(types.ErrCodeMalformedAttestation, "oracle returned no attestation", nil)
	}
	return attestation, err
}

func (e *Engine) finish(ctx context.Context, a *attempt, result *types.VerificationResult, state types.VerificationState, reason string) (*types.VerificationResult, error) {
	if err := a.moveTo(state); err != nil {
		return nil, err
	}

	result.Status = a.state
	result.Reason = reason
	result.CheckedAt = e.now().UTC()

	e.metrics.RecordVerification(string(state), reason)
	e.logger.Audit(ctx, "verifier", "verify_prescription", "prescription", state == types.VerificationVerified, map[string]interface{}{
		"prescription_id": result.PrescriptionID,
		"status":          state,
		"reason":          reason,
	})

	return result, nil
}
