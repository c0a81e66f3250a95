package prescription

import (
	"context"
	"fmt"
	"time"

	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/monitoring"
	"github.com/medrex/rx-ledger/pkg/repository"
	"github.com/medrex/rx-ledger/pkg/types"
)

// Verifier runs one authenticity check for a prescription
type Verifier interface {
	Verify(ctx context.Context, prescriptionID int64) (*types.VerificationResult, error)
}

// Dispenser records dispensation events
type Dispenser struct {
	repo                repository.DispensationRepositoryInterface
	verifier            Verifier
	requireVerification bool
	metrics             *monitoring.MetricsCollector
	logger              *logger.Logger
	now                 func() time.Time
}

// NewDispenser creates a new dispenser. When requireVerification is set the
// prescription must verify before an event is recorded.
func NewDispenser(repo repository.DispensationRepositoryInterface, verifier Verifier, requireVerification bool, metrics *monitoring.MetricsCollector, log *logger.Logger) *Dispenser {
	return &Dispenser{
		repo:                repo,
		verifier:            verifier,
		requireVerification: requireVerification,
		metrics:             metrics,
		logger:              log,
		now:                 time.Now,
	}
}

// Dispense appends a dispensation event. Earlier events for the same
// prescription are not checked, so dispensing twice records two events.
func (d *Dispenser) Dispense(ctx context.Context, pharmacyID, prescriptionID int64) (*types.DispensationEvent, error) {
	if pharmacyID <= 0 {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "pharmacy_id is required", nil)
	}
	if prescriptionID <= 0 {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "prescription_id is required", nil)
	}

	if d.requireVerification {
		result, err := d.verifier.Verify(ctx, prescriptionID)
		if err != nil {
			d.metrics.RecordDispensation(false)
			return nil, err
		}
		if !result.Authentic() {
			d.metrics.RecordDispensation(false)
			return nil, types.NewConflictError(types.ErrCodeNotVerified,
				fmt.Sprintf("prescription %d is not verified: %s", prescriptionID, result.Reason))
		}
	}

	event, err := d.repo.Create(ctx, &types.DispensationEvent{
		PharmacyID:     pharmacyID,
		PrescriptionID: prescriptionID,
		DispensedAt:    d.now().UTC(),
	})
	d.metrics.RecordDispensation(err == nil)

	actor := fmt.Sprintf("pharmacy:%d", pharmacyID)
	if err != nil {
		d.logger.Audit(ctx, actor, "dispense_prescription", "prescription", false, map[string]interface{}{
			"prescription_id": prescriptionID,
			"error":           err.Error(),
		})
		return nil, err
	}

	d.logger.Audit(ctx, actor, "dispense_prescription", "prescription", true, map[string]interface{}{
		"prescription_id": prescriptionID,
		"dispensation_id": event.ID,
	})
	return event, nil
}

// ListDispensations returns a prescription's events oldest first
func (d *Dispenser) ListDispensations(ctx context.Context, prescriptionID int64) ([]*types.DispensationEvent, error) {
	if prescriptionID <= 0 {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "prescription_id is required", nil)
	}
	return d.repo.ListByPrescription(ctx, prescriptionID)
}
