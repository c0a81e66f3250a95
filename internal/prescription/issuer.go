package prescription

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medrex/rx-ledger/internal/oracle"
	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/monitoring"
	"github.com/medrex/rx-ledger/pkg/repository"
	"github.com/medrex/rx-ledger/pkg/types"
)

// Issuer creates prescriptions and hands them to the notary
type Issuer struct {
	repo          repository.PrescriptionRepositoryInterface
	notary        oracle.Notarizer
	notaryTimeout time.Duration
	monitor       *monitoring.MonitoringMiddleware
	logger        *logger.Logger
	now           func() time.Time
	pending       sync.WaitGroup
}

// NewIssuer creates a new issuer. A nil notary disables notarization.
func NewIssuer(repo repository.PrescriptionRepositoryInterface, notary oracle.Notarizer, notaryTimeout time.Duration, monitor *monitoring.MonitoringMiddleware, log *logger.Logger) *Issuer {
	if monitor == nil {
		monitor = monitoring.NewMonitoringMiddleware(nil, nil, log)
	}
	return &Issuer{
		repo:          repo,
		notary:        notary,
		notaryTimeout: notaryTimeout,
		monitor:       monitor,
		logger:        log,
		now:           time.Now,
	}
}

// Issue validates and persists a prescription with its line items in one
// transaction, then notarizes it in the background.
func (i *Issuer) Issue(ctx context.Context, req *types.NewPrescription) (*types.IssuedPrescription, error) {
	if err := validateNewPrescription(req); err != nil {
		return nil, err
	}

	var detail string
	if len(req.Detail) > 0 && string(req.Detail) != "null" {
		if !json.Valid(req.Detail) {
			return nil, types.NewValidationError(types.ErrCodeInvalidInput, "detail must be valid JSON", nil)
		}
		detail = string(req.Detail)
	}

	// Stored timestamps must reproduce the fingerprint's second resolution.
	issuedAt := i.now().UTC().Truncate(time.Second)
	fingerprint := Fingerprint(req.PatientID, req.DoctorID, issuedAt, req.LineItems)

	id, err := i.repo.Create(ctx, &repository.PrescriptionRecordInput{
		PatientID:   req.PatientID,
		DoctorID:    req.DoctorID,
		IssuedAt:    issuedAt,
		Fingerprint: fingerprint,
		Detail:      detail,
		LineItems:   req.LineItems,
	})
	if err != nil {
		i.logger.Audit(ctx, fmt.Sprintf("doctor:%d", req.DoctorID), "issue_prescription", "prescription", false, map[string]interface{}{
			"patient_id": req.PatientID,
			"error":      err.Error(),
		})
		return nil, err
	}

	i.logger.Audit(ctx, fmt.Sprintf("doctor:%d", req.DoctorID), "issue_prescription", "prescription", true, map[string]interface{}{
		"prescription_id": id,
		"patient_id":      req.PatientID,
		"line_items":      len(req.LineItems),
	})

	i.notarizeAsync(ctx, id, fingerprint, req.DoctorID)

	return &types.IssuedPrescription{
		ID:          id,
		Fingerprint: fingerprint,
		IssuedAt:    issuedAt,
	}, nil
}

// Wait blocks until background notarizations have finished
func (i *Issuer) Wait() {
	i.pending.Wait()
}

// notarizeAsync records the prescription on the ledger without holding up
// the request. Failures are logged only.
func (i *Issuer) notarizeAsync(ctx context.Context, prescriptionID int64, fingerprint string, doctorID int64) {
	if i.notary == nil {
		return
	}

	i.pending.Add(1)
	go func() {
		defer i.pending.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.notaryTimeout)
		defer cancel()

		if err := i.Notarize(ctx, prescriptionID, fingerprint, doctorID); err != nil {
			i.logger.WithContext(ctx).WithFields(logrus.Fields{
				"prescription_id": prescriptionID,
				"error":           err.Error(),
			}).Error("Notarization failed")
		}
	}()
}

// Notarize sends one prescription to the notary, signed with the doctor's
// public key or NoSignature when none is on file.
func (i *Issuer) Notarize(ctx context.Context, prescriptionID int64, fingerprint string, doctorID int64) error {
	if i.notary == nil {
		return types.NewDependencyError(types.ErrCodeExternalError, "notarization is disabled", nil)
	}

	signature, err := i.repo.GetDoctorPublicKey(ctx, doctorID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(signature) == "" {
		signature = oracle.NoSignature
	}

	return i.monitor.LedgerCall(ctx, "notarize", prescriptionID, func(ctx context.Context) error {
		return i.notary.Notarize(ctx, prescriptionID, fingerprint, signature)
	})
}

// NotarizeExisting re-sends an already stored prescription to the notary
func (i *Issuer) NotarizeExisting(ctx context.Context, prescriptionID int64) error {
	record, err := i.repo.GetByID(ctx, prescriptionID)
	if err != nil {
		return err
	}
	return i.Notarize(ctx, record.ID, record.Fingerprint, record.Doctor.ID)
}

func validateNewPrescription(req *types.NewPrescription) error {
	if req == nil {
		return types.NewValidationError(types.ErrCodeInvalidInput, "request body is required", nil)
	}
	if req.PatientID <= 0 {
		return types.NewValidationError(types.ErrCodeInvalidInput, "patient_id is required", nil)
	}
	if req.DoctorID <= 0 {
		return types.NewValidationError(types.ErrCodeInvalidInput, "doctor_id is required", nil)
	}
	if len(req.LineItems) == 0 {
		return types.NewValidationError(types.ErrCodeInvalidInput, "at least one line item is required", nil)
	}

	for idx, item := range req.LineItems {
		if item.MedicineID <= 0 {
			return types.NewValidationError(types.ErrCodeInvalidInput, "line item medicine_id is required", map[string]interface{}{
				"position": idx + 1,
			})
		}
		if strings.TrimSpace(item.Dosage) == "" {
			return types.NewValidationError(types.ErrCodeInvalidInput, "line item dosage is required", map[string]interface{}{
				"position": idx + 1,
			})
		}
	}

	return nil
}
