// Package prescription assembles prescription views and implements the
// doctor-side issue path and the pharmacy-side dispensation gate.
package prescription

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/repository"
	"github.com/medrex/rx-ledger/pkg/types"
)

// Assembler composes full prescription views from stored rows. It is read-only.
type Assembler struct {
	repo   repository.PrescriptionRepositoryInterface
	logger *logger.Logger
}

// NewAssembler creates a new assembler
func NewAssembler(repo repository.PrescriptionRepositoryInterface, log *logger.Logger) *Assembler {
	return &Assembler{repo: repo, logger: log}
}

// GetByID assembles one prescription. Returns a not found error if the base
// row does not exist.
func (a *Assembler) GetByID(ctx context.Context, prescriptionID int64) (*types.Prescription, error) {
	record, err := a.repo.GetByID(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}

	items, err := a.repo.GetLineItems(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}

	detail := ParseDetail(record.RawDetail)
	if detail == nil && record.RawDetail != nil && strings.TrimSpace(*record.RawDetail) != "" {
		a.logger.WithContext(ctx).WithField("prescription_id", prescriptionID).Warn("Prescription detail is not a JSON object; omitting it")
	}

	return &types.Prescription{
		ID:          record.ID,
		IssuedAt:    record.IssuedAt,
		Fingerprint: record.Fingerprint,
		Patient:     record.Patient,
		Doctor:      record.Doctor,
		Status:      types.DeriveStatus(record.DispensationCount),
		LineItems:   items,
		Detail:      detail,
	}, nil
}

// GetByIDs assembles each prescription in order, skipping IDs that no longer
// exist. Any other error aborts the batch.
func (a *Assembler) GetByIDs(ctx context.Context, prescriptionIDs []int64) ([]*types.Prescription, error) {
	prescriptions := make([]*types.Prescription, 0, len(prescriptionIDs))

	for _, id := range prescriptionIDs {
		p, err := a.GetByID(ctx, id)
		if err != nil {
			if types.IsNotFound(err) {
				a.logger.WithContext(ctx).WithFields(logrus.Fields{
					"prescription_id": id,
				}).Debug("Skipping missing prescription")
				continue
			}
			return nil, err
		}
		prescriptions = append(prescriptions, p)
	}

	return prescriptions, nil
}

// ListByPatient assembles a patient's prescriptions, newest first
func (a *Assembler) ListByPatient(ctx context.Context, patientID int64) ([]*types.Prescription, error) {
	ids, err := a.repo.ListIDsByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return a.GetByIDs(ctx, ids)
}

// ListByDoctor assembles the prescriptions a doctor issued, newest first
func (a *Assembler) ListByDoctor(ctx context.Context, doctorID int64) ([]*types.Prescription, error) {
	ids, err := a.repo.ListIDsByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return a.GetByIDs(ctx, ids)
}

// ParseDetail decodes the free-form detail payload. Absent, empty or
// non-object payloads yield nil; unknown keys are kept in Extra.
func ParseDetail(raw *string) *types.PrescriptionDetail {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(*raw), &fields); err != nil || fields == nil {
		return nil
	}

	detail := &types.PrescriptionDetail{}
	for key, value := range fields {
		switch key {
		case "medication":
			detail.Medication = textValue(value)
		case "dosage":
			detail.Dosage = textValue(value)
		case "instructions":
			detail.Instructions = textValue(value)
		case "risk":
			detail.Risk = textValue(value)
		default:
			if detail.Extra == nil {
				detail.Extra = make(map[string]json.RawMessage)
			}
			detail.Extra[key] = value
		}
	}

	return detail
}

// textValue renders a JSON value as text: strings unquoted, null empty,
// anything else verbatim.
func textValue(value json.RawMessage) string {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s
	}
	if string(value) == "null" {
		return ""
	}
	return string(value)
}
