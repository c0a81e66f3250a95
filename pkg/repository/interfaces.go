package repository

import (
	"context"
	"time"

	"github.com/medrex/rx-ledger/pkg/types"
)

// PrescriptionRecordInput is a fully prepared prescription ready to be persisted
type PrescriptionRecordInput struct {
	PatientID   int64
	DoctorID    int64
	IssuedAt    time.Time
	Fingerprint string
	Detail      string
	LineItems   []types.NewLineItem
}

// PrescriptionRepositoryInterface defines the interface for prescription data operations
type PrescriptionRepositoryInterface interface {
	Create(ctx context.Context, input *PrescriptionRecordInput) (int64, error)
	GetByID(ctx context.Context, prescriptionID int64) (*types.PrescriptionRecord, error)
	GetLineItems(ctx context.Context, prescriptionID int64) ([]types.LineItem, error)
	GetVerificationAnchor(ctx context.Context, prescriptionID int64) (fingerprint, signerKey string, err error)
	GetDoctorPublicKey(ctx context.Context, doctorID int64) (string, error)
	CountOwnedBy(ctx context.Context, patientID int64, prescriptionIDs []int64) (int, error)
	ListIDsByPatient(ctx context.Context, patientID int64) ([]int64, error)
	ListIDsByDoctor(ctx context.Context, doctorID int64) ([]int64, error)
}

// DispensationRepositoryInterface defines the interface for dispensation event operations
type DispensationRepositoryInterface interface {
	Create(ctx context.Context, event *types.DispensationEvent) (*types.DispensationEvent, error)
	ListByPrescription(ctx context.Context, prescriptionID int64) ([]*types.DispensationEvent, error)
}

// SharedAccessRepositoryInterface defines the interface for share grant operations
type SharedAccessRepositoryInterface interface {
	Create(ctx context.Context, grant *types.ShareGrant) error
	GetByID(ctx context.Context, grantID string) (*types.ShareGrant, error)
	ListActive(ctx context.Context, now time.Time, ownerID *int64) ([]*types.ShareGrant, error)
	ListByRecipient(ctx context.Context, recipientName, recipientType string) ([]*types.ShareGrant, error)
	Delete(ctx context.Context, grantID string) error
}
