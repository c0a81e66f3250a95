package types

import (
	"encoding/json"
	"time"
)

// PrescriptionStatus is derived from dispensation events, never stored
type PrescriptionStatus string

const (
	StatusPending   PrescriptionStatus = "pending"
	StatusDispensed PrescriptionStatus = "dispensed"
)

// DeriveStatus maps the number of dispensation events to a status.
func DeriveStatus(dispensationCount int) PrescriptionStatus {
	if dispensationCount > 0 {
		return StatusDispensed
	}
	return StatusPending
}

// Participant is a doctor, patient or pharmacy as shown on an assembled prescription
type Participant struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

// LineItem is one medicine on a prescription
type LineItem struct {
	Position     int    `json:"position"`
	MedicineID   int64  `json:"medicine_id"`
	MedicineName string `json:"medicine_name,omitempty"`
	Dosage       string `json:"dosage"`
}

// PrescriptionDetail is the parsed free-form detail payload. A nil
// *PrescriptionDetail means the payload was absent or could not be parsed.
type PrescriptionDetail struct {
	Medication   string                     `json:"medication,omitempty"`
	Dosage       string                     `json:"dosage,omitempty"`
	Instructions string                     `json:"instructions,omitempty"`
	Risk         string                     `json:"risk,omitempty"`
	Extra        map[string]json.RawMessage `json:"extra,omitempty"`
}

// Prescription is the fully assembled prescription view
type Prescription struct {
	ID          int64               `json:"id"`
	IssuedAt    time.Time           `json:"issued_at"`
	Fingerprint string              `json:"fingerprint"`
	Patient     Participant         `json:"patient"`
	Doctor      Participant         `json:"doctor"`
	Status      PrescriptionStatus  `json:"status"`
	LineItems   []LineItem          `json:"line_items"`
	Detail      *PrescriptionDetail `json:"detail,omitempty"`
}

// PrescriptionRecord is the base row joined with its participants, before
// line items and detail are attached.
type PrescriptionRecord struct {
	ID                int64
	IssuedAt          time.Time
	Fingerprint       string
	RawDetail         *string
	Patient           Participant
	Doctor            Participant
	DispensationCount int
}

// NewPrescription is the input for issuing a prescription
type NewPrescription struct {
	PatientID int64           `json:"patient_id"`
	DoctorID  int64           `json:"doctor_id"`
	LineItems []NewLineItem   `json:"line_items"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}

// NewLineItem is a medicine reference with its dosage
type NewLineItem struct {
	MedicineID int64  `json:"medicine_id"`
	Dosage     string `json:"dosage"`
}

// IssuedPrescription is the result of issuing a prescription
type IssuedPrescription struct {
	ID          int64     `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	IssuedAt    time.Time `json:"issued_at"`
}

// DispensationEvent records that a pharmacy fulfilled a prescription
type DispensationEvent struct {
	ID             int64     `json:"id"`
	PharmacyID     int64     `json:"pharmacy_id"`
	PrescriptionID int64     `json:"prescription_id"`
	DispensedAt    time.Time `json:"dispensed_at"`
}
