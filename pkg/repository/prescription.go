package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/medrex/rx-ledger/pkg/database"
	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/monitoring"
	"github.com/medrex/rx-ledger/pkg/types"
)

// PrescriptionRepository handles prescription and line item persistence
type PrescriptionRepository struct {
	db      *database.DB
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector
	tracing *monitoring.TracingManager
}

// NewPrescriptionRepository creates a new prescription repository
func NewPrescriptionRepository(db *database.DB, log *logger.Logger, metrics *monitoring.MetricsCollector, tracing *monitoring.TracingManager) *PrescriptionRepository {
	return &PrescriptionRepository{
		db:      db,
		logger:  log,
		metrics: metrics,
		tracing: tracing,
	}
}

// Create inserts a prescription and its line items in a single transaction
// and stamps the issuing doctor's last activity.
func (r *PrescriptionRepository) Create(ctx context.Context, input *PrescriptionRecordInput) (int64, error) {
	start := time.Now()
	ctx, finish := traceQuery(ctx, r.tracing, "insert", "prescriptions")

	var prescriptionID int64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var detail interface{}
		if input.Detail != "" {
			detail = input.Detail
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO prescriptions (patient_id, doctor_id, issued_at, fingerprint, detail)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			input.PatientID,
			input.DoctorID,
			input.IssuedAt,
			input.Fingerprint,
			detail,
		).Scan(&prescriptionID)
		if err != nil {
			return fmt.Errorf("failed to insert prescription: %w", err)
		}

		for i, item := range input.LineItems {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO prescription_medicines (prescription_id, position, medicine_id, dosage)
				VALUES ($1, $2, $3, $4)`,
				prescriptionID,
				i+1,
				item.MedicineID,
				item.Dosage,
			)
			if err != nil {
				return fmt.Errorf("failed to insert line item %d: %w", i+1, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE doctors SET last_activity_at = $1 WHERE id = $2`,
			input.IssuedAt, input.DoctorID,
		); err != nil {
			return fmt.Errorf("failed to update doctor activity: %w", err)
		}

		return nil
	})

	finish(err)
	r.metrics.RecordDBQuery("create_prescription", err == nil, time.Since(start))
	r.logger.DatabaseOperation(ctx, "insert", "prescriptions", time.Since(start).Milliseconds(), int64(len(input.LineItems)+1), err == nil)

	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, types.NewNotFoundError(types.ErrCodeNotFound, "patient, doctor or medicine not found")
		}
		return 0, err
	}

	return prescriptionID, nil
}

// GetByID retrieves the base prescription row joined with its participants
// and the number of dispensation events referencing it.
func (r *PrescriptionRepository) GetByID(ctx context.Context, prescriptionID int64) (*types.PrescriptionRecord, error) {
	start := time.Now()
	ctx, finish := traceQuery(ctx, r.tracing, "select", "prescriptions")

	query := `
		SELECT p.id, p.issued_at, p.fingerprint, p.detail,
			   pa.id, pa.name, COALESCE(pa.email, ''),
			   d.id, d.name, COALESCE(d.email, ''), COALESCE(d.public_key, ''),
			   (SELECT COUNT(*) FROM dispensations x WHERE x.prescription_id = p.id) AS dispensation_count
		FROM prescriptions p
		JOIN patients pa ON p.patient_id = pa.id
		JOIN doctors d ON p.doctor_id = d.id
		WHERE p.id = $1`

	var record types.PrescriptionRecord
	var detail sql.NullString

	err := r.db.QueryRowContext(ctx, query, prescriptionID).Scan(
		&record.ID,
		&record.IssuedAt,
		&record.Fingerprint,
		&detail,
		&record.Patient.ID,
		&record.Patient.Name,
		&record.Patient.Email,
		&record.Doctor.ID,
		&record.Doctor.Name,
		&record.Doctor.Email,
		&record.Doctor.PublicKey,
		&record.DispensationCount,
	)
	finish(err)
	r.metrics.RecordDBQuery("get_prescription", err == nil || errors.Is(err, sql.ErrNoRows), time.Since(start))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("prescription not found: %d", prescriptionID))
		}
		return nil, fmt.Errorf("failed to get prescription: %w", err)
	}

	if detail.Valid {
		record.RawDetail = &detail.String
	}

	return &record, nil
}

// GetLineItems retrieves a prescription's line items in issue order
func (r *PrescriptionRepository) GetLineItems(ctx context.Context, prescriptionID int64) (_ []types.LineItem, err error) {
	start := time.Now()
	ctx, finish := traceQuery(ctx, r.tracing, "select", "prescription_medicines")
	defer func() { finish(err) }()

	query := `
		SELECT pm.position, pm.medicine_id, m.name, pm.dosage
		FROM prescription_medicines pm
		JOIN medicines m ON pm.medicine_id = m.id
		WHERE pm.prescription_id = $1
		ORDER BY pm.position ASC`

	rows, err := r.db.QueryContext(ctx, query, prescriptionID)
	if err != nil {
		r.metrics.RecordDBQuery("get_line_items", false, time.Since(start))
		return nil, fmt.Errorf("failed to get line items: %w", err)
	}
	defer rows.Close()

	items := []types.LineItem{}
	for rows.Next() {
		var item types.LineItem
		if err := rows.Scan(&item.Position, &item.MedicineID, &item.MedicineName, &item.Dosage); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate line items: %w", err)
	}

	r.metrics.RecordDBQuery("get_line_items", true, time.Since(start))
	return items, nil
}

// GetVerificationAnchor returns the stored fingerprint and the issuing
// doctor's public key, the two values compared against the ledger.
func (r *PrescriptionRepository) GetVerificationAnchor(ctx context.Context, prescriptionID int64) (string, string, error) {
	query := `
		SELECT p.fingerprint, COALESCE(d.public_key, '')
		FROM prescriptions p
		JOIN doctors d ON p.doctor_id = d.id
		WHERE p.id = $1`

	ctx, finish := traceQuery(ctx, r.tracing, "select", "prescriptions")
	var fingerprint, signerKey string
	err := r.db.QueryRowContext(ctx, query, prescriptionID).Scan(&fingerprint, &signerKey)
	finish(err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("prescription not found: %d", prescriptionID))
		}
		return "", "", fmt.Errorf("failed to get verification anchor: %w", err)
	}

	return fingerprint, signerKey, nil
}

// GetDoctorPublicKey returns the doctor's public key, or "" when none is on file
func (r *PrescriptionRepository) GetDoctorPublicKey(ctx context.Context, doctorID int64) (string, error) {
	ctx, finish := traceQuery(ctx, r.tracing, "select", "doctors")
	var publicKey string
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(public_key, '') FROM doctors WHERE id = $1`, doctorID,
	).Scan(&publicKey)
	finish(err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("doctor not found: %d", doctorID))
		}
		return "", fmt.Errorf("failed to get doctor public key: %w", err)
	}
	return publicKey, nil
}

// CountOwnedBy counts how many of the given prescriptions belong to the patient
func (r *PrescriptionRepository) CountOwnedBy(ctx context.Context, patientID int64, prescriptionIDs []int64) (int, error) {
	ctx, finish := traceQuery(ctx, r.tracing, "select", "prescriptions")
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM prescriptions WHERE patient_id = $1 AND id = ANY($2)`,
		patientID, pq.Array(prescriptionIDs),
	).Scan(&count)
	finish(err)
	if err != nil {
		return 0, fmt.Errorf("failed to count owned prescriptions: %w", err)
	}
	return count, nil
}

// ListIDsByPatient returns the IDs of a patient's prescriptions, newest first
func (r *PrescriptionRepository) ListIDsByPatient(ctx context.Context, patientID int64) ([]int64, error) {
	return r.listIDs(ctx, "list_patient_prescriptions",
		`SELECT id FROM prescriptions WHERE patient_id = $1 ORDER BY issued_at DESC, id DESC`, patientID)
}

// ListIDsByDoctor returns the IDs of the prescriptions a doctor issued, newest first
func (r *PrescriptionRepository) ListIDsByDoctor(ctx context.Context, doctorID int64) ([]int64, error) {
	return r.listIDs(ctx, "list_doctor_prescriptions",
		`SELECT id FROM prescriptions WHERE doctor_id = $1 ORDER BY issued_at DESC, id DESC`, doctorID)
}

func (r *PrescriptionRepository) listIDs(ctx context.Context, queryType, query string, args ...interface{}) (_ []int64, err error) {
	start := time.Now()
	ctx, finish := traceQuery(ctx, r.tracing, "select", "prescriptions")
	defer func() {
		finish(err)
		r.metrics.RecordDBQuery(queryType, err == nil, time.Since(start))
	}()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list prescriptions: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan prescription id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prescriptions: %w", err)
	}
	return ids, nil
}
