package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/medrex/rx-ledger/pkg/database"
	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/monitoring"
	"github.com/medrex/rx-ledger/pkg/types"
)

// DispensationRepository handles dispensation event persistence
type DispensationRepository struct {
	db      *database.DB
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector
	tracing *monitoring.TracingManager
}

// NewDispensationRepository creates a new dispensation repository
func NewDispensationRepository(db *database.DB, log *logger.Logger, metrics *monitoring.MetricsCollector, tracing *monitoring.TracingManager) *DispensationRepository {
	return &DispensationRepository{
		db:      db,
		logger:  log,
		metrics: metrics,
		tracing: tracing,
	}
}

// Create appends a dispensation event. Prior events for the same
// prescription are not checked.
func (r *DispensationRepository) Create(ctx context.Context, event *types.DispensationEvent) (*types.DispensationEvent, error) {
	start := time.Now()
	ctx, finish := traceQuery(ctx, r.tracing, "insert", "dispensations")

	if event.DispensedAt.IsZero() {
		event.DispensedAt = time.Now().UTC()
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO dispensations (pharmacy_id, prescription_id, dispensed_at)
		VALUES ($1, $2, $3)
		RETURNING id`,
		event.PharmacyID,
		event.PrescriptionID,
		event.DispensedAt,
	).Scan(&event.ID)

	finish(err)
	r.metrics.RecordDBQuery("create_dispensation", err == nil, time.Since(start))
	r.logger.DatabaseOperation(ctx, "insert", "dispensations", time.Since(start).Milliseconds(), 1, err == nil)

	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, types.NewNotFoundError(types.ErrCodeNotFound, "pharmacy or prescription not found")
		}
		return nil, fmt.Errorf("failed to create dispensation: %w", err)
	}

	return event, nil
}

// ListByPrescription returns a prescription's dispensation events oldest first
func (r *DispensationRepository) ListByPrescription(ctx context.Context, prescriptionID int64) (_ []*types.DispensationEvent, err error) {
	start := time.Now()
	ctx, finish := traceQuery(ctx, r.tracing, "select", "dispensations")
	defer func() { finish(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, pharmacy_id, prescription_id, dispensed_at
		FROM dispensations
		WHERE prescription_id = $1
		ORDER BY dispensed_at ASC, id ASC`,
		prescriptionID,
	)
	if err != nil {
		r.metrics.RecordDBQuery("list_dispensations", false, time.Since(start))
		return nil, fmt.Errorf("failed to list dispensations: %w", err)
	}
	defer rows.Close()

	events := []*types.DispensationEvent{}
	for rows.Next() {
		event := &types.DispensationEvent{}
		if err := rows.Scan(&event.ID, &event.PharmacyID, &event.PrescriptionID, &event.DispensedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispensation: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dispensations: %w", err)
	}

	r.metrics.RecordDBQuery("list_dispensations", true, time.Since(start))
	return events, nil
}
