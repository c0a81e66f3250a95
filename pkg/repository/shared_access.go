package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/medrex/rx-ledger/pkg/database"
	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/monitoring"
	"github.com/medrex/rx-ledger/pkg/types"
)

const sharedAccessColumns = `id, owner_id, recipient_name, recipient_type, expires_at, prescription_ids, created_at`

// SharedAccessRepository handles share grant persistence
type SharedAccessRepository struct {
	db      *database.DB
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector
	tracing *monitoring.TracingManager
}

// NewSharedAccessRepository creates a new shared access repository
func NewSharedAccessRepository(db *database.DB, log *logger.Logger, metrics *monitoring.MetricsCollector, tracing *monitoring.TracingManager) *SharedAccessRepository {
	return &SharedAccessRepository{
		db:      db,
		logger:  log,
		metrics: metrics,
		tracing: tracing,
	}
}

// Create inserts a new share grant. The grant ID must already be set.
func (r *SharedAccessRepository) Create(ctx context.Context, grant *types.ShareGrant) error {
	start := time.Now()
	ctx, finish := traceQuery(ctx, r.tracing, "insert", "shared_access")

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO shared_access (`+sharedAccessColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		grant.ID,
		grant.OwnerID,
		grant.RecipientName,
		grant.RecipientType,
		grant.ExpiresAt,
		grant.EncodedPrescriptionIDs,
		grant.CreatedAt,
	)

	finish(err)
	r.metrics.RecordDBQuery("create_shared_access", err == nil, time.Since(start))
	r.logger.DatabaseOperation(ctx, "insert", "shared_access", time.Since(start).Milliseconds(), 1, err == nil)

	if err != nil {
		if isUniqueViolation(err) {
			return types.NewConflictError(types.ErrCodeConflict, "share grant already exists")
		}
		return fmt.Errorf("failed to create shared access: %w", err)
	}
	return nil
}

// GetByID retrieves a grant regardless of its expiry
func (r *SharedAccessRepository) GetByID(ctx context.Context, grantID string) (*types.ShareGrant, error) {
	start := time.Now()
	ctx, finish := traceQuery(ctx, r.tracing, "select", "shared_access")

	row := r.db.QueryRowContext(ctx,
		`SELECT `+sharedAccessColumns+` FROM shared_access WHERE id = $1`, grantID)

	grant, err := scanGrant(row)
	finish(err)
	r.metrics.RecordDBQuery("get_shared_access", err == nil || errors.Is(err, sql.ErrNoRows), time.Since(start))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NewNotFoundError(types.ErrCodeNotFound, "shared access not found")
		}
		return nil, fmt.Errorf("failed to get shared access: %w", err)
	}
	return grant, nil
}

// ListActive returns grants expiring strictly after now, optionally for one owner
func (r *SharedAccessRepository) ListActive(ctx context.Context, now time.Time, ownerID *int64) ([]*types.ShareGrant, error) {
	query := `SELECT ` + sharedAccessColumns + ` FROM shared_access WHERE expires_at > $1`
	args := []interface{}{now}

	if ownerID != nil {
		query += ` AND owner_id = $2`
		args = append(args, *ownerID)
	}
	query += ` ORDER BY expires_at ASC`

	return r.list(ctx, "list_active_shared_access", query, args...)
}

// ListByRecipient returns every grant addressed to the recipient, expired or not
func (r *SharedAccessRepository) ListByRecipient(ctx context.Context, recipientName, recipientType string) ([]*types.ShareGrant, error) {
	query := `SELECT ` + sharedAccessColumns + ` FROM shared_access
		WHERE recipient_name = $1 AND recipient_type = $2
		ORDER BY created_at ASC`

	return r.list(ctx, "list_recipient_shared_access", query, recipientName, recipientType)
}

// Delete hard-deletes a grant
func (r *SharedAccessRepository) Delete(ctx context.Context, grantID string) (err error) {
	start := time.Now()
	ctx, finish := traceQuery(ctx, r.tracing, "delete", "shared_access")
	defer func() { finish(err) }()

	result, err := r.db.ExecContext(ctx, `DELETE FROM shared_access WHERE id = $1`, grantID)
	if err != nil {
		r.metrics.RecordDBQuery("delete_shared_access", false, time.Since(start))
		return fmt.Errorf("failed to delete shared access: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.metrics.RecordDBQuery("delete_shared_access", true, time.Since(start))
	r.logger.DatabaseOperation(ctx, "delete", "shared_access", time.Since(start).Milliseconds(), rowsAffected, true)

	if rowsAffected == 0 {
		return types.NewNotFoundError(types.ErrCodeNotFound, "shared access not found")
	}
	return nil
}

func (r *SharedAccessRepository) list(ctx context.Context, queryType, query string, args ...interface{}) (_ []*types.ShareGrant, err error) {
	start := time.Now()
	ctx, finish := traceQuery(ctx, r.tracing, "select", "shared_access")
	defer func() { finish(err) }()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.metrics.RecordDBQuery(queryType, false, time.Since(start))
		return nil, fmt.Errorf("failed to query shared access: %w", err)
	}
	defer rows.Close()

	grants := []*types.ShareGrant{}
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shared access: %w", err)
		}
		grants = append(grants, grant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shared access: %w", err)
	}

	r.metrics.RecordDBQuery(queryType, true, time.Since(start))
	return grants, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGrant(row rowScanner) (*types.ShareGrant, error) {
	grant := &types.ShareGrant{}
	var encoded sql.NullString
	var createdAt sql.NullTime

	if err := row.Scan(
		&grant.ID,
		&grant.OwnerID,
		&grant.RecipientName,
		&grant.RecipientType,
		&grant.ExpiresAt,
		&encoded,
		&createdAt,
	); err != nil {
		return nil, err
	}

	grant.EncodedPrescriptionIDs = encoded.String
	if createdAt.Valid {
		grant.CreatedAt = createdAt.Time
	}
	return grant, nil
}
