// Package sharing manages time-bounded share grants over prescriptions and
// the signed links that name them.
package sharing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/monitoring"
	"github.com/medrex/rx-ledger/pkg/repository"
	"github.com/medrex/rx-ledger/pkg/types"
)

// OwnershipChecker counts how many of the given prescriptions belong to a patient
type OwnershipChecker interface {
	CountOwnedBy(ctx context.Context, patientID int64, prescriptionIDs []int64) (int, error)
}

// Options configures a Manager
type Options struct {
	// EnforceOwnership rejects grants over prescriptions the owner is not the patient of.
	EnforceOwnership bool
	// Links signs share links. Nil disables IssueLink and ResolveLink.
	Links *LinkSigner
}

// Manager creates, lists, resolves and revokes share grants
type Manager struct {
	repo      repository.SharedAccessRepositoryInterface
	ownership OwnershipChecker
	options   Options
	metrics   *monitoring.MetricsCollector
	logger    *logger.Logger
	now       func() time.Time
}

// NewManager creates a new share grant manager
func NewManager(repo repository.SharedAccessRepositoryInterface, ownership OwnershipChecker, options Options, metrics *monitoring.MetricsCollector, log *logger.Logger) *Manager {
	return &Manager{
		repo:      repo,
		ownership: ownership,
		options:   options,
		metrics:   metrics,
		logger:    log,
		now:       time.Now,
	}
}

// Create validates and stores a new grant, returning its id
func (m *Manager) Create(ctx context.Context, req *types.ShareGrantRequest) (string, error) {
	if err := validateGrantRequest(req); err != nil {
		m.metrics.RecordShareGrantOperation("create", false)
		return "", err
	}

	if m.options.EnforceOwnership {
		if err := m.checkOwnership(ctx, req.OwnerID, req.PrescriptionIDs); err != nil {
			m.metrics.RecordShareGrantOperation("create", false)
			return "", err
		}
	}

	encoded, err := json.Marshal(req.PrescriptionIDs)
	if err != nil {
		m.metrics.RecordShareGrantOperation("create", false)
		return "", types.NewInternalError(types.ErrCodeInternalError, "failed to encode prescription ids", err)
	}

	grant := &types.ShareGrant{
		ID:                     uuid.NewString(),
		OwnerID:                req.OwnerID,
		RecipientName:          req.RecipientName,
		RecipientType:          req.RecipientType,
		ExpiresAt:              time.UnixMilli(req.ExpiresAt).UTC(),
		EncodedPrescriptionIDs: string(encoded),
		CreatedAt:              m.now().UTC(),
	}

	err = m.repo.Create(ctx, grant)
	m.metrics.RecordShareGrantOperation("create", err == nil)

	actor := fmt.Sprintf("patient:%d", req.OwnerID)
	if err != nil {
		m.logger.Audit(ctx, actor, "create_share_grant", "shared_access", false, map[string]interface{}{
			"recipient_name": req.RecipientName,
			"error":          err.Error(),
		})
		return "", err
	}

	m.logger.Audit(ctx, actor, "create_share_grant", "shared_access", true, map[string]interface{}{
		"grant_id":         grant.ID,
		"recipient_name":   grant.RecipientName,
		"recipient_type":   grant.RecipientType,
		"prescription_ids": req.PrescriptionIDs,
		"expires_at":       grant.ExpiresAt,
	})
	return grant.ID, nil
}

// List returns the grants active at call time, optionally for one owner.
// Listing never fails: storage errors are logged and yield an empty list.
func (m *Manager) List(ctx context.Context, ownerID *int64) []*types.ShareGrantSummary {
	summaries := []*types.ShareGrantSummary{}

	grants, err := m.repo.ListActive(ctx, m.now(), ownerID)
	m.metrics.RecordShareGrantOperation("list", err == nil)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Error("Failed to list share grants")
		return summaries
	}

	for _, g := range grants {
		summaries = append(summaries, &types.ShareGrantSummary{
			ID:        g.ID,
			Name:      g.RecipientName,
			Type:      g.RecipientType,
			ExpiresAt: g.ExpiresAt.UnixMilli(),
		})
	}
	return summaries
}

// Resolve returns the prescription ids of a grant. Expiry is not checked.
func (m *Manager) Resolve(ctx context.Context, grantID string) ([]int64, error) {
	grant, err := m.lookup(ctx, grantID)
	m.metrics.RecordShareGrantOperation("resolve", err == nil)
	if err != nil {
		return nil, err
	}
	return DecodePrescriptionIDs(grant.EncodedPrescriptionIDs), nil
}

// ResolveByRecipient returns the union of prescription ids across every grant
// addressed to the recipient, in first-seen order.
func (m *Manager) ResolveByRecipient(ctx context.Context, recipientName, recipientType string) ([]int64, error) {
	if strings.TrimSpace(recipientName) == "" || strings.TrimSpace(recipientType) == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "recipient_name and recipient_type are required", nil)
	}

	grants, err := m.repo.ListByRecipient(ctx, recipientName, recipientType)
	m.metrics.RecordShareGrantOperation("resolve_recipient", err == nil)
	if err != nil {
		return nil, err
	}

	ids := []int64{}
	seen := make(map[int64]struct{})
	for _, g := range grants {
		decoded := DecodePrescriptionIDs(g.EncodedPrescriptionIDs)
		if len(decoded) == 0 {
			m.logger.WithContext(ctx).WithFields(logrus.Fields{
				"grant_id": g.ID,
			}).Debug("Skipping grant with no decodable prescription ids")
			continue
		}
		for _, id := range decoded {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Revoke deletes a grant
func (m *Manager) Revoke(ctx context.Context, grantID string) error {
	if _, err := uuid.Parse(grantID); err != nil {
		m.metrics.RecordShareGrantOperation("revoke", false)
		return types.NewNotFoundError(types.ErrCodeNotFound, "shared access not found")
	}

	err := m.repo.Delete(ctx, grantID)
	m.metrics.RecordShareGrantOperation("revoke", err == nil)
	m.logger.Audit(ctx, "system", "revoke_share_grant", "shared_access", err == nil, map[string]interface{}{
		"grant_id": grantID,
	})
	return err
}

// IssueLink signs a link for a grant that expires with the grant
func (m *Manager) IssueLink(ctx context.Context, grantID string) (*types.ShareLink, error) {
	if m.options.Links == nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "share links are not configured", nil)
	}

	grant, err := m.lookup(ctx, grantID)
	if err != nil {
		m.metrics.RecordShareGrantOperation("issue_link", false)
		return nil, err
	}
	if !grant.IsActive(m.now()) {
		m.metrics.RecordShareGrantOperation("issue_link", false)
		return nil, types.NewConflictError(types.ErrCodeConflict, "shared access has expired")
	}

	token, err := m.options.Links.Sign(grant.ID, grant.ExpiresAt)
	m.metrics.RecordShareGrantOperation("issue_link", err == nil)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to issue share link", err)
	}

	return &types.ShareLink{Token: token, ExpiresAt: grant.ExpiresAt.UnixMilli()}, nil
}

// ResolveLink validates a link token and resolves the grant it names
func (m *Manager) ResolveLink(ctx context.Context, token string) ([]int64, error) {
	if m.options.Links == nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "share links are not configured", nil)
	}

	grantID, err := m.options.Links.Validate(token)
	if err != nil {
		m.metrics.RecordShareGrantOperation("resolve_link", false)
		return nil, err
	}
	return m.Resolve(ctx, grantID)
}

func (m *Manager) lookup(ctx context.Context, grantID string) (*types.ShareGrant, error) {
	// Grant ids are UUIDs; anything else cannot name a row.
	if _, err := uuid.Parse(grantID); err != nil {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "shared access not found")
	}
	return m.repo.GetByID(ctx, grantID)
}

func (m *Manager) checkOwnership(ctx context.Context, ownerID int64, prescriptionIDs []int64) error {
	distinct := make(map[int64]struct{}, len(prescriptionIDs))
	for _, id := range prescriptionIDs {
		distinct[id] = struct{}{}
	}

	owned, err := m.ownership.CountOwnedBy(ctx, ownerID, prescriptionIDs)
	if err != nil {
		return err
	}
	if owned != len(distinct) {
		return types.NewValidationError(types.ErrCodeValidationFailed, "prescriptions must belong to the owner", map[string]interface{}{
			"owner_id": ownerID,
		})
	}
	return nil
}

// DecodePrescriptionIDs decodes a stored prescription id list. A JSON array
// of integers yields its values, a bare integer yields a one-element list and
// anything else yields an empty list.
func DecodePrescriptionIDs(encoded string) []int64 {
	raw := []byte(strings.TrimSpace(encoded))

	var ids []int64
	if err := json.Unmarshal(raw, &ids); err == nil && ids != nil {
		return ids
	}

	var single int64
	if err := json.Unmarshal(raw, &single); err == nil && len(raw) > 0 && raw[0] != 'n' {
		return []int64{single}
	}

	return []int64{}
}

func validateGrantRequest(req *types.ShareGrantRequest) error {
	if req == nil {
		return types.NewValidationError(types.ErrCodeInvalidInput, "request body is required", nil)
	}
	if req.OwnerID <= 0 {
		return types.NewValidationError(types.ErrCodeInvalidInput, "owner_id is required", nil)
	}
	if strings.TrimSpace(req.RecipientName) == "" {
		return types.NewValidationError(types.ErrCodeInvalidInput, "recipient_name is required", nil)
	}
	if strings.TrimSpace(req.RecipientType) == "" {
		return types.NewValidationError(types.ErrCodeInvalidInput, "recipient_type is required", nil)
	}
	if req.ExpiresAt <= 0 {
		return types.NewValidationError(types.ErrCodeInvalidInput, "expires_at is required", nil)
	}
	if len(req.PrescriptionIDs) == 0 {
		return types.NewValidationError(types.ErrCodeInvalidInput, "prescription_ids must not be empty", nil)
	}
	for _, id := range req.PrescriptionIDs {
		if id <= 0 {
			return types.NewValidationError(types.ErrCodeInvalidInput, "prescription_ids must be positive", map[string]interface{}{
				"prescription_id": id,
			})
		}
	}
	return nil
}
