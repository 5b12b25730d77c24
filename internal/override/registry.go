package override

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/healthgrid/accessd/internal/policy"
	"github.com/healthgrid/accessd/pkg/logger"
	"github.com/healthgrid/accessd/pkg/monitoring"
	"github.com/healthgrid/accessd/pkg/types"
)

// DefaultTTL bounds the break-glass window. It is fixed at activation and
// never extended.
const DefaultTTL = 4 * time.Hour

// MinReasonLength is the minimum trimmed length of an activation reason,
// forcing a substantive justification.
const MinReasonLength = 20

// Store persists emergency override records. Records are never deleted;
// deactivation and expiry only flip is_active.
type Store interface {
	Insert(ctx context.Context, o *types.EmergencyOverride) error
	// FindActive returns the active record for the (userID, patientID)
	// pair, or nil when none exists.
	FindActive(ctx context.Context, userID, patientID string) (*types.EmergencyOverride, error)
	FindByID(ctx context.Context, id string) (*types.EmergencyOverride, error)
	MarkInactive(ctx context.Context, id string) error
	DeactivateFor(ctx context.Context, userID, patientID string) error
	PendingReviews(ctx context.Context) ([]*types.EmergencyOverride, error)
	SetReview(ctx context.Context, id, reviewerID, notes string, reviewedAt time.Time) error
}

// AuditLogger is the subset of the audit sink the registry needs
type AuditLogger interface {
	Log(ctx context.Context, entry *types.AuditLogEntry) (*types.AuditLogEntry, error)
}

// Registry is the break-glass state machine: activation, lazy expiry,
// review, and deactivation of emergency overrides.
type Registry struct {
	store  Store
	policy *policy.Policy
	audit  AuditLogger
	logger *logger.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewRegistry creates a new override registry. A non-positive ttl falls back
// to DefaultTTL.
func NewRegistry(store Store, pol *policy.Policy, audit AuditLogger, log *logger.Logger, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		store:  store,
		policy: pol,
		audit:  audit,
		logger: log,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Activate creates a break-glass grant for the (user, patient) pair. The
// caller must hold the emergency_override permission and supply a reason of
// at least MinReasonLength trimmed characters. A prior active record for the
// same pair is superseded: it is deactivated before the new record is
// written, so at most one record per pair is ever active.
func (r *Registry) Activate(ctx context.Context, user *types.User, patientID, reason string) (*types.OverrideContext, error) {
	if !r.policy.HasPermission(user, types.PermissionEmergencyOverride) {
		return nil, types.NewForbiddenError(
			types.ErrCodeOverrideNotPermitted,
			"user does not have permission to activate emergency overrides",
		)
	}

	trimmed := strings.TrimSpace(reason)
	if len(trimmed) < MinReasonLength {
		return nil, types.NewBadRequestError(
			types.ErrCodeInvalidOverrideReason,
			"emergency override reason must be at least 20 characters",
		)
	}

	if err := r.store.DeactivateFor(ctx, user.ID, patientID); err != nil {
		return nil, types.NewInternalError("failed to supersede prior override", err)
	}

	now := r.now()
	record := &types.EmergencyOverride{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		StaffID:   user.StaffID,
		PatientID: patientID,
		Reason:    trimmed,
		IsActive:  true,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}

	if err := r.store.Insert(ctx, record); err != nil {
		return nil, types.NewInternalError("failed to create emergency override", err)
	}

	// The activation itself is audited before any access relies on the grant
	if _, err := r.audit.Log(ctx, &types.AuditLogEntry{
		UserID:              user.ID,
		StaffID:             user.StaffID,
		Action:              types.AuditActionEmergencyOverride,
		Resource:            "patient",
		ResourceID:          patientID,
		PatientID:           patientID,
		Department:          user.Department,
		IsEmergencyOverride: true,
		Success:             true,
		Metadata: map[string]interface{}{
			"reason":      trimmed,
			"override_id": record.ID,
			"expires_at":  record.ExpiresAt,
		},
	}); err != nil {
		return nil, err
	}

	monitoring.RecordOverrideActivation()
	r.logger.EmergencyOverride("ACTIVATED", user.StaffID, patientID, map[string]interface{}{
		"override_id": record.ID,
		"expires_at":  record.ExpiresAt,
	})

	return &types.OverrideContext{
		UserID:      user.ID,
		PatientID:   patientID,
		Reason:      trimmed,
		ActivatedAt: record.CreatedAt,
		ExpiresAt:   record.ExpiresAt,
	}, nil
}

// HasActiveOverride reports whether the pair holds an unexpired active
// grant. Expiry is corrected lazily here, not by a background sweep, so a
// record's is_active flag can lag true expiry until the next read. Two
// concurrent checks near the boundary may both observe the record active
// before either writes the flip; the TTL is checked against wall-clock time
// on every read, so no caller is granted access past the true deadline by
// more than that race window.
func (r *Registry) HasActiveOverride(ctx context.Context, userID, patientID string) (bool, error) {
	record, err := r.store.FindActive(ctx, userID, patientID)
	if err != nil {
		return false, types.NewInternalError("failed to look up emergency override", err)
	}
	if record == nil {
		return false, nil
	}

	if r.now().After(record.ExpiresAt) {
		if err := r.store.MarkInactive(ctx, record.ID); err != nil {
			r.logger.WithError(err).WithField("override_id", record.ID).
				Warn("Failed to flip expired override inactive")
		}
		return false, nil
	}

	return true, nil
}

// PendingReviews returns active overrides with no reviewer assigned yet,
// newest first. This is the compliance review queue.
func (r *Registry) PendingReviews(ctx context.Context) ([]*types.EmergencyOverride, error) {
	records, err := r.store.PendingReviews(ctx)
	if err != nil {
		return nil, types.NewInternalError("failed to list pending reviews", err)
	}
	return records, nil
}

// Review attaches the after-the-fact review to an override. Review fields
// are set at most once and never alter is_active.
func (r *Registry) Review(ctx context.Context, overrideID, reviewerID, notes string) (*types.EmergencyOverride, error) {
	record, err := r.store.FindByID(ctx, overrideID)
	if err != nil {
		return nil, types.NewInternalError("failed to look up emergency override", err)
	}
	if record == nil {
		return nil, types.NewNotFoundError(
			types.ErrCodeOverrideNotFound,
			"emergency override "+overrideID+" not found",
		)
	}

	reviewedAt := r.now()
	if err := r.store.SetReview(ctx, overrideID, reviewerID, notes, reviewedAt); err != nil {
		return nil, types.NewInternalError("failed to record override review", err)
	}

	record.ReviewedBy = reviewerID
	record.ReviewedAt = &reviewedAt
	record.ReviewNotes = notes

	if _, err := r.audit.Log(ctx, &types.AuditLogEntry{
		UserID:              reviewerID,
		StaffID:             reviewerID,
		Action:              types.AuditActionEmergencyOverrideReviewed,
		Resource:            "emergency_override",
		ResourceID:          overrideID,
		PatientID:           record.PatientID,
		IsEmergencyOverride: false,
		Success:             true,
		Metadata: map[string]interface{}{
			"original_user_id": record.UserID,
			"review_notes":     notes,
		},
	}); err != nil {
		return nil, err
	}

	return record, nil
}

// Deactivate revokes the active override for the pair before its TTL, for
// when clinical need ends early.
func (r *Registry) Deactivate(ctx context.Context, userID, patientID string) error {
	if err := r.store.DeactivateFor(ctx, userID, patientID); err != nil {
		return types.NewInternalError("failed to deactivate emergency override", err)
	}
	return nil
}
