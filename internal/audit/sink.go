package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/healthgrid/accessd/pkg/logger"
	"github.com/healthgrid/accessd/pkg/monitoring"
	"github.com/healthgrid/accessd/pkg/types"
)

// Page size bounds for audit queries. The maximum is a hard clamp applied
// regardless of caller input.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Store persists audit log entries. Entries are append-only; no update or
// delete operation exists.
type Store interface {
	Insert(ctx context.Context, entry *types.AuditLogEntry) error
	Query(ctx context.Context, q *types.AuditQuery) ([]*types.AuditLogEntry, int, error)
	EmergencyOverrideEntries(ctx context.Context) ([]*types.AuditLogEntry, error)
	PatientHistory(ctx context.Context, patientID string) ([]*types.AuditLogEntry, error)
}

// Sink is the append-only audit trail every access decision and override
// lifecycle transition flows through.
type Sink struct {
	store           Store
	logger          *logger.Logger
	defaultPageSize int
	maxPageSize     int
}

// NewSink creates a new audit sink. Non-positive page sizes fall back to the
// package defaults; the configured maximum can tighten but never exceed
// MaxPageSize.
func NewSink(store Store, log *logger.Logger, defaultPageSize, maxPageSize int) *Sink {
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	if maxPageSize <= 0 || maxPageSize > MaxPageSize {
		maxPageSize = MaxPageSize
	}
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}
	return &Sink{
		store:           store,
		logger:          log,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// Log persists an audit entry, assigning an id and timestamp when absent.
// A persistence failure is surfaced to the operational log and re-raised as
// an AuditWriteFailure: an unaudited PHI access is a compliance violation
// equivalent to an unauthorized one, so callers must treat it as fatal to
// the operation being audited.
func (s *Sink) Log(ctx context.Context, entry *types.AuditLogEntry) (*types.AuditLogEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if err := s.store.Insert(ctx, entry); err != nil {
		monitoring.RecordAuditWriteFailure()
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id":  entry.UserID,
			"action":   entry.Action,
			"resource": entry.Resource,
		}).Error("Failed to write audit log entry")
		return nil, types.NewAuditWriteError(err)
	}

	if entry.IsEmergencyOverride {
		s.logger.EmergencyOverride(string(entry.Action), entry.StaffID, entry.PatientID, map[string]interface{}{
			"resource": entry.Resource,
			"success":  entry.Success,
		})
	}

	return entry, nil
}

// Query returns a page of audit entries matching the filter, newest first.
// The requested page size is clamped to the configured maximum regardless of
// input.
func (s *Sink) Query(ctx context.Context, q *types.AuditQuery) (*types.AuditPage, error) {
	normalized := *q
	if normalized.Page < 1 {
		normalized.Page = 1
	}
	if normalized.Limit <= 0 {
		normalized.Limit = s.defaultPageSize
	}
	if normalized.Limit > s.maxPageSize {
		normalized.Limit = s.maxPageSize
	}

	entries, total, err := s.store.Query(ctx, &normalized)
	if err != nil {
		return nil, types.NewInternalError("failed to query audit logs", err)
	}

	return &types.AuditPage{
		Entries: entries,
		Total:   total,
		Page:    normalized.Page,
		Limit:   normalized.Limit,
	}, nil
}

// EmergencyOverrideLogs returns every entry written under an emergency
// override, newest first.
func (s *Sink) EmergencyOverrideLogs(ctx context.Context) ([]*types.AuditLogEntry, error) {
	entries, err := s.store.EmergencyOverrideEntries(ctx)
	if err != nil {
		return nil, types.NewInternalError("failed to query emergency override logs", err)
	}
	return entries, nil
}

// PatientAccessHistory returns every entry touching a patient, newest first
func (s *Sink) PatientAccessHistory(ctx context.Context, patientID string) ([]*types.AuditLogEntry, error) {
	entries, err := s.store.PatientHistory(ctx, patientID)
	if err != nil {
		return nil, types.NewInternalError("failed to query patient access history", err)
	}
	return entries, nil
}
