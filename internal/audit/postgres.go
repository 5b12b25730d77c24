package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/healthgrid/accessd/pkg/database"
	"github.com/healthgrid/accessd/pkg/logger"
	"github.com/healthgrid/accessd/pkg/types"
)

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db     *database.DB
	logger *logger.Logger
}

// NewPostgresStore creates a new PostgreSQL-backed audit store and ensures
// the audit table exists.
func NewPostgresStore(db *database.DB, log *logger.Logger) (*PostgresStore, error) {
	store := &PostgresStore{
		db:     db,
		logger: log,
	}

	if err := store.initializeTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit tables: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) initializeTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS access_audit_log (
			id UUID PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			staff_id VARCHAR(255) NOT NULL,
			action VARCHAR(64) NOT NULL,
			resource VARCHAR(255) NOT NULL,
			resource_id VARCHAR(255),
			patient_id VARCHAR(255),
			department VARCHAR(64),
			is_emergency_override BOOLEAN NOT NULL DEFAULT FALSE,
			ip_address VARCHAR(64),
			user_agent TEXT,
			metadata JSONB,
			success BOOLEAN NOT NULL,
			failure_reason TEXT,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_access_audit_user_id ON access_audit_log(user_id);
		CREATE INDEX IF NOT EXISTS idx_access_audit_patient_id ON access_audit_log(patient_id);
		CREATE INDEX IF NOT EXISTS idx_access_audit_timestamp ON access_audit_log(timestamp);
		CREATE INDEX IF NOT EXISTS idx_access_audit_emergency ON access_audit_log(is_emergency_override) WHERE is_emergency_override;
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}

	return nil
}

// Insert persists a single audit entry
func (s *PostgresStore) Insert(ctx context.Context, entry *types.AuditLogEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO access_audit_log (
			id, user_id, staff_id, action, resource, resource_id, patient_id,
			department, is_emergency_override, ip_address, user_agent,
			metadata, success, failure_reason, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.StaffID,
		string(entry.Action),
		entry.Resource,
		nullString(entry.ResourceID),
		nullString(entry.PatientID),
		nullString(string(entry.Department)),
		entry.IsEmergencyOverride,
		nullString(entry.IPAddress),
		nullString(entry.UserAgent),
		metadataJSON,
		entry.Success,
		nullString(entry.FailureReason),
		entry.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// Query retrieves audit entries matching the filter with a total count.
// The caller is responsible for normalizing page and limit.
func (s *PostgresStore) Query(ctx context.Context, q *types.AuditQuery) ([]*types.AuditLogEntry, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argIndex := 1

	if q.UserID != "" {
		where += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, q.UserID)
		argIndex++
	}

	if q.PatientID != "" {
		where += fmt.Sprintf(" AND patient_id = $%d", argIndex)
		args = append(args, q.PatientID)
		argIndex++
	}

	if q.Department != "" {
		where += fmt.Sprintf(" AND department = $%d", argIndex)
		args = append(args, string(q.Department))
		argIndex++
	}

	if q.Action != "" {
		where += fmt.Sprintf(" AND action = $%d", argIndex)
		args = append(args, string(q.Action))
		argIndex++
	}

	if q.EmergencyOnly {
		where += " AND is_emergency_override = TRUE"
	}

	if !q.StartTime.IsZero() {
		where += fmt.Sprintf(" AND timestamp >= $%d", argIndex)
		args = append(args, q.StartTime)
		argIndex++
	}

	if !q.EndTime.IsZero() {
		where += fmt.Sprintf(" AND timestamp <= $%d", argIndex)
		args = append(args, q.EndTime)
		argIndex++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM access_audit_log" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := selectColumns + where + " ORDER BY timestamp DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, q.Limit, (q.Page-1)*q.Limit)

	entries, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// EmergencyOverrideEntries returns all entries flagged as emergency
// override, newest first.
func (s *PostgresStore) EmergencyOverrideEntries(ctx context.Context) ([]*types.AuditLogEntry, error) {
	query := selectColumns + " WHERE is_emergency_override = TRUE ORDER BY timestamp DESC"
	return s.queryEntries(ctx, query)
}

// PatientHistory returns all entries touching a patient, newest first
func (s *PostgresStore) PatientHistory(ctx context.Context, patientID string) ([]*types.AuditLogEntry, error) {
	query := selectColumns + " WHERE patient_id = $1 ORDER BY timestamp DESC"
	return s.queryEntries(ctx, query, patientID)
}

const selectColumns = `
	SELECT id, user_id, staff_id, action, resource, resource_id, patient_id,
	       department, is_emergency_override, ip_address, user_agent,
	       metadata, success, failure_reason, timestamp
	FROM access_audit_log`

func (s *PostgresStore) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*types.AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*types.AuditLogEntry
	for rows.Next() {
		entry := &types.AuditLogEntry{}
		var resourceID, patientID, department, ipAddress, userAgent, failureReason sql.NullString
		var action string
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.StaffID,
			&action,
			&entry.Resource,
			&resourceID,
			&patientID,
			&department,
			&entry.IsEmergencyOverride,
			&ipAddress,
			&userAgent,
			&metadataJSON,
			&entry.Success,
			&failureReason,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.Action = types.AuditAction(action)
		entry.ResourceID = resourceID.String
		entry.PatientID = patientID.String
		entry.Department = types.Department(department.String)
		entry.IPAddress = ipAddress.String
		entry.UserAgent = userAgent.String
		entry.FailureReason = failureReason.String

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				s.logger.WithError(err).Warn("Failed to unmarshal audit entry metadata")
				entry.Metadata = make(map[string]interface{})
			}
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}

	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
