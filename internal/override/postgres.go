package override

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/healthgrid/accessd/pkg/database"
	"github.com/healthgrid/accessd/pkg/logger"
	"github.com/healthgrid/accessd/pkg/types"
)

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db     *database.DB
	logger *logger.Logger
}

// NewPostgresStore creates a new PostgreSQL-backed override store and
// ensures the override table exists.
func NewPostgresStore(db *database.DB, log *logger.Logger) (*PostgresStore, error) {
	store := &PostgresStore{
		db:     db,
		logger: log,
	}

	if err := store.initializeTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize override tables: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) initializeTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS emergency_overrides (
			id UUID PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			staff_id VARCHAR(255) NOT NULL,
			patient_id VARCHAR(255) NOT NULL,
			reason TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			reviewed_by VARCHAR(255),
			reviewed_at TIMESTAMP WITH TIME ZONE,
			review_notes TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_overrides_user_patient ON emergency_overrides(user_id, patient_id) WHERE is_active;
		CREATE INDEX IF NOT EXISTS idx_overrides_pending_review ON emergency_overrides(created_at) WHERE is_active AND reviewed_by IS NULL;
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create override schema: %w", err)
	}

	return nil
}

// Insert persists a new override record
func (s *PostgresStore) Insert(ctx context.Context, o *types.EmergencyOverride) error {
	query := `
		INSERT INTO emergency_overrides (
			id, user_id, staff_id, patient_id, reason, is_active, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		o.ID,
		o.UserID,
		o.StaffID,
		o.PatientID,
		o.Reason,
		o.IsActive,
		o.CreatedAt,
		o.ExpiresAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert emergency override: %w", err)
	}

	return nil
}

// FindActive returns the active record for the pair, or nil when none exists
func (s *PostgresStore) FindActive(ctx context.Context, userID, patientID string) (*types.EmergencyOverride, error) {
	query := selectColumns + `
		WHERE user_id = $1 AND patient_id = $2 AND is_active
		ORDER BY created_at DESC
		LIMIT 1`

	record, err := s.scanOne(s.db.QueryRowContext(ctx, query, userID, patientID))
	if err != nil {
		return nil, fmt.Errorf("failed to find active override: %w", err)
	}
	return record, nil
}

// FindByID returns the record with the given id, or nil when unknown
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*types.EmergencyOverride, error) {
	query := selectColumns + " WHERE id = $1"

	record, err := s.scanOne(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to find override by id: %w", err)
	}
	return record, nil
}

// MarkInactive flips a single record inactive, used by lazy expiry
func (s *PostgresStore) MarkInactive(ctx context.Context, id string) error {
	query := `UPDATE emergency_overrides SET is_active = FALSE WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark override inactive: %w", err)
	}
	return nil
}

// DeactivateFor flips every active record for the pair inactive
func (s *PostgresStore) DeactivateFor(ctx context.Context, userID, patientID string) error {
	query := `UPDATE emergency_overrides SET is_active = FALSE WHERE user_id = $1 AND patient_id = $2 AND is_active`

	if _, err := s.db.ExecContext(ctx, query, userID, patientID); err != nil {
		return fmt.Errorf("failed to deactivate overrides: %w", err)
	}
	return nil
}

// PendingReviews returns active, unreviewed records, newest first
func (s *PostgresStore) PendingReviews(ctx context.Context) ([]*types.EmergencyOverride, error) {
	query := selectColumns + `
		WHERE is_active AND reviewed_by IS NULL
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending reviews: %w", err)
	}
	defer rows.Close()

	var records []*types.EmergencyOverride
	for rows.Next() {
		record, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending reviews: %w", err)
	}

	return records, nil
}

// SetReview attaches review fields to a record without touching is_active
func (s *PostgresStore) SetReview(ctx context.Context, id, reviewerID, notes string, reviewedAt time.Time) error {
	query := `
		UPDATE emergency_overrides
		SET reviewed_by = $2, reviewed_at = $3, review_notes = $4
		WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, id, reviewerID, reviewedAt, notes); err != nil {
		return fmt.Errorf("failed to set override review: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, user_id, staff_id, patient_id, reason, is_active,
	       created_at, expires_at, reviewed_by, reviewed_at, review_notes
	FROM emergency_overrides`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) scanOne(row *sql.Row) (*types.EmergencyOverride, error) {
	record, err := scan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return record, err
}

func (s *PostgresStore) scanRow(rows *sql.Rows) (*types.EmergencyOverride, error) {
	return scan(rows)
}

func scan(row rowScanner) (*types.EmergencyOverride, error) {
	record := &types.EmergencyOverride{}
	var reviewedBy, reviewNotes sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.StaffID,
		&record.PatientID,
		&record.Reason,
		&record.IsActive,
		&record.CreatedAt,
		&record.ExpiresAt,
		&reviewedBy,
		&reviewedAt,
		&reviewNotes,
	)
	if err != nil {
		return nil, err
	}

	record.ReviewedBy = reviewedBy.String
	record.ReviewNotes = reviewNotes.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		record.ReviewedAt = &t
	}

	return record, nil
}
