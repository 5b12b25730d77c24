package override

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/healthgrid/accessd/internal/policy"
	"github.com/healthgrid/accessd/pkg/logger"
	"github.com/healthgrid/accessd/pkg/types"
)

// MockStore is a mock implementation of Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Insert(ctx context.Context, o *types.EmergencyOverride) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockStore) FindActive(ctx context.Context, userID, patientID string) (*types.EmergencyOverride, error) {
	args := m.Called(ctx, userID, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.EmergencyOverride), args.Error(1)
}

func (m *MockStore) FindByID(ctx context.Context, id string) (*types.EmergencyOverride, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.EmergencyOverride), args.Error(1)
}

func (m *MockStore) MarkInactive(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) DeactivateFor(ctx context.Context, userID, patientID string) error {
	args := m.Called(ctx, userID, patientID)
	return args.Error(0)
}

func (m *MockStore) PendingReviews(ctx context.Context) ([]*types.EmergencyOverride, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.EmergencyOverride), args.Error(1)
}

func (m *MockStore) SetReview(ctx context.Context, id, reviewerID, notes string, reviewedAt time.Time) error {
	args := m.Called(ctx, id, reviewerID, notes, reviewedAt)
	return args.Error(0)
}

// MockAuditLogger is a mock implementation of AuditLogger
type MockAuditLogger struct {
	mock.Mock
}

func (m *MockAuditLogger) Log(ctx context.Context, entry *types.AuditLogEntry) (*types.AuditLogEntry, error) {
	args := m.Called(ctx, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.AuditLogEntry), args.Error(1)
}

func setupRegistry() (*Registry, *MockStore, *MockAuditLogger) {
	store := &MockStore{}
	auditLog := &MockAuditLogger{}
	registry := NewRegistry(store, policy.New(), auditLog, logger.New("error"), DefaultTTL)
	return registry, store, auditLog
}

func doctorUser() *types.User {
	return &types.User{
		ID:         "doc-1",
		StaffID:    "D-100",
		Roles:      []types.Role{types.RoleDoctor},
		Department: types.DepartmentGeneral,
	}
}

func TestActivate_Success(t *testing.T) {
	registry, store, auditLog := setupRegistry()
	user := doctorUser()
	reason := "patient unresponsive, treating physician unreachable"

	store.On("DeactivateFor", mock.Anything, "doc-1", "P1").Return(nil)
	store.On("Insert", mock.Anything, mock.AnythingOfType("*types.EmergencyOverride")).Return(nil)
	auditLog.On("Log", mock.Anything, mock.AnythingOfType("*types.AuditLogEntry")).
		Return(&types.AuditLogEntry{}, nil)

	before := time.Now()
	ctx, err := registry.Activate(context.Background(), user, "P1", reason)
	require.NoError(t, err)

	assert.Equal(t, "doc-1", ctx.UserID)
	assert.Equal(t, "P1", ctx.PatientID)
	assert.Equal(t, reason, ctx.Reason)
	assert.WithinDuration(t, before.Add(DefaultTTL), ctx.ExpiresAt, 2*time.Second)

	// The created record is active with the fixed TTL
	inserted := store.Calls[1].Arguments.Get(1).(*types.EmergencyOverride)
	assert.True(t, inserted.IsActive)
	assert.Equal(t, inserted.CreatedAt.Add(DefaultTTL), inserted.ExpiresAt)

	// The activation is audited with the override metadata
	entry := auditLog.Calls[0].Arguments.Get(1).(*types.AuditLogEntry)
	assert.Equal(t, types.AuditActionEmergencyOverride, entry.Action)
	assert.True(t, entry.IsEmergencyOverride)
	assert.True(t, entry.Success)
	assert.Equal(t, reason, entry.Metadata["reason"])
	assert.Equal(t, inserted.ID, entry.Metadata["override_id"])
}

func TestActivate_ShortReasonRejected(t *testing.T) {
	registry, store, _ := setupRegistry()

	_, err := registry.Activate(context.Background(), doctorUser(), "P1", "too short")

	accessErr, ok := types.AsAccessError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrorTypeBadRequest, accessErr.Type)
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestActivate_PaddedReasonStillRejected(t *testing.T) {
	registry, store, _ := setupRegistry()

	// 9 meaningful characters padded with whitespace
	_, err := registry.Activate(context.Background(), doctorUser(), "P1", "   urgent!!   ")

	accessErr, ok := types.AsAccessError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrorTypeBadRequest, accessErr.Type)
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestActivate_NonPrivilegedRoleRejected(t *testing.T) {
	registry, store, _ := setupRegistry()
	nurse := &types.User{
		ID:         "n-1",
		StaffID:    "N-100",
		Roles:      []types.Role{types.RoleNurse},
		Department: types.DepartmentGeneral,
	}

	_, err := registry.Activate(context.Background(), nurse, "P1", "patient unresponsive, treating physician unreachable")

	accessErr, ok := types.AsAccessError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrorTypeForbidden, accessErr.Type)
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestActivate_SupersedesPriorActiveRecord(t *testing.T) {
	registry, store, auditLog := setupRegistry()
	user := doctorUser()

	store.On("DeactivateFor", mock.Anything, "doc-1", "P1").Return(nil)
	store.On("Insert", mock.Anything, mock.Anything).Return(nil)
	auditLog.On("Log", mock.Anything, mock.Anything).Return(&types.AuditLogEntry{}, nil)

	_, err := registry.Activate(context.Background(), user, "P1", "patient unresponsive, treating physician unreachable")
	require.NoError(t, err)

	store.AssertCalled(t, "DeactivateFor", mock.Anything, "doc-1", "P1")
}

func TestActivate_AuditFailureAborts(t *testing.T) {
	registry, store, auditLog := setupRegistry()

	store.On("DeactivateFor", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("Insert", mock.Anything, mock.Anything).Return(nil)
	auditLog.On("Log", mock.Anything, mock.Anything).
		Return(nil, types.NewAuditWriteError(assert.AnError))

	_, err := registry.Activate(context.Background(), doctorUser(), "P1", "patient unresponsive, treating physician unreachable")

	accessErr, ok := types.AsAccessError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrorTypeAuditWriteFailure, accessErr.Type)
}

func TestHasActiveOverride_NoRecord(t *testing.T) {
	registry, store, _ := setupRegistry()

	store.On("FindActive", mock.Anything, "doc-1", "P1").Return(nil, nil)

	active, err := registry.HasActiveOverride(context.Background(), "doc-1", "P1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestHasActiveOverride_WithinTTL(t *testing.T) {
	registry, store, _ := setupRegistry()

	now := time.Now()
	registry.now = func() time.Time { return now.Add(time.Second) }

	store.On("FindActive", mock.Anything, "doc-1", "P1").Return(&types.EmergencyOverride{
		ID:        "ov-1",
		UserID:    "doc-1",
		PatientID: "P1",
		IsActive:  true,
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultTTL),
	}, nil)

	active, err := registry.HasActiveOverride(context.Background(), "doc-1", "P1")
	require.NoError(t, err)
	assert.True(t, active)
	store.AssertNotCalled(t, "MarkInactive", mock.Anything, mock.Anything)
}

func TestHasActiveOverride_ExpiredRecordIsFlipped(t *testing.T) {
	registry, store, _ := setupRegistry()

	now := time.Now()
	registry.now = func() time.Time { return now.Add(DefaultTTL + time.Second) }

	store.On("FindActive", mock.Anything, "doc-1", "P1").Return(&types.EmergencyOverride{
		ID:        "ov-1",
		UserID:    "doc-1",
		PatientID: "P1",
		IsActive:  true,
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultTTL),
	}, nil)
	store.On("MarkInactive", mock.Anything, "ov-1").Return(nil)

	active, err := registry.HasActiveOverride(context.Background(), "doc-1", "P1")
	require.NoError(t, err)
	assert.False(t, active)
	store.AssertCalled(t, "MarkInactive", mock.Anything, "ov-1")
}

func TestReview_UnknownID(t *testing.T) {
	registry, store, _ := setupRegistry()

	store.On("FindByID", mock.Anything, "missing").Return(nil, nil)

	_, err := registry.Review(context.Background(), "missing", "admin-1", "looks justified")

	accessErr, ok := types.AsAccessError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrorTypeNotFound, accessErr.Type)
}

func TestReview_SetsFieldsAndKeepsActive(t *testing.T) {
	registry, store, auditLog := setupRegistry()

	record := &types.EmergencyOverride{
		ID:        "ov-1",
		UserID:    "doc-1",
		PatientID: "P1",
		IsActive:  true,
	}
	store.On("FindByID", mock.Anything, "ov-1").Return(record, nil)
	store.On("SetReview", mock.Anything, "ov-1", "admin-1", "looks justified", mock.AnythingOfType("time.Time")).Return(nil)
	auditLog.On("Log", mock.Anything, mock.Anything).Return(&types.AuditLogEntry{}, nil)

	reviewed, err := registry.Review(context.Background(), "ov-1", "admin-1", "looks justified")
	require.NoError(t, err)

	assert.Equal(t, "admin-1", reviewed.ReviewedBy)
	assert.NotNil(t, reviewed.ReviewedAt)
	assert.Equal(t, "looks justified", reviewed.ReviewNotes)
	assert.True(t, reviewed.IsActive)

	// A distinct audit entry is written for the review
	entry := auditLog.Calls[0].Arguments.Get(1).(*types.AuditLogEntry)
	assert.Equal(t, types.AuditActionEmergencyOverrideReviewed, entry.Action)
	assert.False(t, entry.IsEmergencyOverride)
	assert.Equal(t, "doc-1", entry.Metadata["original_user_id"])
}

func TestDeactivate(t *testing.T) {
	registry, store, _ := setupRegistry()

	store.On("DeactivateFor", mock.Anything, "doc-1", "P1").Return(nil)

	err := registry.Deactivate(context.Background(), "doc-1", "P1")
	require.NoError(t, err)
	store.AssertCalled(t, "DeactivateFor", mock.Anything, "doc-1", "P1")
}

func TestPendingReviews(t *testing.T) {
	registry, store, _ := setupRegistry()

	records := []*types.EmergencyOverride{
		{ID: "ov-2", IsActive: true},
		{ID: "ov-1", IsActive: true},
	}
	store.On("PendingReviews", mock.Anything).Return(records, nil)

	pending, err := registry.PendingReviews(context.Background())
	require.NoError(t, err)
	assert.Equal(t, records, pending)
}
