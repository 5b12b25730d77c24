package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/healthgrid/accessd/internal/policy"
	"github.com/healthgrid/accessd/pkg/logger"
	"github.com/healthgrid/accessd/pkg/types"
)

// MockOverrideChecker is a mock implementation of OverrideChecker
type MockOverrideChecker struct {
	mock.Mock
}

func (m *MockOverrideChecker) HasActiveOverride(ctx context.Context, userID, patientID string) (bool, error) {
	args := m.Called(ctx, userID, patientID)
	return args.Bool(0), args.Error(1)
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

func setupGuard() (*Guard, *MockOverrideChecker, *MockAuditLogger) {
	overrides := &MockOverrideChecker{}
	auditLog := &MockAuditLogger{}
	g := New(policy.New(), overrides, auditLog, logger.New("error"))
	return g, overrides, auditLog
}

func nurseUser() *types.User {
	return &types.User{
		ID:         "n-1",
		StaffID:    "N-100",
		Roles:      []types.Role{types.RoleNurse},
		Department: types.DepartmentGeneral,
	}
}

func lastAuditEntry(auditLog *MockAuditLogger) *types.AuditLogEntry {
	return auditLog.Calls[len(auditLog.Calls)-1].Arguments.Get(1).(*types.AuditLogEntry)
}

func TestAuthorize_NoPrincipal(t *testing.T) {
	g, _, auditLog := setupGuard()

	_, err := g.Authorize(context.Background(), nil, types.Requirement{}, "", ClientInfo{})

	accessErr, ok := types.AsAccessError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrorTypeUnauthenticated, accessErr.Type)

	// The one path with no actor to attribute writes no audit entry
	auditLog.AssertNotCalled(t, "Log", mock.Anything, mock.Anything)
}

func TestAuthorize_InsufficientRole(t *testing.T) {
	g, _, auditLog := setupGuard()
	auditLog.On("Log", mock.Anything, mock.Anything).Return(&types.AuditLogEntry{}, nil)

	_, err := g.Authorize(context.Background(), nurseUser(), types.Requirement{
		RequiredRoles: []types.Role{types.RoleAdmin},
		AuditResource: "staff_roster",
	}, "", ClientInfo{IPAddress: "10.0.0.1"})

	accessErr, ok := types.AsAccessError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrorTypeForbidden, accessErr.Type)
	assert.Equal(t, ReasonInsufficientRole, accessErr.Message)

	auditLog.AssertNumberOfCalls(t, "Log", 1)
	entry := lastAuditEntry(auditLog)
	assert.False(t, entry.Success)
	assert.Equal(t, ReasonInsufficientRole, entry.FailureReason)
	assert.Equal(t, types.AuditActionPermissionDenied, entry.Action)
	assert.Equal(t, "staff_roster", entry.Resource)
	assert.Equal(t, "10.0.0.1", entry.IPAddress)
}

func TestAuthorize_InsufficientPermissions(t *testing.T) {
	g, _, auditLog := setupGuard()
	auditLog.On("Log", mock.Anything, mock.Anything).Return(&types.AuditLogEntry{}, nil)

	_, err := g.Authorize(context.Background(), nurseUser(), types.Requirement{
		RequiredPermissions: []types.Permission{types.PermissionEmergencyOverride},
		AuditResource:       "override",
	}, "", ClientInfo{})

	accessErr, ok := types.AsAccessError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonInsufficientPermissions, accessErr.Message)

	entry := lastAuditEntry(auditLog)
	assert.False(t, entry.Success)
	assert.NotEmpty(t, entry.FailureReason)
}

func TestAuthorize_GrantWithNoRequirements(t *testing.T) {
	g, _, auditLog := setupGuard()
	auditLog.On("Log", mock.Anything, mock.Anything).Return(&types.AuditLogEntry{}, nil)

	decision, err := g.Authorize(context.Background(), nurseUser(), types.Requirement{
		AuditResource: "patient_basic",
	}, "P1", ClientInfo{})
	require.NoError(t, err)

	assert.True(t, decision.Allowed)
	assert.False(t, decision.EmergencyOverride)

	auditLog.AssertNumberOfCalls(t, "Log", 1)
	entry := lastAuditEntry(auditLog)
	assert.True(t, entry.Success)
	assert.False(t, entry.IsEmergencyOverride)
	assert.Equal(t, "P1", entry.PatientID)
}

func TestAuthorize_DepartmentDenied_NoOverrideFlag(t *testing.T) {
	g, overrides, auditLog := setupGuard()
	auditLog.On("Log", mock.Anything, mock.Anything).Return(&types.AuditLogEntry{}, nil)

	_, err := g.Authorize(context.Background(), nurseUser(), types.Requirement{
		RequiredDepartments: []types.Department{types.DepartmentSurgery},
		AuditResource:       "surgical_record",
	}, "P1", ClientInfo{})

	accessErr, ok := types.AsAccessError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonDepartmentAccessDenied, accessErr.Message)

	// Without the override flag the registry is never consulted
	overrides.AssertNotCalled(t, "HasActiveOverride", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthorize_DepartmentDenied_NoPatientID(t *testing.T) {
	g, overrides, auditLog := setupGuard()
	auditLog.On("Log", mock.Anything, mock.Anything).Return(&types.AuditLogEntry{}, nil)

	_, err := g.Authorize(context.Background(), nurseUser(), types.Requirement{
		RequiredDepartments:    []types.Department{types.DepartmentSurgery},
		AllowEmergencyOverride: true,
		AuditResource:          "surgical_record",
	}, "", ClientInfo{})

	require.Error(t, err)
	overrides.AssertNotCalled(t, "HasActiveOverride", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthorize_SpecialtyGate(t *testing.T) {
	g, _, auditLog := setupGuard()
	auditLog.On("Log", mock.Anything, mock.Anything).Return(&types.AuditLogEntry{}, nil)

	doctor := &types.User{
		ID:          "doc-1",
		StaffID:     "D-100",
		Roles:       []types.Role{types.RoleDoctor},
		Department:  types.DepartmentGeneral,
		Specialties: []types.Specialty{types.SpecialtyGeneralPractitioner},
	}

	_, err := g.Authorize(context.Background(), doctor, types.Requirement{
		RequiredSpecialties: []types.Specialty{types.SpecialtySurgeon},
		AuditResource:       "surgical_plan",
	}, "P1", ClientInfo{})

	accessErr, ok := types.AsAccessError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonSpecialtyNotPresent, accessErr.Message)

	entry := lastAuditEntry(auditLog)
	assert.Equal(t, ReasonSpecialtyNotPresent, entry.FailureReason)
}

func TestAuthorize_SpecialtyGateSkipsNonDoctors(t *testing.T) {
	g, _, auditLog := setupGuard()
	auditLog.On("Log", mock.Anything, mock.Anything).Return(&types.AuditLogEntry{}, nil)

	decision, err := g.Authorize(context.Background(), nurseUser(), types.Requirement{
		RequiredSpecialties: []types.Specialty{types.SpecialtySurgeon},
		AuditResource:       "surgical_plan",
	}, "P1", ClientInfo{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestAuthorize_AuditFailureAbortsGrant(t *testing.T) {
	g, _, auditLog := setupGuard()
	auditLog.On("Log", mock.Anything, mock.Anything).
		Return(nil, types.NewAuditWriteError(assert.AnError))

	_, err := g.Authorize(context.Background(), nurseUser(), types.Requirement{
		AuditResource: "patient_basic",
	}, "P1", ClientInfo{})

	accessErr, ok := types.AsAccessError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrorTypeAuditWriteFailure, accessErr.Type)
}

// The break-glass scenario: a nurse from GENERAL is denied SURGERY access,
// an override is activated for the patient, and the retried request is then
// granted with the override context attached.
func TestAuthorize_EmergencyOverrideScenario(t *testing.T) {
	g, overrides, auditLog := setupGuard()
	auditLog.On("Log", mock.Anything, mock.Anything).Return(&types.AuditLogEntry{}, nil)

	nurse := nurseUser()
	req := types.Requirement{
		RequiredDepartments:    []types.Department{types.DepartmentSurgery},
		AllowEmergencyOverride: true,
		AuditResource:          "surgical_record",
	}

	// No active override: denied with the department reason
	overrides.On("HasActiveOverride", mock.Anything, "n-1", "P1").Return(false, nil).Once()

	_, err := g.Authorize(context.Background(), nurse, req, "P1", ClientInfo{})
	accessErr, ok := types.AsAccessError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonDepartmentAccessDenied, accessErr.Message)

	denial := lastAuditEntry(auditLog)
	assert.False(t, denial.Success)
	assert.Equal(t, ReasonDepartmentAccessDenied, denial.FailureReason)

	// An override has since been activated for (nurse, P1): granted
	overrides.On("HasActiveOverride", mock.Anything, "n-1", "P1").Return(true, nil).Once()

	decision, err := g.Authorize(context.Background(), nurse, req, "P1", ClientInfo{})
	require.NoError(t, err)

	assert.True(t, decision.Allowed)
	assert.True(t, decision.EmergencyOverride)
	require.NotNil(t, decision.OverrideContext)
	assert.Equal(t, "n-1", decision.OverrideContext.UserID)
	assert.Equal(t, "P1", decision.OverrideContext.PatientID)

	grant := lastAuditEntry(auditLog)
	assert.True(t, grant.Success)
	assert.True(t, grant.IsEmergencyOverride)

	// Exactly one audit entry per invocation
	auditLog.AssertNumberOfCalls(t, "Log", 2)
}
