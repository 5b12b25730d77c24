package guard

import (
	"context"

	"github.com/healthgrid/accessd/internal/policy"
	"github.com/healthgrid/accessd/pkg/logger"
	"github.com/healthgrid/accessd/pkg/monitoring"
	"github.com/healthgrid/accessd/pkg/types"
)

// Denial reasons carried on audit entries and Forbidden errors
const (
	ReasonInsufficientRole        = "Insufficient role"
	ReasonInsufficientPermissions = "Insufficient permissions"
	ReasonDepartmentAccessDenied  = "Department access denied"
	ReasonSpecialtyNotPresent     = "Required specialty not present"
)

// OverrideChecker is the subset of the override registry the guard needs
type OverrideChecker interface {
	HasActiveOverride(ctx context.Context, userID, patientID string) (bool, error)
}

// AuditLogger is the subset of the audit sink the guard needs
type AuditLogger interface {
	Log(ctx context.Context, entry *types.AuditLogEntry) (*types.AuditLogEntry, error)
}

// ClientInfo carries caller network details for audit correlation
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// Decision is the result of a granted access check
type Decision struct {
	Allowed           bool                   `json:"allowed"`
	EmergencyOverride bool                   `json:"emergency_override"`
	OverrideContext   *types.OverrideContext `json:"override_context,omitempty"`
}

// Guard is the decision point invoked per protected operation. It composes
// the permission policy and the override registry, and writes exactly one
// audit entry for every terminal path that has an attributable actor.
type Guard struct {
	policy    *policy.Policy
	overrides OverrideChecker
	audit     AuditLogger
	logger    *logger.Logger
}

// New creates a new access guard
func New(pol *policy.Policy, overrides OverrideChecker, audit AuditLogger, log *logger.Logger) *Guard {
	return &Guard{
		policy:    pol,
		overrides: overrides,
		audit:     audit,
		logger:    log,
	}
}

// Authorize evaluates the requirement set against the principal, fail-fast:
// the first failing check wins. Every terminal path writes exactly one audit
// entry before returning, except the unauthenticated path, which has no
// actor to attribute. A failed audit write aborts the decision even when the
// authorization check itself passed.
func (g *Guard) Authorize(ctx context.Context, user *types.User, req types.Requirement, patientID string, client ClientInfo) (*Decision, error) {
	if user == nil {
		monitoring.RecordAccessDecision(false, "unauthenticated")
		return nil, types.NewUnauthenticatedError("no authenticated user found")
	}

	resource := req.AuditResource
	if resource == "" {
		resource = "unknown"
	}

	// Audit writes outlive caller cancellation: once a decision is made the
	// record must land regardless of whether the caller is still waiting.
	auditCtx := context.WithoutCancel(ctx)

	// Check roles
	if len(req.RequiredRoles) > 0 {
		hasRole := false
		for _, role := range req.RequiredRoles {
			if user.HasRole(role) {
				hasRole = true
				break
			}
		}
		if !hasRole {
			return nil, g.deny(auditCtx, user, resource, ReasonInsufficientRole, types.ErrCodeInsufficientRole, patientID, client)
		}
	}

	// Check permissions
	if len(req.RequiredPermissions) > 0 {
		if !g.policy.HasAllPermissions(user, req.RequiredPermissions) {
			return nil, g.deny(auditCtx, user, resource, ReasonInsufficientPermissions, types.ErrCodeInsufficientPermissions, patientID, client)
		}
	}

	// Check department access
	if len(req.RequiredDepartments) > 0 {
		canAccess := false
		for _, dept := range req.RequiredDepartments {
			if g.policy.CanAccessDepartment(user, dept) {
				canAccess = true
				break
			}
		}

		if !canAccess {
			// An active break-glass grant for this patient substitutes for
			// department access when the operation allows it
			if req.AllowEmergencyOverride && patientID != "" {
				active, err := g.overrides.HasActiveOverride(ctx, user.ID, patientID)
				if err != nil {
					return nil, err
				}
				if active {
					if err := g.logAccess(auditCtx, user, resource, patientID, client, true); err != nil {
						return nil, err
					}
					monitoring.RecordAccessDecision(true, "")
					monitoring.RecordOverrideBackedGrant()
					return &Decision{
						Allowed:           true,
						EmergencyOverride: true,
						OverrideContext: &types.OverrideContext{
							UserID:    user.ID,
							PatientID: patientID,
						},
					}, nil
				}
			}

			return nil, g.deny(auditCtx, user, resource, ReasonDepartmentAccessDenied, types.ErrCodeDepartmentAccessDenied, patientID, client)
		}
	}

	// Check specialty. Non-doctors already satisfied this via role and
	// department checks.
	if len(req.RequiredSpecialties) > 0 && user.HasRole(types.RoleDoctor) {
		hasSpecialty := false
		for _, specialty := range req.RequiredSpecialties {
			if user.HasSpecialty(specialty) {
				hasSpecialty = true
				break
			}
		}
		if !hasSpecialty {
			return nil, g.deny(auditCtx, user, resource, ReasonSpecialtyNotPresent, types.ErrCodeSpecialtyRequired, patientID, client)
		}
	}

	if err := g.logAccess(auditCtx, user, resource, patientID, client, false); err != nil {
		return nil, err
	}

	monitoring.RecordAccessDecision(true, "")
	return &Decision{Allowed: true}, nil
}

// logAccess writes the success audit entry for a granted decision
func (g *Guard) logAccess(ctx context.Context, user *types.User, resource, patientID string, client ClientInfo, isOverride bool) error {
	_, err := g.audit.Log(ctx, &types.AuditLogEntry{
		UserID:              user.ID,
		StaffID:             user.StaffID,
		Action:              types.AuditActionRead,
		Resource:            resource,
		PatientID:           patientID,
		Department:          user.Department,
		IsEmergencyOverride: isOverride,
		IPAddress:           client.IPAddress,
		UserAgent:           client.UserAgent,
		Success:             true,
	})
	return err
}

// deny writes the denial audit entry and returns the categorized Forbidden
// error. When the audit write itself fails, that failure takes precedence.
func (g *Guard) deny(ctx context.Context, user *types.User, resource, reason, code, patientID string, client ClientInfo) error {
	_, err := g.audit.Log(ctx, &types.AuditLogEntry{
		UserID:              user.ID,
		StaffID:             user.StaffID,
		Action:              types.AuditActionPermissionDenied,
		Resource:            resource,
		PatientID:           patientID,
		Department:          user.Department,
		IsEmergencyOverride: false,
		IPAddress:           client.IPAddress,
		UserAgent:           client.UserAgent,
		Success:             false,
		FailureReason:       reason,
	})
	if err != nil {
		return err
	}

	monitoring.RecordAccessDecision(false, reason)
	g.logger.PHIAccess(ctx, user.ID, patientID, string(types.AuditActionPermissionDenied), resource, false, map[string]interface{}{
		"reason": reason,
	})

	return types.NewForbiddenError(code, reason).WithDetails(map[string]interface{}{
		"resource":   resource,
		"patient_id": patientID,
	})
}
