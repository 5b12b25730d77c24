package policy

import (
	"github.com/healthgrid/accessd/pkg/types"
)

// Policy is a stateless evaluator of role/permission and department access
// rules. Both lookup tables are built once at construction and never mutated
// afterwards, so no synchronization is needed around them.
type Policy struct {
	rolePermissions    map[types.Role][]types.Permission
	departmentPolicies map[types.Department]*types.DepartmentPolicy
}

// New creates a policy with the fixed role/permission matrix and department
// access table.
func New() *Policy {
	return &Policy{
		rolePermissions:    buildRolePermissions(),
		departmentPolicies: buildDepartmentPolicies(),
	}
}

func buildRolePermissions() map[types.Role][]types.Permission {
	return map[types.Role][]types.Permission{
		types.RoleAdmin: {
			types.PermissionReadPatientBasic,
			types.PermissionReadPatientFull,
			types.PermissionWritePatientData,
			types.PermissionDeletePatientData,
			types.PermissionReadMedicalRecords,
			types.PermissionWriteMedicalRecords,
			types.PermissionReadLabResults,
			types.PermissionWriteLabResults,
			types.PermissionReadPrescriptions,
			types.PermissionWritePrescriptions,
			types.PermissionAccessAnyDepartment,
			types.PermissionManageStaff,
			types.PermissionViewAuditLogs,
			types.PermissionManageSystem,
			types.PermissionEmergencyOverride,
		},
		types.RoleDoctor: {
			types.PermissionReadPatientBasic,
			types.PermissionReadPatientFull,
			types.PermissionWritePatientData,
			types.PermissionReadMedicalRecords,
			types.PermissionWriteMedicalRecords,
			types.PermissionReadLabResults,
			types.PermissionReadPrescriptions,
			types.PermissionWritePrescriptions,
			types.PermissionAccessOwnDepartment,
			types.PermissionEmergencyOverride,
		},
		types.RoleNurse: {
			types.PermissionReadPatientBasic,
			types.PermissionReadPatientFull,
			types.PermissionWritePatientData,
			types.PermissionReadMedicalRecords,
			types.PermissionWriteMedicalRecords,
			types.PermissionReadLabResults,
			types.PermissionReadPrescriptions,
			types.PermissionAccessOwnDepartment,
		},
		types.RolePharmacist: {
			types.PermissionReadPatientBasic,
			types.PermissionReadPrescriptions,
			types.PermissionWritePrescriptions,
			types.PermissionDispenseMedications,
			types.PermissionAccessOwnDepartment,
		},
		types.RoleLabTechnician: {
			types.PermissionReadPatientBasic,
			types.PermissionReadLabResults,
			types.PermissionWriteLabResults,
			types.PermissionAccessOwnDepartment,
		},
	}
}

func buildDepartmentPolicies() map[types.Department]*types.DepartmentPolicy {
	policies := []*types.DepartmentPolicy{
		{
			Department:          types.DepartmentCardiology,
			AllowedRoles:        []types.Role{types.RoleDoctor, types.RoleNurse, types.RoleAdmin},
			RequiredSpecialties: []types.Specialty{types.SpecialtyCardiologist},
		},
		{
			Department:          types.DepartmentSurgery,
			AllowedRoles:        []types.Role{types.RoleDoctor, types.RoleNurse, types.RoleAdmin},
			RequiredSpecialties: []types.Specialty{types.SpecialtySurgeon},
		},
		{
			Department: types.DepartmentEmergency,
			AllowedRoles: []types.Role{
				types.RoleDoctor,
				types.RoleNurse,
				types.RoleAdmin,
				types.RolePharmacist,
				types.RoleLabTechnician,
			},
		},
		{
			Department:   types.DepartmentPharmacy,
			AllowedRoles: []types.Role{types.RolePharmacist, types.RoleAdmin, types.RoleDoctor},
		},
		{
			Department:   types.DepartmentLaboratory,
			AllowedRoles: []types.Role{types.RoleLabTechnician, types.RoleAdmin, types.RoleDoctor},
		},
		{
			Department:          types.DepartmentPediatrics,
			AllowedRoles:        []types.Role{types.RoleDoctor, types.RoleNurse, types.RoleAdmin},
			RequiredSpecialties: []types.Specialty{types.SpecialtyPediatrician},
		},
		{
			Department:          types.DepartmentOncology,
			AllowedRoles:        []types.Role{types.RoleDoctor, types.RoleNurse, types.RoleAdmin},
			RequiredSpecialties: []types.Specialty{types.SpecialtyOncologist},
		},
		{
			Department:          types.DepartmentNeurology,
			AllowedRoles:        []types.Role{types.RoleDoctor, types.RoleNurse, types.RoleAdmin},
			RequiredSpecialties: []types.Specialty{types.SpecialtyNeurologist},
		},
		{
			Department:          types.DepartmentRadiology,
			AllowedRoles:        []types.Role{types.RoleDoctor, types.RoleAdmin},
			RequiredSpecialties: []types.Specialty{types.SpecialtyRadiologist},
		},
		{
			Department: types.DepartmentGeneral,
			AllowedRoles: []types.Role{
				types.RoleDoctor,
				types.RoleNurse,
				types.RoleAdmin,
				types.RolePharmacist,
				types.RoleLabTechnician,
			},
		},
	}

	table := make(map[types.Department]*types.DepartmentPolicy, len(policies))
	for _, p := range policies {
		table[p.Department] = p
	}
	return table
}

// PermissionsForRoles returns the deduplicated union of the per-role
// permission sets. Unknown roles contribute nothing.
func (p *Policy) PermissionsForRoles(roles []types.Role) []types.Permission {
	seen := make(map[types.Permission]struct{})
	var permissions []types.Permission
	for _, role := range roles {
		for _, perm := range p.rolePermissions[role] {
			if _, ok := seen[perm]; ok {
				continue
			}
			seen[perm] = struct{}{}
			permissions = append(permissions, perm)
		}
	}
	return permissions
}

// HasPermission reports whether the user's roles grant the permission
func (p *Policy) HasPermission(user *types.User, permission types.Permission) bool {
	for _, role := range user.Roles {
		for _, perm := range p.rolePermissions[role] {
			if perm == permission {
				return true
			}
		}
	}
	return false
}

// HasAllPermissions reports whether the user's roles grant every permission
func (p *Policy) HasAllPermissions(user *types.User, permissions []types.Permission) bool {
	for _, permission := range permissions {
		if !p.HasPermission(user, permission) {
			return false
		}
	}
	return true
}

// CanAccessDepartment evaluates department access for a user. Unknown
// departments deny (fail-closed); the emergency department stays reachable
// to every care-capable role regardless of home department.
func (p *Policy) CanAccessDepartment(user *types.User, target types.Department) bool {
	// Admin with access_any_department bypasses department restrictions
	if p.HasPermission(user, types.PermissionAccessAnyDepartment) {
		return true
	}

	// Emergency department is always accessible to staff holding any of its
	// allowed roles
	if target == types.DepartmentEmergency {
		emergency := p.departmentPolicies[types.DepartmentEmergency]
		for _, role := range user.Roles {
			if roleAllowed(emergency.AllowedRoles, role) {
				return true
			}
		}
		return false
	}

	policy, ok := p.departmentPolicies[target]
	if !ok {
		return false
	}

	hasRequiredRole := false
	for _, role := range user.Roles {
		if roleAllowed(policy.AllowedRoles, role) {
			hasRequiredRole = true
			break
		}
	}
	if !hasRequiredRole {
		return false
	}

	// If a specialty is required and the user is a doctor, check specialty.
	// A doctor assigned to the department is not blocked by a missing
	// specialty tag.
	if len(policy.RequiredSpecialties) > 0 && user.HasRole(types.RoleDoctor) {
		for _, required := range policy.RequiredSpecialties {
			if user.HasSpecialty(required) {
				return true
			}
		}
		return user.Department == target
	}

	return true
}

// DepartmentPolicy returns the configured policy for a department, if any
func (p *Policy) DepartmentPolicy(department types.Department) (*types.DepartmentPolicy, bool) {
	policy, ok := p.departmentPolicies[department]
	return policy, ok
}

// RolePermissions returns the fixed permission set for a single role
func (p *Policy) RolePermissions(role types.Role) []types.Permission {
	return p.rolePermissions[role]
}

func roleAllowed(allowed []types.Role, role types.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
