package types

import "time"

// Role represents a clinical staff role
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleDoctor        Role = "doctor"
	RoleNurse         Role = "nurse"
	RolePharmacist    Role = "pharmacist"
	RoleLabTechnician Role = "lab_technician"
)

// Permission represents a capability granted to one or more roles
type Permission string

const (
	PermissionReadPatientBasic    Permission = "read_patient_basic"
	PermissionReadPatientFull     Permission = "read_patient_full"
	PermissionWritePatientData    Permission = "write_patient_data"
	PermissionDeletePatientData   Permission = "delete_patient_data"
	PermissionReadMedicalRecords  Permission = "read_medical_records"
	PermissionWriteMedicalRecords Permission = "write_medical_records"
	PermissionReadLabResults      Permission = "read_lab_results"
	PermissionWriteLabResults     Permission = "write_lab_results"
	PermissionReadPrescriptions   Permission = "read_prescriptions"
	PermissionWritePrescriptions  Permission = "write_prescriptions"
	PermissionDispenseMedications Permission = "dispense_medications"
	PermissionAccessAnyDepartment Permission = "access_any_department"
	PermissionAccessOwnDepartment Permission = "access_own_department"
	PermissionManageStaff         Permission = "manage_staff"
	PermissionViewAuditLogs       Permission = "view_audit_logs"
	PermissionManageSystem        Permission = "manage_system"
	PermissionEmergencyOverride   Permission = "emergency_override"
)

// Department represents a hospital department
type Department string

const (
	DepartmentCardiology Department = "cardiology"
	DepartmentSurgery    Department = "surgery"
	DepartmentEmergency  Department = "emergency"
	DepartmentPharmacy   Department = "pharmacy"
	DepartmentLaboratory Department = "laboratory"
	DepartmentPediatrics Department = "pediatrics"
	DepartmentOncology   Department = "oncology"
	DepartmentNeurology  Department = "neurology"
	DepartmentRadiology  Department = "radiology"
	DepartmentGeneral    Department = "general"
)

// Specialty represents a physician specialty
type Specialty string

const (
	SpecialtyCardiologist        Specialty = "cardiologist"
	SpecialtySurgeon             Specialty = "surgeon"
	SpecialtyPediatrician        Specialty = "pediatrician"
	SpecialtyOncologist          Specialty = "oncologist"
	SpecialtyNeurologist         Specialty = "neurologist"
	SpecialtyRadiologist         Specialty = "radiologist"
	SpecialtyGeneralPractitioner Specialty = "general_practitioner"
)

// AuditAction classifies an audit log entry
type AuditAction string

const (
	AuditActionRead                      AuditAction = "READ"
	AuditActionWrite                     AuditAction = "WRITE"
	AuditActionPermissionDenied          AuditAction = "PERMISSION_DENIED"
	AuditActionEmergencyOverride         AuditAction = "EMERGENCY_OVERRIDE"
	AuditActionEmergencyOverrideReviewed AuditAction = "EMERGENCY_OVERRIDE_REVIEWED"
)

// User represents the resolved principal. Identity is owned by an external
// authentication system; this service consumes it read-only.
type User struct {
	ID          string      `json:"id"`
	StaffID     string      `json:"staff_id"`
	Roles       []Role      `json:"roles"`
	Department  Department  `json:"department"`
	Specialties []Specialty `json:"specialties,omitempty"`
}

// HasRole reports whether the user holds the given role
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasSpecialty reports whether the user holds the given specialty
func (u *User) HasSpecialty(specialty Specialty) bool {
	for _, s := range u.Specialties {
		if s == specialty {
			return true
		}
	}
	return false
}

// DepartmentPolicy defines which roles (and, for doctors, which specialties)
// may access a department's resources. Policies are process-lifetime
// configuration, immutable after startup.
type DepartmentPolicy struct {
	Department          Department  `json:"department"`
	AllowedRoles        []Role      `json:"allowed_roles"`
	RequiredSpecialties []Specialty `json:"required_specialties,omitempty"`
}

// EmergencyOverride represents a break-glass grant. Records are retained
// forever for compliance; expiry never extends ExpiresAt, and review fields
// are set at most once.
type EmergencyOverride struct {
	ID          string     `json:"id" db:"id"`
	UserID      string     `json:"user_id" db:"user_id"`
	StaffID     string     `json:"staff_id" db:"staff_id"`
	PatientID   string     `json:"patient_id" db:"patient_id"`
	Reason      string     `json:"reason" db:"reason"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`
	ReviewedBy  string     `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewNotes string     `json:"review_notes,omitempty" db:"review_notes"`
}

// OverrideContext is returned on activation for immediate caller use, and a
// trimmed form of it is attached to the request scope on override-backed
// grants.
type OverrideContext struct {
	UserID      string    `json:"user_id"`
	PatientID   string    `json:"patient_id"`
	Reason      string    `json:"reason,omitempty"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// AuditLogEntry records a single access decision or override lifecycle
// transition. Entries are immutable once written; no update or delete path
// exists.
type AuditLogEntry struct {
	ID                  string                 `json:"id" db:"id"`
	UserID              string                 `json:"user_id" db:"user_id"`
	StaffID             string                 `json:"staff_id" db:"staff_id"`
	Action              AuditAction            `json:"action" db:"action"`
	Resource            string                 `json:"resource" db:"resource"`
	ResourceID          string                 `json:"resource_id,omitempty" db:"resource_id"`
	PatientID           string                 `json:"patient_id,omitempty" db:"patient_id"`
	Department          Department             `json:"department,omitempty" db:"department"`
	IsEmergencyOverride bool                   `json:"is_emergency_override" db:"is_emergency_override"`
	IPAddress           string                 `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent           string                 `json:"user_agent,omitempty" db:"user_agent"`
	Metadata            map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	Success             bool                   `json:"success" db:"success"`
	FailureReason       string                 `json:"failure_reason,omitempty" db:"failure_reason"`
	Timestamp           time.Time              `json:"timestamp" db:"timestamp"`
}

// Requirement is the declarative requirement set attached to a protected
// operation. It is a plain serializable value independent of any routing or
// reflection facility; handlers attach it at route registration.
type Requirement struct {
	RequiredRoles          []Role       `json:"required_roles,omitempty"`
	RequiredPermissions    []Permission `json:"required_permissions,omitempty"`
	RequiredDepartments    []Department `json:"required_departments,omitempty"`
	RequiredSpecialties    []Specialty  `json:"required_specialties,omitempty"`
	AllowEmergencyOverride bool         `json:"allow_emergency_override,omitempty"`
	AuditResource          string       `json:"audit_resource,omitempty"`
}

// AuditQuery represents filter criteria for querying the audit trail
type AuditQuery struct {
	UserID        string      `json:"user_id,omitempty"`
	PatientID     string      `json:"patient_id,omitempty"`
	Department    Department  `json:"department,omitempty"`
	Action        AuditAction `json:"action,omitempty"`
	EmergencyOnly bool        `json:"emergency_only,omitempty"`
	StartTime     time.Time   `json:"start_time,omitempty"`
	EndTime       time.Time   `json:"end_time,omitempty"`
	Page          int         `json:"page,omitempty"`
	Limit         int         `json:"limit,omitempty"`
}

// AuditPage is a page of audit trail results
type AuditPage struct {
	Entries []*AuditLogEntry `json:"entries"`
	Total   int              `json:"total"`
	Page    int              `json:"page"`
	Limit   int              `json:"limit"`
}
