package identity

import "strings"

// Role is the account's role
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleNurse        Role = "nurse"
	RoleReceptionist Role = "receptionist"
	RolePharmacy     Role = "pharmacy"
	RolePatient      Role = "patient"
)

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleNurse, RoleReceptionist, RolePharmacy, RolePatient:
		return true
	default:
		return false
	}
}

// IsStaff is true for every role except patient
func (r Role) IsStaff() bool {
	return r.IsValid() && r != RolePatient
}

// CanRegister is false for roles provisioned through the bootstrap path
func (r Role) CanRegister() bool {
	return r.IsValid() && r != RoleAdmin
}

// CanReadAnyPatientRecord lists the clinical and front desk roles
func (r Role) CanReadAnyPatientRecord() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleNurse, RoleReceptionist:
		return true
	default:
		return false
	}
}

// ExternalIDPrefix is the display prefix for account external IDs
func (r Role) ExternalIDPrefix() string {
	switch r {
	case RoleAdmin:
		return "ADM"
	case RoleDoctor:
		return "DOC"
	case RoleNurse:
		return "NUR"
	case RoleReceptionist:
		return "REC"
	case RolePharmacy:
		return "PHA"
	default:
		return "USR"
	}
}

// GetAllRoles returns all predefined roles
func GetAllRoles() []Role {
	return []Role{
		RoleAdmin,
		RoleDoctor,
		RoleNurse,
		RoleReceptionist,
		RolePharmacy,
		RolePatient,
	}
}

// ParseRole safely parses a string into a Role
func ParseRole(s string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	return role, role.IsValid()
}
