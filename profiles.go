package identity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
)

const dateLayout = "2006-01-02"

// RoleProfile is the role specific part of an account. Each role has exactly
// one profile variant, see ProfileFor.
type RoleProfile interface {
	Kind() string
	Validate() error
}

const (
	profileKindPatient = "patient"
	profileKindDoctor  = "doctor"
	profileKindStaff   = "staff"
)

// EmergencyContact is the patient's contact person
type EmergencyContact struct {
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Relationship string `json:"relationship,omitempty"`
}

// PatientProfile holds the patient only fields
type PatientProfile struct {
	DateOfBirth      string            `json:"date_of_birth"`
	Gender           string            `json:"gender"`
	BloodGroup       string            `json:"blood_group"`
	Address          string            `json:"address,omitempty"`
	EmergencyContact *EmergencyContact `json:"emergency_contact,omitempty"`
}

func (p *PatientProfile) Kind() string { return profileKindPatient }

func (p *PatientProfile) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.DateOfBirth, validation.Required, validation.Date(dateLayout)),
		validation.Field(&p.Gender, validation.Required, validation.In("male", "female", "other")),
		validation.Field(&p.BloodGroup, validation.Required, validation.In("A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-")),
		validation.Field(&p.Address, validation.Length(0, 512)),
	)
}

// DoctorProfile holds the doctor fields
type DoctorProfile struct {
	Department     string `json:"department"`
	Specialization string `json:"specialization"`
	Experience     string `json:"experience"`
	LicenseNumber  string `json:"license_number,omitempty"`
	HireDate       string `json:"hire_date,omitempty"`
}

func (p *DoctorProfile) Kind() string { return profileKindDoctor }

func (p *DoctorProfile) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Department, validation.Required),
		validation.Field(&p.Specialization, validation.Required),
		validation.Field(&p.Experience, validation.Required),
		validation.Field(&p.HireDate, validation.Date(dateLayout)),
	)
}

// StaffProfile covers admin, nurse, receptionist and pharmacy accounts
type StaffProfile struct {
	Department    string `json:"department"`
	LicenseNumber string `json:"license_number,omitempty"`
	HireDate      string `json:"hire_date,omitempty"`
}

func (p *StaffProfile) Kind() string { return profileKindStaff }

func (p *StaffProfile) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Department, validation.Required),
		validation.Field(&p.HireDate, validation.Date(dateLayout)),
	)
}

// ProfileFor returns an empty profile of the variant the role requires.
func ProfileFor(role Role) RoleProfile {
	switch role {
	case RolePatient:
		return &PatientProfile{}
	case RoleDoctor:
		return &DoctorProfile{}
	case RoleAdmin, RoleNurse, RoleReceptionist, RolePharmacy:
		return &StaffProfile{}
	default:
		return nil
	}
}

// validateProfile checks the variant matches the role and then the
// variant's own rules. Field errors are prefixed with "profile.".
func validateProfile(role Role, profile RoleProfile) map[string]string {
	expected := ProfileFor(role)
	if expected == nil {
		return nil
	}

	if profile == nil {
		return map[string]string{"profile": fmt.Sprintf("a %s profile is required", expected.Kind())}
	}

	if profile.Kind() != expected.Kind() {
		return map[string]string{"profile": fmt.Sprintf("role %s requires a %s profile", role, expected.Kind())}
	}

	err := profile.Validate()
	if err == nil {
		return nil
	}

	out := map[string]string{}
	if errs, ok := err.(validation.Errors); ok {
		for field, ferr := range errs {
			out["profile."+field] = ferr.Error()
		}
		return out
	}
	out["profile"] = err.Error()
	return out
}

// ProfileEnvelope stores a RoleProfile as tagged JSON.
type ProfileEnvelope struct {
	Profile RoleProfile
}

type profileWire struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (e ProfileEnvelope) MarshalJSON() ([]byte, error) {
	if e.Profile == nil {
		return []byte("null"), nil
	}

	data, err := json.Marshal(e.Profile)
	if err != nil {
		return nil, err
	}

	return json.Marshal(profileWire{Kind: e.Profile.Kind(), Data: data})
}

func (e *ProfileEnvelope) UnmarshalJSON(b []byte) error {
	if string(b) == "null" || len(b) == 0 {
		e.Profile = nil
		return nil
	}

	var wire profileWire
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	var profile RoleProfile
	switch wire.Kind {
	case profileKindPatient:
		profile = &PatientProfile{}
	case profileKindDoctor:
		profile = &DoctorProfile{}
	case profileKindStaff:
		profile = &StaffProfile{}
	default:
		return fmt.Errorf("unknown profile kind %q", wire.Kind)
	}

	if err := json.Unmarshal(wire.Data, profile); err != nil {
		return err
	}
	e.Profile = profile
	return nil
}

// Value implements driver.Valuer
func (e ProfileEnvelope) Value() (driver.Value, error) {
	if e.Profile == nil {
		return nil, nil
	}
	b, err := e.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (e *ProfileEnvelope) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		e.Profile = nil
		return nil
	case []byte:
		return e.UnmarshalJSON(v)
	case string:
		return e.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("unsupported profile column type %T", src)
	}
}
