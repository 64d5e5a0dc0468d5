package patients

import "time"

// Gender del paciente.
// @Enum male, female, other, unknown
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderOther   Gender = "other"
	GenderUnknown Gender = "unknown"
)

// BloodGroup en notación ABO/Rh.
type BloodGroup string

const (
	BloodAPos  BloodGroup = "A+"
	BloodANeg  BloodGroup = "A-"
	BloodBPos  BloodGroup = "B+"
	BloodBNeg  BloodGroup = "B-"
	BloodABPos BloodGroup = "AB+"
	BloodABNeg BloodGroup = "AB-"
	BloodOPos  BloodGroup = "O+"
	BloodONeg  BloodGroup = "O-"
)

// Contact es un contacto de emergencia del paciente.
type Contact struct {
	Name     string
	Relation string
	Phone    string
}

// Insurance es el snippet mínimo que viaja a la vista de emergencia.
type Insurance struct {
	Provider     string
	PolicyNumber string
}

// Patient representa el perfil demográfico mínimo que este core necesita:
// existencia del paciente + los campos identitarios de la proyección de emergencia.
// La identidad/autenticación vive en el IdP externo.
type Patient struct {
	ID     string
	UserID string

	Name        string
	DateOfBirth *time.Time
	Gender      Gender
	BloodGroup  BloodGroup

	EmergencyContacts []Contact
	PrimaryPhysician  string
	Insurance         Insurance

	DNR        bool
	OrganDonor bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AgeAt calcula la edad en años a una fecha dada. -1 si no hay fecha de nacimiento.
func (p Patient) AgeAt(now time.Time) int {
	if p.DateOfBirth == nil {
		return -1
	}
	dob := *p.DateOfBirth
	years := now.Year() - dob.Year()
	if now.YearDay() < dob.YearDay() {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
