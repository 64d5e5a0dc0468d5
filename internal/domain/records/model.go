package records

import "time"

// Snapshot es la foto completa de salud en una versión.
type Snapshot struct {
	Conditions    []Condition
	Allergies     []Allergy
	Medications   []Medication
	Surgeries     []Surgery
	FamilyHistory []FamilyCondition
	Immunizations []Immunization
	Habits        Habits
	Lifestyle     Lifestyle

	// Notes viaja cifrado vía el Cipher externo cuando está configurado.
	Notes string
}

// HealthRecord es una versión inmutable del historial de un paciente.
// Nunca se muta después de crearse (salvo soft-delete); se supersede con
// una versión nueva. Por paciente: versiones contiguas desde 1, exactamente
// un registro con IsLatest=true, y PreviousVersionID encadena hasta la v1.
type HealthRecord struct {
	ID        string
	PatientID string

	Version    int
	RecordType RecordType
	Status     Status

	Snapshot Snapshot
	Source   Source
	Review   *Review

	IsLatest          bool
	PreviousVersionID string
	Changes           *ChangeSummary

	DeletedAt *time.Time
	DeletedBy string

	CreatedAt time.Time
}

func (r HealthRecord) IsDeleted() bool {
	return r.DeletedAt != nil
}
