package records

import "time"

type RecordType string

const (
	RecordTypeInitial    RecordType = "initial"
	RecordTypeUpdate     RecordType = "update"
	RecordTypeCorrection RecordType = "correction"
)

type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
)

// Severity de condiciones y alergias. El orden importa:
// la proyección de emergencia filtra por umbral.
type Severity string

const (
	SeverityMild            Severity = "mild"
	SeverityModerate        Severity = "moderate"
	SeveritySevere          Severity = "severe"
	SeverityLifeThreatening Severity = "life_threatening"
)

// AtLeast compara severidades según el orden mild < moderate < severe < life_threatening.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank(s) >= severityRank(min)
}

func severityRank(s Severity) int {
	switch s {
	case SeverityMild:
		return 1
	case SeverityModerate:
		return 2
	case SeveritySevere:
		return 3
	case SeverityLifeThreatening:
		return 4
	default:
		return 0
	}
}

type SourceType string

const (
	SourcePatient  SourceType = "patient"
	SourceProvider SourceType = "provider"
	SourceBooking  SourceType = "booking"
	SourceImport   SourceType = "import"
)

// Source documenta de dónde salió la versión.
type Source struct {
	Type      SourceType
	ActorID   string
	ActorRole string
	BookingID string
}

type Condition struct {
	Name        string
	Severity    Severity
	DiagnosedAt *time.Time
	Notes       string
}

type Allergy struct {
	Allergen string
	Severity Severity
	Reaction string
}

type Medication struct {
	Name      string
	Dosage    string
	Frequency string
	IsActive  bool
	StartedAt *time.Time
	EndedAt   *time.Time
}

type Surgery struct {
	Name string
	Year int
}

type FamilyCondition struct {
	Relation  string
	Condition string
}

type Immunization struct {
	Vaccine        string
	AdministeredAt *time.Time
}

type Habits struct {
	Smoking string
	Alcohol string
	Drugs   string
}

type Lifestyle struct {
	Exercise string
	Diet     string
	Sleep    string
}

// Review: metadata opcional de revisión médica.
// DoctorID queda asignado al crear; ReviewedAt se llena al aprobar/rechazar.
type Review struct {
	DoctorID   string
	ReviewedAt *time.Time
	Notes      string
}

// FieldDelta: conteo aproximado de agregados/quitados por campo.
type FieldDelta struct {
	Added   int
	Removed int
}

// ChangeSummary es un indicador aproximado, no un diff estructural:
// compara cardinalidades por campo. Ediciones in-place del mismo largo
// no se detectan (limitación documentada).
type ChangeSummary struct {
	Conditions    FieldDelta
	Allergies     FieldDelta
	Medications   FieldDelta
	Surgeries     FieldDelta
	FamilyHistory FieldDelta
	Immunizations FieldDelta

	HabitsChanged    bool
	LifestyleChanged bool
}

// Empty indica que el resumen no registró cambio alguno.
func (c ChangeSummary) Empty() bool {
	return c == ChangeSummary{}
}
