package emergency

import (
	"time"

	"patient-health-history/internal/domain/patients"
)

// MedicationLine es una medicación activa en la vista reducida.
type MedicationLine struct {
	Name      string
	Dosage    string
	Frequency string
}

// Summary es la proyección de emergencia por paciente (singleton).
// Se reconstruye en cada append del historial fuente; optimiza velocidad
// de respuesta del socorrista por sobre completitud. El token QR vive
// aparte del historial: solo se persiste su hash, jamás el plaintext.
type Summary struct {
	ID        string
	PatientID string

	Name        string
	BloodGroup  patients.BloodGroup
	DateOfBirth *time.Time
	Gender      patients.Gender

	CriticalConditions []string
	CriticalAllergies  []string
	ActiveMedications  []MedicationLine

	EmergencyContacts []patients.Contact
	PrimaryPhysician  string
	Insurance         patients.Insurance

	SpecialInstructions string
	DNR                 bool
	OrganDonor          bool

	QRTokenHash   string
	QRTokenExpiry *time.Time
	QRGeneratedAt *time.Time

	AccessCount    int
	LastAccessedAt *time.Time
	LastAccessIP   string

	UpdatedAt time.Time
}

// QRCredential se devuelve una única vez al generar el token.
type QRCredential struct {
	Token     string
	ExpiresAt time.Time
	URL       string
}

// PublicView es la vista reducida que ve quien escanea el QR.
// Deliberadamente limitada: nunca incluye el historial completo.
type PublicView struct {
	Name       string
	BloodGroup patients.BloodGroup
	Age        int
	Gender     patients.Gender

	CriticalConditions []string
	CriticalAllergies  []string
	ActiveMedications  []MedicationLine

	EmergencyContacts []patients.Contact
	PrimaryPhysician  string
	Insurance         patients.Insurance

	SpecialInstructions string
	DNR                 bool
	OrganDonor          bool
}
