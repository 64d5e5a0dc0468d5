package emergency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"patient-health-history/internal/domain/patients"
	"patient-health-history/internal/domain/records"
	"patient-health-history/internal/platform/secrets"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound colapsa "nunca existió", "expiró" y "hash no coincide"
	// en la ruta pública, para no permitir enumeración de tokens.
	ErrNotFound = errors.New("not found")
)

// PatientLookup evita importar el Service de patients directamente en tests.
type PatientLookup interface {
	GetByID(ctx context.Context, id string) (patients.Patient, error)
}

// Config de vigencia del token QR. La duración pedida se clampa a [Min,Max].
type Config struct {
	MinExpiry     time.Duration
	MaxExpiry     time.Duration
	DefaultExpiry time.Duration
	BaseURL       string
}

type Service struct {
	repo     Repository
	patients PatientLookup
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, patients PatientLookup, cfg Config, log zerolog.Logger) *Service {
	if cfg.MinExpiry <= 0 {
		cfg.MinExpiry = time.Hour
	}
	if cfg.MaxExpiry < cfg.MinExpiry {
		cfg.MaxExpiry = 7 * 24 * time.Hour
	}
	if cfg.DefaultExpiry < cfg.MinExpiry || cfg.DefaultExpiry > cfg.MaxExpiry {
		cfg.DefaultExpiry = 24 * time.Hour
	}
	return &Service{
		repo:     repo,
		patients: patients,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// GenerateQRToken emite un secreto nuevo para el paciente y devuelve el
// plaintext una única vez. Solo el hash + vigencia quedan persistidos.
func (s *Service) GenerateQRToken(ctx context.Context, patientID string, expiry time.Duration) (QRCredential, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return QRCredential{}, ErrInvalidInput
	}

	sum, err := s.repo.GetByPatient(ctx, patientID)
	if err != nil {
		// Sin proyección todavía: crearla mínima desde el perfil.
		sum, err = s.bootstrapSummary(ctx, patientID)
		if err != nil {
			return QRCredential{}, err
		}
	}

	// Clamp de vigencia a los límites configurados.
	if expiry <= 0 {
		expiry = s.cfg.DefaultExpiry
	}
	if expiry < s.cfg.MinExpiry {
		expiry = s.cfg.MinExpiry
	}
	if expiry > s.cfg.MaxExpiry {
		expiry = s.cfg.MaxExpiry
	}

	plaintext, err := secrets.NewToken()
	if err != nil {
		return QRCredential{}, err
	}

	now := s.now()
	expiresAt := now.Add(expiry)

	sum.QRTokenHash = secrets.Hash(plaintext)
	sum.QRTokenExpiry = &expiresAt
	sum.QRGeneratedAt = &now
	sum.UpdatedAt = now

	if err := s.repo.Upsert(ctx, sum); err != nil {
		return QRCredential{}, err
	}

	s.log.Info().
		Str("patient_id", patientID).
		Time("expires_at", expiresAt).
		Msg("emergency qr token generated")

	return QRCredential{
		Token:     plaintext,
		ExpiresAt: expiresAt,
		URL:       fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.BaseURL, "/"), plaintext),
	}, nil
}

// ValidateToken busca por hash y chequea vigencia. Distingue causas para
// uso interno; la ruta pública colapsa todo a ErrNotFound.
func (s *Service) ValidateToken(ctx context.Context, plaintext string) (Summary, error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return Summary{}, ErrNotFound
	}

	sum, err := s.repo.GetByTokenHash(ctx, secrets.Hash(plaintext))
	if err != nil {
		return Summary{}, ErrNotFound
	}
	if sum.QRTokenExpiry == nil || !s.now().Before(*sum.QRTokenExpiry) {
		return Summary{}, ErrNotFound
	}
	return sum, nil
}

// GetPublicData valida el token, registra el acceso y devuelve la vista
// reducida. Cualquier falla responde el mismo genérico (anti-enumeración).
func (s *Service) GetPublicData(ctx context.Context, plaintext, ip string) (PublicView, error) {
	sum, err := s.ValidateToken(ctx, plaintext)
	if err != nil {
		return PublicView{}, ErrNotFound
	}

	now := s.now()
	if err := s.repo.RecordAccess(ctx, sum.PatientID, now, strings.TrimSpace(ip)); err != nil {
		// El acceso ya fue autorizado; no bloquear la respuesta de emergencia.
		s.log.Error().Err(err).Str("patient_id", sum.PatientID).Msg("emergency access counter failed")
	}

	age := -1
	if sum.DateOfBirth != nil {
		age = patients.Patient{DateOfBirth: sum.DateOfBirth}.AgeAt(now)
	}

	return PublicView{
		Name:                sum.Name,
		BloodGroup:          sum.BloodGroup,
		Age:                 age,
		Gender:              sum.Gender,
		CriticalConditions:  sum.CriticalConditions,
		CriticalAllergies:   sum.CriticalAllergies,
		ActiveMedications:   sum.ActiveMedications,
		EmergencyContacts:   sum.EmergencyContacts,
		PrimaryPhysician:    sum.PrimaryPhysician,
		Insurance:           sum.Insurance,
		SpecialInstructions: sum.SpecialInstructions,
		DNR:                 sum.DNR,
		OrganDonor:          sum.OrganDonor,
	}, nil
}

// RevokeToken limpia hash y vigencia por completo (revocación hard).
// A diferencia de los access tokens, acá no queda historial del token.
func (s *Service) RevokeToken(ctx context.Context, patientID string) error {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return ErrInvalidInput
	}
	return s.repo.ClearToken(ctx, patientID)
}

// GetByPatient devuelve la proyección (uso interno / dueño del perfil).
func (s *Service) GetByPatient(ctx context.Context, patientID string) (Summary, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return Summary{}, ErrInvalidInput
	}
	sum, err := s.repo.GetByPatient(ctx, patientID)
	if err != nil {
		return Summary{}, ErrNotFound
	}
	return sum, nil
}

// RecordAppended implementa records.AppendHook: en cada versión nueva se
// recalcula la proyección. Transformación reductora explícita:
// condiciones severas o peores, alergias moderadas o peores, y solo
// medicación actualmente activa.
func (s *Service) RecordAppended(ctx context.Context, rec records.HealthRecord) {
	p, err := s.patients.GetByID(ctx, rec.PatientID)
	if err != nil {
		s.log.Error().Err(err).Str("patient_id", rec.PatientID).Msg("emergency projection: patient lookup failed")
		return
	}

	if err := s.UpdateFromRecord(ctx, rec, p); err != nil {
		s.log.Error().Err(err).Str("patient_id", rec.PatientID).Msg("emergency projection update failed")
	}
}

// UpdateFromRecord upsertea la proyección desde una versión del historial.
func (s *Service) UpdateFromRecord(ctx context.Context, rec records.HealthRecord, p patients.Patient) error {
	if strings.TrimSpace(rec.PatientID) == "" {
		return ErrInvalidInput
	}

	now := s.now()

	sum, err := s.repo.GetByPatient(ctx, rec.PatientID)
	if err != nil {
		sum = Summary{
			ID:        uuid.NewString(),
			PatientID: rec.PatientID,
		}
	}

	sum.Name = p.Name
	sum.BloodGroup = p.BloodGroup
	sum.DateOfBirth = p.DateOfBirth
	sum.Gender = p.Gender
	sum.EmergencyContacts = p.EmergencyContacts
	sum.PrimaryPhysician = p.PrimaryPhysician
	sum.Insurance = p.Insurance
	sum.DNR = p.DNR
	sum.OrganDonor = p.OrganDonor

	sum.CriticalConditions = filterConditions(rec.Snapshot.Conditions)
	sum.CriticalAllergies = filterAllergies(rec.Snapshot.Allergies)
	sum.ActiveMedications = filterMedications(rec.Snapshot.Medications)
	sum.UpdatedAt = now

	return s.repo.Upsert(ctx, sum)
}

func (s *Service) bootstrapSummary(ctx context.Context, patientID string) (Summary, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return Summary{}, ErrInvalidInput
	}
	return Summary{
		ID:                uuid.NewString(),
		PatientID:         patientID,
		Name:              p.Name,
		BloodGroup:        p.BloodGroup,
		DateOfBirth:       p.DateOfBirth,
		Gender:            p.Gender,
		EmergencyContacts: p.EmergencyContacts,
		PrimaryPhysician:  p.PrimaryPhysician,
		Insurance:         p.Insurance,
		DNR:               p.DNR,
		OrganDonor:        p.OrganDonor,
		UpdatedAt:         s.now(),
	}, nil
}

// Solo condiciones severe o life_threatening.
func filterConditions(in []records.Condition) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		if c.Severity.AtLeast(records.SeveritySevere) {
			out = append(out, c.Name)
		}
	}
	return out
}

// Alergias moderate o peores.
func filterAllergies(in []records.Allergy) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a.Severity.AtLeast(records.SeverityModerate) {
			out = append(out, a.Allergen)
		}
	}
	return out
}

// Solo medicación actualmente activa.
func filterMedications(in []records.Medication) []MedicationLine {
	out := make([]MedicationLine, 0, len(in))
	for _, m := range in {
		if !m.IsActive {
			continue
		}
		out = append(out, MedicationLine{
			Name:      m.Name,
			Dosage:    m.Dosage,
			Frequency: m.Frequency,
		})
	}
	return out
}
