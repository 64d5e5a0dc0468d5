package records

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"patient-health-history/internal/ports/crypto"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("version conflict")
	ErrForbidden    = errors.New("forbidden")
)

// maxAppendRetries acota el reintento ante carreras de append concurrentes.
const maxAppendRetries = 3

// PatientDirectory evita importar el paquete patients (rompe ciclos).
type PatientDirectory interface {
	Exists(ctx context.Context, patientID string) (bool, error)
}

// AppendHook se invoca después de cada append exitoso.
// Reemplaza los hooks implícitos de "on save": acá el pipeline es explícito.
type AppendHook interface {
	RecordAppended(ctx context.Context, rec HealthRecord)
}

type Service struct {
	repo     Repository
	patients PatientDirectory
	cipher   crypto.Cipher // opcional; nil => notas en claro
	hooks    []AppendHook
	now      func() time.Time
}

func NewService(repo Repository, patients PatientDirectory) *Service {
	return &Service{
		repo:     repo,
		patients: patients,
		now:      time.Now,
	}
}

// WithCipher habilita el cifrado de notas vía el servicio externo.
func (s *Service) WithCipher(c crypto.Cipher) *Service {
	s.cipher = c
	return s
}

// RegisterAppendHook agrega un listener de appends (p.ej. la proyección de emergencia).
func (s *Service) RegisterAppendHook(h AppendHook) {
	if h != nil {
		s.hooks = append(s.hooks, h)
	}
}

type AppendInput struct {
	RecordType RecordType
	Snapshot   Snapshot
	Source     Source
	Review     *Review
}

// Append crea la siguiente versión del historial del paciente.
//
// Lee el head actual, calcula nextVersion y hace un write condicional sobre el
// head observado. Si otro append ganó la carrera, el repo devuelve ErrConflict
// y acá se reintenta contra el head refrescado, hasta maxAppendRetries.
func (s *Service) Append(ctx context.Context, patientID string, in AppendInput) (HealthRecord, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return HealthRecord{}, ErrInvalidInput
	}
	if in.Source.Type == "" || strings.TrimSpace(in.Source.ActorID) == "" {
		return HealthRecord{}, ErrInvalidInput
	}

	ok, err := s.patients.Exists(ctx, patientID)
	if err != nil {
		return HealthRecord{}, err
	}
	if !ok {
		return HealthRecord{}, ErrNotFound
	}

	snapshot := in.Snapshot
	if s.cipher != nil && strings.TrimSpace(snapshot.Notes) != "" {
		enc, err := s.cipher.Encrypt(ctx, snapshot.Notes)
		if err != nil {
			return HealthRecord{}, err
		}
		snapshot.Notes = enc
	}

	status := StatusApproved
	if in.Review != nil && strings.TrimSpace(in.Review.DoctorID) != "" && in.Review.ReviewedAt == nil {
		status = StatusPendingReview
	}

	var lastErr error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		latest, err := s.repo.GetLatest(ctx, patientID)
		observedLatestID := ""
		nextVersion := 1

		switch {
		case err == nil:
			observedLatestID = latest.ID
			nextVersion = latest.Version + 1
		case errors.Is(err, ErrNotFound):
			// primera versión
		default:
			return HealthRecord{}, err
		}

		recordType := in.RecordType
		if recordType == "" {
			if nextVersion == 1 {
				recordType = RecordTypeInitial
			} else {
				recordType = RecordTypeUpdate
			}
		}

		rec := HealthRecord{
			ID:                uuid.NewString(),
			PatientID:         patientID,
			Version:           nextVersion,
			RecordType:        recordType,
			Status:            status,
			Snapshot:          snapshot,
			Source:            in.Source,
			Review:            in.Review,
			IsLatest:          true,
			PreviousVersionID: observedLatestID,
			CreatedAt:         s.now(),
		}

		if observedLatestID != "" {
			changes := ComputeChanges(snapshot, latest.Snapshot)
			rec.Changes = &changes
		}

		err = s.repo.AppendVersion(ctx, rec, observedLatestID)
		if err == nil {
			for _, h := range s.hooks {
				h.RecordAppended(ctx, rec)
			}
			return rec, nil
		}
		if !errors.Is(err, ErrConflict) {
			return HealthRecord{}, err
		}
		lastErr = err
		// perdimos la carrera: reintentar contra el head refrescado
	}

	return HealthRecord{}, lastErr
}

// GetLatestApproved devuelve el snapshot aprobado más reciente.
func (s *Service) GetLatestApproved(ctx context.Context, patientID string) (HealthRecord, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return HealthRecord{}, ErrInvalidInput
	}
	rec, err := s.repo.GetLatestApproved(ctx, patientID)
	if err != nil {
		return HealthRecord{}, err
	}
	return s.decryptNotes(ctx, rec)
}

func (s *Service) GetByID(ctx context.Context, id string) (HealthRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return HealthRecord{}, ErrInvalidInput
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return HealthRecord{}, err
	}
	return s.decryptNotes(ctx, rec)
}

// VersionHistory pagina la cadena de versiones (head primero).
func (s *Service) VersionHistory(ctx context.Context, patientID string, page, limit int) ([]HealthRecord, int, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, 0, ErrInvalidInput
	}
	page, limit = normalizePage(page, limit)
	items, total, err := s.repo.ListVersions(ctx, patientID, page, limit)
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		if items[i], err = s.decryptNotes(ctx, items[i]); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

// PendingReviews lista versiones esperando revisión del doctor.
func (s *Service) PendingReviews(ctx context.Context, doctorID string, page, limit int) ([]HealthRecord, int, error) {
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, 0, ErrInvalidInput
	}
	page, limit = normalizePage(page, limit)
	return s.repo.ListPendingReview(ctx, doctorID, page, limit)
}

// Resolve cierra una revisión pendiente (aprueba o rechaza).
// Junto con el soft-delete, es la única mutación permitida sobre una versión.
func (s *Service) Resolve(ctx context.Context, recordID, doctorID string, approve bool, notes string) (HealthRecord, error) {
	recordID = strings.TrimSpace(recordID)
	doctorID = strings.TrimSpace(doctorID)
	if recordID == "" || doctorID == "" {
		return HealthRecord{}, ErrInvalidInput
	}

	rec, err := s.repo.GetByID(ctx, recordID)
	if err != nil {
		return HealthRecord{}, err
	}
	if rec.Status != StatusPendingReview {
		return HealthRecord{}, ErrInvalidInput
	}
	// Solo el revisor asignado puede cerrar la revisión.
	if rec.Review == nil || rec.Review.DoctorID != doctorID {
		return HealthRecord{}, ErrForbidden
	}

	now := s.now()
	status := StatusApproved
	if !approve {
		status = StatusRejected
	}
	review := Review{
		DoctorID:   doctorID,
		ReviewedAt: &now,
		Notes:      strings.TrimSpace(notes),
	}

	if err := s.repo.SetReview(ctx, recordID, status, review); err != nil {
		return HealthRecord{}, err
	}
	return s.repo.GetByID(ctx, recordID)
}

// SoftDelete marca la versión como borrada; nunca se elimina físicamente.
func (s *Service) SoftDelete(ctx context.Context, recordID, deletedBy string) error {
	recordID = strings.TrimSpace(recordID)
	deletedBy = strings.TrimSpace(deletedBy)
	if recordID == "" || deletedBy == "" {
		return ErrInvalidInput
	}
	return s.repo.SoftDelete(ctx, recordID, deletedBy, s.now())
}

func (s *Service) decryptNotes(ctx context.Context, rec HealthRecord) (HealthRecord, error) {
	if s.cipher == nil || strings.TrimSpace(rec.Snapshot.Notes) == "" {
		return rec, nil
	}
	dec, err := s.cipher.Decrypt(ctx, rec.Snapshot.Notes)
	if err != nil {
		return HealthRecord{}, err
	}
	rec.Snapshot.Notes = dec
	return rec, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return page, limit
}
