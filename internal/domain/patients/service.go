package patients

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

type CreateInput struct {
	UserID      string
	Name        string
	DateOfBirth *time.Time
	Gender      string
	BloodGroup  string

	EmergencyContacts []Contact
	PrimaryPhysician  string
	Insurance         Insurance

	DNR        bool
	OrganDonor bool
}

func (s *Service) Create(ctx context.Context, in CreateInput) (Patient, error) {
	if strings.TrimSpace(in.Name) == "" {
		return Patient{}, ErrInvalidInput
	}

	now := s.now()
	p := Patient{
		ID:                uuid.NewString(),
		UserID:            strings.TrimSpace(in.UserID),
		Name:              strings.TrimSpace(in.Name),
		DateOfBirth:       in.DateOfBirth,
		Gender:            Gender(strings.TrimSpace(in.Gender)),
		BloodGroup:        BloodGroup(strings.TrimSpace(in.BloodGroup)),
		EmergencyContacts: in.EmergencyContacts,
		PrimaryPhysician:  strings.TrimSpace(in.PrimaryPhysician),
		Insurance:         in.Insurance,
		DNR:               in.DNR,
		OrganDonor:        in.OrganDonor,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if p.Gender == "" {
		p.Gender = GenderUnknown
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return Patient{}, err
	}
	return p, nil
}

type UpdateInput struct {
	Name        string
	DateOfBirth *time.Time
	Gender      string
	BloodGroup  string

	EmergencyContacts []Contact
	PrimaryPhysician  string
	Insurance         Insurance

	DNR        bool
	OrganDonor bool
}

func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (Patient, error) {
	p, err := s.GetByID(ctx, id)
	if err != nil {
		return Patient{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return Patient{}, ErrInvalidInput
	}

	p.Name = strings.TrimSpace(in.Name)
	p.DateOfBirth = in.DateOfBirth
	p.Gender = Gender(strings.TrimSpace(in.Gender))
	if p.Gender == "" {
		p.Gender = GenderUnknown
	}
	p.BloodGroup = BloodGroup(strings.TrimSpace(in.BloodGroup))
	p.EmergencyContacts = in.EmergencyContacts
	p.PrimaryPhysician = strings.TrimSpace(in.PrimaryPhysician)
	p.Insurance = in.Insurance
	p.DNR = in.DNR
	p.OrganDonor = in.OrganDonor
	p.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, p); err != nil {
		return Patient{}, err
	}
	return p, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (Patient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Patient{}, ErrInvalidInput
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Patient{}, ErrNotFound
	}
	return p, nil
}

func (s *Service) GetByUserID(ctx context.Context, userID string) (Patient, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Patient{}, ErrInvalidInput
	}
	p, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return Patient{}, ErrNotFound
	}
	return p, nil
}

// Exists se usa desde otros módulos (records) para validar patient ids
// sin acoplarse al tipo Patient.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	if _, err := s.repo.GetByID(ctx, strings.TrimSpace(id)); err != nil {
		return false, nil
	}
	return true, nil
}

// OwnerUserOf expone el userID dueño del perfil.
// Evita ciclos de imports entre módulos (patients <-> records).
func (s *Service) OwnerUserOf(ctx context.Context, patientID string) (string, error) {
	p, err := s.GetByID(ctx, patientID)
	if err != nil {
		return "", err
	}
	return p.UserID, nil
}
