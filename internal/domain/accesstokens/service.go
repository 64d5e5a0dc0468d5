package accesstokens

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"patient-health-history/internal/platform/secrets"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("grant conflict")
)

// ReasonReplaced es el motivo estándar al revocar el grant anterior
// cuando se emite uno nuevo para el mismo par (patient, grantee).
const ReasonReplaced = "Replaced by new token"

// Reason explica por qué falló la validación de un token.
type Reason string

const (
	ReasonTokenNotFound      Reason = "TOKEN_NOT_FOUND"
	ReasonTokenRevoked       Reason = "TOKEN_REVOKED"
	ReasonTokenExpired       Reason = "TOKEN_EXPIRED"
	ReasonUsageLimitExceeded Reason = "USAGE_LIMIT_EXCEEDED"
)

// maxIssueRetries acota el reintento si perdemos la carrera de emisión.
const maxIssueRetries = 2

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

type GrantInput struct {
	GrantedToID   string
	GrantedToRole string
	PatientID     string

	AccessLevel      AccessLevel
	AllowedResources []Resource

	GrantedByID   string
	GrantedByRole string
	BookingID     string

	ExpiresAt *time.Time
	MaxUsage  int
}

// Generate emite un token nuevo y devuelve el plaintext una única vez.
//
// Invariante que esta operación establece (no solo convención): a lo sumo
// un grant activo por (patient, grantee). Si ya existe uno, se revoca
// primero con motivo ReasonReplaced. Si dos emisiones corren en paralelo,
// el repo rechaza al segundo insert con ErrConflict y acá se reintenta.
func (s *Service) Generate(ctx context.Context, in GrantInput) (AccessToken, string, error) {
	grantedTo := strings.TrimSpace(in.GrantedToID)
	patientID := strings.TrimSpace(in.PatientID)
	grantedBy := strings.TrimSpace(in.GrantedByID)

	if grantedTo == "" || patientID == "" || grantedBy == "" {
		return AccessToken{}, "", ErrInvalidInput
	}
	if in.MaxUsage < 0 {
		return AccessToken{}, "", ErrInvalidInput
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return AccessToken{}, "", ErrInvalidInput
	}

	level := in.AccessLevel
	if level == "" {
		level = AccessRead
	}

	plaintext, err := secrets.NewToken()
	if err != nil {
		return AccessToken{}, "", err
	}

	var lastErr error
	for attempt := 0; attempt <= maxIssueRetries; attempt++ {
		// Revocar el grant activo previo del par, si existe.
		if existing, err := s.repo.GetActive(ctx, patientID, grantedTo); err == nil {
			if err := s.revokeToken(ctx, existing, grantedBy, in.GrantedByRole, ReasonReplaced); err != nil {
				return AccessToken{}, "", err
			}
		}

		now := s.now()
		t := AccessToken{
			ID:               uuid.NewString(),
			TokenHash:        secrets.Hash(plaintext),
			GrantedToID:      grantedTo,
			GrantedToRole:    strings.TrimSpace(in.GrantedToRole),
			PatientID:        patientID,
			AccessLevel:      level,
			AllowedResources: in.AllowedResources,
			GrantedByID:      grantedBy,
			GrantedByRole:    strings.TrimSpace(in.GrantedByRole),
			BookingID:        strings.TrimSpace(in.BookingID),
			ExpiresAt:        in.ExpiresAt,
			IsActive:         true,
			MaxUsage:         in.MaxUsage,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		err := s.repo.Create(ctx, t)
		if err == nil {
			return t, plaintext, nil
		}
		if !errors.Is(err, ErrConflict) {
			return AccessToken{}, "", err
		}
		// otro Generate ganó la carrera; refrescar y reintentar
		lastErr = err
	}

	return AccessToken{}, "", lastErr
}

// Validation es el resultado de chequear un token.
type Validation struct {
	Valid  bool
	Reason Reason
	Token  AccessToken
}

// Validate chequea el token sin consumir uso (protocolo en dos fases:
// Validate y luego RecordUsage). Expiración y agotamiento se derivan
// al leer; is_active puede seguir en true para un token vencido.
func (s *Service) Validate(ctx context.Context, plaintext string) (Validation, error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return Validation{Valid: false, Reason: ReasonTokenNotFound}, nil
	}

	t, err := s.repo.GetByHash(ctx, secrets.Hash(plaintext))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Validation{Valid: false, Reason: ReasonTokenNotFound}, nil
		}
		return Validation{}, err
	}

	switch t.StatusAt(s.now()) {
	case StatusRevoked:
		return Validation{Valid: false, Reason: ReasonTokenRevoked, Token: t}, nil
	case StatusExpired:
		return Validation{Valid: false, Reason: ReasonTokenExpired, Token: t}, nil
	case StatusExhausted:
		return Validation{Valid: false, Reason: ReasonUsageLimitExceeded, Token: t}, nil
	}

	return Validation{Valid: true, Token: t}, nil
}

// RecordUsage consume un uso del token. Es la segunda fase del protocolo
// check-then-consume: el caller valida primero y registra uso después.
func (s *Service) RecordUsage(ctx context.Context, plaintext, ipAddress string) (AccessToken, error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return AccessToken{}, ErrInvalidInput
	}

	t, err := s.repo.GetByHash(ctx, secrets.Hash(plaintext))
	if err != nil {
		return AccessToken{}, err
	}

	now := s.now()
	t.UsageCount++
	t.LastUsedAt = &now
	t.LastUsedIP = strings.TrimSpace(ipAddress)
	t.UpdatedAt = now

	if err := s.repo.Update(ctx, t); err != nil {
		return AccessToken{}, err
	}
	return t, nil
}

// Revoke es una transición terminal: is_active=false + metadata.
// El row nunca se borra.
func (s *Service) Revoke(ctx context.Context, tokenID, byID, byType, reason string) (AccessToken, error) {
	tokenID = strings.TrimSpace(tokenID)
	byID = strings.TrimSpace(byID)
	if tokenID == "" || byID == "" {
		return AccessToken{}, ErrInvalidInput
	}

	t, err := s.repo.GetByID(ctx, tokenID)
	if err != nil {
		return AccessToken{}, err
	}

	// Idempotente
	if !t.IsActive {
		return t, nil
	}

	if err := s.revokeToken(ctx, t, byID, byType, reason); err != nil {
		return AccessToken{}, err
	}
	return s.repo.GetByID(ctx, tokenID)
}

// RevokeBookingTokens revoca en bloque los tokens activos de un booking.
func (s *Service) RevokeBookingTokens(ctx context.Context, bookingID, byID, byType, reason string) (int, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return 0, ErrInvalidInput
	}
	items, err := s.repo.ListActiveByBooking(ctx, bookingID)
	if err != nil {
		return 0, err
	}
	return s.revokeAll(ctx, items, byID, byType, reason)
}

// RevokeAllPatientTokens revoca en bloque todos los tokens activos del paciente.
func (s *Service) RevokeAllPatientTokens(ctx context.Context, patientID, byID, byType, reason string) (int, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return 0, ErrInvalidInput
	}
	items, err := s.repo.ListActiveByPatient(ctx, patientID)
	if err != nil {
		return 0, err
	}
	return s.revokeAll(ctx, items, byID, byType, reason)
}

func (s *Service) ListByPatient(ctx context.Context, patientID string) ([]AccessToken, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListByPatient(ctx, patientID)
}

func (s *Service) revokeAll(ctx context.Context, items []AccessToken, byID, byType, reason string) (int, error) {
	count := 0
	for _, t := range items {
		if !t.IsActive {
			continue
		}
		if err := s.revokeToken(ctx, t, byID, byType, reason); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Service) revokeToken(ctx context.Context, t AccessToken, byID, byType, reason string) error {
	now := s.now()
	t.IsActive = false
	t.RevokedAt = &now
	t.RevokedByID = strings.TrimSpace(byID)
	t.RevokedByType = strings.TrimSpace(byType)
	t.RevokeReason = strings.TrimSpace(reason)
	t.UpdatedAt = now
	return s.repo.Update(ctx, t)
}
