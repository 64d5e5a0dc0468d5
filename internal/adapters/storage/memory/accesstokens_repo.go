package memory

import (
	"context"
	"errors"
	"sync"

	"patient-health-history/internal/domain/accesstokens"
)

type tokensRepo struct {
	mu   sync.RWMutex
	byID map[string]accesstokens.AccessToken
}

func NewAccessTokensRepo() accesstokens.Repository {
	return &tokensRepo{
		byID: make(map[string]accesstokens.AccessToken),
	}
}

// Create chequea y a la vez inserta bajo un solo lock: si ya hay un token
// activo para (patient, grantee) devuelve ErrConflict. Es el equivalente
// in-memory del índice único parcial de Postgres.
func (r *tokensRepo) Create(ctx context.Context, t accesstokens.AccessToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == "" {
		return errors.New("token id required")
	}
	if _, exists := r.byID[t.ID]; exists {
		return errors.New("token already exists")
	}

	for _, existing := range r.byID {
		if existing.PatientID == t.PatientID &&
			existing.GrantedToID == t.GrantedToID &&
			existing.IsActive {
			return accesstokens.ErrConflict
		}
	}

	r.byID[t.ID] = t
	return nil
}

func (r *tokensRepo) Update(ctx context.Context, t accesstokens.AccessToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == "" {
		return errors.New("token id required")
	}
	if _, exists := r.byID[t.ID]; !exists {
		return accesstokens.ErrNotFound
	}
	r.byID[t.ID] = t
	return nil
}

func (r *tokensRepo) GetByID(ctx context.Context, id string) (accesstokens.AccessToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[id]
	if !ok {
		return accesstokens.AccessToken{}, accesstokens.ErrNotFound
	}
	return t, nil
}

func (r *tokensRepo) GetByHash(ctx context.Context, hash string) (accesstokens.AccessToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.byID {
		if t.TokenHash == hash {
			return t, nil
		}
	}
	return accesstokens.AccessToken{}, accesstokens.ErrNotFound
}

func (r *tokensRepo) GetActive(ctx context.Context, patientID, grantedToID string) (accesstokens.AccessToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.byID {
		if t.PatientID == patientID && t.GrantedToID == grantedToID && t.IsActive {
			return t, nil
		}
	}
	return accesstokens.AccessToken{}, accesstokens.ErrNotFound
}

func (r *tokensRepo) ListByPatient(ctx context.Context, patientID string) ([]accesstokens.AccessToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]accesstokens.AccessToken, 0)
	for _, t := range r.byID {
		if t.PatientID == patientID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *tokensRepo) ListActiveByBooking(ctx context.Context, bookingID string) ([]accesstokens.AccessToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]accesstokens.AccessToken, 0)
	for _, t := range r.byID {
		if t.BookingID == bookingID && t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *tokensRepo) ListActiveByPatient(ctx context.Context, patientID string) ([]accesstokens.AccessToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]accesstokens.AccessToken, 0)
	for _, t := range r.byID {
		if t.PatientID == patientID && t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}
