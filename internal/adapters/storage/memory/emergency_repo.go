package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"patient-health-history/internal/domain/emergency"
)

type emergencyRepo struct {
	mu        sync.RWMutex
	byPatient map[string]emergency.Summary
}

func NewEmergencyRepo() emergency.Repository {
	return &emergencyRepo{
		byPatient: make(map[string]emergency.Summary),
	}
}

func (r *emergencyRepo) Upsert(ctx context.Context, s emergency.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.PatientID == "" {
		return errors.New("summary patient id required")
	}
	r.byPatient[s.PatientID] = s
	return nil
}

func (r *emergencyRepo) GetByPatient(ctx context.Context, patientID string) (emergency.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byPatient[patientID]
	if !ok {
		return emergency.Summary{}, emergency.ErrNotFound
	}
	return s, nil
}

func (r *emergencyRepo) GetByTokenHash(ctx context.Context, hash string) (emergency.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if hash == "" {
		return emergency.Summary{}, emergency.ErrNotFound
	}
	for _, s := range r.byPatient {
		if s.QRTokenHash == hash {
			return s, nil
		}
	}
	return emergency.Summary{}, emergency.ErrNotFound
}

func (r *emergencyRepo) RecordAccess(ctx context.Context, patientID string, at time.Time, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byPatient[patientID]
	if !ok {
		return emergency.ErrNotFound
	}
	s.AccessCount++
	s.LastAccessedAt = &at
	s.LastAccessIP = ip
	r.byPatient[patientID] = s
	return nil
}

func (r *emergencyRepo) ClearToken(ctx context.Context, patientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byPatient[patientID]
	if !ok {
		return emergency.ErrNotFound
	}
	s.QRTokenHash = ""
	s.QRTokenExpiry = nil
	s.QRGeneratedAt = nil
	r.byPatient[patientID] = s
	return nil
}
