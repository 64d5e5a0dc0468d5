package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"patient-health-history/internal/domain/vitals"
)

type vitalsRepo struct {
	mu   sync.RWMutex
	byID map[string]vitals.HealthMetric
}

func NewVitalsRepo() vitals.Repository {
	return &vitalsRepo{
		byID: make(map[string]vitals.HealthMetric),
	}
}

func (r *vitalsRepo) Insert(ctx context.Context, m vitals.HealthMetric) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.ID == "" {
		return errors.New("metric id required")
	}
	if _, exists := r.byID[m.ID]; exists {
		return errors.New("metric already exists")
	}
	r.byID[m.ID] = m
	return nil
}

func (r *vitalsRepo) ListByPatientType(ctx context.Context, patientID string, t vitals.MetricType, from, to time.Time) ([]vitals.HealthMetric, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]vitals.HealthMetric, 0)
	for _, m := range r.byID {
		if m.PatientID != patientID || m.Type != t {
			continue
		}
		if m.MeasuredAt.Before(from) || m.MeasuredAt.After(to) {
			continue
		}
		out = append(out, m)
	}
	sortByMeasuredAt(out)
	return out, nil
}

func (r *vitalsRepo) ListByPatient(ctx context.Context, patientID string, from, to time.Time) ([]vitals.HealthMetric, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]vitals.HealthMetric, 0)
	for _, m := range r.byID {
		if m.PatientID != patientID {
			continue
		}
		if m.MeasuredAt.Before(from) || m.MeasuredAt.After(to) {
			continue
		}
		out = append(out, m)
	}
	sortByMeasuredAt(out)
	return out, nil
}

func sortByMeasuredAt(out []vitals.HealthMetric) {
	sort.Slice(out, func(i, j int) bool {
		return out[i].MeasuredAt.Before(out[j].MeasuredAt)
	})
}
