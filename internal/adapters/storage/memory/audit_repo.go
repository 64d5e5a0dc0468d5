package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"patient-health-history/internal/domain/audit"
)

type auditRepo struct {
	mu   sync.RWMutex
	byID map[string]audit.AccessLog
}

func NewAuditRepo() audit.Repository {
	return &auditRepo{
		byID: make(map[string]audit.AccessLog),
	}
}

func (r *auditRepo) Insert(ctx context.Context, e audit.AccessLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == "" {
		return errors.New("audit entry id required")
	}
	if _, exists := r.byID[e.ID]; exists {
		return errors.New("audit entry already exists")
	}
	r.byID[e.ID] = e
	return nil
}

func (r *auditRepo) ListByPatient(ctx context.Context, patientID string, page, limit int) ([]audit.AccessLog, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.filter(func(e audit.AccessLog) bool { return e.PatientID == patientID })
	return paginateLogs(all, page, limit)
}

func (r *auditRepo) ListByAccessor(ctx context.Context, accessorID string, page, limit int) ([]audit.AccessLog, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.filter(func(e audit.AccessLog) bool { return e.AccessorID == accessorID })
	return paginateLogs(all, page, limit)
}

func (r *auditRepo) ListByPatientSince(ctx context.Context, patientID string, since time.Time) ([]audit.AccessLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.filter(func(e audit.AccessLog) bool {
		return e.PatientID == patientID && !e.Timestamp.Before(since)
	}), nil
}

func (r *auditRepo) ListFailedSince(ctx context.Context, since time.Time, limit int) ([]audit.AccessLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.filter(func(e audit.AccessLog) bool {
		return !e.Success && !e.Timestamp.Before(since)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *auditRepo) ListBetween(ctx context.Context, from, to time.Time) ([]audit.AccessLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.filter(func(e audit.AccessLog) bool {
		return !e.Timestamp.Before(from) && !e.Timestamp.After(to)
	}), nil
}

func (r *auditRepo) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for id, e := range r.byID {
		if !e.ExpiresAt.After(now) {
			delete(r.byID, id)
			purged++
		}
	}
	return purged, nil
}

// filter devuelve entradas ordenadas por timestamp desc (más reciente primero).
// Caller debe sostener el lock.
func (r *auditRepo) filter(keep func(audit.AccessLog) bool) []audit.AccessLog {
	out := make([]audit.AccessLog, 0)
	for _, e := range r.byID {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func paginateLogs(all []audit.AccessLog, page, limit int) ([]audit.AccessLog, int, error) {
	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return []audit.AccessLog{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}
